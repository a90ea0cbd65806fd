// Package handler drives the standard gRPC health service from dependency checks.
package handler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultTimeout bounds one round of dependency pings.
const DefaultTimeout = 2 * time.Second

// Pinger is a dependency that can report readiness (e.g. *sql.DB, the Redis denylist).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker pings dependencies and publishes the result on a grpc health.Server for the overall
// server ("") and for each named service.
type Checker struct {
	hs       *health.Server
	services []string
	deps     map[string]Pinger
	names    []string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewChecker returns a Checker. deps may be empty, in which case the server always reports SERVING.
func NewChecker(hs *health.Server, services []string, deps map[string]Pinger, log zerolog.Logger) *Checker {
	names := make([]string, 0, len(deps))
	for name, p := range deps {
		if p != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return &Checker{
		hs:       hs,
		services: append([]string{""}, services...),
		deps:     deps,
		names:    names,
		timeout:  DefaultTimeout,
		log:      log.With().Str("component", "health").Logger(),
	}
}

// Check pings every dependency and returns the first failure.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	for _, name := range c.names {
		if err := c.deps[name].PingContext(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Update runs Check once and publishes the serving status.
func (c *Checker) Update(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if err := c.Check(ctx); err != nil {
		c.log.Warn().Err(err).Msg("dependency check failed")
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	for _, svc := range c.services {
		c.hs.SetServingStatus(svc, st)
	}
	return st
}

// Run updates the status immediately and then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.Update(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Update(ctx)
		}
	}
}
