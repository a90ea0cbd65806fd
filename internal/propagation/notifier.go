// Package propagation tells downstream services that a principal was created. Delivery is
// fire-and-forget from the auth flows: a failure is logged and reported, never returned to them.
package propagation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"nexabank-auth/backend/internal/autherr"
	"nexabank-auth/backend/internal/telemetry"
)

// DefaultTimeout bounds one notification when none is configured.
const DefaultTimeout = 5 * time.Second

// Notifier is the Identity Propagation contract.
type Notifier interface {
	NotifyPrincipalCreated(ctx context.Context, principalID string, profile map[string]string) error
}

// Noop accepts every notification and does nothing. Used when no broker is configured.
type Noop struct{}

func (Noop) NotifyPrincipalCreated(context.Context, string, map[string]string) error { return nil }

// Dispatcher runs notifications in the background with their own deadline.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      zerolog.Logger
	reporter telemetry.Reporter
	metrics  *telemetry.Metrics
}

// NewDispatcher wraps n. Nil reporter or metrics are replaced by no-ops.
func NewDispatcher(n Notifier, timeout time.Duration, log zerolog.Logger, reporter telemetry.Reporter, metrics *telemetry.Metrics) *Dispatcher {
	if n == nil {
		n = Noop{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if reporter == nil {
		reporter = telemetry.NopReporter{}
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Dispatcher{
		notifier: n,
		timeout:  timeout,
		log:      log.With().Str("component", "propagation").Logger(),
		reporter: reporter,
		metrics:  metrics,
	}
}

// NotifyPrincipalCreated starts delivery and returns at once. The returned channel is closed when
// the attempt finishes; callers other than tests ignore it. Request cancellation does not abort
// delivery.
func (d *Dispatcher) NotifyPrincipalCreated(principalID string, profile map[string]string) <-chan struct{} {
	done := make(chan struct{})
	snapshot := make(map[string]string, len(profile))
	for k, v := range profile {
		snapshot[k] = v
	}
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.NotifyPrincipalCreated(ctx, principalID, snapshot); err != nil {
			perr := autherr.New(autherr.KindPropagationFailed, err)
			d.log.Error().Err(perr).Str("principal_id", principalID).Msg("identity propagation failed")
			d.reporter.Report(perr, map[string]string{"component": "propagation", "principal_id": principalID})
			d.metrics.Propagation(ctx, "failed")
			return
		}
		d.metrics.Propagation(ctx, "delivered")
	}()
	return done
}
