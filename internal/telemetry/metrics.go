package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "nexabank.auth"

// Metrics holds the auth service instruments. The zero value is not usable; use NewMetrics or NopMetrics.
type Metrics struct {
	logins         metric.Int64Counter
	authorizations metric.Int64Counter
	refreshes      metric.Int64Counter
	lockouts       metric.Int64Counter
	revoked        metric.Int64Counter
	reaped         metric.Int64Counter
	propagation    metric.Int64Counter
}

// NewMetrics creates the instruments on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var (
		out Metrics
		err error
	)
	if out.logins, err = m.Int64Counter("auth.logins", metric.WithDescription("Login attempts by outcome")); err != nil {
		return nil, err
	}
	if out.authorizations, err = m.Int64Counter("auth.authorizations", metric.WithDescription("Authorize calls by outcome")); err != nil {
		return nil, err
	}
	if out.refreshes, err = m.Int64Counter("auth.refreshes", metric.WithDescription("Refresh calls by outcome")); err != nil {
		return nil, err
	}
	if out.lockouts, err = m.Int64Counter("auth.lockouts", metric.WithDescription("Accounts locked after repeated failures")); err != nil {
		return nil, err
	}
	if out.revoked, err = m.Int64Counter("auth.sessions.revoked", metric.WithDescription("Sessions deactivated by logout")); err != nil {
		return nil, err
	}
	if out.reaped, err = m.Int64Counter("auth.sessions.reaped", metric.WithDescription("Sessions deleted by the reaper")); err != nil {
		return nil, err
	}
	if out.propagation, err = m.Int64Counter("auth.propagation", metric.WithDescription("Identity propagation notifications by outcome")); err != nil {
		return nil, err
	}
	return &out, nil
}

// NopMetrics returns Metrics backed by no-op instruments.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func outcome(o string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", o))
}

func (m *Metrics) Login(ctx context.Context, o string)         { m.logins.Add(ctx, 1, outcome(o)) }
func (m *Metrics) Authorization(ctx context.Context, o string) { m.authorizations.Add(ctx, 1, outcome(o)) }
func (m *Metrics) Refresh(ctx context.Context, o string)       { m.refreshes.Add(ctx, 1, outcome(o)) }
func (m *Metrics) Lockout(ctx context.Context)                 { m.lockouts.Add(ctx, 1) }
func (m *Metrics) Propagation(ctx context.Context, o string)   { m.propagation.Add(ctx, 1, outcome(o)) }

func (m *Metrics) SessionsRevoked(ctx context.Context, n int64) {
	if n > 0 {
		m.revoked.Add(ctx, n)
	}
}

func (m *Metrics) SessionsReaped(ctx context.Context, n int64) {
	if n > 0 {
		m.reaped.Add(ctx, n)
	}
}
