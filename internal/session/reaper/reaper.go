// Package reaper periodically deletes sessions that can never be used again.
package reaper

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"nexabank-auth/backend/internal/telemetry"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = time.Hour

// DefaultSweepTimeout bounds one sweep when none is configured. Never longer than half the interval.
const DefaultSweepTimeout = 5 * time.Minute

// Sweeper deletes inactive sessions and sessions whose refresh expiry is before now.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// Reaper runs a Sweeper on a fixed interval. A failed sweep is logged and reported; the loop
// keeps going until its context is cancelled.
type Reaper struct {
	sweeper  Sweeper
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
	reporter telemetry.Reporter
	metrics  *telemetry.Metrics
	emitter  telemetry.EventEmitter
	now      func() time.Time
}

// New returns a Reaper. Nil reporter, metrics or emitter are replaced by no-ops.
func New(s Sweeper, interval time.Duration, log zerolog.Logger, reporter telemetry.Reporter, metrics *telemetry.Metrics, emitter telemetry.EventEmitter) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if reporter == nil {
		reporter = telemetry.NopReporter{}
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if emitter == nil {
		emitter = telemetry.NopEmitter{}
	}
	return &Reaper{
		sweeper:  s,
		interval: interval,
		timeout:  defaultTimeout(interval),
		log:      log.With().Str("component", "session_reaper").Logger(),
		reporter: reporter,
		metrics:  metrics,
		emitter:  emitter,
		now:      time.Now,
	}
}

// WithSweepTimeout sets the deadline of each sweep. Non-positive values keep the default.
func (r *Reaper) WithSweepTimeout(d time.Duration) *Reaper {
	if d > 0 {
		r.timeout = d
	}
	return r
}

func defaultTimeout(interval time.Duration) time.Duration {
	if half := interval / 2; half < DefaultSweepTimeout {
		return half
	}
	return DefaultSweepTimeout
}

// WithClock replaces the reaper clock. Intended for tests.
func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// Run sweeps once immediately and then every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	r.log.Info().Dur("interval", r.interval).Msg("session reaper started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("session reaper stopped")
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep under the sweep timeout and returns the number of deleted
// sessions. Errors, including a missed deadline, are absorbed.
func (r *Reaper) SweepOnce(ctx context.Context) int64 {
	if ctx.Err() != nil {
		return 0
	}
	sweepCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := r.now().UTC()
	n, err := r.sweeper.SweepExpired(sweepCtx, start)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		r.log.Error().Err(err).Dur("timeout", r.timeout).Msg("session sweep failed")
		r.reporter.Report(err, map[string]string{"component": "session_reaper"})
		return 0
	}
	r.metrics.SessionsReaped(ctx, n)
	if n > 0 {
		r.log.Info().Int64("deleted", n).Dur("took", r.now().Sub(start)).Msg("expired sessions deleted")
		telemetry.EmitAsync(r.emitter, r.log, telemetry.Event{
			Type:       telemetry.EventSessionsReaped,
			Attributes: map[string]string{"deleted": strconv.FormatInt(n, 10)},
			At:         start,
		})
	} else {
		r.log.Debug().Msg("no expired sessions")
	}
	return n
}
