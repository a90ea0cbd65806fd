package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry configures the global Sentry client. An empty dsn leaves reporting disabled.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
}

// FlushSentry waits briefly for buffered events to be sent.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// Reporter forwards unexpected errors to an error tracker.
type Reporter interface {
	Report(err error, tags map[string]string)
}

// SentryReporter reports through a Sentry hub. A nil Hub uses the current global hub.
type SentryReporter struct {
	Hub *sentry.Hub
}

func (r SentryReporter) Report(err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := r.Hub
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
}

// NopReporter drops reports.
type NopReporter struct{}

func (NopReporter) Report(error, map[string]string) {}
