package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"nexabank-auth/backend/internal/telemetry"
)

const instrumentationName = "nexabank.auth.events"

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return telemetry.NopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger(instrumentationName))
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger.
func NewEventEmitterWithLogger(logger otellog.Logger) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type otelEmitter struct {
	logger otellog.Logger
}

// Emit converts the event to an OTel log record. Failures are severity WARN, everything else INFO.
func (e *otelEmitter) Emit(ctx context.Context, event telemetry.Event) error {
	rec := otellog.Record{}
	ts := event.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetEventName(string(event.Type))
	rec.SetBody(otellog.StringValue(string(event.Type)))
	rec.SetSeverity(otellog.SeverityInfo)
	if event.Reason != "" {
		rec.SetSeverity(otellog.SeverityWarn)
		rec.AddAttributes(otellog.String("reason", event.Reason))
	}
	rec.AddAttributes(otellog.String("event_type", string(event.Type)))
	if event.PrincipalID != "" {
		rec.AddAttributes(otellog.String("principal_id", event.PrincipalID))
	}
	if event.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", event.SessionID))
	}
	for k, v := range event.Attributes {
		rec.AddAttributes(otellog.String(k, v))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
