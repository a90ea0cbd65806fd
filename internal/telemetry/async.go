package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after gRPC GracefulStop before shutting down OTel providers,
// so in-flight async emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// The goroutine uses context.Background() so request cancellation does not abort an in-flight emit.
// A nil emitter is a no-op. Errors are logged on log.
func EmitAsync(emitter EventEmitter, log zerolog.Logger, event Event) {
	if emitter == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("telemetry: async emit failed")
		}
	}()
}
