// Worker runs the expired-session reaper on its own, for deployments that set REAPER_ENABLED=false
// on the API replicas. Needs DATABASE_URL; GRPC_ADDR is required by config but unused.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nexabank-auth/backend/internal/config"
	"nexabank-auth/backend/internal/db"
	"nexabank-auth/backend/internal/logging"
	"nexabank-auth/backend/internal/session/reaper"
	"nexabank-auth/backend/internal/session/registry"
	sessionrepo "nexabank-auth/backend/internal/session/repository"
	"nexabank-auth/backend/internal/telemetry"
	"nexabank-auth/backend/internal/telemetry/loki"
	telemetryotel "nexabank-auth/backend/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("info", false)
		l.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("service", "nexabank-auth-worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.InitSentry(cfg.SentryDSN, cfg.Env, ""); err != nil {
		log.Warn().Err(err).Msg("sentry disabled")
	}
	defer telemetry.FlushSentry()
	var reporter telemetry.Reporter = telemetry.NopReporter{}
	if cfg.SentryDSN != "" {
		reporter = telemetry.SentryReporter{}
	}

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "nexabank-auth-worker",
		Environment: cfg.Env,
		Insecure:    cfg.OTelInsecure,
	}, logging.Component(log, "otel"))
	if err != nil {
		log.Fatal().Err(err).Msg("otel")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider)
	if err != nil {
		log.Fatal().Err(err).Msg("metrics")
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer conn.Close()

	sessions := registry.New(sessionrepo.NewPostgresRepository(conn), nil, cfg.StoreCallTimeout(), log)
	emitter := telemetry.Tee(
		telemetryotel.NewEventEmitter(providers.LoggerProvider),
		loki.EmitterFor(cfg.LokiURL),
	)
	r := reaper.New(sessions, cfg.ReaperEvery(), log, reporter, metrics, emitter).
		WithSweepTimeout(cfg.ReaperSweepTimeout())

	log.Info().Dur("interval", cfg.ReaperEvery()).Msg("worker: reaping expired sessions")
	r.Run(ctx)
	log.Info().Msg("worker: stopped")
}
