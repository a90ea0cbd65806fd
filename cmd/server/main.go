package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"

	"nexabank-auth/backend/internal/audit"
	auditrepo "nexabank-auth/backend/internal/audit/repository"
	"nexabank-auth/backend/internal/config"
	"nexabank-auth/backend/internal/db"
	"nexabank-auth/backend/internal/db/migrate"
	healthhandler "nexabank-auth/backend/internal/health/handler"
	identityhandler "nexabank-auth/backend/internal/identity/handler"
	identityservice "nexabank-auth/backend/internal/identity/service"
	"nexabank-auth/backend/internal/lockout"
	"nexabank-auth/backend/internal/logging"
	"nexabank-auth/backend/internal/platform/keylock"
	principalrepo "nexabank-auth/backend/internal/principal/repository"
	"nexabank-auth/backend/internal/propagation"
	"nexabank-auth/backend/internal/security"
	"nexabank-auth/backend/internal/server"
	"nexabank-auth/backend/internal/session/denylist"
	sessionhandler "nexabank-auth/backend/internal/session/handler"
	"nexabank-auth/backend/internal/session/reaper"
	"nexabank-auth/backend/internal/session/registry"
	sessionrepo "nexabank-auth/backend/internal/session/repository"
	"nexabank-auth/backend/internal/telemetry"
	"nexabank-auth/backend/internal/telemetry/loki"
	telemetryotel "nexabank-auth/backend/internal/telemetry/otel"
)

const (
	serviceName          = "nexabank-auth"
	healthCheckInterval  = 15 * time.Second
	startupTimeout       = 15 * time.Second
	shutdownDrainTimeout = 10 * time.Second
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("info", false)
		l.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("service", serviceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if err := telemetry.InitSentry(cfg.SentryDSN, cfg.Env, version); err != nil {
		log.Warn().Err(err).Msg("sentry disabled")
	}
	defer telemetry.FlushSentry()
	var reporter telemetry.Reporter = telemetry.NopReporter{}
	if cfg.SentryDSN != "" {
		reporter = telemetry.SentryReporter{}
	}

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:       cfg.OTelEndpoint,
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		Insecure:       cfg.OTelInsecure,
	}, logging.Component(log, "otel"))
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider)
	if err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if cfg.MigrateOnStart {
		if err := migrate.Run(cfg.DatabaseURL, migrate.Up); err != nil {
			return err
		}
		log.Info().Msg("migrations applied")
	}
	conn, err := db.Open(startCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Security events go to the OTel log pipeline, the audit_logs trail and, if configured, Loki.
	emitter := telemetry.Tee(
		telemetryotel.NewEventEmitter(providers.LoggerProvider),
		audit.NewLogger(auditrepo.NewPostgresRepository(conn)),
		loki.EmitterFor(cfg.LokiURL),
	)

	codec, err := newTokenCodec(cfg)
	if err != nil {
		return err
	}

	healthDeps := map[string]healthhandler.Pinger{"postgres": conn}
	denied, closeDenylist, err := newDenylist(startCtx, cfg, healthDeps)
	if err != nil {
		return err
	}
	defer closeDenylist()

	notifier, closeNotifier := newNotifier(cfg, log, reporter, metrics)
	defer closeNotifier()

	principals := principalrepo.NewPostgresRepository(conn)
	locks := keylock.New()
	policy := lockout.New(principals, locks, lockout.Config{
		Threshold: cfg.LockoutThreshold,
		Duration:  cfg.LockoutWindow(),
		Timeout:   cfg.StoreCallTimeout(),
	}, log)
	sessions := registry.New(sessionrepo.NewPostgresRepository(conn), locks, cfg.StoreCallTimeout(), log)

	auth := identityservice.NewAuthService(principals, security.NewHasher(cfg.BcryptCost), codec, policy, sessions, denied,
		identityservice.Config{
			AccessTTL:           cfg.AccessTTL(),
			RefreshTTL:          cfg.RefreshTTL(),
			SingleActiveSession: cfg.SingleActiveSession,
			StoreTimeout:        cfg.StoreCallTimeout(),
		}, log).
		WithNotifier(notifier).
		WithTelemetry(metrics, emitter)

	if cfg.ReaperEnabled {
		r := reaper.New(sessions, cfg.ReaperEvery(), log, reporter, metrics, emitter).
			WithSweepTimeout(cfg.ReaperSweepTimeout())
		go r.Run(ctx)
	}

	hs := health.NewServer()
	checker := healthhandler.NewChecker(hs, []string{identityhandler.ServiceName, sessionhandler.ServiceName}, healthDeps, log)
	go checker.Run(ctx, healthCheckInterval)

	s := server.NewServer(server.Deps{Auth: auth, Health: hs, Log: logging.Component(log, "grpc"), Reporter: reporter})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		errc <- s.Serve(lis)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down gRPC server...")
	hs.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownDrainTimeout):
		s.Stop()
	}
	// Let in-flight async emits finish before the providers and the pool close.
	time.Sleep(telemetry.ShutdownDrainDuration)
	log.Info().Msg("gRPC server stopped")
	return nil
}

func newTokenCodec(cfg *config.Config) (*security.TokenCodec, error) {
	signer, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		return nil, err
	}
	ring := security.KeyRing{SigningKey: signer, KeyID: cfg.JWTKeyID}
	if cfg.JWTPublicKey != "" {
		if ring.PublicKey, err = security.ParsePublicKey(cfg.JWTPublicKey); err != nil {
			return nil, err
		}
	}
	if ring.Previous, err = security.ParseVerificationKeys(cfg.JWTPreviousPublicKeys); err != nil {
		return nil, err
	}
	return security.NewTokenCodec(ring, cfg.JWTIssuer, cfg.JWTAudience, cfg.ClockSkew())
}

// newDenylist returns the Redis denylist when REDIS_URL is set, else an in-process one.
func newDenylist(ctx context.Context, cfg *config.Config, healthDeps map[string]healthhandler.Pinger) (denylist.Denylist, func(), error) {
	if cfg.RedisURL == "" {
		mem := denylist.NewMemory()
		go mem.Start()
		return mem, mem.Stop, nil
	}
	r, err := denylist.NewRedisFromURL(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	healthDeps["redis"] = r
	return r, func() { _ = r.Close() }, nil
}

func newNotifier(cfg *config.Config, log zerolog.Logger, reporter telemetry.Reporter, metrics *telemetry.Metrics) (*propagation.Dispatcher, func()) {
	var n propagation.Notifier = propagation.Noop{}
	closeFn := func() {}
	if k := propagation.NewKafkaNotifier(cfg.KafkaBrokersList(), cfg.PropagationKafkaTopic); k != nil {
		n = k
		closeFn = func() {
			if err := k.Close(); err != nil {
				log.Warn().Err(err).Msg("kafka writer close")
			}
		}
	} else {
		log.Info().Msg("KAFKA_BROKERS not set; principal propagation disabled")
	}
	return propagation.NewDispatcher(n, cfg.PropagationDeadline(), log, reporter, metrics), closeFn
}
