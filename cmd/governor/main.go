package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/axiomgate/governor/internal/audit"
	"github.com/axiomgate/governor/internal/consent"
	"github.com/axiomgate/governor/internal/executor"
	"github.com/axiomgate/governor/internal/gate"
	"github.com/axiomgate/governor/internal/hardening"
	"github.com/axiomgate/governor/internal/httpapi"
	"github.com/axiomgate/governor/internal/httpx"
	"github.com/axiomgate/governor/internal/identity"
	"github.com/axiomgate/governor/internal/proposal"
	"github.com/axiomgate/governor/internal/ratelimit"
	"github.com/axiomgate/governor/internal/store/postgres"
	governorredis "github.com/axiomgate/governor/internal/store/redis"
	"github.com/axiomgate/governor/internal/stream"
	"github.com/axiomgate/governor/internal/telemetry"
)

// Testable variables for main(), the same pattern cmd/policy/main.go uses
// to substitute fakes in tests without touching the process's real
// network/telemetry/database dependencies.
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openDBFnP       func(context.Context) (*pgxpool.Pool, error)
	openRedisFnP    func(context.Context) (*goredis.Client, error)
	listenFnP       func(*http.Server) error
)

func newLogger() *zap.Logger {
	if isTrue(env("LOG_DEVELOPMENT", "false")) {
		l, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		return l
	}
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func isTrue(v string) bool {
	return v == "1" || v == "true" || v == "TRUE" || v == "yes"
}

func main() {
	if err := runGovernor(initTelemetryFn, openDBFnP, openRedisFnP, listenFnP); err != nil {
		logFatalf("governor: %v", err)
	}
}

func runGovernor(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	openDB func(context.Context) (*pgxpool.Pool, error),
	openRedis func(context.Context) (*goredis.Client, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if openDB == nil {
		openDB = func(ctx context.Context) (*pgxpool.Pool, error) { return postgres.NewPool(ctx) }
	}
	if openRedis == nil {
		openRedis = func(ctx context.Context) (*goredis.Client, error) { return governorredis.New(ctx) }
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "governor")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	runtimeEnv := env("ENVIRONMENT", env("APP_ENV", ""))
	policyPath := env("POLICY_PATH", "")
	allowDevPolicy := env("ALLOW_DEVELOPMENT_POLICY", "false")

	if err := hardening.ValidateProduction(hardening.Options{
		Service:                "governor",
		Environment:            runtimeEnv,
		StrictProdSecurity:     env("STRICT_PROD_SECURITY", "true"),
		DatabaseRequireTLS:     env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:              env("REDIS_ADDR", ""),
		RedisRequireTLS:        env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:       env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS:  env("REDIS_ALLOW_INSECURE_TLS", ""),
		CORSAllowedOrigins:     env("CORS_ALLOWED_ORIGINS", ""),
		PolicyPath:             policyPath,
		AllowDevelopmentPolicy: allowDevPolicy,
	}); err != nil {
		return err
	}

	pool, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := openRedis(ctx)
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-memory rate limiter", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	hub := stream.NewHub()
	var auditLog audit.Log = postgres.NewAuditLog(pool)
	if publisher, err := newAuditPublisher(); err != nil {
		logger.Info("audit publisher disabled", zap.Error(err))
	} else if publisher != nil {
		defer func() { _ = publisher.Close() }()
		auditLog = &audit.PublishingLog{
			Log:       auditLog,
			Publisher: publisher,
			OnPublishError: func(rec audit.Record, pubErr error) {
				logger.Warn("audit publish failed", zap.Int64("seq", rec.Seq), zap.Error(pubErr))
			},
		}
	}
	auditLog = &audit.HubLog{Log: auditLog, Hub: hub}

	policySource := gate.NewAtomicPolicySource(policyPath, auditLog)
	warning, err := policySource.LoadInitial()
	if err != nil {
		return err
	}
	if warning != "" {
		logger.Warn(warning)
	}

	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedis(redisClient)
	} else {
		limiter = ratelimit.NewInMemory()
	}

	proposalStore := proposal.Store(postgres.NewProposalStore(pool))
	consentClient := newConsentClient()
	exec := newExecutor()

	g := gate.New(policySource, limiter, proposalStore, auditLog, consentClient, exec)
	g.ExecuteTimeout = envDurationSec("EXECUTOR_TIMEOUT_SEC", 10)

	go runRecoveryLoop(ctx, g, logger)

	apiServer := httpapi.NewServer(g)
	streamServer := httpapi.NewStreamServer(apiServer, hub, env("WS_ALLOWED_ORIGINS", ""))

	handler := wireMiddleware(streamServer.Router())

	addr := env("ADDR", ":8088")
	logger.Info("governor listening", zap.String("addr", addr))
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}

func wireMiddleware(next http.Handler) http.Handler {
	h := httpx.SecurityHeadersMiddleware(next)
	h = httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", ""))(h)
	h = httpx.LimitRequestBody(int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)))(h)
	h = identity.Middleware(h)
	h = telemetry.HTTPMiddleware("governor")(h)
	return h
}

func newConsentClient() consent.Client {
	base := env("CONSENT_API_URL", "")
	if base == "" {
		return nil
	}
	return consent.NewHTTPClient(base)
}

func newExecutor() executor.Executor {
	base := executor.NewMemoryExecutor()
	return executor.WithTimeout(base, envDurationSec("EXECUTOR_TIMEOUT_SEC", 10))
}

// newAuditPublisher builds the Kafka fan-out publisher when AUDIT_KAFKA_BROKERS
// is set, mirroring the pattern by which the rate limiter and executor are
// optionally backed by external infra but always have a working default.
func newAuditPublisher() (*audit.Publisher, error) {
	raw := env("AUDIT_KAFKA_BROKERS", "")
	if raw == "" {
		return nil, nil
	}
	return audit.NewPublisher(audit.PublisherConfig{
		Brokers: strings.Split(raw, ","),
		Topic:   env("AUDIT_KAFKA_TOPIC", "governor.audit"),
	})
}

// runRecoveryLoop periodically re-invokes the executor for proposals left
// in EXECUTING past a grace period, the process-level half of §4.6/§8
// scenario 6's crash-recovery story.
func runRecoveryLoop(ctx context.Context, g *gate.Gate, logger *zap.Logger) {
	interval := envDurationSec("RECOVERY_INTERVAL_SEC", 30)
	grace := envDurationSec("RECOVERY_GRACE_SEC", 120)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.RecoverStuckExecuting(ctx, time.Now().UTC().Add(-grace))
			if err != nil {
				logger.Warn("recovery sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("recovered stuck proposals", zap.Int("count", n))
			}
		}
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
