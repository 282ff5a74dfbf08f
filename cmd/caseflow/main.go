// Package main is the entry point for the caseflow server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/riverrun-io/caseflow/internal/action"
	"github.com/riverrun-io/caseflow/internal/audit"
	"github.com/riverrun-io/caseflow/internal/capability"
	"github.com/riverrun-io/caseflow/internal/casestate"
	"github.com/riverrun-io/caseflow/internal/config"
	"github.com/riverrun-io/caseflow/internal/definition"
	"github.com/riverrun-io/caseflow/internal/engine"
	"github.com/riverrun-io/caseflow/internal/guard"
	"github.com/riverrun-io/caseflow/internal/notify"
	"github.com/riverrun-io/caseflow/internal/observability"
	"github.com/riverrun-io/caseflow/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "caseflow", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Load and publish workflow definitions.
	defStore, err := loadDefinitions(cfg.Definitions, metrics, logger)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	capResolver, err := buildCapabilityResolver(cfg.Capability)
	if err != nil {
		logger.Error("capability resolver initialization failed", zap.Error(err))
		return 1
	}

	caseStore, caseStoreCloser, err := buildCaseStore(ctx, cfg.Workflow.Store, logger)
	if err != nil {
		logger.Error("case store initialization failed", zap.Error(err))
		return 1
	}

	auditLog, auditCloser, err := buildAuditLog(ctx, cfg.Audit.Store, logger)
	if err != nil {
		logger.Error("audit store initialization failed", zap.Error(err))
		return 1
	}
	retryWriter := audit.NewRetryWriter(auditLog, logger, audit.RetryConfig{
		MaxAttempts:     cfg.Audit.Retry.MaxAttempts,
		InitialInterval: cfg.Audit.Retry.InitialInterval,
		MaxInterval:     cfg.Audit.Retry.MaxInterval,
	})

	sink, sinkCloser, err := buildNotifySink(cfg.Notifier, logger)
	if err != nil {
		logger.Error("notifier initialization failed", zap.Error(err))
		return 1
	}

	eng := engine.New(
		defStore,
		caseStore,
		guard.NewEvaluator(capResolver),
		action.NewExecutor(sink, logger, cfg.Workflow.ActionTimeout),
		retryWriter,
		logger,
		metrics,
	)

	keys := transport.NewKeyCache(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readinessChecks := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(defStore.All()) > 0 },
	}
	if hc, ok := caseStore.(observability.HealthChecker); ok {
		readinessChecks.CaseStore = hc
	}
	if hc, ok := auditLog.(observability.HealthChecker); ok {
		readinessChecks.AuditStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Engine:             eng,
		Definitions:        defStore,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, keys),
		CapabilityResolver: capResolver,
		Metrics:            metrics,
		Readiness:          readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      observability.TracingMiddleware(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", len(defStore.All())),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Flush queued audit records before closing the stores they write to.
	retryWriter.Close()

	if sinkCloser != nil {
		sinkCloser()
	}
	if auditCloser != nil {
		auditCloser()
	}
	if caseStoreCloser != nil {
		caseStoreCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// loadDefinitions reads every definition file, rejects checksum conflicts,
// and publishes the result into an immutable versioned store. Files are
// published in (id, version) order so explicit versions land monotonically.
func loadDefinitions(cfg config.DefinitionsConfig, metrics *observability.Metrics, logger *zap.Logger) (*definition.Store, error) {
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(cfg.Directories)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no workflow definitions found in %v", cfg.Directories)
	}

	// Two files claiming the same workflow ID and version must carry
	// identical content.
	seen := make(map[string]string, len(defs))
	for _, def := range defs {
		key := fmt.Sprintf("%s@%d", def.ID, def.Version)
		if prev, ok := seen[key]; ok && prev != def.Checksum {
			msg := fmt.Sprintf("definition %s has conflicting checksums", key)
			if cfg.StrictChecksums {
				return nil, fmt.Errorf("%s", msg)
			}
			logger.Warn(msg, zap.String("file", def.SourceFile))
		}
		seen[key] = def.Checksum
	}

	sort.Slice(defs, func(i, j int) bool {
		if defs[i].ID != defs[j].ID {
			return defs[i].ID < defs[j].ID
		}
		return defs[i].Version < defs[j].Version
	})

	store := definition.NewStore()
	validator := definition.NewValidator()
	for _, def := range defs {
		published, err := store.Publish(def)
		if err != nil {
			metrics.RecordDefinitionPublish("failure")
			return nil, fmt.Errorf("publishing %s: %w", def.SourceFile, err)
		}
		metrics.RecordDefinitionPublish("success")
		logger.Info("workflow definition published",
			zap.String("workflow_id", published.ID),
			zap.Int("version", published.Version),
			zap.String("file", def.SourceFile),
		)
		// Reachability problems are advisory: publish proceeds, operators get
		// a warning per problem.
		for _, warn := range validator.Warnings(published) {
			logger.Warn("workflow definition advisory",
				zap.String("workflow_id", published.ID),
				zap.Int("version", published.Version),
				zap.String("detail", warn),
			)
		}
	}
	metrics.SetDefinitionsLoaded(float64(len(store.All())))
	return store, nil
}

// buildCapabilityResolver creates the appropriate resolver based on config.
func buildCapabilityResolver(cfg config.CapabilityConfig) (*capability.Resolver, error) {
	switch cfg.Evaluator {
	case "static", "":
		evaluator, err := capability.NewStaticPolicyEvaluator(cfg.StaticPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("static policy: %w", err)
		}
		return capability.NewResolver(evaluator, cfg.Cache.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported capability evaluator: %q", cfg.Evaluator)
	}
}

func connectPool(ctx context.Context, cfg config.StoreConfig, what string) (*pgxpool.Pool, error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("%s: %s environment variable not set", what, cfg.DSNEnv)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: parse DSN: %w", what, err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", what, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", what, err)
	}
	return pool, nil
}

// buildCaseStore creates the case state store based on config.
func buildCaseStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (casestate.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory case store")
		return casestate.NewMemoryStore(), nil, nil
	case "postgres":
		pool, err := connectPool(ctx, cfg, "case store")
		if err != nil {
			return nil, nil, err
		}
		return casestate.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported case store driver: %q", cfg.Driver)
	}
}

// buildAuditLog creates the audit log based on config.
func buildAuditLog(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (audit.Log, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory audit log")
		return audit.NewMemoryLog(), nil, nil
	case "postgres":
		pool, err := connectPool(ctx, cfg, "audit log")
		if err != nil {
			return nil, nil, err
		}
		return audit.NewPgLog(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported audit store driver: %q", cfg.Driver)
	}
}

// buildNotifySink creates the notification sink based on config.
func buildNotifySink(cfg config.NotifierConfig, logger *zap.Logger) (notify.Sink, func(), error) {
	switch cfg.Driver {
	case "log", "":
		return notify.NewLogSink(logger), nil, nil
	case "nats":
		url := os.Getenv(cfg.URLEnv)
		if url == "" {
			return nil, nil, fmt.Errorf("notifier: %s environment variable not set", cfg.URLEnv)
		}
		sink, err := notify.NewNATSSink(url, cfg.Subject)
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if err := sink.Close(); err != nil {
				logger.Warn("notifier close error", zap.Error(err))
			}
		}
		return sink, closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported notifier driver: %q", cfg.Driver)
	}
}
