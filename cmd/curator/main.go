package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/curatorhq/curator/pkg/auth"
	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/httputil"
	"github.com/curatorhq/curator/pkg/kv"
	"github.com/curatorhq/curator/pkg/observability"
	"github.com/curatorhq/curator/pkg/ratelimit"
	"github.com/curatorhq/curator/pkg/rbac"
)

const version = "1.0.0"

// maxRequestBytes bounds admin API payloads. Role documents are small;
// anything near this size is a malformed or hostile request.
const maxRequestBytes = 1 << 20

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"version": version,
		"port":    cfg.Server.Port,
	}).Info("Starting curator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("OpenTelemetry initialization failed, continuing without tracing")
		providers = nil
	}

	// Store connection. A failed dial is not fatal: the manager keeps
	// reconnecting in the background and requests ride the in-memory
	// engine until the remote store comes back.
	mgr := kv.NewConnManager(cfg.Store, logger, metrics)
	if err := mgr.Connect(ctx); err != nil {
		logger.WithError(err).Warn("Store unavailable at startup, serving from the in-memory engine")
	}
	store := kv.NewStore(mgr)

	// Role directory
	svc := rbac.NewService(store, logger, metrics)
	seeder := rbac.NewSeeder(svc, cfg.RBAC.SeedPath, logger, metrics)
	created, updated, err := seeder.Apply(ctx)
	if err != nil {
		logger.WithError(err).Error("Seeding the role directory failed")
		os.Exit(1)
	}
	if created+updated > 0 {
		logger.WithFields(map[string]interface{}{
			"created": created,
			"updated": updated,
		}).Info("Role directory seeded")
	}
	if cfg.RBAC.SeedPath != "" && cfg.RBAC.SeedWatch {
		go func() {
			defer observability.RecoverPanic(logger, "seed-watcher")
			if err := seeder.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Seed watcher stopped")
			}
		}()
	}

	// Authorization
	verifier, err := auth.NewVerifier(auth.Config{
		Secret:    cfg.Auth.JWTSecret,
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		CacheSize: cfg.Auth.TokenCacheSize,
		CacheTTL:  cfg.Auth.TokenCacheTTL,
	}, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("Token verifier initialization failed")
		os.Exit(1)
	}
	authz := rbac.NewMiddleware(svc, verifier, logger, metrics)

	// API router
	router := mux.NewRouter()
	rbac.NewHandlers(svc, logger).RegisterRoutes(router, authz)

	middlewares := []func(http.Handler) http.Handler{
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		observability.HTTPMetricsMiddleware(metrics),
		httputil.MaxBytesMiddleware(maxRequestBytes),
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		middlewares = append(middlewares, httputil.CORSMiddleware(cfg.Server.CORSOrigins))
	}
	if cfg.RateLimit.Enabled {
		// The limiter sits inside CORS so preflights never spend budget.
		limiter := ratelimit.NewLimiter(store, ratelimit.Config{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			Window:            cfg.RateLimit.Window,
			FailOpen:          cfg.RateLimit.FailOpen,
		}, logger, metrics)
		middlewares = append(middlewares, limiter.Middleware)
	}
	var handler http.Handler = httputil.Chain(middlewares...)(router)
	if providers != nil {
		handler = otelhttp.NewHandler(handler, "curator-api")
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics live on their own listener so probes keep
	// answering while the API port drains.
	checker := observability.NewHealthChecker(version)
	checker.AddDependency("store", mgr.HealthCheck())
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("API server failed")
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
			return err
		}
		return nil
	})

	// Registration order is teardown order: the telemetry flush runs
	// last so the drain and store teardown still get traced.
	sm := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	sm.OnShutdown("health server", func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	sm.OnShutdown("store", func(ctx context.Context) error {
		cancel()
		return mgr.Close()
	})
	if providers != nil {
		sm.OnShutdown("telemetry", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	// A dead listener takes the process down through the same shutdown
	// path a signal would.
	go func() {
		if err := g.Wait(); err != nil {
			sm.Trigger()
		}
	}()

	if err := sm.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
	if err := g.Wait(); err != nil {
		os.Exit(1)
	}
}
