// Package observability carries the service's operational surface:
// structured logging, Prometheus metrics, health checks, OpenTelemetry
// export and coordinated shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithComponent("rbac").Info("Service ready")
//	logger.WithError(err).Error("Store unreachable")
//
// Field composition returns child loggers, so a component logger can be
// built once and shared across goroutines.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.HTTPRequestsTotal.WithLabelValues("GET", "/roles", "200").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddDependency("store", mgr.HealthCheck())
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "curator-api",
//		SampleRatio: 0.25,
//	}, logger)
//
// Flush through ShutdownOTel after everything else has stopped, usually
// as the last ShutdownManager hook.
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, server, 30*time.Second)
//	sm.OnShutdown("store", func(ctx context.Context) error { return mgr.Close() })
//	err := sm.WaitForShutdown()
//
// Registration order is teardown order. Trigger starts the same
// sequence without an OS signal, which is how the API binary reacts to
// a listener dying.
package observability
