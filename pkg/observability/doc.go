// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry bootstrap, health checks, and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("stage", "quota").Info("quota reserved")
//
// Loggers travel in the context; FromContext adds request and account ids:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Warn("store unavailable")
//
// # Prometheus Metrics
//
// All collectors live on Metrics. A nil *Metrics is a valid no-op so library
// code never has to check:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordDecision("granted")
//	metrics.CacheHit("credential", "l1")
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddCheck("postgres", true, observability.DatabaseCheck(db))
//	checker.AddCheck("redis", false, observability.RedisCheck(client))
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
package observability
