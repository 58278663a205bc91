package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/assetgate/pkg/app"
	"github.com/platinummonkey/assetgate/pkg/config"
	"github.com/platinummonkey/assetgate/pkg/observability"
)

var (
	version       = "dev"
	statsSchedule = flag.String("stats-schedule", "@every 15s", "Cron schedule for connection pool sampling")
)

func main() {
	flag.Parse()

	bootstrap := logrus.New()
	bootstrap.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(bootstrap); err != nil {
		bootstrap.WithError(err).Fatal("assetgate exited with error")
	}
}

func run(bootstrap *logrus.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	bootstrap.WithFields(logrus.Fields{
		"storage": cfg.Storage.Type,
		"minter":  cfg.Grants.Minter,
		"cache":   cfg.Storage.CacheEnabled,
	}).Info("Configuration loaded")

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("service", "assetgate")
	ctx := context.Background()

	if cfg.Observability.OTelServiceVersion == "" {
		cfg.Observability.OTelServiceVersion = version
	}
	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app.Version = version
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return err
	}

	router := mux.NewRouter()
	router.Use(observability.RequestMiddleware(logger))
	observability.RegisterHealthRoutes(router, a.Health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(router, a.Registry)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "assetgate.ops"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(*statsSchedule, a.SampleStats); err != nil {
		_ = a.Close(ctx)
		_ = providers.Shutdown(ctx)
		return fmt.Errorf("invalid stats schedule %q: %w", *statsSchedule, err)
	}
	scheduler.Start()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	// Closed in reverse: the scheduler stops first, telemetry flushes last.
	shutdown.Register("otel", providers.Shutdown)
	shutdown.Register("app", a.Close)
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	serveErr := make(chan error, 1)
	go func() {
		defer observability.RecoverPanic(logger, "ops server")
		logger.WithField("addr", server.Addr).Info("Serving health and metrics endpoints")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case err := <-serveErr:
			logger.WithError(err).Error("Ops server failed")
			cancel()
		case <-sigCtx.Done():
		}
	}()

	start := time.Now()
	err = shutdown.WaitForShutdown(sigCtx)
	logger.WithField("uptime", time.Since(start).Round(time.Second).String()).Info("assetgate stopped")
	return err
}
