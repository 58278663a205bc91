package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/assetgate/pkg/admin"
	"github.com/platinummonkey/assetgate/pkg/async"
	"github.com/platinummonkey/assetgate/pkg/authz"
	"github.com/platinummonkey/assetgate/pkg/cache"
	"github.com/platinummonkey/assetgate/pkg/config"
	"github.com/platinummonkey/assetgate/pkg/grant"
	"github.com/platinummonkey/assetgate/pkg/observability"
	"github.com/platinummonkey/assetgate/pkg/storage"
	"github.com/platinummonkey/assetgate/pkg/storage/postgres"
)

// Version is reported by health checks and OpenTelemetry resources
var Version = "dev"

// App holds the wired components of one assetgate process
type App struct {
	Config     *config.Config
	Logger     *observability.Logger
	Registry   *prometheus.Registry
	Metrics    *observability.Metrics
	Store      storage.AdminStore
	Cache      cache.Store
	Loader     *cache.Loader
	Minter     grant.Minter
	Dispatcher *async.Dispatcher
	Authorizer *authz.Authorizer
	Admin      *admin.Service
	Health     *observability.HealthChecker

	db      *postgres.ConnectionManager
	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func(context.Context) error
}

// New builds every component named by cfg. On error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	if logger == nil {
		logger = observability.NewLogger(cfg.Observability.Level(), nil)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Health:   observability.NewHealthChecker(Version),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = observability.NewMetrics(a.Registry)

	if err := a.build(ctx); err != nil {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			logger.WithError(closeErr).Warn("Cleanup after failed startup was incomplete")
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	if err := a.openStore(ctx); err != nil {
		return err
	}
	if err := a.openCache(ctx); err != nil {
		return err
	}
	if err := a.openMinter(ctx); err != nil {
		return err
	}

	retry := storage.NewRetryPolicy(a.Config.Retry)
	a.Loader = cache.NewLoader(a.Cache, cache.DefaultLoaderConfig(a.Config.Storage), retry, a.Logger, a.Metrics)

	a.Dispatcher = async.NewDispatcher(context.Background(), a.Config.Bookkeeping, a.Logger, a.Metrics)
	a.onClose("bookkeeping", func(ctx context.Context) error {
		return a.Dispatcher.Shutdown(remaining(ctx, 10*time.Second))
	})

	authorizer, err := authz.NewAuthorizer(authz.Dependencies{
		Store:      a.Store,
		Loader:     a.Loader,
		Minter:     a.Minter,
		Bookkeeper: a.Dispatcher,
		Retry:      retry,
		Logger:     a.Logger,
		Metrics:    a.Metrics,
	}, a.Config.Authz)
	if err != nil {
		return fmt.Errorf("failed to build authorizer: %w", err)
	}
	a.Authorizer = authorizer
	a.Admin = admin.NewService(a.Store, a.Loader.Invalidator(), a.Logger)

	a.Health.AddCheck("store", true, a.Store.Ping)
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Storage.Type {
	case "postgres":
		cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
			PrimaryURL:  a.Config.Storage.PostgresURL,
			ReplicaURLs: postgres.ParseReplicaURLs(a.Config.Storage.PostgresReplicaURLs),
			MaxConns:    a.Config.Storage.PostgresMaxConns,
			MinConns:    a.Config.Storage.PostgresMinConns,
			Timeout:     a.Config.Storage.PostgresTimeout,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.db = cm
		a.onClose("postgres", func(context.Context) error { return cm.Close() })
		if cm.ReplicaCount() > 0 {
			a.Health.AddCheck("postgres_replicas", false, cm.CheckReplicas)
		}

		if err := postgres.Migrate(ctx, cm.Primary()); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
		a.Store = postgres.NewStore(cm)
	case "memory":
		a.Logger.Warn("Using in-memory storage; entitlements are lost on restart")
		a.Store = storage.NewMemoryStore()
	default:
		return fmt.Errorf("unsupported storage type: %s", a.Config.Storage.Type)
	}
	return nil
}

func (a *App) openCache(ctx context.Context) error {
	cfg := a.Config.Storage
	if !cfg.CacheEnabled {
		a.Logger.Info("Cache disabled; every lookup reads the source of truth")
		return nil
	}

	l1 := cache.NewMemoryStore(cfg.L1CacheSize, cfg.L1MaxTTL)
	if cfg.RedisURL == "" {
		a.Cache = l1
		return nil
	}

	l2, err := cache.NewRedisStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.onClose("redis", func(context.Context) error { return l2.Close() })
	a.Health.AddCheck("redis", false, observability.RedisCheck(l2.Client()))

	a.Cache = cache.NewTieredStore(l1, l2, cfg.L1MaxTTL)
	return nil
}

func (a *App) openMinter(ctx context.Context) error {
	switch a.Config.Grants.Minter {
	case "s3":
		presigner, err := grant.NewS3Presigner(ctx, a.Config.Storage)
		if err != nil {
			return fmt.Errorf("failed to create s3 presigner: %w", err)
		}
		a.Health.AddCheck("s3", false, presigner.CheckBucket)
		a.Minter = presigner
	case "static":
		minter, err := grant.NewStaticMinter(a.Config.Grants.StaticBaseURL)
		if err != nil {
			return fmt.Errorf("failed to create static minter: %w", err)
		}
		a.Minter = minter
	default:
		return fmt.Errorf("unsupported grant minter: %s", a.Config.Grants.Minter)
	}
	return nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, fn: fn})
}

// Close releases everything New opened, most recent first
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.closers[i].name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// SampleStats records connection pool statistics. It is a no-op without Postgres.
func (a *App) SampleStats() {
	if a.db == nil {
		return
	}
	a.Metrics.RecordDBStats(a.db.Stats().Primary)
}

// remaining returns the time left on ctx, or fallback when ctx has no deadline
func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return fallback
}
