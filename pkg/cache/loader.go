package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/assetgate/pkg/observability"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

// Retrier runs an operation with bounded retries. *storage.RetryPolicy implements it.
type Retrier interface {
	Do(ctx context.Context, fn func(context.Context) error, onRetry func(attempt int, err error)) error
}

type noRetry struct{}

func (noRetry) Do(ctx context.Context, fn func(context.Context) error, _ func(int, error)) error {
	return fn(ctx)
}

// LoaderConfig configures a Loader
type LoaderConfig struct {
	// TTL per storage kind; kinds without an entry use one minute
	TTL map[string]time.Duration
	// NegativeTTL bounds how long explicit absence is remembered. Zero disables negative caching.
	NegativeTTL time.Duration
	// CatalogNegativeTTL replaces NegativeTTL for resources and categories, which
	// may be served by a lagging replica. Zero disables it.
	CatalogNegativeTTL time.Duration
	// LoadTimeout bounds a collapsed source-of-truth load, independent of any one caller
	LoadTimeout time.Duration
}

// DefaultLoaderConfig derives loader settings from the storage config
func DefaultLoaderConfig(cfg storage.Config) LoaderConfig {
	return LoaderConfig{
		TTL:         cfg.CacheTTL,
		NegativeTTL: cfg.TTL(storage.KindPermission),
		LoadTimeout: 2 * time.Second,
	}
}

// Loader is a read-through cache front for the source of truth
type Loader struct {
	store   Store
	config  LoaderConfig
	retry   Retrier
	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewLoader creates a loader. A nil store disables caching but keeps miss collapsing and retries.
func NewLoader(store Store, config LoaderConfig, retry Retrier, logger *observability.Logger, metrics *observability.Metrics) *Loader {
	if retry == nil {
		retry = noRetry{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = 2 * time.Second
	}
	return &Loader{
		store:   store,
		config:  config,
		retry:   retry,
		logger:  logger,
		metrics: metrics,
	}
}

// Store returns the backing cache store, nil when caching is disabled
func (l *Loader) Store() Store {
	return l.store
}

func (l *Loader) ttl(kind string) time.Duration {
	if ttl, ok := l.config.TTL[kind]; ok && ttl > 0 {
		return ttl
	}
	return time.Minute
}

// envelope distinguishes a cached value from cached absence
type envelope struct {
	Absent bool            `json:"absent,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

type loadResult struct {
	data   []byte
	absent bool
	// superseded is set when the key was evicted while the load ran, so the
	// value may predate the mutation that caused the eviction.
	superseded bool
}

// Fetch returns the value for key, reading through the cache.
// Explicit absence is reported as storage.ErrNotFound. Any other error means
// neither the cache nor the store could answer.
//
// A load overtaken by an eviction is never written back. Its callers, including
// any that joined it after the eviction, reload once from the source of truth.
func Fetch[T any](ctx context.Context, l *Loader, key string, load func(context.Context) (*T, error)) (*T, error) {
	kind := KindOf(key)

	for attempt := 1; ; attempt++ {
		if l.store != nil {
			env, tier, found, err := l.readCache(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("cache read %s: %w", kind, err)
			}
			if found {
				l.metrics.CacheHit(kind, tier)
				return decode[T](env.absent, env.data)
			}
		}
		l.metrics.CacheMiss(kind)

		r, err := l.share(ctx, key, kind, func(ctx context.Context) (interface{}, error) {
			v, err := load(ctx)
			if err == nil && v == nil {
				return nil, storage.ErrNotFound
			}
			return v, err
		})
		if err != nil {
			return nil, err
		}
		if r.superseded && attempt == 1 {
			l.logger.WithField("key_kind", kind).Debug("Load overtaken by eviction, reloading")
			l.group.Forget(key)
			continue
		}
		return decode[T](r.absent, r.data)
	}
}

// share runs load once per key across concurrent callers
func (l *Loader) share(ctx context.Context, key, kind string, load func(context.Context) (interface{}, error)) (loadResult, error) {
	ch := l.group.DoChan(key, func() (interface{}, error) {
		// Detached so one caller's cancellation cannot fail the others sharing the load.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.LoadTimeout)
		defer cancel()
		return l.loadAndFill(loadCtx, key, kind, load)
	})

	select {
	case <-ctx.Done():
		return loadResult{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			l.metrics.CacheShared(kind)
		}
		if res.Err != nil {
			return loadResult{}, res.Err
		}
		return res.Val.(loadResult), nil
	}
}

// Forget drops any in-flight load for keys so later callers start a fresh one
func (l *Loader) Forget(keys ...string) {
	for _, key := range keys {
		l.group.Forget(key)
	}
}

// Invalidator returns an invalidator that evicts from this loader's store and
// detaches callers from loads already in flight for the evicted keys
func (l *Loader) Invalidator() *Invalidator {
	return &Invalidator{store: l.store, loader: l}
}

func decode[T any](absent bool, data []byte) (*T, error) {
	if absent {
		return nil, storage.ErrNotFound
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode cached value: %w", err)
	}
	return &v, nil
}

func (l *Loader) readCache(ctx context.Context, key string) (loadResult, string, bool, error) {
	var (
		raw   []byte
		tier  string
		found bool
	)
	err := l.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		if tr, ok := l.store.(TierReporter); ok {
			raw, tier, found, err = tr.GetTier(ctx, key)
		} else {
			raw, found, err = l.store.Get(ctx, key)
			tier = "cache"
		}
		return err
	}, func(attempt int, err error) {
		l.metrics.StoreRetry("cache_get")
	})
	if err != nil {
		l.metrics.CacheError(KindOf(key), "get")
		return loadResult{}, "", false, err
	}
	if !found {
		return loadResult{}, "", false, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || (!env.Absent && len(env.Value) == 0) {
		l.logger.WithField("key_kind", KindOf(key)).Warn("Dropping undecodable cache entry")
		_ = l.store.Delete(ctx, key)
		return loadResult{}, "", false, nil
	}
	return loadResult{data: env.Value, absent: env.Absent}, tier, true, nil
}

// fillGuard carries the key version observed before the source of truth was read
type fillGuard struct {
	versioned VersionedStore
	version   Version
	// unusable is set when the version could not be read; nothing is cached then
	unusable bool
}

func (l *Loader) guard(ctx context.Context, key, kind string) fillGuard {
	vs, ok := l.store.(VersionedStore)
	if !ok {
		return fillGuard{}
	}
	v, err := vs.Version(ctx, key)
	if err != nil {
		l.metrics.CacheError(kind, "version")
		l.logger.WithField("key_kind", kind).WithError(err).Warn("Cache version read failed, result will not be cached")
		return fillGuard{unusable: true}
	}
	return fillGuard{versioned: vs, version: v}
}

// overtaken reports whether key was evicted since g was taken
func (l *Loader) overtaken(ctx context.Context, key string, g fillGuard) bool {
	if g.versioned == nil {
		return false
	}
	v, err := g.versioned.Version(ctx, key)
	return err != nil || v != g.version
}

func (l *Loader) loadAndFill(ctx context.Context, key, kind string, load func(context.Context) (interface{}, error)) (loadResult, error) {
	g := l.guard(ctx, key, kind)

	var value interface{}
	err := l.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		value, err = load(ctx)
		return err
	}, func(attempt int, err error) {
		l.metrics.StoreRetry(kind)
	})

	switch {
	case errors.Is(err, storage.ErrNotFound):
		result := loadResult{absent: true}
		if ttl := l.negativeTTL(kind); ttl > 0 {
			result.superseded = !l.fill(ctx, key, kind, g, envelope{Absent: true}, ttl)
		} else {
			result.superseded = l.overtaken(ctx, key, g)
		}
		return result, nil
	case err != nil:
		return loadResult{}, err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return loadResult{}, fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	return loadResult{data: data, superseded: !l.fill(ctx, key, kind, g, envelope{Value: data}, l.ttl(kind))}, nil
}

// negativeTTL is how long absence of kind is remembered. Catalogue kinds may be
// read from a lagging replica and use their own, shorter setting.
func (l *Loader) negativeTTL(kind string) time.Duration {
	switch kind {
	case storage.KindResource, storage.KindCategory:
		return l.config.CatalogNegativeTTL
	default:
		return l.config.NegativeTTL
	}
}

// fill writes to the cache and reports false only when an eviction overtook
// the load. Write failures are logged and otherwise ignored.
func (l *Loader) fill(ctx context.Context, key, kind string, g fillGuard, env envelope, ttl time.Duration) bool {
	if l.store == nil || g.unusable {
		return true
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return true
	}

	stored := true
	if g.versioned != nil {
		stored, err = g.versioned.SetIfVersion(ctx, key, g.version, raw, ttl)
	} else {
		err = l.store.Set(ctx, key, raw, ttl)
	}
	if err != nil {
		l.metrics.CacheError(kind, "set")
		l.logger.WithField("key_kind", kind).WithError(err).Warn("Cache write failed")
		return !l.overtaken(ctx, key, g)
	}
	return stored
}
