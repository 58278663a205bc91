package authz

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/assetgate/pkg/entitlement"
	"github.com/platinummonkey/assetgate/pkg/observability"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

// QuotaEnforcer consumes quota through the store's atomic increment
type QuotaEnforcer struct {
	store   storage.Store
	metrics *observability.Metrics
}

// NewQuotaEnforcer creates a quota enforcer
func NewQuotaEnforcer(store storage.Store, metrics *observability.Metrics) *QuotaEnforcer {
	return &QuotaEnforcer{store: store, metrics: metrics}
}

// Reserve adds units to the account's usage if that stays within the limit.
// It is attempted exactly once.
func (q *QuotaEnforcer) Reserve(ctx context.Context, accountID string, units int64) (*entitlement.QuotaAccount, *Error) {
	quota, err := q.store.IncrementQuotaIfBelowLimit(ctx, accountID, units)
	switch {
	case err == nil:
		return quota, nil
	case errors.Is(err, storage.ErrQuotaExhausted):
		q.metrics.QuotaRejected()
		detail := Detail{Reason: "quota exhausted"}
		if quota != nil {
			detail.Used = quota.Used
			detail.Limit = quota.Limit
		}
		return nil, newError(KindQuotaExceeded, detail, nil)
	case errors.Is(err, storage.ErrNotFound):
		return nil, unavailable("quota account missing", nil)
	default:
		return nil, unavailable("quota increment failed", err)
	}
}

// unitsFor picks the increment for one grant of resource
func unitsFor(cfg Config, req Request, resource *entitlement.Resource) int64 {
	if req.Units > 0 {
		return req.Units
	}
	if cfg.QuotaUnit == QuotaUnitBytes {
		if resource.SizeBytes > 0 {
			return resource.SizeBytes
		}
		return 1
	}
	return 1
}

// UsageRecorder appends usage records off the request path
type UsageRecorder struct {
	store      storage.Store
	bookkeeper Bookkeeper
	logger     *observability.Logger
}

// NewUsageRecorder creates a usage recorder. Without a bookkeeper records are
// appended inline with a detached context.
func NewUsageRecorder(store storage.Store, bookkeeper Bookkeeper, logger *observability.Logger) *UsageRecorder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &UsageRecorder{store: store, bookkeeper: bookkeeper, logger: logger}
}

// Record logs one quota consumption with its outcome
func (u *UsageRecorder) Record(ctx context.Context, p *Principal, resourceID string, units int64, outcome entitlement.UsageOutcome, at time.Time) {
	record := &entitlement.UsageRecord{
		ID:         uuid.NewString(),
		AccountID:  p.AccountID,
		TenantID:   p.TenantID,
		ResourceID: resourceID,
		Units:      units,
		Outcome:    outcome,
		Timestamp:  at,
	}

	store := u.store
	appendFn := func(ctx context.Context) error {
		return store.AppendUsage(ctx, record)
	}
	if u.bookkeeper != nil {
		u.bookkeeper.Dispatch("append_usage", appendFn)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := appendFn(ctx); err != nil {
		observability.FromContext(observability.WithDefaultLogger(ctx, u.logger)).
			WithError(err).
			WithField("outcome", string(outcome)).
			Warn("Failed to append usage record")
	}
}
