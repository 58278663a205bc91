package authz

import (
	"context"
	"errors"

	"github.com/platinummonkey/assetgate/pkg/cache"
	"github.com/platinummonkey/assetgate/pkg/entitlement"
	"github.com/platinummonkey/assetgate/pkg/observability"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

// CheckAccountStatus gates on the principal's account status snapshot.
// Anything other than active fails closed.
func CheckAccountStatus(p *Principal) *Error {
	switch p.AccountStatus {
	case entitlement.AccountActive:
		return nil
	case entitlement.AccountSuspended:
		reason := p.SuspensionReason
		if reason == "" {
			reason = "account is suspended"
		}
		return denied(KindAccountSuspended, reason)
	case entitlement.AccountInactive:
		return denied(KindAccountInactive, "account is inactive")
	default:
		return denied(KindAccountInactive, "account status is unknown")
	}
}

// AccountLoader reads the account status, from the cache or, in strict mode,
// straight from the source of truth
type AccountLoader struct {
	store   storage.Store
	loader  *cache.Loader
	retry   cache.Retrier
	strict  bool
	metrics *observability.Metrics
}

// NewAccountLoader creates an account loader
func NewAccountLoader(store storage.Store, loader *cache.Loader, retry cache.Retrier, strict bool, metrics *observability.Metrics) *AccountLoader {
	return &AccountLoader{
		store:   store,
		loader:  loader,
		retry:   retry,
		strict:  strict,
		metrics: metrics,
	}
}

// Load returns p with its account status fields filled
func (l *AccountLoader) Load(ctx context.Context, p *Principal) (*Principal, *Error) {
	var (
		account *entitlement.Account
		err     error
	)
	if l.strict {
		account, err = l.readThrough(ctx, p.AccountID)
	} else {
		account, err = cache.Fetch(ctx, l.loader, cache.AccountKey(p.AccountID), func(ctx context.Context) (*entitlement.Account, error) {
			return l.store.GetAccount(ctx, p.AccountID)
		})
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Every tenant belongs to an account; a missing one is inconsistent state.
		return nil, unavailable("account record missing", nil)
	case err != nil:
		return nil, unavailable("account lookup failed", err)
	}

	next := *p
	next.AccountStatus = account.Status
	next.SuspensionReason = account.SuspensionReason
	return &next, nil
}

func (l *AccountLoader) readThrough(ctx context.Context, accountID string) (*entitlement.Account, error) {
	var account *entitlement.Account
	err := retrier(l.retry).Do(ctx, func(ctx context.Context) error {
		var err error
		account, err = l.store.GetAccount(ctx, accountID)
		return err
	}, func(int, error) {
		l.metrics.StoreRetry("get_account")
	})
	return account, err
}

type singleAttempt struct{}

func (singleAttempt) Do(ctx context.Context, fn func(context.Context) error, _ func(int, error)) error {
	return fn(ctx)
}

func retrier(r cache.Retrier) cache.Retrier {
	if r == nil {
		return singleAttempt{}
	}
	return r
}
