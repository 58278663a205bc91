package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/assetgate/pkg/auth"
	"github.com/platinummonkey/assetgate/pkg/cache"
	"github.com/platinummonkey/assetgate/pkg/contextkeys"
	"github.com/platinummonkey/assetgate/pkg/entitlement"
	"github.com/platinummonkey/assetgate/pkg/grant"
	"github.com/platinummonkey/assetgate/pkg/observability"
	"github.com/platinummonkey/assetgate/pkg/storage"
)

var tracer = otel.Tracer("github.com/platinummonkey/assetgate/pkg/authz")

// Dependencies are the collaborators an Authorizer composes
type Dependencies struct {
	Store      storage.Store
	Loader     *cache.Loader
	Minter     grant.Minter
	Bookkeeper Bookkeeper
	Retry      *storage.RetryPolicy
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// requestState is the in-flight context of one request. Stages receive it by
// value and return an updated copy.
type requestState struct {
	req       Request
	principal *Principal
	resource  *entitlement.Resource
	category  *entitlement.ResourceCategory
	perm      *entitlement.CategoryPermission
	units     int64
	quota     *entitlement.QuotaAccount
	grant     *entitlement.AccessGrant
}

type stage struct {
	name    string
	reached State
	failed  State
	run     func(ctx context.Context, s requestState) (requestState, *Error)
}

// Authorizer is the single entry point of the authorization pipeline.
// It holds no per-request state and is safe for concurrent use.
type Authorizer struct {
	store       storage.Store
	credentials *CredentialResolver
	accounts    *AccountLoader
	catalog     *CatalogResolver
	permissions *PermissionResolver
	quota       *QuotaEnforcer
	issuer      *GrantIssuer
	usage       *UsageRecorder
	stages      []stage
	config      Config
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewAuthorizer wires the pipeline
func NewAuthorizer(deps Dependencies, config Config) (*Authorizer, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Minter == nil {
		return nil, fmt.Errorf("grant minter is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid authz config: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	var retry cache.Retrier
	if deps.Retry != nil {
		retry = deps.Retry
	}
	loader := deps.Loader
	if loader == nil {
		loader = cache.NewLoader(nil, cache.DefaultLoaderConfig(storage.DefaultConfig()), retry, logger, deps.Metrics)
	}

	a := &Authorizer{
		store:       deps.Store,
		credentials: NewCredentialResolver(deps.Store, loader, deps.Bookkeeper),
		accounts:    NewAccountLoader(deps.Store, loader, retry, config.StrictAccountStatus, deps.Metrics),
		catalog:     NewCatalogResolver(deps.Store, loader),
		permissions: NewPermissionResolver(deps.Store, loader, config.DistinguishExpiredPermission),
		quota:       NewQuotaEnforcer(deps.Store, deps.Metrics),
		issuer:      NewGrantIssuer(deps.Minter, config.DefaultGrantTTL, config.MaxGrantTTL, deps.Metrics),
		usage:       NewUsageRecorder(deps.Store, deps.Bookkeeper, logger),
		config:      config,
		logger:      logger,
		metrics:     deps.Metrics,
		now:         time.Now,
	}

	// Cheap checks run before expensive ones; the grant is always last.
	a.stages = []stage{
		{name: "credential", reached: StateCredentialResolved, failed: StateFailedCredential, run: a.resolveCredential},
		{name: "account_status", reached: StateAccountStatusChecked, failed: StateFailedAccountStatus, run: a.checkAccountStatus},
		{name: "resource", reached: StateResourceResolved, failed: StateFailedResource, run: a.resolveResource},
		{name: "permission", reached: StatePermissionResolved, failed: StateFailedPermission, run: a.resolvePermission},
		{name: "payment", reached: StatePaymentValidated, failed: StateFailedPayment, run: a.checkPayment},
		{name: "quota", reached: StateQuotaReserved, failed: StateFailedQuota, run: a.reserveQuota},
		{name: "grant", reached: StateGrantIssued, failed: StateFailedGrant, run: a.issueGrant},
	}
	return a, nil
}

// SetClock overrides the time source of every stage
func (a *Authorizer) SetClock(now func() time.Time) {
	a.now = now
	a.credentials.now = now
	a.permissions.now = now
	a.issuer.now = now
}

// Authorize decides whether credential may retrieve resourceID right now
func (a *Authorizer) Authorize(ctx context.Context, credential, resourceID string) Result {
	return a.AuthorizeRequest(ctx, Request{Credential: credential, ResourceID: resourceID})
}

// Check runs every gate before quota without consuming anything. The quota is
// read and reported as QuotaExceeded when the request would not fit.
func (a *Authorizer) Check(ctx context.Context, credential, resourceID string) Result {
	return a.AuthorizeRequest(ctx, Request{Credential: credential, ResourceID: resourceID, DryRun: true})
}

// AuthorizeRequest runs the pipeline for req. Stages run in a fixed order and
// the first failure is terminal.
func (a *Authorizer) AuthorizeRequest(ctx context.Context, req Request) Result {
	start := a.now()
	if req.RequestID == "" {
		req.RequestID = contextkeys.GetRequestID(ctx)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ctx = contextkeys.WithRequestID(ctx, req.RequestID)
	ctx = observability.WithDefaultLogger(ctx, a.logger)

	ctx, span := tracer.Start(ctx, "authz.Authorize",
		trace.WithAttributes(
			attribute.String("authz.request_id", req.RequestID),
			attribute.String("authz.resource_id", req.ResourceID),
			attribute.Bool("authz.dry_run", req.DryRun),
		),
	)
	defer span.End()

	s := requestState{req: req}
	state := StateStart
	var failure *Error

	for _, st := range a.stages {
		if req.DryRun && st.reached == StateQuotaReserved {
			break
		}
		// Cancellation is honored only for work not yet started.
		if err := ctx.Err(); err != nil {
			failure = a.cancelled(s, err)
			state = st.failed
			break
		}

		next, err := a.runStage(ctx, st, s)
		if err != nil {
			failure = err
			state = st.failed
			break
		}
		s = next
		state = st.reached
	}

	if req.DryRun && failure == nil {
		state, failure, s = a.previewQuota(ctx, state, s)
	}

	if s.principal != nil {
		ctx = contextkeys.WithAccountID(ctx, s.principal.AccountID)
	}
	if s.quota != nil && !req.DryRun {
		a.usage.Record(ctx, s.principal, req.ResourceID, s.units, usageOutcome(ctx, state, failure), a.now())
	}

	result := Result{
		RequestID: req.RequestID,
		State:     state,
		Grant:     s.grant,
		Quota:     s.quota,
		Principal: s.principal,
		Err:       failure,
	}
	if s.resource != nil && s.category != nil {
		result.Resource = metadataFor(s.resource, s.category)
	}

	a.finish(span, req, result, a.now().Sub(start))
	return result
}

func (a *Authorizer) runStage(ctx context.Context, st stage, s requestState) (requestState, *Error) {
	ctx, span := tracer.Start(ctx, "authz."+st.name)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.config.StageTimeout)
	defer cancel()

	started := time.Now()
	next, err := st.run(ctx, s)
	a.metrics.ObserveStage(st.name, time.Since(started))

	if err != nil {
		span.SetAttributes(attribute.String("authz.failure", string(err.Kind)))
		span.SetStatus(codes.Error, string(err.Kind))
		if err.cause != nil {
			span.RecordError(err.cause)
		}
		return s, err
	}
	return next, nil
}

func (a *Authorizer) resolveCredential(ctx context.Context, s requestState) (requestState, *Error) {
	principal, err := a.credentials.Resolve(ctx, s.req.Credential)
	if err != nil {
		return s, err
	}
	if err := CheckScope(principal, s.req.RequiredScope); err != nil {
		return s, err
	}
	s.principal = principal
	return s, nil
}

func (a *Authorizer) checkAccountStatus(ctx context.Context, s requestState) (requestState, *Error) {
	principal, err := a.accounts.Load(ctx, s.principal)
	if err != nil {
		return s, err
	}
	if err := CheckAccountStatus(principal); err != nil {
		return s, err
	}
	s.principal = principal
	return s, nil
}

func (a *Authorizer) resolveResource(ctx context.Context, s requestState) (requestState, *Error) {
	resource, category, err := a.catalog.Resolve(ctx, s.req.ResourceID)
	if err != nil {
		return s, err
	}
	if a.config.EnforceResourceScopes {
		if err := CheckScope(s.principal, scopeFor(resource.Kind)); err != nil {
			return s, err
		}
	}
	s.resource = resource
	s.category = category
	return s, nil
}

func (a *Authorizer) resolvePermission(ctx context.Context, s requestState) (requestState, *Error) {
	perm, err := a.permissions.Resolve(ctx, s.principal.AccountID, s.category)
	if err != nil {
		return s, err
	}
	s.perm = perm
	return s, nil
}

func (a *Authorizer) checkPayment(_ context.Context, s requestState) (requestState, *Error) {
	return s, CheckPayment(s.category, s.perm, a.now())
}

func (a *Authorizer) reserveQuota(ctx context.Context, s requestState) (requestState, *Error) {
	units := unitsFor(a.config, s.req, s.resource)
	quota, err := a.quota.Reserve(ctx, s.principal.AccountID, units)
	if err != nil {
		return s, err
	}
	s.units = units
	s.quota = quota
	return s, nil
}

func (a *Authorizer) issueGrant(ctx context.Context, s requestState) (requestState, *Error) {
	issued, err := a.issuer.Issue(ctx, s.resource, s.req.GrantTTL)
	if err != nil {
		return s, err
	}
	s.grant = issued
	return s, nil
}

// previewQuota reports whether a dry-run request would fit the current quota
func (a *Authorizer) previewQuota(ctx context.Context, state State, s requestState) (State, *Error, requestState) {
	ctx, cancel := context.WithTimeout(ctx, a.config.StageTimeout)
	defer cancel()

	quota, err := a.store.GetQuota(ctx, s.principal.AccountID)
	if errors.Is(err, storage.ErrNotFound) {
		return StateFailedQuota, unavailable("quota account missing", nil), s
	}
	if err != nil {
		return StateFailedQuota, unavailable("quota lookup failed", err), s
	}

	units := unitsFor(a.config, s.req, s.resource)
	if !quota.Unlimited() && quota.Used+units > quota.Limit {
		return StateFailedQuota, newError(KindQuotaExceeded, Detail{
			Reason: "quota exhausted",
			Used:   quota.Used,
			Limit:  quota.Limit,
		}, nil), s
	}
	s.units = units
	s.quota = quota
	return state, nil, s
}

// cancelled maps a caller cancellation to the failure of the next stage.
// Once quota is reserved the request is treated as a failed grant.
func (a *Authorizer) cancelled(s requestState, err error) *Error {
	if s.quota != nil {
		return newError(KindGrantIssuanceFailed, Detail{Reason: "request cancelled before grant issuance"}, err)
	}
	return unavailable("request cancelled", err)
}

func usageOutcome(ctx context.Context, state State, failure *Error) entitlement.UsageOutcome {
	switch {
	case state == StateGrantIssued && failure == nil:
		return entitlement.UsageGranted
	case ctx.Err() != nil:
		return entitlement.UsageCancelled
	default:
		return entitlement.UsageGrantFailed
	}
}

func (a *Authorizer) finish(span trace.Span, req Request, result Result, elapsed time.Duration) {
	outcome := "granted"
	switch {
	case result.Err != nil:
		outcome = string(result.Err.Kind)
	case req.DryRun:
		outcome = "dry_run"
	}
	a.metrics.RecordDecision(outcome)
	span.SetAttributes(
		attribute.String("authz.state", string(result.State)),
		attribute.String("authz.outcome", outcome),
	)

	logger := a.logger.WithFields(map[string]interface{}{
		"request_id":  result.RequestID,
		"credential":  auth.DisplayPrefix(req.Credential),
		"resource_id": req.ResourceID,
		"state":       string(result.State),
		"outcome":     outcome,
		"duration_ms": elapsed.Milliseconds(),
	})
	if result.Principal != nil {
		logger = logger.WithField("account_id", result.Principal.AccountID)
	}

	switch {
	case result.Err == nil:
		logger.Debug("Authorization decided")
	case result.Err.Kind == KindStoreUnavailable || result.Err.Kind == KindGrantIssuanceFailed:
		span.SetStatus(codes.Error, outcome)
		if cause := result.Err.Unwrap(); cause != nil {
			logger = logger.WithField("cause", cause.Error())
		}
		logger.WithError(result.Err).Warn("Authorization failed")
	default:
		logger.WithField("reason", result.Err.Detail.Reason).Info("Authorization denied")
	}
}
