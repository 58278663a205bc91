// Package app assembles an assetgate process from its configuration.
//
// New opens the source of truth (PostgreSQL or in-memory), the cache tiers
// (in-process LRU, optionally fronting Redis), the grant minter (S3 presigner
// or static URLs) and the bookkeeping dispatcher, then builds the Authorizer
// and the administrative Service on top of them:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		return err
//	}
//	a, err := app.New(ctx, cfg, logger)
//	if err != nil {
//		return err
//	}
//	defer a.Close(context.Background())
//
//	result := a.Authorizer.Authorize(ctx, token, resourceID)
//
// Both the daemon and the operator CLI are built this way.
package app
