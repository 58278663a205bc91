// Package async runs fire-and-forget bookkeeping off the request path.
//
// # Overview
//
// The authorization pipeline has side effects that must never block or fail a
// decision: the credential "last used" timestamp and usage record appends.
// They are handed to a Dispatcher, a bounded worker pool whose Dispatch call
// never blocks. When the queue is full the task is dropped, logged, and counted.
//
//	d := async.NewDispatcher(ctx, async.DefaultDispatcherConfig(), logger, metrics)
//	defer d.Shutdown(5 * time.Second)
//
//	d.Dispatch("touch_credential", func(ctx context.Context) error {
//		return store.TouchCredential(ctx, credID, now)
//	})
//
// # Features
//
// Panic Recovery: a panicking task is logged with its stack and the worker survives
// Timeout Enforcement: each task runs under its own deadline
// Graceful Shutdown: queued tasks are drained up to the shutdown timeout
//
// # Related Packages
//
//   - pkg/authz: dispatches credential touches and usage records
//   - pkg/observability: logging and the bookkeeping_dropped_total metric
package async
