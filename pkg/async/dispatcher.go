package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/assetgate/pkg/observability"
)

// ErrDispatcherClosed is returned by Submit after Shutdown
var ErrDispatcherClosed = errors.New("dispatcher shut down")

// ErrQueueFull is returned by Submit when no queue slot is free
var ErrQueueFull = errors.New("dispatcher queue full")

// DispatcherConfig sizes the worker pool
type DispatcherConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// DefaultDispatcherConfig returns sensible defaults
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:     4,
		QueueSize:   1024,
		TaskTimeout: 5 * time.Second,
	}
}

type task struct {
	name string
	fn   func(context.Context) error
}

// Dispatcher is a bounded worker pool for background tasks
type Dispatcher struct {
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan task

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewDispatcher starts the workers. Pass a process-lifetime ctx, never a request ctx:
// tasks are cancelled when ctx is done or on Shutdown.
func NewDispatcher(ctx context.Context, cfg DispatcherConfig, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	ctx, cancel := context.WithCancel(ctx)
	d := &Dispatcher{
		logger:  logger,
		metrics: metrics,
		timeout: cfg.TaskTimeout,
		queue:   make(chan task, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		doneCh:  make(chan struct{}),
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < cfg.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.worker()
			}()
		}
		wg.Wait()
		close(d.doneCh)
	}()

	return d
}

// Submit enqueues a task without blocking
func (d *Dispatcher) Submit(name string, fn func(context.Context) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- task{name: name, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dispatch is Submit for callers that do not care about the outcome.
// A rejected task is logged and counted as dropped.
func (d *Dispatcher) Dispatch(name string, fn func(context.Context) error) bool {
	if err := d.Submit(name, fn); err != nil {
		d.metrics.BookkeepingDropped(name)
		d.logger.WithField("task", name).WithError(err).Warn("Background task dropped")
		return false
	}
	return true
}

// Shutdown stops accepting tasks and waits up to timeout for queued ones
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.doneCh:
		d.cancel()
		return nil
	case <-time.After(timeout):
		d.cancel()
		return fmt.Errorf("dispatcher shutdown timed out after %v", timeout)
	}
}

func (d *Dispatcher) worker() {
	for t := range d.queue {
		d.run(t)
	}
}

func (d *Dispatcher) run(t task) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	logger := d.logger.WithField("task", t.name)
	defer observability.RecoverPanicWithCallback(logger, "background task", func() {
		d.metrics.BookkeepingDropped(t.name)
	})

	if err := t.fn(ctx); err != nil {
		d.metrics.BookkeepingDropped(t.name)
		logger.WithError(err).Warn("Background task failed")
	}
}
