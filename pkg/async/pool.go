package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrPoolShutDown is returned when work is handed to a stopped pool.
	ErrPoolShutDown = errors.New("worker pool shut down")
	// ErrTaskPanicked wraps the value recovered from a panicking task.
	ErrTaskPanicked = errors.New("task panicked")
)

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithPoolLogger sets the logger used for recovered panics.
func WithPoolLogger(logger logrus.FieldLogger) PoolOption {
	return func(p *WorkerPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

type job struct {
	ctx context.Context
	fn  func(context.Context) error
	// buffered so a worker never blocks on a caller that gave up
	done chan error
}

// WorkerPool runs tasks on a fixed number of goroutines. Each task gets its
// own deadline derived from the pool's per-task timeout.
type WorkerPool struct {
	name    string
	timeout time.Duration
	logger  logrus.FieldLogger

	jobs chan job
	quit chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

// NewWorkerPool starts workers goroutines. A timeout of zero leaves tasks
// bounded only by their context.
func NewWorkerPool(ctx context.Context, workers int, name string, timeout time.Duration, opts ...PoolOption) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	poolCtx, cancel := context.WithCancel(ctx)
	p := &WorkerPool{
		name:    name,
		timeout: timeout,
		logger:  logrus.StandardLogger(),
		jobs:    make(chan job, workers),
		quit:    make(chan struct{}),
		ctx:     poolCtx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithField("pool", name)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

// Do runs fn on a worker and waits for its result. Returning early because
// ctx ended does not stop fn; its context is derived from ctx so it will
// observe the cancellation.
func (p *WorkerPool) Do(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	if err := p.enqueue(ctx, job{ctx: ctx, fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) enqueue(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolShutDown
	}
	select {
	case p.jobs <- j:
		return nil
	case <-p.quit:
		return ErrPoolShutDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work and waits up to timeout for queued and
// running tasks. Tasks still running after that have their contexts
// cancelled.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
	defer p.cancel()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
		return nil
	case <-timer.C:
		return fmt.Errorf("worker pool %q: shutdown timed out after %s", p.name, timeout)
	}
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for j := range p.jobs {
		j.done <- p.run(j)
	}
}

func (p *WorkerPool) run(j job) error {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(j.ctx, p.timeout)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	return call(ctx, p.logger, j.fn)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// call runs fn, turning a panic into ErrTaskPanicked.
func call(ctx context.Context, logger logrus.FieldLogger, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("task panicked")
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return fn(ctx)
}
