// Package worker runs browser automation tasks on a fixed-size pool of
// isolated browser workers fed by a FIFO queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

var (
	// ErrPoolClosed is returned for tasks submitted or still queued when the pool terminates
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrNoHandler is returned when a task kind has no registered handler
	ErrNoHandler = errors.New("no handler registered for task kind")
)

const (
	minPoolSize = 4
	maxPoolSize = 10
)

// Handler executes one task kind against the worker's browser
type Handler func(ctx context.Context, browser interfaces.Browser, payload []byte) ([]byte, error)

// submission pairs a task with its reply channel
type submission struct {
	ctx    context.Context
	task   models.Task
	result chan taskResult
}

type taskResult struct {
	output []byte
	err    error
}

// Pool manages a fixed set of browser workers. Each worker owns at most one
// browser instance and runs at most one task at a time; queued tasks are
// dispatched FIFO to the next idle worker.
type Pool struct {
	factory  interfaces.BrowserFactory
	handlers map[models.TaskKind]Handler
	queue    chan *submission
	size     int
	logger   arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// ClampPoolSize resolves a configured pool size: 0 derives from CPU count,
// anything else is clamped to [4,10] since each worker is a full browser.
func ClampPoolSize(configured int) int {
	size := configured
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if size < minPoolSize {
		size = minPoolSize
	}
	if size > maxPoolSize {
		size = maxPoolSize
	}
	return size
}

// NewPool creates a worker pool. Size is fixed at construction.
func NewPool(factory interfaces.BrowserFactory, size int, logger arbor.ILogger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		factory:  factory,
		handlers: make(map[models.TaskKind]Handler),
		queue:    make(chan *submission, 256),
		size:     ClampPoolSize(size),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler registers the automation script for a task kind.
// Must be called before Start.
func (p *Pool) RegisterHandler(kind models.TaskKind, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = handler
	p.logger.Info().
		Str("task_kind", string(kind)).
		Msg("Task handler registered")
}

// Size returns the fixed worker count
func (p *Pool) Size() int {
	return p.size
}

// Start spawns the workers
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.logger.Info().
		Int("pool_size", p.size).
		Msg("Starting browser worker pool")

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues a task and blocks until a result is produced, the caller's
// context ends, or the pool terminates. The task is owned by the caller until
// then.
func (p *Pool) Submit(ctx context.Context, task models.Task) ([]byte, error) {
	sub := &submission{
		ctx:    ctx,
		task:   task,
		result: make(chan taskResult, 1),
	}

	select {
	case p.queue <- sub:
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-sub.result:
		return res.output, res.err
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Terminate forcibly stops all workers and fails queued-but-undispatched
// tasks. In-flight tasks are not guaranteed to complete.
func (p *Pool) Terminate() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.logger.Info().Msg("Terminating worker pool")
	p.cancel()
	p.drainQueue()
	p.wg.Wait()
	p.drainQueue()
	p.logger.Info().Msg("Worker pool terminated")
}

// drainQueue fails everything still waiting for a worker
func (p *Pool) drainQueue() {
	for {
		select {
		case sub := <-p.queue:
			sub.result <- taskResult{err: ErrPoolClosed}
		default:
			return
		}
	}
}

// worker is the main worker loop. The browser is launched lazily and
// relaunched after a fault, so a crashed browser costs one task, not a slot
// of pool capacity.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug().
		Int("worker_id", id).
		Msg("Worker started")

	var browser interfaces.Browser
	defer func() {
		if browser != nil {
			browser.Close()
		}
		p.logger.Debug().
			Int("worker_id", id).
			Msg("Worker stopped")
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		case sub := <-p.queue:
			if browser == nil {
				b, err := p.factory.NewBrowser(p.ctx)
				if err != nil {
					p.logger.Warn().
						Err(err).
						Int("worker_id", id).
						Msg("Failed to launch worker browser")
					sub.result <- taskResult{err: err}
					continue
				}
				browser = b
			}

			output, err := p.execute(id, browser, sub)
			if err != nil && !errors.Is(err, ErrNoHandler) {
				// Discard the browser on any task failure so the next task
				// starts from a clean instance
				browser.Close()
				browser = nil
			}
			sub.result <- taskResult{output: output, err: err}
		}
	}
}

// execute runs one task, converting a worker panic into a task error
func (p *Pool) execute(workerID int, browser interfaces.Browser, sub *submission) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker_id", workerID).
				Str("task_kind", string(sub.task.Kind)).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Worker recovered from panic, failing in-flight task")
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	p.mu.Lock()
	handler, ok := p.handlers[sub.task.Kind]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, sub.task.Kind)
	}

	p.logger.Debug().
		Int("worker_id", workerID).
		Str("task_kind", string(sub.task.Kind)).
		Msg("Executing task")

	// The handler context ends with the submitter's context or with the
	// pool, whichever is first, so Terminate reaches in-flight tasks.
	base := sub.ctx
	if base == nil {
		base = context.Background()
	}
	runCtx, cancel := context.WithCancel(base)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	return handler(runCtx, browser, sub.task.Payload)
}
