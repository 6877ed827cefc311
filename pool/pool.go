package pool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jonwraymond/hashops/observe"
)

// Config configures the pool.
type Config struct {
	// Workers is the number of worker goroutines.
	// Default: runtime.NumCPU()
	Workers int

	// QueueSize is the queue watermark: the maximum number of accepted
	// tasks not yet picked up by a worker.
	// Default: 4 * Workers
	QueueSize int

	// Logger receives panic and rejection reports.
	// Default: no-op logger
	Logger observe.Logger
}

// Pool runs tasks on a fixed set of workers.
type Pool struct {
	config Config
	queue  chan Task
	logger observe.Logger

	submitMu sync.Mutex
	closed   bool
	wg       sync.WaitGroup

	mu        sync.Mutex
	active    int
	maxActive int
	maxQueued int

	submitted atomic.Int64
	completed atomic.Int64
	cancelled atomic.Int64
	rejected  atomic.Int64
	panicked  atomic.Int64
}

// New creates a pool and starts its workers.
func New(config Config) *Pool {
	// Apply defaults
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 4 * config.Workers
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}

	p := &Pool{
		config: config,
		queue:  make(chan Task, config.QueueSize),
		logger: config.Logger,
	}

	p.wg.Add(config.Workers)
	for id := 0; id < config.Workers; id++ {
		go p.worker(id)
	}
	return p
}

// Submit enqueues a task. It never blocks: a full queue yields ErrQueueFull.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}
	return p.SubmitAll([]Task{task})
}

// SubmitAll enqueues every task or none of them. If the queue cannot hold
// all of tasks it returns ErrQueueFull and nothing is enqueued.
func (p *Pool) SubmitAll(tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	for _, t := range tasks {
		if t == nil {
			return ErrNilTask
		}
	}

	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	// Only submitters add to the queue and they hold submitMu, so free
	// space can only grow between this check and the sends below.
	free := cap(p.queue) - len(p.queue)
	if len(tasks) > free {
		p.rejected.Add(int64(len(tasks)))
		p.logger.Warn(context.Background(), "queue watermark reached",
			observe.Field{Key: "requested", Value: len(tasks)},
			observe.Field{Key: "free", Value: free},
			observe.Field{Key: "queue_size", Value: cap(p.queue)},
		)
		return fmt.Errorf("%w: %d requested, %d free of %d", ErrQueueFull, len(tasks), free, cap(p.queue))
	}

	for _, t := range tasks {
		p.queue <- t
	}
	p.submitted.Add(int64(len(tasks)))

	p.mu.Lock()
	if q := len(p.queue); q > p.maxQueued {
		p.maxQueued = q
	}
	p.mu.Unlock()
	return nil
}

// Close stops accepting tasks, lets the workers drain the queue, and waits
// for them to exit or for ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.submitMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.submitMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Free returns the number of tasks that can currently be submitted.
func (p *Pool) Free() int {
	return cap(p.queue) - len(p.queue)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.queue {
		p.execute(id, task)
	}
}

func (p *Pool) execute(id int, task Task) {
	ctx := task.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		p.cancelled.Add(1)
		task.Abort(fmt.Errorf("%w: %w", ErrCancelled, err))
		return
	}

	p.mu.Lock()
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()

		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Error(ctx, "task panicked",
				observe.Field{Key: "worker_id", Value: id},
				observe.Field{Key: "panic", Value: fmt.Sprint(r)},
			)
			task.Abort(fmt.Errorf("%w: %v", ErrTaskPanic, r))
			return
		}
		p.completed.Add(1)
	}()

	task.Run(ctx, id)
}

// Metrics returns current pool metrics.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	active, maxActive, maxQueued := p.active, p.maxActive, p.maxQueued
	p.mu.Unlock()

	return Metrics{
		Workers:   p.config.Workers,
		QueueSize: cap(p.queue),
		Queued:    len(p.queue),
		MaxQueued: maxQueued,
		Active:    active,
		MaxActive: maxActive,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Cancelled: p.cancelled.Load(),
		Rejected:  p.rejected.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.config
}

// Metrics contains pool statistics. Submitted, Completed, Cancelled,
// Rejected and Panicked count tasks: a rejected SubmitAll of n tasks adds n
// to Rejected.
type Metrics struct {
	Workers   int
	QueueSize int
	Queued    int
	MaxQueued int
	Active    int
	MaxActive int
	Submitted int64
	Completed int64
	Cancelled int64
	Rejected  int64
	Panicked  int64
}
