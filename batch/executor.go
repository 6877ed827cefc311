package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jonwraymond/hashops/observe"
	"github.com/jonwraymond/hashops/pool"
)

// DefaultChunkSize is the number of items submitted to the pool at once.
const DefaultChunkSize = 64

// Handler computes the result for one request on a pool worker. The
// executor overwrites RequestID, Index and WorkerID on the returned Result.
//
// The context passed to a Handler is never cancelled by the executor: a
// started item always runs to completion.
type Handler func(ctx context.Context, workerID int, req Request) Result

// Submitter is the subset of *pool.Pool used by the executor.
type Submitter interface {
	SubmitAll(tasks []pool.Task) error
}

// Config configures the executor.
type Config struct {
	// ChunkSize is the maximum number of items per chunk.
	// Default: 64
	ChunkSize int

	// MaxInFlightChunks bounds how many chunks of one Run may be queued or
	// running at once. Keeping MaxInFlightChunks*ChunkSize at or below the
	// pool's queue size means a lone batch never trips the watermark.
	// Default: 4
	MaxInFlightChunks int

	// Logger receives dispatch failures.
	// Default: no-op logger
	Logger observe.Logger

	// Now stamps Request.SubmittedAt.
	// Default: time.Now
	Now func() time.Time
}

// Executor runs batches on a pool.
type Executor struct {
	config  Config
	pool    Submitter
	handler Handler

	batches atomic.Int64
	items   atomic.Int64
	chunks  atomic.Int64
	aborted atomic.Int64
}

// New creates an executor.
func New(p Submitter, handler Handler, config Config) (*Executor, error) {
	if p == nil {
		return nil, ErrNilPool
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	// Apply defaults
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.MaxInFlightChunks <= 0 {
		config.MaxInFlightChunks = 4
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Executor{config: config, pool: p, handler: handler}, nil
}

// Run hashes payloads and returns one Result per payload, in input order.
//
// If ctx ends before every chunk is dispatched, undispatched items carry an
// error matching pool.ErrCancelled; already dispatched items still finish.
// If the pool rejects a chunk, Run stops dispatching, waits for the items
// already accepted, and returns the pool's error with no results.
func (e *Executor) Run(ctx context.Context, payloads [][]byte) ([]Result, error) {
	e.batches.Add(1)
	e.items.Add(int64(len(payloads)))

	results := make([]Result, len(payloads))
	if len(payloads) == 0 {
		return results, nil
	}

	submittedAt := e.config.Now()
	requests := make([]Request, len(payloads))
	for i, p := range payloads {
		requests[i] = Request{
			ID:          uuid.New(),
			Index:       i,
			Payload:     p,
			SubmittedAt: submittedAt,
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg         sync.WaitGroup
		sem        = semaphore.NewWeighted(int64(e.config.MaxInFlightChunks))
		dispatched int
		submitErr  error
	)

	for start := 0; start < len(requests); start += e.config.ChunkSize {
		end := min(start+e.config.ChunkSize, len(requests))

		if runCtx.Err() != nil {
			break
		}
		if err := sem.Acquire(runCtx, 1); err != nil {
			break
		}

		c := &chunk{remaining: int32(end - start), release: func() { sem.Release(1) }}
		tasks := make([]pool.Task, 0, end-start)
		for i := start; i < end; i++ {
			tasks = append(tasks, &itemTask{
				ctx:     runCtx,
				req:     requests[i],
				handler: e.handler,
				slot:    &results[i],
				wg:      &wg,
				chunk:   c,
			})
		}

		wg.Add(len(tasks))
		if err := e.pool.SubmitAll(tasks); err != nil {
			wg.Add(-len(tasks))
			sem.Release(1)
			submitErr = err
			cancel()
			break
		}
		e.chunks.Add(1)
		dispatched = end
	}

	if submitErr == nil {
		for i := dispatched; i < len(requests); i++ {
			results[i] = Result{
				RequestID: requests[i].ID,
				Index:     i,
				Err:       fmt.Errorf("%w: %w", pool.ErrCancelled, context.Cause(runCtx)),
			}
		}
	}

	wg.Wait()

	if submitErr != nil {
		e.aborted.Add(1)
		e.config.Logger.Warn(ctx, "batch aborted",
			observe.Field{Key: "items", Value: len(payloads)},
			observe.Field{Key: "dispatched", Value: dispatched},
			observe.Field{Key: "error", Value: submitErr.Error()},
		)
		return nil, submitErr
	}
	return results, nil
}

// Metrics returns executor counters.
func (e *Executor) Metrics() Metrics {
	return Metrics{
		Batches: e.batches.Load(),
		Items:   e.items.Load(),
		Chunks:  e.chunks.Load(),
		Aborted: e.aborted.Load(),
	}
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Metrics contains executor statistics.
type Metrics struct {
	Batches int64
	Items   int64
	Chunks  int64
	Aborted int64
}

type chunk struct {
	remaining int32
	release   func()
}

func (c *chunk) itemDone() {
	if atomic.AddInt32(&c.remaining, -1) == 0 {
		c.release()
	}
}

// itemTask adapts one Request to pool.Task. Its slot is written exactly once.
type itemTask struct {
	ctx     context.Context
	req     Request
	handler Handler
	slot    *Result
	wg      *sync.WaitGroup
	chunk   *chunk
	once    sync.Once
}

func (t *itemTask) Context() context.Context { return t.ctx }

func (t *itemTask) Run(ctx context.Context, workerID int) {
	res := t.handler(context.WithoutCancel(ctx), workerID, t.req)
	if res.Err == nil && res.Digest == nil {
		res.Err = ErrNoResult
	}
	res.WorkerID = workerID
	t.deliver(res)
}

func (t *itemTask) Abort(err error) {
	t.deliver(Result{Err: err, WorkerID: -1})
}

func (t *itemTask) deliver(res Result) {
	t.once.Do(func() {
		res.RequestID = t.req.ID
		res.Index = t.req.Index
		*t.slot = res
		t.chunk.itemDone()
		t.wg.Done()
	})
}
