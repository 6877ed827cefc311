package pool

import "context"

// Task is a unit of work executed by a pool worker.
//
// Contract:
//   - Exactly one of Run or Abort is called for a task that was accepted,
//     except that Abort(ErrTaskPanic) follows a Run that panicked.
//   - Run receives the task's own context; it is never cancelled by the pool.
//   - Abort must not block.
type Task interface {
	// Context returns the context that governs whether the task still
	// needs to run. A nil context is treated as context.Background().
	Context() context.Context

	// Run executes the task on the worker identified by workerID.
	Run(ctx context.Context, workerID int)

	// Abort reports why the task will not (or did not successfully) run.
	Abort(err error)
}

// FuncTask adapts plain functions to the Task interface.
type FuncTask struct {
	Ctx     context.Context
	RunFn   func(ctx context.Context, workerID int)
	AbortFn func(err error)
}

// Context returns t.Ctx.
func (t FuncTask) Context() context.Context { return t.Ctx }

// Run calls RunFn.
func (t FuncTask) Run(ctx context.Context, workerID int) {
	if t.RunFn != nil {
		t.RunFn(ctx, workerID)
	}
}

// Abort calls AbortFn.
func (t FuncTask) Abort(err error) {
	if t.AbortFn != nil {
		t.AbortFn(err)
	}
}

// Ensure FuncTask implements Task
var _ Task = FuncTask{}
