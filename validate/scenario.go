package validate

import (
	"context"
	"time"

	"github.com/jonwraymond/hashops/batch"
)

// Status is the outcome of a scenario.
type Status int

const (
	// StatusPassed indicates every assertion held.
	StatusPassed Status = iota
	// StatusFailed indicates an assertion failed or the target errored.
	StatusFailed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one scenario.
type Result struct {
	// Scenario is the scenario name. The harness fills it in.
	Scenario string

	// Status is pass or fail.
	Status Status

	// Message is a short diagnostic.
	Message string

	// Details holds values useful for diagnosing a failure.
	Details map[string]any

	// Duration is how long the scenario took.
	Duration time.Duration

	// Timestamp is when the scenario started.
	Timestamp time.Time

	// Error is set when the scenario failed.
	Error error
}

// Pass creates a passing result.
func Pass(message string) Result {
	return Result{Status: StatusPassed, Message: message}
}

// Fail creates a failing result. A nil err is replaced by ErrScenarioFailed.
func Fail(message string, err error) Result {
	if err == nil {
		err = ErrScenarioFailed
	}
	return Result{Status: StatusFailed, Message: message, Error: err}
}

// WithDetails adds details to a result.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// Passed reports whether the scenario passed.
func (r Result) Passed() bool {
	return r.Status == StatusPassed
}

// Target is the pipeline under test.
type Target interface {
	// Hash hashes one payload through the cache.
	Hash(ctx context.Context, payload []byte) (batch.Result, error)

	// BatchHash hashes payloads through the batch executor.
	BatchHash(ctx context.Context, payloads [][]byte) ([]batch.Result, error)

	// Compute hashes payload with the provider directly, bypassing the
	// cache.
	Compute(payload []byte) ([]byte, error)

	// DigestSize is the provider's fixed output length.
	DigestSize() int
}

// Scenario is one self-check.
type Scenario interface {
	// Name identifies the scenario in reports.
	Name() string

	// Run executes the scenario against target.
	Run(ctx context.Context, target Target) Result
}

// ScenarioFunc adapts a function to the Scenario interface.
type ScenarioFunc struct {
	name string
	fn   func(context.Context, Target) Result
}

// NewScenarioFunc creates a new ScenarioFunc.
func NewScenarioFunc(name string, fn func(context.Context, Target) Result) *ScenarioFunc {
	return &ScenarioFunc{name: name, fn: fn}
}

// Name returns the scenario name.
func (f *ScenarioFunc) Name() string {
	return f.name
}

// Run executes the scenario.
func (f *ScenarioFunc) Run(ctx context.Context, target Target) Result {
	return f.fn(ctx, target)
}
