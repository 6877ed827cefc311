package validate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/hashops/observe"
)

// HarnessConfig configures the harness.
type HarnessConfig struct {
	// Timeout bounds each scenario.
	// Default: 5 seconds
	Timeout time.Duration

	// Parallel runs scenarios concurrently when true.
	// Default: false
	Parallel bool

	// Logger receives failed scenarios.
	// Default: no-op logger
	Logger observe.Logger
}

// Report is the outcome of one harness run.
type Report struct {
	// Passed is true when every scenario passed.
	Passed bool

	// Results are in registration order.
	Results []Result

	// Duration is the wall time of the run.
	Duration time.Duration

	// Timestamp is when the run started.
	Timestamp time.Time
}

// Failed returns the failing results.
func (r Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if !res.Passed() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Harness runs registered scenarios against a target.
type Harness struct {
	config    HarnessConfig
	mu        sync.RWMutex
	scenarios map[string]Scenario
	order     []string
}

// NewHarness creates a new harness.
func NewHarness(config ...HarnessConfig) *Harness {
	var cfg HarnessConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}

	return &Harness{
		config:    cfg,
		scenarios: make(map[string]Scenario),
	}
}

// Register adds scenarios. A scenario with an existing name replaces the
// earlier one in place.
func (h *Harness) Register(scenarios ...Scenario) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range scenarios {
		name := s.Name()
		if _, exists := h.scenarios[name]; !exists {
			h.order = append(h.order, name)
		}
		h.scenarios[name] = s
	}
}

// ScenarioNames returns registered names in order.
func (h *Harness) ScenarioNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, len(h.order))
	copy(names, h.order)
	return names
}

type runKey struct{}

// InRun reports whether ctx was issued by a harness run. Targets use it to
// keep self-check traffic out of their live metrics.
func InRun(ctx context.Context) bool {
	v, _ := ctx.Value(runKey{}).(bool)
	return v
}

// Run executes every scenario against target. Scenarios receive a context
// for which InRun reports true. An empty harness reports a single failure
// carrying ErrNoScenarios.
func (h *Harness) Run(ctx context.Context, target Target) Report {
	ctx = context.WithValue(ctx, runKey{}, true)
	h.mu.RLock()
	scenarios := make([]Scenario, len(h.order))
	for i, name := range h.order {
		scenarios[i] = h.scenarios[name]
	}
	h.mu.RUnlock()

	start := time.Now()
	report := Report{Timestamp: start}

	if len(scenarios) == 0 {
		res := Fail("no scenarios registered", ErrNoScenarios)
		res.Scenario = "harness"
		res.Timestamp = start
		report.Results = []Result{res}
		report.Duration = time.Since(start)
		return report
	}

	results := make([]Result, len(scenarios))
	if h.config.Parallel {
		var g errgroup.Group
		for i, s := range scenarios {
			g.Go(func() error {
				results[i] = h.runScenario(ctx, s, target)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, s := range scenarios {
			results[i] = h.runScenario(ctx, s, target)
		}
	}

	report.Passed = true
	for _, res := range results {
		if !res.Passed() {
			report.Passed = false
			h.config.Logger.Warn(ctx, "validation scenario failed",
				observe.Field{Key: "scenario", Value: res.Scenario},
				observe.Field{Key: "message", Value: res.Message},
				observe.Field{Key: "error", Value: fmt.Sprint(res.Error)},
			)
		}
	}
	report.Results = results
	report.Duration = time.Since(start)
	return report
}

func (h *Harness) runScenario(ctx context.Context, s Scenario, target Target) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- s.Run(ctx, target)
	}()

	var result Result
	select {
	case result = <-resultCh:
	case <-ctx.Done():
		result = Fail("scenario timed out", fmt.Errorf("%w: %w", ErrScenarioTimeout, ctx.Err()))
	}

	result.Scenario = s.Name()
	result.Duration = time.Since(start)
	result.Timestamp = start
	return result
}
