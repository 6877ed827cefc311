package validate

import "errors"

var (
	// ErrScenarioFailed indicates a scenario's assertion did not hold.
	ErrScenarioFailed = errors.New("validate: scenario failed")

	// ErrScenarioTimeout indicates a scenario did not finish in time.
	ErrScenarioTimeout = errors.New("validate: scenario timeout")

	// ErrNoScenarios indicates the harness has nothing to run.
	ErrNoScenarios = errors.New("validate: no scenarios registered")
)
