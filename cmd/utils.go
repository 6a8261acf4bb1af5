package cmd

import (
	"errors"
	"fmt"

	"github.com/encodeous/routesim/core"
	"github.com/encodeous/routesim/state"
)

const (
	exitTimeout = 1
	exitInput   = 2
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func exitCode(err error) int {
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		return ee.code
	case state.IsParseError(err), state.IsTopologyError(err):
		return exitInput
	}
	return 1
}

// runError turns a finished run into the command's error. Not converging takes precedence over
// skipped feed lines.
func runError(run *core.Run) error {
	if err := run.Result.Err(); err != nil {
		return &exitError{code: exitTimeout, err: err}
	}
	if n := run.Result.ParseErrors; n > 0 {
		return &exitError{code: exitInput, err: fmt.Errorf("converged, but %d malformed feed lines were skipped", n)}
	}
	return nil
}

func loadScenario(path string) (*state.Scenario, error) {
	sc, err := state.LoadScenario(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	return sc, nil
}
