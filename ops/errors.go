package ops

import (
	"fmt"
	"strings"
)

// BadInputError reports a malformed AddChild argument. Never retried;
// raised synchronously.
type BadInputError struct {
	Msg string
}

func (e *BadInputError) Error() string {
	return fmt.Sprintf("bad input: %s", e.Msg)
}

// NotFoundError reports an unknown execution id.
type NotFoundError struct {
	ExecID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("execution id not found: %s", e.ExecID)
}

// ConflictError reports Undo called on a context already undoing.
type ConflictError struct {
	ExecID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("execution %s is already undoing", e.ExecID)
}

// ExecFailure is what a failing Exec raises: the full exec result history
// at the point of failure. Following the workflows package's ParallelError,
// Unwrap returns every failed Outcome's error so errors.Is/errors.As can
// search the whole accumulated history, not just the final one.
type ExecFailure struct {
	ExecID  string
	Results []Outcome
}

func (e *ExecFailure) Error() string {
	return fmt.Sprintf("exec %s failed: %v", e.ExecID, summarizeFailures(e.Results))
}

func (e *ExecFailure) Unwrap() []error {
	return failureErrors(e.Results)
}

// UndoFailure is what a failing Undo raises: the context's full
// undoResults at the point of failure.
type UndoFailure struct {
	ExecID  string
	Results []Outcome
}

func (e *UndoFailure) Error() string {
	return fmt.Sprintf("undo %s failed: %v", e.ExecID, summarizeFailures(e.Results))
}

func (e *UndoFailure) Unwrap() []error {
	return failureErrors(e.Results)
}

func failureErrors(results []Outcome) []error {
	errs := make([]error, 0, len(results))
	for _, r := range results {
		if r.failure {
			errs = append(errs, r.err)
		}
	}
	return errs
}

func summarizeFailures(results []Outcome) string {
	errs := failureErrors(results)
	if len(errs) == 0 {
		return "no failure recorded"
	}
	if len(errs) == 1 {
		return errs[0].Error()
	}

	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}
