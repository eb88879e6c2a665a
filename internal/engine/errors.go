package engine

import (
	"fmt"
	"strings"
)

// CycleError is returned when resource references form a cycle. Path holds
// the addresses along the cycle, first repeated last.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected in resource graph: %s", strings.Join(e.Path, " -> "))
}

// UnresolvedReferenceError is returned when a declaration references a
// resource or attribute that does not exist.
type UnresolvedReferenceError struct {
	Subject   string // address of the resource holding the reference
	Reference string // the dangling reference
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s references undeclared resource %q", e.Subject, e.Reference)
}

// ApplyError aggregates per-resource failures from a partial apply. Failed
// lists resources whose operation errored; Skipped lists resources that were
// not attempted because a dependency failed. Every successful change is
// already recorded in the state snapshot when this error is returned.
type ApplyError struct {
	Failed  []string
	Skipped []string
	Err     error
}

func (e *ApplyError) Error() string {
	msg := fmt.Sprintf("%d resource(s) failed", len(e.Failed))
	if len(e.Skipped) > 0 {
		msg += fmt.Sprintf(", %d skipped due to failed dependencies", len(e.Skipped))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}
