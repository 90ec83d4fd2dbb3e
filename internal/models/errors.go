package models

import (
	"errors"
	"fmt"
)

// ErrNoContent signals a run that completed successfully but produced no
// image artifacts. Distinct from execution failure.
var ErrNoContent = errors.New("execution produced no content")

// ErrNotFound signals a missing file, history entry, or cache artifact.
var ErrNotFound = errors.New("not found")

// ValidationError reports a graph that failed structural validation. Node
// holds per-node diagnostics keyed by node ID; jobs that fail validation are
// never enqueued.
type ValidationError struct {
	Summary string
	Nodes   map[string]any
}

func (e *ValidationError) Error() string {
	return e.Summary
}

// CapacityError reports a synchronous submission rejected because the queue
// is over its configured ceiling. The submission had no side effects.
type CapacityError struct {
	Depth   int
	Ceiling int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("queue too busy: %d pending, limit %d", e.Depth, e.Ceiling)
}

// ExecutionError reports a job that was accepted but failed while running.
type ExecutionError struct {
	PromptID string
	NodeID   string
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("execution of prompt %s failed at node %s: %v", e.PromptID, e.NodeID, e.Err)
	}
	return fmt.Sprintf("execution of prompt %s failed: %v", e.PromptID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// SecurityError reports a file request that attempted to escape a managed
// root. Forbidden ones map to 403, malformed ones to 400.
type SecurityError struct {
	Path      string
	Malformed bool
}

func (e *SecurityError) Error() string {
	if e.Malformed {
		return fmt.Sprintf("malformed path: %s", e.Path)
	}
	return fmt.Sprintf("path escapes managed root: %s", e.Path)
}
