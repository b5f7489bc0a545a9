// Package task defines the persisted task record and its state machine.
// A task tracks one run from creation to terminal state; its finalization
// state is the synchronization point that makes finalization exactly-once
// across every trigger source.
package task

import "time"

// Status is the task's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	// StatusUnknown marks a task whose outcome could not be recovered:
	// no completion marker and no live container. Shown to the user
	// rather than silently dropped.
	StatusUnknown Status = "unknown"
)

// FinalizationState tracks the exactly-once finalization machine. It only
// advances forward: none -> queued -> running -> done.
type FinalizationState string

const (
	FinalizeNone    FinalizationState = "none"
	FinalizeQueued  FinalizationState = "queued"
	FinalizeRunning FinalizationState = "running"
	FinalizeDone    FinalizationState = "done"
)

// Task is the persisted record for one run.
type Task struct {
	ID            string
	Status        Status
	Finalization  FinalizationState
	ContainerName string
	Interactive   bool
	// ExitCode is nil until an exit has been observed.
	ExitCode *int
	// Reason records how the run ended (marker reason, or a
	// human-readable explanation for unknown outcomes).
	Reason string
	// FinalizeAttempts counts BeginFinalize transitions, bounding
	// retries when finalization keeps crashing mid-flight.
	FinalizeAttempts int

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Terminal reports whether the task has fully completed: a settled
// status and finished finalization.
func (t *Task) Terminal() bool {
	if t.Finalization != FinalizeDone {
		return false
	}
	switch t.Status {
	case StatusDone, StatusFailed, StatusUnknown:
		return true
	}
	return false
}

// StatusForExit maps an observed exit code to a task status.
func StatusForExit(exitCode int) Status {
	if exitCode == 0 {
		return StatusDone
	}
	return StatusFailed
}
