// Package task defines the Assignment/ActiveTask data model and the bounded
// Tracker that admits, records, and retires tasks, gating work behind a
// fixed capacity and a single guarded map of in-flight state.
package task

import (
	"time"

	"github.com/ai4all/worker/internal/backend"
)

// Priority orders tasks for operator-visible reporting. The
// Tracker does not reorder execution by priority; admission is FIFO.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// OriginKind identifies how an Assignment entered the worker.
type OriginKind string

const (
	OriginCoordinatorStream OriginKind = "coordinator_stream"
	OriginHTTPPolled        OriginKind = "http_polled"
	OriginPeer              OriginKind = "peer"
)

// Origin records where an Assignment came from. PeerWorkerID is populated
// only when Kind == OriginPeer.
type Origin struct {
	Kind         OriginKind
	PeerWorkerID string
}

// Assignment is a unit of work handed to the Executor.
type Assignment struct {
	ID string
	// ModelID names the model this assignment runs against. An empty
	// ModelID (as for peer-forwarded tasks) leaves the choice to the
	// backend, which falls back to its most recently loaded model.
	ModelID string
	// BlockID optionally ties this assignment to a coordinator-issued
	// batch or day's work, for origins that group tasks that way.
	BlockID  string
	Kind     backend.TaskKind
	Input    backend.Input
	Priority Priority
	Origin   Origin
	// Deadline is an optional wall-clock cutoff in addition to Timeout; a
	// nil Deadline means none was supplied.
	Deadline  *time.Time
	Timeout   time.Duration
	Canary    *CanaryCheck
	CreatedAt time.Time
}

// CanaryCheck is an optional coordinator-assigned verification hook: when
// present, the Executor compares the sha256 of the JSON-serialized output
// against ExpectedHash, records the outcome in Result.CanaryOK and logs a
// mismatch, without failing the task. The outcome is not included in the
// result reported back to the task's origin.
type CanaryCheck struct {
	ExpectedHash string
}

// Status is an ActiveTask's position in its state machine:
// Queued -> Running -> {Completed, Failed, Cancelled}.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// terminal reports whether a Status has no valid outgoing transition.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ActiveTask is the Tracker's live record for one Assignment.
type ActiveTask struct {
	Assignment  Assignment
	Status      Status
	StartedAt   time.Time
	FinishedAt  time.Time
	CancelFunc  func()
	ResultError error
}

// Result is what the Executor reports back for a finished Assignment
//.
type Result struct {
	AssignmentID string
	Output       backend.Output
	Err          error
	CanaryOK     *bool
	StartedAt    time.Time
	FinishedAt   time.Time
}
