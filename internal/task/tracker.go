package task

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/ai4all/worker/internal/wkerrors"
)

// dedupeFilterSize and dedupeFalsePositive size the Tracker's duplicate-
// submission pre-filter, scaled to the volume of task IDs a single worker
// sees.
const (
	dedupeFilterSize      = 20000
	dedupeFalsePositive   = 0.01
	dedupeFilterResetSize = 15000
)

// Metrics is a point-in-time snapshot of Tracker occupancy, surfaced in
// heartbeats.
type Metrics struct {
	Queued    int
	Running   int
	Completed int
	Failed    int
	Cancelled int
	Capacity  int
}

// Tracker records every Assignment's lifecycle and enforces the worker's
// bounded concurrency. It does not itself run tasks; the Supervisor calls
// Add, and the Executor calls MarkRunning/MarkCompleted/MarkFailed as it
// processes assignments.
//
// The single-mutex, map-of-active-records shape tracks tasks/results
// behind one lock rather than per-entry locks.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	tasks    map[string]*ActiveTask
	seen     *bloom.BloomFilter
	seenN    int

	completedCount int
	failedCount    int
	cancelledCount int
}

// NewTracker returns a Tracker admitting at most capacity concurrently
// running-or-queued tasks.
func NewTracker(capacity int) *Tracker {
	return &Tracker{
		capacity: capacity,
		tasks:    make(map[string]*ActiveTask),
		seen:     bloom.NewWithEstimates(dedupeFilterSize, dedupeFalsePositive),
	}
}

// Add admits a new Assignment as Queued. It rejects the assignment with a
// CapacityExhausted error if the Tracker is already at capacity, and
// rejects it as a duplicate if an assignment with the same ID was already
// admitted.
//
// The bloom filter is a fast pre-filter only: a positive hit is confirmed
// against the live task map before being treated as authoritative, since
// the filter itself allows false positives and is reset periodically to
// bound memory growth.
func (t *Tracker) Add(a Assignment) (*ActiveTask, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen.TestString(a.ID) {
		if _, exists := t.tasks[a.ID]; exists {
			return nil, wkerrors.New(wkerrors.CodeInternal, wkerrors.FamilyInternal, "duplicate task id "+a.ID)
		}
	}

	if t.nonTerminalCountLocked() >= t.capacity {
		return nil, wkerrors.CapacityExhausted()
	}

	at := &ActiveTask{Assignment: a, Status: StatusQueued}
	t.tasks[a.ID] = at
	t.seen.AddString(a.ID)
	t.seenN++
	if t.seenN >= dedupeFilterResetSize {
		t.seen = bloom.NewWithEstimates(dedupeFilterSize, dedupeFalsePositive)
		t.seenN = 0
		for id := range t.tasks {
			t.seen.AddString(id)
		}
	}
	return at, nil
}

// nonTerminalCountLocked counts Queued+Running entries, the only ones that
// occupy a capacity slot. Terminal entries linger in the map for
// inspection/cleanup and must not count against admission.
func (t *Tracker) nonTerminalCountLocked() int {
	n := 0
	for _, at := range t.tasks {
		if !at.Status.terminal() {
			n++
		}
	}
	return n
}

// MarkRunning transitions id from Queued to Running.
func (t *Tracker) MarkRunning(id string, cancel func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.tasks[id]
	if !ok || at.Status.terminal() {
		return false
	}
	at.Status = StatusRunning
	at.StartedAt = time.Now()
	at.CancelFunc = cancel
	return true
}

// finish moves id into a terminal status, recording resultErr if any.
func (t *Tracker) finish(id string, status Status, resultErr error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.tasks[id]
	if !ok || at.Status.terminal() {
		return false
	}
	at.Status = status
	at.FinishedAt = time.Now()
	at.ResultError = resultErr
	switch status {
	case StatusCompleted:
		t.completedCount++
	case StatusFailed:
		t.failedCount++
	case StatusCancelled:
		t.cancelledCount++
	}
	return true
}

// MarkCompleted transitions id to Completed.
func (t *Tracker) MarkCompleted(id string) bool { return t.finish(id, StatusCompleted, nil) }

// MarkFailed transitions id to Failed, recording the cause.
func (t *Tracker) MarkFailed(id string, err error) bool { return t.finish(id, StatusFailed, err) }

// Cancel transitions id to Cancelled and invokes its CancelFunc, if any. It
// is a no-op (returns false) for unknown or already-terminal tasks:
// cancelling a terminal task has no effect.
func (t *Tracker) Cancel(id string) bool {
	t.mu.Lock()
	at, ok := t.tasks[id]
	if !ok || at.Status.terminal() {
		t.mu.Unlock()
		return false
	}
	at.Status = StatusCancelled
	at.FinishedAt = time.Now()
	cancel := at.CancelFunc
	t.cancelledCount++
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// Get returns a copy of the ActiveTask record for id.
func (t *Tracker) Get(id string) (ActiveTask, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.tasks[id]
	if !ok {
		return ActiveTask{}, false
	}
	return *at, true
}

// Snapshot returns the current Metrics for heartbeat reporting.
func (t *Tracker) Snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := Metrics{Capacity: t.capacity, Completed: t.completedCount, Failed: t.failedCount, Cancelled: t.cancelledCount}
	for _, at := range t.tasks {
		switch at.Status {
		case StatusQueued:
			m.Queued++
		case StatusRunning:
			m.Running++
		}
	}
	return m
}

// CleanupOld removes terminal tasks that finished more than olderThan ago,
// returning the count removed. This bounds the Tracker's memory growth
// since terminal entries are otherwise kept for inspection.
func (t *Tracker) CleanupOld(olderThan time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, at := range t.tasks {
		if at.Status.terminal() && at.FinishedAt.Before(cutoff) {
			delete(t.tasks, id)
			removed++
		}
	}
	return removed
}

// ActiveIDs returns the IDs of every task not yet in a terminal state, used
// by the Supervisor's heartbeat to report the "still working on" set to the
// coordinator.
func (t *Tracker) ActiveIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.tasks))
	for id, at := range t.tasks {
		if !at.Status.terminal() {
			out = append(out, id)
		}
	}
	return out
}
