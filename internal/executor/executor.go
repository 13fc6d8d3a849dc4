// Package executor runs admitted task.Assignments against the backend
// registry under a bounded concurrency limit: a fixed worker budget, a
// single result channel, and graceful draining on shutdown, using
// golang.org/x/sync/semaphore for admission instead of a fixed goroutine
// pool, since assignments arrive at an unpredictable rate from three
// different sources (coordinator stream,
// HTTP poll, peer mesh) rather than as one batch submitted up front.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ai4all/worker/internal/backend"
	"github.com/ai4all/worker/internal/logging"
	"github.com/ai4all/worker/internal/task"
	"github.com/ai4all/worker/internal/wkerrors"
)

// Executor binds a task.Tracker to a backend.Registry and runs each
// admitted Assignment on its own goroutine, bounded by a weighted
// semaphore sized to the configured maximum concurrency.
type Executor struct {
	tracker  *task.Tracker
	registry *backend.Registry
	sem      *semaphore.Weighted
	log      *logging.Logger

	resultOut chan task.Result

	wg       sync.WaitGroup
	cancels  sync.Map // assignment id -> context.CancelFunc
	shutdown chan struct{}
	once     sync.Once
}

// New returns an Executor that admits up to maxConcurrent assignments
// running at once.
func New(tracker *task.Tracker, registry *backend.Registry, maxConcurrent int, log *logging.Logger) *Executor {
	if log == nil {
		log = logging.Default()
	}
	return &Executor{
		tracker:   tracker,
		registry:  registry,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		log:       log.WithComponent("executor"),
		resultOut: make(chan task.Result, maxConcurrent),
		shutdown:  make(chan struct{}),
	}
}

// Results returns the channel on which finished task.Results are
// delivered. Callers should drain it for the Executor's lifetime.
func (e *Executor) Results() <-chan task.Result {
	return e.resultOut
}

// Submit admits a (already Tracker.Add'd) assignment and launches its
// execution goroutine. It blocks only long enough to acquire a semaphore
// slot or observe ctx cancellation — long enough to apply backpressure
// without holding up the caller's dispatch loop indefinitely.
func (e *Executor) Submit(ctx context.Context, a task.Assignment) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return wkerrors.Wrap(wkerrors.CodeInternal, wkerrors.FamilyInternal, "acquire executor slot", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if a.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, a.Timeout)
		orig := cancel
		cancel = func() {
			timeoutCancel()
			orig()
		}
	}
	e.cancels.Store(a.ID, cancel)

	if !e.tracker.MarkRunning(a.ID, cancel) {
		e.sem.Release(1)
		cancel()
		e.cancels.Delete(a.ID)
		return wkerrors.New(wkerrors.CodeInternal, wkerrors.FamilyInternal, "assignment not in queued state: "+a.ID)
	}

	e.wg.Add(1)
	go e.run(runCtx, cancel, a)
	return nil
}

// Cancel stops a running assignment's context, if it is still running.
func (e *Executor) Cancel(id string) bool {
	return e.tracker.Cancel(id)
}

func (e *Executor) run(ctx context.Context, cancel context.CancelFunc, a task.Assignment) {
	defer e.wg.Done()
	defer e.sem.Release(1)
	defer cancel()
	defer e.cancels.Delete(a.ID)

	started := time.Now()
	out, err := e.execute(ctx, a)
	finished := time.Now()

	if err != nil {
		if ctx.Err() != nil && a.Timeout > 0 {
			err = wkerrors.Timeout(a.ID)
		}
		e.tracker.MarkFailed(a.ID, err)
		e.emit(task.Result{AssignmentID: a.ID, Err: err, StartedAt: started, FinishedAt: finished})
		e.log.Warn("assignment failed", map[string]interface{}{"task_id": a.ID, "error": err.Error()})
		return
	}

	var canaryOK *bool
	if a.Canary != nil {
		ok := matchesCanary(out, a.Canary.ExpectedHash)
		canaryOK = &ok
		if !ok {
			e.log.Warn("canary mismatch", map[string]interface{}{"task_id": a.ID})
		}
	}

	e.tracker.MarkCompleted(a.ID)
	e.emit(task.Result{AssignmentID: a.ID, Output: out, CanaryOK: canaryOK, StartedAt: started, FinishedAt: finished})
}

func (e *Executor) execute(ctx context.Context, a task.Assignment) (backend.Output, error) {
	b, err := e.registry.FindFor(a.Kind)
	if err != nil {
		return nil, wkerrors.NotSupported(string(a.Kind))
	}
	return b.Execute(ctx, a.ModelID, a.Input)
}

func (e *Executor) emit(r task.Result) {
	select {
	case e.resultOut <- r:
	case <-e.shutdown:
	}
}

// Shutdown stops accepting new emissions and waits for in-flight
// assignments to finish: graceful shutdown does not pre-empt in-flight
// tasks. Callers wanting a hard deadline should race this against their
// own context instead.
func (e *Executor) Shutdown() {
	e.wg.Wait()
	e.once.Do(func() {
		close(e.shutdown)
		close(e.resultOut)
	})
}

// matchesCanary compares a JSON-serialized Output's sha256 digest against
// an expected hex digest, following the original's expected-hash check.
func matchesCanary(out backend.Output, expectedHash string) bool {
	data, err := json.Marshal(out)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == expectedHash
}
