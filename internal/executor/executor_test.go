package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4all/worker/internal/backend"
	"github.com/ai4all/worker/internal/task"
)

func newFixture(t *testing.T, capacity, concurrency int) (*Executor, *task.Tracker) {
	t.Helper()
	reg := backend.NewRegistry()
	reg.Register(backend.NewMockBackend(0))
	tr := task.NewTracker(capacity)
	return New(tr, reg, concurrency, nil), tr
}

func TestExecutorRunsAssignmentToCompletion(t *testing.T) {
	ex, tr := newFixture(t, 4, 2)
	a := task.Assignment{
		ID:       "t1",
		Kind:     backend.TaskTextCompletion,
		Input:    backend.TextCompletionInput{Prompt: "hello"},
		Priority: task.PriorityNormal,
		Origin:   task.Origin{Kind: task.OriginCoordinatorStream},
	}
	_, err := tr.Add(a)
	require.NoError(t, err)
	require.NoError(t, ex.Submit(context.Background(), a))

	select {
	case r := <-ex.Results():
		assert.Equal(t, "t1", r.AssignmentID)
		assert.NoError(t, r.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
	ex.Shutdown()
}

func TestExecutorReportsNotSupported(t *testing.T) {
	reg := backend.NewRegistry()
	tr := task.NewTracker(4)
	ex := New(tr, reg, 2, nil)

	a := task.Assignment{
		ID:     "t2",
		Kind:   backend.TaskEmbedding,
		Input:  backend.EmbeddingInput{Text: "x"},
		Origin: task.Origin{Kind: task.OriginHTTPPolled},
	}
	_, err := tr.Add(a)
	require.NoError(t, err)
	require.NoError(t, ex.Submit(context.Background(), a))

	r := <-ex.Results()
	assert.Error(t, r.Err)
	ex.Shutdown()
}

func TestExecutorTimeoutProducesTimeoutError(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register(backend.NewMockBackend(200 * time.Millisecond))
	tr := task.NewTracker(4)
	ex := New(tr, reg, 2, nil)

	a := task.Assignment{
		ID:      "t3",
		Kind:    backend.TaskTextCompletion,
		Input:   backend.TextCompletionInput{Prompt: "slow"},
		Origin:  task.Origin{Kind: task.OriginCoordinatorStream},
		Timeout: 20 * time.Millisecond,
	}
	_, err := tr.Add(a)
	require.NoError(t, err)
	require.NoError(t, ex.Submit(context.Background(), a))

	r := <-ex.Results()
	require.Error(t, r.Err)
	ex.Shutdown()

	at, ok := tr.Get("t3")
	require.True(t, ok)
	assert.Equal(t, task.StatusFailed, at.Status)
}

func TestExecutorCancelStopsRunningAssignment(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register(backend.NewMockBackend(time.Second))
	tr := task.NewTracker(4)
	ex := New(tr, reg, 2, nil)

	a := task.Assignment{
		ID:     "t4",
		Kind:   backend.TaskTextCompletion,
		Input:  backend.TextCompletionInput{Prompt: "slow"},
		Origin: task.Origin{Kind: task.OriginCoordinatorStream},
	}
	_, err := tr.Add(a)
	require.NoError(t, err)
	require.NoError(t, ex.Submit(context.Background(), a))

	time.Sleep(10 * time.Millisecond)
	assert.True(t, ex.Cancel("t4"))

	select {
	case r := <-ex.Results():
		assert.Error(t, r.Err)
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock execution")
	}
	ex.Shutdown()
}
