package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4all/worker/internal/backend"
)

func newAssignment(id string) Assignment {
	return Assignment{
		ID:        id,
		Kind:      backend.TaskTextCompletion,
		Input:     backend.TextCompletionInput{Prompt: "hi"},
		Priority:  PriorityNormal,
		Origin:    Origin{Kind: OriginCoordinatorStream},
		CreatedAt: time.Now(),
	}
}

func TestTrackerAdmitsUpToCapacity(t *testing.T) {
	tr := NewTracker(2)
	_, err := tr.Add(newAssignment("a"))
	require.NoError(t, err)
	_, err = tr.Add(newAssignment("b"))
	require.NoError(t, err)

	_, err = tr.Add(newAssignment("c"))
	require.Error(t, err)
	assert.Equal(t, 2, tr.Snapshot().Queued)
}

func TestTrackerRejectsDuplicateID(t *testing.T) {
	tr := NewTracker(4)
	_, err := tr.Add(newAssignment("dup"))
	require.NoError(t, err)
	_, err = tr.Add(newAssignment("dup"))
	assert.Error(t, err)
}

func TestTrackerLifecycleTransitions(t *testing.T) {
	tr := NewTracker(4)
	_, err := tr.Add(newAssignment("x"))
	require.NoError(t, err)

	assert.True(t, tr.MarkRunning("x", nil))
	assert.True(t, tr.MarkCompleted("x"))

	at, ok := tr.Get("x")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, at.Status)

	snap := tr.Snapshot()
	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 0, snap.Running)
}

func TestTrackerCancelOnTerminalTaskIsNoOp(t *testing.T) {
	tr := NewTracker(4)
	_, err := tr.Add(newAssignment("y"))
	require.NoError(t, err)
	require.True(t, tr.MarkCompleted("y"))

	called := false
	at, _ := tr.Get("y")
	at.CancelFunc = func() { called = true }

	assert.False(t, tr.Cancel("y"))
	assert.False(t, called)
}

func TestTrackerCancelInvokesCancelFunc(t *testing.T) {
	tr := NewTracker(4)
	_, err := tr.Add(newAssignment("z"))
	require.NoError(t, err)

	var cancelled bool
	require.True(t, tr.MarkRunning("z", func() { cancelled = true }))
	assert.True(t, tr.Cancel("z"))
	assert.True(t, cancelled)

	at, _ := tr.Get("z")
	assert.Equal(t, StatusCancelled, at.Status)
}

func TestTrackerCleanupOldRemovesOnlyOldTerminal(t *testing.T) {
	tr := NewTracker(4)
	_, err := tr.Add(newAssignment("old"))
	require.NoError(t, err)
	require.True(t, tr.MarkCompleted("old"))

	removed := tr.CleanupOld(0)
	assert.Equal(t, 1, removed)
	_, ok := tr.Get("old")
	assert.False(t, ok)
}

func TestTrackerCleanupOldKeepsRunning(t *testing.T) {
	tr := NewTracker(4)
	_, err := tr.Add(newAssignment("running"))
	require.NoError(t, err)
	require.True(t, tr.MarkRunning("running", nil))

	removed := tr.CleanupOld(0)
	assert.Equal(t, 0, removed)
}

func TestTrackerActiveIDsExcludesTerminal(t *testing.T) {
	tr := NewTracker(4)
	_, _ = tr.Add(newAssignment("a"))
	_, _ = tr.Add(newAssignment("b"))
	require.True(t, tr.MarkCompleted("a"))

	ids := tr.ActiveIDs()
	require.Len(t, ids, 1)
	assert.Equal(t, "b", ids[0])
}
