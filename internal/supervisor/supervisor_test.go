package supervisor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4all/worker/internal/backend"
	"github.com/ai4all/worker/internal/coordinator"
	"github.com/ai4all/worker/internal/executor"
	"github.com/ai4all/worker/internal/group"
	"github.com/ai4all/worker/internal/peer"
	"github.com/ai4all/worker/internal/task"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	reg := backend.NewRegistry()
	reg.Register(backend.NewMockBackend(0))
	tr := task.NewTracker(8)
	ex := executor.New(tr, reg, 4, nil)
	mesh := peer.NewMesh(peer.ID("wk-self"), 8, nil)
	peers := peer.NewRegistry()
	groups := group.NewManager()

	return New(Config{
		IdentityID: "wk-self",
		Tracker:    tr,
		Registry:   reg,
		Executor:   ex,
		Mesh:       mesh,
		Peers:      peers,
		Groups:     groups,
	}, nil)
}

func TestHandleCoordinatorTaskAssignmentRunsToCompletion(t *testing.T) {
	s := newTestSupervisor(t)
	input, _ := json.Marshal(backend.TextCompletionInput{Prompt: "hi"})
	payload, _ := json.Marshal(coordinator.TaskAssignmentPayload{
		TaskID: "t1",
		Kind:   string(backend.TaskTextCompletion),
		Input:  input,
	})
	env := coordinator.Envelope{Type: coordinator.TypeTaskAssignment, Payload: payload}

	s.handleCoordinatorEnvelope(context.Background(), env)

	require.Eventually(t, func() bool {
		at, ok := s.tracker.Get("t1")
		return ok && at.Status == task.StatusCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestHandlePeerTaskDataAdmitsWithPeerOrigin(t *testing.T) {
	s := newTestSupervisor(t)
	input, _ := json.Marshal(backend.EmbeddingInput{Text: "x"})
	payload, _ := json.Marshal(peer.TaskDataPayload{TaskID: "p1", Kind: string(backend.TaskEmbedding), Input: input})

	s.handlePeerMessage(context.Background(), peer.Inbound{From: peer.ID("other"), Msg: peer.Message{Type: peer.TypeTaskData, Payload: payload}})

	require.Eventually(t, func() bool {
		at, ok := s.tracker.Get("p1")
		return ok && at.Assignment.Origin.Kind == task.OriginPeer
	}, time.Second, 5*time.Millisecond)
}

func TestHandleResultCoordinatorOriginWithoutSessionDoesNotPanic(t *testing.T) {
	s := newTestSupervisor(t)
	a := task.Assignment{ID: "x1", Origin: task.Origin{Kind: task.OriginCoordinatorStream}}
	_, err := s.tracker.Add(a)
	require.NoError(t, err)
	require.True(t, s.tracker.MarkRunning("x1", nil))

	// No session configured: reportToCoordinator should no-op without panicking.
	assert.NotPanics(t, func() { s.handleResult(task.Result{AssignmentID: "x1"}) })
}
