package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ai4all/worker/internal/backend"
	"github.com/ai4all/worker/internal/coordinator"
	"github.com/ai4all/worker/internal/group"
	"github.com/ai4all/worker/internal/httppoll"
	"github.com/ai4all/worker/internal/peer"
	"github.com/ai4all/worker/internal/task"
)

// decodeInput builds a typed backend.Input from a raw JSON payload and a
// declared task kind, mirroring the coordinator's wire schema.
func decodeInput(kind backend.TaskKind, raw json.RawMessage) (backend.Input, error) {
	switch kind {
	case backend.TaskTextCompletion:
		var in backend.TextCompletionInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return in, nil
	case backend.TaskChatCompletion:
		var in backend.ChatCompletionInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return in, nil
	case backend.TaskEmbedding:
		var in backend.EmbeddingInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return in, nil
	case backend.TaskCrawl:
		var in backend.CrawlInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return in, nil
	default:
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}
}

func (s *Supervisor) admitAndRun(ctx context.Context, a task.Assignment) {
	if _, err := s.tracker.Add(a); err != nil {
		s.log.Warn("rejected assignment", map[string]interface{}{"task_id": a.ID, "error": err.Error()})
		s.handleResult(task.Result{AssignmentID: a.ID, Err: err})
		return
	}
	if err := s.exec.Submit(ctx, a); err != nil {
		s.tracker.MarkFailed(a.ID, err)
		s.handleResult(task.Result{AssignmentID: a.ID, Err: err})
	}
}

func (s *Supervisor) handleCoordinatorEnvelope(ctx context.Context, env coordinator.Envelope) {
	switch env.Type {
	case coordinator.TypeTaskAssignment:
		var p coordinator.TaskAssignmentPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.log.Warn("malformed task assignment", map[string]interface{}{"error": err.Error()})
			return
		}
		input, err := decodeInput(backend.TaskKind(p.Kind), p.Input)
		if err != nil {
			s.log.Warn("unsupported task kind from coordinator", map[string]interface{}{"kind": p.Kind})
			return
		}
		a := task.Assignment{
			ID:        p.TaskID,
			ModelID:   p.ModelID,
			BlockID:   p.BlockID,
			Kind:      backend.TaskKind(p.Kind),
			Input:     input,
			Priority:  task.Priority(orDefault(p.Priority, string(task.PriorityNormal))),
			Origin:    task.Origin{Kind: task.OriginCoordinatorStream},
			Deadline:  p.Deadline,
			Timeout:   time.Duration(p.TimeoutMS) * time.Millisecond,
			CreatedAt: time.Now(),
		}
		if p.ExpectedHash != "" {
			a.Canary = &task.CanaryCheck{ExpectedHash: p.ExpectedHash}
		}
		s.admitAndRun(ctx, a)

	case coordinator.TypeTaskCancel:
		var p coordinator.TaskCancelPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			s.exec.Cancel(p.TaskID)
		}

	case coordinator.TypeShutdown:
		s.log.Info("coordinator requested shutdown", nil)

	case coordinator.TypeError:
		var p coordinator.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			s.log.Warn("coordinator reported error", map[string]interface{}{"code": p.Code, "message": p.Message})
		}
	}
}

func (s *Supervisor) handlePeerMessage(ctx context.Context, in peer.Inbound) {
	s.peers.Touch(in.From)

	switch in.Msg.Type {
	case peer.TypePing:
		_ = s.mesh.Send(in.From, peer.Message{Type: peer.TypePong, From: s.identityID})

	case peer.TypePeerStatus:
		var p peer.PeerStatusPayload
		if err := json.Unmarshal(in.Msg.Payload, &p); err == nil {
			s.peers.UpdateLoad(in.From, p.QueueDepth)
		}

	case peer.TypeTaskData:
		var p peer.TaskDataPayload
		if err := json.Unmarshal(in.Msg.Payload, &p); err != nil {
			return
		}
		input, err := decodeInput(backend.TaskKind(p.Kind), p.Input)
		if err != nil {
			return
		}
		a := task.Assignment{
			ID:        p.TaskID,
			Kind:      backend.TaskKind(p.Kind),
			Input:     input,
			Priority:  task.PriorityNormal,
			Origin:    task.Origin{Kind: task.OriginPeer, PeerWorkerID: string(in.From)},
			CreatedAt: time.Now(),
		}
		s.admitAndRun(ctx, a)

	case peer.TypeGroupJoin:
		var p peer.GroupSyncPayload
		if err := json.Unmarshal(in.Msg.Payload, &p); err == nil {
			role := group.RoleMember
			if p.Role == string(group.RoleCoordinator) {
				role = group.RoleCoordinator
			}
			s.groups.Join(p.GroupID, group.ModeSharded, in.From, role)
			s.peers.AddToGroup(in.From, p.GroupID)
		}

	case peer.TypeGroupLeave:
		var p peer.GroupSyncPayload
		if err := json.Unmarshal(in.Msg.Payload, &p); err == nil {
			s.groups.Leave(p.GroupID, in.From)
			s.peers.RemoveFromGroup(in.From, p.GroupID)
		}
	}
}

// polledTaskParams carries the optional generation knobs a polled task may
// include in its params object.
type polledTaskParams struct {
	MaxTokens int `json:"maxTokens"`
}

func (s *Supervisor) handlePolledTasks(tasks []httppoll.TaskEnvelope) {
	ctx := context.Background()
	for _, t := range tasks {
		var params polledTaskParams
		if len(t.Params) > 0 {
			_ = json.Unmarshal(t.Params, &params)
		}
		a := task.Assignment{
			ID:      t.TaskID,
			ModelID: t.Model,
			Kind:    backend.TaskTextCompletion,
			Input: backend.TextCompletionInput{
				Prompt:       t.Prompt,
				SystemPrompt: t.SystemPrompt,
				MaxTokens:    params.MaxTokens,
			},
			Priority:  task.Priority(orDefault(t.Priority, string(task.PriorityNormal))),
			Origin:    task.Origin{Kind: task.OriginHTTPPolled},
			CreatedAt: time.Now(),
		}
		s.admitAndRun(ctx, a)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
