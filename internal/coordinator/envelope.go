// Package coordinator implements the full-duplex coordinator session: a
// reconnecting gorilla/websocket client exchanging JSON envelopes, with
// exponential backoff on reconnect via github.com/cenkalti/backoff/v4.
// Envelope framing over WriteJSON/ReadJSON follows the same shape as a
// server pushing live stats to browser clients, adapted to a client that
// maintains one persistent outbound session instead.
package coordinator

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType tags an Envelope's Payload.
type MessageType string

const (
	TypeRegister       MessageType = "REGISTER"
	TypeRegisterAck    MessageType = "REGISTER_ACK"
	TypeHeartbeat      MessageType = "HEARTBEAT"
	TypeHeartbeatAck   MessageType = "HEARTBEAT_ACK"
	TypeTaskAssignment MessageType = "TASK_ASSIGNMENT"
	TypeTaskCancel     MessageType = "TASK_CANCEL"
	TypeTaskResult     MessageType = "TASK_RESULT"
	TypeStatusUpdate   MessageType = "STATUS_UPDATE"
	TypeConfigUpdate   MessageType = "CONFIG_UPDATE"
	TypeShutdown       MessageType = "SHUTDOWN"
	TypeError          MessageType = "ERROR"
	TypePeerDiscover   MessageType = "PEER_DISCOVER"
	TypePeerDirectory  MessageType = "PEER_DIRECTORY"
	TypeGroupAssigned  MessageType = "GROUP_ASSIGNED"
	TypeGroupUpdate    MessageType = "GROUP_UPDATE"
)

// ProtocolMajor/ProtocolMinor is this worker's coordinator-protocol
// version. A remote is compatible when its major matches exactly and its
// minor is no newer than the local minor.
const (
	ProtocolMajor = 1
	ProtocolMinor = 0
)

// Envelope is the wire message exchanged with the coordinator.
type Envelope struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	ProtocolMajor int             `json:"version_major"`
	ProtocolMinor int             `json:"version_minor"`
	Type          MessageType     `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an Envelope carrying payload, marshaled to JSON.
func NewEnvelope(typ MessageType, payload interface{}) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		ProtocolMajor: ProtocolMajor,
		ProtocolMinor: ProtocolMinor,
		Type:          typ,
		Payload:       body,
	}, nil
}

// VersionCompatible implements the coordinator session's handshake check.
func VersionCompatible(remoteMajor, remoteMinor int) bool {
	return remoteMajor == ProtocolMajor && ProtocolMinor >= remoteMinor
}

// RegisterPayload announces this worker to the coordinator.
type RegisterPayload struct {
	WorkerID     string   `json:"worker_id"`
	Name         string   `json:"name"`
	Tags         []string `json:"tags"`
	Capabilities []string `json:"capabilities"`
	AuthToken    string   `json:"auth_token,omitempty"`
}

// RegisterAckPayload is the coordinator's registration response.
type RegisterAckPayload struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// HeartbeatPayload reports liveness and current load.
type HeartbeatPayload struct {
	ActiveTaskIDs []string `json:"active_task_ids"`
	QueueDepth    int      `json:"queue_depth"`
	UptimeSeconds int64    `json:"uptime_seconds"`
}

// TaskAssignmentPayload delivers a coordinator-issued assignment.
type TaskAssignmentPayload struct {
	TaskID       string          `json:"task_id"`
	ModelID      string          `json:"model_id"`
	BlockID      string          `json:"block_id,omitempty"`
	Kind         string          `json:"kind"`
	Input        json.RawMessage `json:"input"`
	Priority     string          `json:"priority,omitempty"`
	Deadline     *time.Time      `json:"deadline,omitempty"`
	TimeoutMS    int64           `json:"timeout_ms,omitempty"`
	ExpectedHash string          `json:"expected_hash,omitempty"`
}

// TaskCancelPayload requests cancellation of an in-flight task.
type TaskCancelPayload struct {
	TaskID string `json:"task_id"`
}

// TaskResultPayload reports a finished task's outcome.
type TaskResultPayload struct {
	TaskID  string          `json:"task_id"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   *ResultError    `json:"error,omitempty"`
}

// ResultError is the structured failure carried in a TaskResultPayload.
type ResultError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StatusUpdatePayload is an unsolicited capability/status push.
type StatusUpdatePayload struct {
	Backends []string `json:"backends"`
	PeerAddr string   `json:"peer_addr,omitempty"`
}

// ErrorPayload carries a coordinator-reported protocol-level error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
