// Package peer implements the worker-to-worker mesh: a
// length-prefixed binary framing over raw TCP, a PeerRegistry of known
// peers, and a Mesh that dials/accepts connections and fans messages in and
// out. The peer.ID type is reused from libp2p purely as a typed identifier
// (github.com/libp2p/go-libp2p/core/peer), without adopting libp2p's
// transport, swarm, or DHT machinery.
package peer

import (
	"encoding/json"

	libp2pPeer "github.com/libp2p/go-libp2p/core/peer"
)

// ID identifies a peer worker across the mesh.
type ID = libp2pPeer.ID

// MessageType tags the variant carried in a Message's Payload.
type MessageType string

const (
	TypeHello              MessageType = "hello"
	TypeHelloAck           MessageType = "hello_ack"
	TypePing               MessageType = "ping"
	TypePong               MessageType = "pong"
	TypePeerStatus         MessageType = "peer_status"
	TypeTaskOffer          MessageType = "task_offer"
	TypeTaskAccept         MessageType = "task_accept"
	TypeTaskReject         MessageType = "task_reject"
	TypeTaskData           MessageType = "task_data"
	TypeTaskResultForward  MessageType = "task_result_forward"
	TypeShardAssign        MessageType = "shard_assign"
	TypeShardReady         MessageType = "shard_ready"
	TypeShardInput         MessageType = "shard_input"
	TypeShardOutput        MessageType = "shard_output"
	TypePipelineInput      MessageType = "pipeline_input"
	TypePipelineOutput     MessageType = "pipeline_output"
	TypeGroupJoin          MessageType = "group_join"
	TypeGroupLeave         MessageType = "group_leave"
	TypeGroupSync          MessageType = "group_sync"
)

// Message is the framed unit exchanged between two mesh peers.
type Message struct {
	Type    MessageType     `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload announces capabilities and identity on connect.
type HelloPayload struct {
	WorkerID      string   `json:"worker_id"`
	Capabilities  []string `json:"capabilities"`
	ListenAddr    string   `json:"listen_addr,omitempty"`
	ProtocolMajor int      `json:"protocol_major"`
	ProtocolMinor int      `json:"protocol_minor"`
}

// PeerStatusPayload periodically reports load for peer-selection scoring.
type PeerStatusPayload struct {
	QueueDepth  int     `json:"queue_depth"`
	LoadAverage float64 `json:"load_average"`
}

// TaskOfferPayload proposes offloading a task to the receiving peer.
type TaskOfferPayload struct {
	TaskID   string `json:"task_id"`
	Kind     string `json:"kind"`
	SizeHint int    `json:"size_hint,omitempty"`
}

// TaskDataPayload carries the actual assignment input once accepted.
type TaskDataPayload struct {
	TaskID string          `json:"task_id"`
	Kind   string          `json:"kind"`
	Input  json.RawMessage `json:"input"`
}

// TaskResultForwardPayload returns a peer-executed task's outcome.
type TaskResultForwardPayload struct {
	TaskID string          `json:"task_id"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ShardAssignPayload assigns a shard index within a work group.
type ShardAssignPayload struct {
	GroupID    string `json:"group_id"`
	ShardIndex int    `json:"shard_index"`
	ShardCount int    `json:"shard_count"`
}

// GroupSyncPayload announces membership/readiness state for a work group.
type GroupSyncPayload struct {
	GroupID string   `json:"group_id"`
	Role    string   `json:"role,omitempty"`
	Members []string `json:"members"`
	Ready   bool     `json:"ready"`
}
