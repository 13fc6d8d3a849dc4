// Package group implements work-group coordination for sharded and
// pipelined multi-peer tasks. Its map-plus-mutex shape follows the same
// pattern used throughout the runtime for shared registries (peer.Registry,
// backend.Registry).
package group

import (
	"sync"

	"github.com/ai4all/worker/internal/peer"
)

// Mode distinguishes a work group's coordination style.
type Mode string

const (
	ModeSharded  Mode = "sharded"
	ModePipeline Mode = "pipeline"
)

// Role is a member's standing within a WorkGroup. Only a Coordinator may
// assign shard indices or pipeline stages to the group's members.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleMember      Role = "member"
)

// CentralCoordinator is the sentinel actor id used when a mutation
// originates from the network coordinator's own group assignment rather
// than from a peer in the mesh. The central coordinator is always
// authoritative and is never itself a WorkGroup member, so it bypasses the
// per-member role check.
const CentralCoordinator peer.ID = ""

// WorkGroup is a set of peers cooperating on one distributed task.
type WorkGroup struct {
	ID            string
	Mode          Mode
	Members       map[peer.ID]*Member
	PipelineOrder []peer.ID
}

// Member is one peer's participation state within a WorkGroup.
type Member struct {
	Role          Role
	ShardIndex    int
	PipelineStage int
	Ready         bool
}

// Manager tracks all active work groups for this worker's participation.
type Manager struct {
	mu     sync.Mutex
	groups map[string]*WorkGroup
}

// NewManager returns an empty group Manager.
func NewManager() *Manager {
	return &Manager{groups: make(map[string]*WorkGroup)}
}

// Create registers a new WorkGroup, replacing any existing group with the
// same ID, and enrolls selfID as its Coordinator: the worker that creates a
// group always becomes its coordinator.
func (m *Manager) Create(id string, mode Mode, selfID peer.ID) *WorkGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := &WorkGroup{ID: id, Mode: mode, Members: make(map[peer.ID]*Member)}
	g.Members[selfID] = &Member{Role: RoleCoordinator, ShardIndex: -1, PipelineStage: -1}
	m.groups[id] = g
	return g
}

// Get returns the WorkGroup for id.
func (m *Manager) Get(id string) (*WorkGroup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	return g, ok
}

// Join adds peerID to groupID with the given role, creating the group if it
// doesn't exist.
func (m *Manager) Join(groupID string, mode Mode, peerID peer.ID, role Role) *WorkGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		g = &WorkGroup{ID: groupID, Mode: mode, Members: make(map[peer.ID]*Member)}
		m.groups[groupID] = g
	}
	if _, exists := g.Members[peerID]; !exists {
		g.Members[peerID] = &Member{Role: role, ShardIndex: -1, PipelineStage: -1}
	}
	return g
}

// Leave removes peerID from groupID. If that was the group's last member,
// the group itself is removed.
func (m *Manager) Leave(groupID string, peerID peer.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return
	}
	delete(g.Members, peerID)
	if len(g.Members) == 0 {
		delete(m.groups, groupID)
	}
}

// authorizedLocked reports whether actor may mutate shard/pipeline
// assignments within g: either the central coordinator, or a member
// holding the group's Coordinator role.
func (m *Manager) authorizedLocked(g *WorkGroup, actor peer.ID) bool {
	if actor == CentralCoordinator {
		return true
	}
	am, ok := g.Members[actor]
	return ok && am.Role == RoleCoordinator
}

// SetShardIndex records peerID's shard assignment within a sharded group.
// actor must be the group's Coordinator or CentralCoordinator; any other
// caller is refused.
func (m *Manager) SetShardIndex(groupID string, actor, peerID peer.ID, index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok || !m.authorizedLocked(g, actor) {
		return false
	}
	mem, ok := g.Members[peerID]
	if !ok {
		return false
	}
	mem.ShardIndex = index
	return true
}

// SetPipelineStage records peerID's position within a pipeline group.
// actor must be the group's Coordinator or CentralCoordinator; any other
// caller is refused.
func (m *Manager) SetPipelineStage(groupID string, actor, peerID peer.ID, stage int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok || !m.authorizedLocked(g, actor) {
		return false
	}
	mem, ok := g.Members[peerID]
	if !ok {
		return false
	}
	mem.PipelineStage = stage
	return true
}

// SetMemberReady marks peerID ready within groupID. Readiness is
// self-reported by each member, so it carries no role restriction.
func (m *Manager) SetMemberReady(groupID string, peerID peer.ID, ready bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return false
	}
	mem, ok := g.Members[peerID]
	if !ok {
		return false
	}
	mem.Ready = ready
	return true
}

// AllReady reports whether every member of groupID is ready. An empty or
// unknown group is never ready.
func (m *Manager) AllReady(groupID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok || len(g.Members) == 0 {
		return false
	}
	for _, mem := range g.Members {
		if !mem.Ready {
			return false
		}
	}
	return true
}

// NextInPipeline returns the peer whose PipelineStage is stage+1, used to
// forward a pipeline stage's output to the next worker.
func (m *Manager) NextInPipeline(groupID string, stage int) (peer.ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return "", false
	}
	for id, mem := range g.Members {
		if mem.PipelineStage == stage+1 {
			return id, true
		}
	}
	return "", false
}

// ShardOwner returns the peer assigned to shardIndex within groupID.
func (m *Manager) ShardOwner(groupID string, shardIndex int) (peer.ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return "", false
	}
	for id, mem := range g.Members {
		if mem.ShardIndex == shardIndex {
			return id, true
		}
	}
	return "", false
}

// All returns every active group's ID.
func (m *Manager) All() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	return ids
}
