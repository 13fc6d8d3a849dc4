package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4all/worker/internal/peer"
)

func TestJoinCreatesGroupAndLeaveLastMemberRemovesIt(t *testing.T) {
	m := NewManager()
	m.Join("g1", ModeSharded, peer.ID("a"), RoleMember)

	_, ok := m.Get("g1")
	require.True(t, ok)

	m.Leave("g1", peer.ID("a"))
	_, ok = m.Get("g1")
	assert.False(t, ok, "group should be removed once its last member leaves")
}

func TestLeaveKeepsGroupWithRemainingMembers(t *testing.T) {
	m := NewManager()
	m.Join("g1", ModeSharded, peer.ID("a"), RoleMember)
	m.Join("g1", ModeSharded, peer.ID("b"), RoleMember)

	m.Leave("g1", peer.ID("a"))
	g, ok := m.Get("g1")
	require.True(t, ok)
	assert.Len(t, g.Members, 1)
}

func TestAllReadyRequiresEveryMember(t *testing.T) {
	m := NewManager()
	m.Join("g1", ModePipeline, peer.ID("a"), RoleMember)
	m.Join("g1", ModePipeline, peer.ID("b"), RoleMember)

	assert.False(t, m.AllReady("g1"))

	m.SetMemberReady("g1", peer.ID("a"), true)
	assert.False(t, m.AllReady("g1"))

	m.SetMemberReady("g1", peer.ID("b"), true)
	assert.True(t, m.AllReady("g1"))
}

func TestNextInPipelineAndShardOwner(t *testing.T) {
	m := NewManager()
	m.Join("g1", ModePipeline, peer.ID("a"), RoleMember)
	m.Join("g1", ModePipeline, peer.ID("b"), RoleMember)
	m.SetPipelineStage("g1", CentralCoordinator, peer.ID("a"), 0)
	m.SetPipelineStage("g1", CentralCoordinator, peer.ID("b"), 1)

	next, ok := m.NextInPipeline("g1", 0)
	require.True(t, ok)
	assert.Equal(t, peer.ID("b"), next)

	m.SetShardIndex("g1", CentralCoordinator, peer.ID("a"), 3)
	owner, ok := m.ShardOwner("g1", 3)
	require.True(t, ok)
	assert.Equal(t, peer.ID("a"), owner)
}

func TestCreateEnrollsSelfAsCoordinator(t *testing.T) {
	m := NewManager()
	g := m.Create("g1", ModeSharded, peer.ID("self"))

	mem, ok := g.Members[peer.ID("self")]
	require.True(t, ok)
	assert.Equal(t, RoleCoordinator, mem.Role)
}

func TestSetShardIndexRequiresCoordinatorRole(t *testing.T) {
	m := NewManager()
	m.Join("g1", ModeSharded, peer.ID("coord"), RoleCoordinator)
	m.Join("g1", ModeSharded, peer.ID("member"), RoleMember)

	assert.False(t, m.SetShardIndex("g1", peer.ID("member"), peer.ID("coord"), 2),
		"a plain member must not be able to assign another member's shard")

	assert.True(t, m.SetShardIndex("g1", peer.ID("coord"), peer.ID("member"), 2),
		"the group's coordinator must be able to assign a member's shard")

	assert.True(t, m.SetShardIndex("g1", CentralCoordinator, peer.ID("member"), 5),
		"the central coordinator bypasses the per-member role check")
}
