package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBestForPrefersLowestQueueDepth(t *testing.T) {
	r := NewRegistry()
	r.Upsert(ID("a"), "10.0.0.1:9000", []string{"embedding"})
	r.Upsert(ID("b"), "10.0.0.2:9000", []string{"embedding"})
	r.UpdateLoad(ID("a"), 5)
	r.UpdateLoad(ID("b"), 1)

	best, ok := r.BestFor("embedding")
	require.True(t, ok)
	assert.Equal(t, ID("b"), best.ID)
}

func TestRegistryBestForNoCandidates(t *testing.T) {
	r := NewRegistry()
	_, ok := r.BestFor("embedding")
	assert.False(t, ok)
}

func TestRegistryPruneStaleZeroRemovesAll(t *testing.T) {
	r := NewRegistry()
	r.Upsert(ID("a"), "addr", nil)
	r.Upsert(ID("b"), "addr", nil)

	removed := r.PruneStale(0)
	assert.Equal(t, 2, removed)
	assert.Empty(t, r.All())
}

func TestRegistryPruneStaleKeepsFresh(t *testing.T) {
	r := NewRegistry()
	r.Upsert(ID("a"), "addr", nil)
	removed := r.PruneStale(time.Hour)
	assert.Equal(t, 0, removed)
}

func TestRegistryGroupMembership(t *testing.T) {
	r := NewRegistry()
	r.Upsert(ID("a"), "addr", nil)
	r.AddToGroup(ID("a"), "g1")

	members := r.InGroup("g1")
	require.Len(t, members, 1)
	assert.Equal(t, ID("a"), members[0].ID)

	r.RemoveFromGroup(ID("a"), "g1")
	assert.Empty(t, r.InGroup("g1"))
}
