package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryFindForPriority(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMockBackend(0))
	cpu := NewCPUBackend(1024)
	require.NoError(t, cpu.LoadModel(context.Background(), ModelSpec{ModelID: "local"}))
	r.Register(cpu)

	b, err := r.FindFor(TaskTextCompletion)
	require.NoError(t, err)
	assert.Equal(t, "cpu", b.Name(), "cpu outranks mock in selection priority")
}

func TestRegistryFindForNoMatch(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMockBackend(0))

	_, err := r.FindFor(TaskCrawl)
	assert.NoError(t, err, "mock backend supports crawl")

	r2 := NewRegistry()
	_, err = r2.FindFor(TaskCrawl)
	assert.Error(t, err)
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMockBackend(0))
	r.Remove("mock")
	_, ok := r.Get("mock")
	assert.False(t, ok)
}

func TestMockBackendExecuteCompletesAfterLatency(t *testing.T) {
	m := NewMockBackend(50 * time.Millisecond)
	_, err := m.Execute(context.Background(), "", TextCompletionInput{Prompt: "hi"})
	assert.NoError(t, err)
}

func TestCapabilitiesSnapshotSortedByName(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMockBackend(0))
	r.Register(NewCPUBackend(512))
	snap := r.CapabilitiesSnapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "cpu", snap[0].Name)
	assert.Equal(t, "mock", snap[1].Name)
}
