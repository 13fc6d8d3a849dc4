package coordinator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeHeartbeat, HeartbeatPayload{ActiveTaskIDs: []string{"a", "b"}, QueueDepth: 2})
	require.NoError(t, err)
	assert.Equal(t, TypeHeartbeat, env.Type)
	assert.NotEmpty(t, env.ID)

	var payload HeartbeatPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, []string{"a", "b"}, payload.ActiveTaskIDs)
	assert.Equal(t, 2, payload.QueueDepth)
}

func TestVersionCompatible(t *testing.T) {
	assert.True(t, VersionCompatible(1, 0))
	assert.False(t, VersionCompatible(2, 0), "different major is never compatible")
	assert.False(t, VersionCompatible(1, ProtocolMinor+1), "remote minor ahead of local is not compatible")
}
