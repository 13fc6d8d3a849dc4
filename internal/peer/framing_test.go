package peer

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	payload, _ := json.Marshal(HelloPayload{WorkerID: "wk-1", ProtocolMajor: 1, ProtocolMinor: 0})
	msg := Message{Type: TypeHello, From: "wk-1", Payload: payload}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, msg))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, msg.From, got.From)
	assert.JSONEq(t, string(msg.Payload), string(got.Payload))
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	huge := Message{Type: TypeTaskData, From: "wk-1", Payload: json.RawMessage(`"` + strings.Repeat("a", MaxFrameBytes+1) + `"`)}
	var buf bytes.Buffer
	err := WriteFrame(&buf, huge)
	assert.Error(t, err)
}

func TestReadFrameRejectsTruncatedInput(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0}))
	assert.Error(t, err)
}
