package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubCoordinatorServer(t *testing.T, onEnvelope func(env Envelope, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var reg Envelope
		if err := conn.ReadJSON(&reg); err != nil {
			return
		}
		ack, _ := NewEnvelope(TypeRegisterAck, RegisterAckPayload{Accepted: true})
		require.NoError(t, conn.WriteJSON(ack))

		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if onEnvelope != nil {
				onEnvelope(env, conn)
			}
		}
	}))
	return srv
}

func TestSessionReachesRegisteredState(t *testing.T) {
	srv := stubCoordinatorServer(t, nil)
	defer srv.Close()

	cfg := Config{
		URL:                   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Name:                  "test-worker",
		ConnectTimeout:        time.Second,
		InitialReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay:     100 * time.Millisecond,
	}
	s := NewSession(cfg, "wk-test", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return s.State() == StateRegistered }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestSessionBuffersSendWhileNotRegistered(t *testing.T) {
	s := NewSession(Config{URL: "ws://unused"}, "wk-test", nil)
	env, err := NewEnvelope(TypeHeartbeat, HeartbeatPayload{})
	require.NoError(t, err)

	require.NoError(t, s.Send(env))
	assert.Len(t, s.buffered, 1)
}
