package httppoll

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4all/worker/internal/signing"
)

type stubSigner struct{}

func (stubSigner) Sign(msg []byte) ([]byte, error) { return []byte("sig-" + string(msg[:4])), nil }
func (stubSigner) PublicKey() []byte               { return []byte("pub") }

func TestRegisterWithNoopSignerDisablesPolling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, AccountID: "acct", WorkerID: "wk-1"}, signing.NoopSigner{}, nil)
	p.Register(context.Background())
	assert.False(t, p.Enabled(), "registration must not succeed without a real signer")
}

func TestRegisterAdoptsReturnedWorkerID(t *testing.T) {
	var gotReq registerRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/peers/register", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(registerResponse{WorkerID: "w9"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, AccountID: "acct", WorkerID: "provisional", ListenAddr: "10.0.0.1:9000", Capabilities: []string{"cpu"}}, stubSigner{}, nil)
	p.Register(context.Background())

	require.True(t, p.Enabled())
	assert.Equal(t, "w9", p.currentWorkerID())
	assert.Equal(t, "acct", gotReq.AccountID)
	assert.Equal(t, "10.0.0.1:9000", gotReq.ListenAddr)
	assert.Equal(t, []string{"cpu"}, gotReq.Capabilities)
	assert.NotEmpty(t, gotReq.Signature)
}

func TestRegisterSignsCanonicalString(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := canonicalString("acct-1", ts)
	assert.Equal(t, "AI4ALL:v1:acct-1:2026-01-02T03:04:05Z", got)
}

func TestPollDedupesTasks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/peers/register", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(registerResponse{WorkerID: "w9"})
	})
	mux.HandleFunc("/tasks/pending", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "w9", r.URL.Query().Get("workerId"))
		json.NewEncoder(w).Encode(pendingTasksResponse{Tasks: []TaskEnvelope{{TaskID: "t1", Prompt: "hi", Model: "m1"}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, AccountID: "acct", WorkerID: "wk-1"}, stubSigner{}, nil)
	p.Register(context.Background())
	require.True(t, p.Enabled())

	first, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "m1", first[0].Model)

	second, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second, "already-seen task ids must not be returned again")
}

func TestSubmitResultPostsToCompleteEndpoint(t *testing.T) {
	received := make(chan ResultSubmission, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks/complete", func(w http.ResponseWriter, r *http.Request) {
		var sub ResultSubmission
		json.NewDecoder(r.Body).Decode(&sub)
		received <- sub
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, WorkerID: "wk-1"}, stubSigner{}, nil)
	err := p.SubmitResult(context.Background(), ResultSubmission{
		TaskID:          "t1",
		Output:          "result text",
		FinishReason:    "stop",
		TokenUsage:      &TokenUsage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
		ExecutionTimeMs: 42,
	})
	require.NoError(t, err)

	select {
	case sub := <-received:
		assert.Equal(t, "t1", sub.TaskID)
		assert.Equal(t, "wk-1", sub.WorkerID)
		assert.Equal(t, "result text", sub.Output)
		assert.Equal(t, int64(42), sub.ExecutionTimeMs)
	case <-time.After(time.Second):
		t.Fatal("server never received result submission")
	}
}
