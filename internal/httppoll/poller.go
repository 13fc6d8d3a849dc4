// Package httppoll implements the HTTP task poller: a
// secondary task-intake path for workers that poll a REST endpoint instead
// of (or alongside) holding a coordinator WebSocket session. Self-
// registration signs a canonical request string with the worker's signing
// key, the same canonical-string technique used for a one-time device-
// pairing challenge, adapted here to a per-request authentication
// signature.
package httppoll

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ai4all/worker/internal/logging"
	"github.com/ai4all/worker/internal/signing"
	"github.com/ai4all/worker/internal/wkerrors"
)

// canonicalSignaturePrefix namespaces and versions the signed string so a
// signature can never be replayed against an unrelated protocol.
const canonicalSignaturePrefix = "AI4ALL:v1"

// TaskEnvelope is a single polled task payload.
type TaskEnvelope struct {
	TaskID       string          `json:"taskId"`
	Prompt       string          `json:"prompt"`
	Model        string          `json:"model"`
	SystemPrompt string          `json:"systemPrompt,omitempty"`
	Priority     string          `json:"priority,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
}

// TokenUsage reports token accounting for a finished polled task.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ResultSubmission is what's posted back for a finished polled task.
type ResultSubmission struct {
	WorkerID        string           `json:"workerId"`
	TaskID          string           `json:"taskId"`
	Output          string           `json:"output,omitempty"`
	FinishReason    string           `json:"finishReason,omitempty"`
	TokenUsage      *TokenUsage      `json:"tokenUsage,omitempty"`
	ExecutionTimeMs int64            `json:"executionTimeMs"`
	Error           *SubmissionError `json:"error,omitempty"`
}

// SubmissionError mirrors coordinator.ResultError for the HTTP surface.
type SubmissionError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type registerRequest struct {
	AccountID    string   `json:"accountId"`
	Timestamp    string   `json:"timestamp"`
	Signature    string   `json:"signature"`
	ListenAddr   string   `json:"listenAddr"`
	Capabilities []string `json:"capabilities"`
}

type registerResponse struct {
	WorkerID string `json:"workerId"`
}

type pendingTasksResponse struct {
	Tasks []TaskEnvelope `json:"tasks"`
}

// Config configures the Poller's target and credentials.
type Config struct {
	BaseURL      string
	AccountID    string
	WorkerID     string
	ListenAddr   string
	Capabilities []string
	PollInterval time.Duration
	PollLimit    int
}

// Poller periodically fetches pending tasks over HTTP and posts results
// back, independent of any coordinator WebSocket session.
type Poller struct {
	cfg    Config
	signer signing.Signer
	log    *logging.Logger
	client *http.Client

	mu       sync.Mutex
	workerID string
	polled   map[string]struct{}
	enabled  bool
}

// New returns a Poller. If signer is a signing.NoopSigner (or registration
// otherwise fails), polling is disabled rather than treated as fatal
//.
func New(cfg Config, signer signing.Signer, log *logging.Logger) *Poller {
	if log == nil {
		log = logging.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollLimit <= 0 {
		cfg.PollLimit = 1
	}
	return &Poller{
		cfg:      cfg,
		signer:   signer,
		log:      log.WithComponent("http_poller"),
		client:   &http.Client{Timeout: 30 * time.Second},
		workerID: cfg.WorkerID,
		polled:   make(map[string]struct{}),
	}
}

// canonicalString builds the string-to-sign for self-registration, binding
// the signature to this account and the moment it was produced.
func canonicalString(accountID string, timestamp time.Time) string {
	return fmt.Sprintf("%s:%s:%s", canonicalSignaturePrefix, accountID, timestamp.UTC().Format(time.RFC3339))
}

// currentWorkerID returns the adopted worker id, falling back to the configured
// one before registration completes.
func (p *Poller) currentWorkerID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workerID
}

// Register attempts self-registration with the task-polling endpoint. A
// failure here disables polling for this Poller's lifetime but does not
// return an error to the caller: registration failure is non-fatal.
func (p *Poller) Register(ctx context.Context) {
	if p.cfg.BaseURL == "" || p.cfg.AccountID == "" {
		p.log.Debug("http polling not configured, skipping registration", nil)
		return
	}

	ts := time.Now()
	msg := canonicalString(p.cfg.AccountID, ts)
	sig, err := p.signer.Sign([]byte(msg))
	if err != nil {
		p.log.Warn("http poller registration disabled: signing unavailable", map[string]interface{}{"error": err.Error()})
		return
	}

	body, _ := json.Marshal(registerRequest{
		AccountID:    p.cfg.AccountID,
		Timestamp:    ts.UTC().Format(time.RFC3339),
		Signature:    signing.HexSignature(sig),
		ListenAddr:   p.cfg.ListenAddr,
		Capabilities: p.cfg.Capabilities,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/peers/register", bytes.NewReader(body))
	if err != nil {
		p.log.Warn("http poller registration disabled: build request failed", map[string]interface{}{"error": err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("http poller registration disabled: request failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		p.log.Warn("http poller registration disabled: endpoint rejected request", map[string]interface{}{"status": resp.StatusCode})
		return
	}

	var regResp registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&regResp); err != nil {
		p.log.Warn("http poller registration disabled: malformed response", map[string]interface{}{"error": err.Error()})
		return
	}

	p.mu.Lock()
	if regResp.WorkerID != "" {
		p.workerID = regResp.WorkerID
	}
	p.enabled = true
	p.mu.Unlock()
	p.log.Info("registered with http task endpoint", map[string]interface{}{"account_id": p.cfg.AccountID, "worker_id": p.currentWorkerID()})
}

// Enabled reports whether registration succeeded.
func (p *Poller) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Poll fetches pending tasks once. Tasks already seen (by TaskID) are
// filtered out before returning; an id leaves the seen set once its result
// has been posted successfully by SubmitResult.
func (p *Poller) Poll(ctx context.Context) ([]TaskEnvelope, error) {
	if !p.Enabled() {
		return nil, nil
	}

	url := fmt.Sprintf("%s/tasks/pending?workerId=%s&limit=%d", p.cfg.BaseURL, p.currentWorkerID(), p.cfg.PollLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, wkerrors.Wrap(wkerrors.CodeConnection, wkerrors.FamilyConnection, "poll for tasks", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Non-success responses are silently skipped rather than treated
		// as an error worth logging on every 5-second tick.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return nil, nil
	}

	var parsed pendingTasksResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode polled tasks: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TaskEnvelope, 0, len(parsed.Tasks))
	for _, t := range parsed.Tasks {
		if _, seen := p.polled[t.TaskID]; seen {
			continue
		}
		p.polled[t.TaskID] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// SubmitResult posts a finished polled task's outcome back.
func (p *Poller) SubmitResult(ctx context.Context, result ResultSubmission) error {
	result.WorkerID = p.currentWorkerID()
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/tasks/complete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return wkerrors.Wrap(wkerrors.CodeConnection, wkerrors.FamilyConnection, "submit polled task result", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("result endpoint responded %d: %s", resp.StatusCode, string(payload))
	}

	p.mu.Lock()
	delete(p.polled, result.TaskID)
	p.mu.Unlock()
	return nil
}

// Run polls on cfg.PollInterval until ctx is cancelled, invoking onTasks
// for each non-empty batch returned.
func (p *Poller) Run(ctx context.Context, onTasks func([]TaskEnvelope)) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tasks, err := p.Poll(ctx)
			if err != nil {
				p.log.Warn("poll failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			if len(tasks) > 0 {
				onTasks(tasks)
			}
		}
	}
}

// IsHTTPPolled reports whether taskID was delivered through this poller and
// its result has not yet been posted back.
func (p *Poller) IsHTTPPolled(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.polled[taskID]
	return ok
}
