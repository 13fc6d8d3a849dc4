package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPAPIBackend proxies text/chat completion to a remote HTTP inference
// API (e.g. an OpenAI-compatible endpoint). It implements the HTTP-API
// backend kind, which sits below GPU kinds and above CPU in selection
// priority.
type HTTPAPIBackend struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// resolveModel returns modelID if set, falling back to the most recently
// loaded model: the remote API is trusted to reject a model id it doesn't
// serve, rather than this backend tracking a per-model loaded set itself.
func (h *HTTPAPIBackend) resolveModel(modelID string) string {
	if modelID != "" {
		return modelID
	}
	return h.model
}

// NewHTTPAPIBackend returns an HTTPAPIBackend targeting baseURL with apiKey
// as a bearer credential.
func NewHTTPAPIBackend(name, baseURL, apiKey string) *HTTPAPIBackend {
	return &HTTPAPIBackend{
		name:       name,
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (h *HTTPAPIBackend) Name() string { return h.name }

func (h *HTTPAPIBackend) Capabilities() Info {
	return Info{
		Name:             h.name,
		Kind:             KindHTTPAPI,
		TaskKinds:        []TaskKind{TaskTextCompletion, TaskChatCompletion},
		MaxConcurrent:    16,
		MaxContextTokens: 128000,
		SoftwareVersion:  "http-api-1",
	}
}

func (h *HTTPAPIBackend) Health(ctx context.Context) HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	defer resp.Body.Close()
	return HealthStatus{Healthy: resp.StatusCode < 500, Message: fmt.Sprintf("status %d", resp.StatusCode)}
}

func (h *HTTPAPIBackend) LoadModel(_ context.Context, spec ModelSpec) error {
	if spec.ModelID == "" {
		return fmt.Errorf("http-api backend: model id required")
	}
	h.model = spec.ModelID
	return nil
}

func (h *HTTPAPIBackend) UnloadModel(context.Context) error {
	h.model = ""
	return nil
}

type completionRequest struct {
	Model     string  `json:"model"`
	Prompt    string  `json:"prompt,omitempty"`
	Messages  []chatM `json:"messages,omitempty"`
	MaxTokens int     `json:"max_tokens,omitempty"`
}

type chatM struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Text         string `json:"text"`
	Message      chatM  `json:"message"`
	FinishReason string `json:"finish_reason"`
	Usage        struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (h *HTTPAPIBackend) Execute(ctx context.Context, modelID string, input Input) (Output, error) {
	model := h.resolveModel(modelID)
	switch in := input.(type) {
	case TextCompletionInput:
		req := completionRequest{Model: model, Prompt: in.Prompt, MaxTokens: in.MaxTokens}
		var resp completionResponse
		if err := h.post(ctx, "/v1/completions", req, &resp); err != nil {
			return nil, err
		}
		return TextCompletionOutput{
			Text:         resp.Text,
			FinishReason: FinishReason(resp.FinishReason),
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}, nil
	case ChatCompletionInput:
		msgs := make([]chatM, len(in.Messages))
		for i, m := range in.Messages {
			msgs[i] = chatM{Role: m.Role, Content: m.Content}
		}
		req := completionRequest{Model: model, Messages: msgs, MaxTokens: in.MaxTokens}
		var resp completionResponse
		if err := h.post(ctx, "/v1/chat/completions", req, &resp); err != nil {
			return nil, err
		}
		return ChatCompletionOutput{
			Message:      ChatMessage{Role: resp.Message.Role, Content: resp.Message.Content},
			FinishReason: FinishReason(resp.FinishReason),
		}, nil
	default:
		return nil, fmt.Errorf("http-api backend: unsupported input %T", input)
	}
}

func (h *HTTPAPIBackend) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", h.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s responded %d: %s", h.name, resp.StatusCode, string(payload))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
