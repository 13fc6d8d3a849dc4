package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockBackend is a deterministic, dependency-free backend used to exercise
// the executor and tracker without a real model runtime. It fills the same
// role as the original mock backend: a stand-in for sessions with no
// hardware and no coordinator-issued model.
type MockBackend struct {
	mu      sync.Mutex
	latency time.Duration
	loaded  string
}

// NewMockBackend returns a MockBackend that echoes input with an artificial
// latency, useful for testing timeout handling deterministically.
func NewMockBackend(latency time.Duration) *MockBackend {
	return &MockBackend{latency: latency}
}

func (m *MockBackend) Name() string { return "mock" }

func (m *MockBackend) Capabilities() Info {
	return Info{
		Name:             "mock",
		Kind:             KindMock,
		TaskKinds:        []TaskKind{TaskTextCompletion, TaskChatCompletion, TaskEmbedding, TaskCrawl},
		MaxConcurrent:    8,
		MaxContextTokens: 8192,
		SoftwareVersion:  "mock-1",
	}
}

func (m *MockBackend) Health(context.Context) HealthStatus {
	return HealthStatus{Healthy: true, Message: "mock backend always healthy"}
}

func (m *MockBackend) LoadModel(_ context.Context, spec ModelSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = spec.ModelID
	return nil
}

func (m *MockBackend) UnloadModel(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = ""
	return nil
}

func (m *MockBackend) Execute(ctx context.Context, modelID string, input Input) (Output, error) {
	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	switch in := input.(type) {
	case TextCompletionInput:
		return TextCompletionOutput{
			Text:         "echo: " + in.Prompt,
			FinishReason: FinishStop,
			Usage:        Usage{PromptTokens: len(strings.Fields(in.Prompt)), CompletionTokens: 2, TotalTokens: len(strings.Fields(in.Prompt)) + 2},
		}, nil
	case ChatCompletionInput:
		last := ""
		if len(in.Messages) > 0 {
			last = in.Messages[len(in.Messages)-1].Content
		}
		return ChatCompletionOutput{
			Message:      ChatMessage{Role: "assistant", Content: "echo: " + last},
			FinishReason: FinishStop,
		}, nil
	case EmbeddingInput:
		vec := make([]float32, 8)
		for i := range vec {
			vec[i] = float32(len(in.Text)%(i+1)) / 8.0
		}
		return EmbeddingOutput{Vector: vec}, nil
	case CrawlInput:
		return CrawlOutput{StatusCode: 200, Body: "<html><!-- mock fetch of " + in.URL + " --></html>"}, nil
	default:
		return nil, fmt.Errorf("mock backend: unsupported input %T", input)
	}
}
