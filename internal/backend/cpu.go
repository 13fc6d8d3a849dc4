package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// CPUBackend is a pure-CPU fallback backend: no GPU, no external API call,
// used when no accelerated backend is present (lowest priority above
// special-purpose/mock). It deliberately performs a trivial local
// transformation rather than loading a real model, mirroring the
// original CPU backend's role as a last-resort executor rather than an
// inference engine reimplementation.
type CPUBackend struct {
	mu     sync.RWMutex
	model  string
	models map[string]struct{}
	memory uint64
}

// NewCPUBackend returns a CPUBackend advertising availableMemoryMB in its
// Capabilities.
func NewCPUBackend(availableMemoryMB uint64) *CPUBackend {
	return &CPUBackend{memory: availableMemoryMB}
}

func (c *CPUBackend) Name() string { return "cpu" }

func (c *CPUBackend) Capabilities() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Info{
		Name:              "cpu",
		Kind:              KindCPU,
		TaskKinds:         []TaskKind{TaskTextCompletion, TaskChatCompletion, TaskEmbedding},
		MaxConcurrent:     2,
		AvailableMemoryMB: c.memory,
		MaxContextTokens:  4096,
		SoftwareVersion:   "cpu-1",
	}
}

func (c *CPUBackend) Health(context.Context) HealthStatus {
	return HealthStatus{Healthy: true, Message: "cpu backend ready"}
}

func (c *CPUBackend) LoadModel(_ context.Context, spec ModelSpec) error {
	if spec.ModelID == "" {
		return fmt.Errorf("cpu backend: model id required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.models == nil {
		c.models = make(map[string]struct{})
	}
	c.models[spec.ModelID] = struct{}{}
	c.model = spec.ModelID
	return nil
}

func (c *CPUBackend) UnloadModel(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.models, c.model)
	c.model = ""
	return nil
}

func (c *CPUBackend) Execute(ctx context.Context, modelID string, input Input) (Output, error) {
	c.mu.RLock()
	target := modelID
	if target == "" {
		target = c.model
	}
	_, loaded := c.models[target]
	c.mu.RUnlock()
	if target == "" {
		return nil, fmt.Errorf("cpu backend: no model loaded")
	}
	if !loaded {
		return nil, fmt.Errorf("cpu backend: model %q not loaded", target)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	switch in := input.(type) {
	case TextCompletionInput:
		return TextCompletionOutput{
			Text:         strings.ToUpper(in.Prompt),
			FinishReason: FinishStop,
			Usage:        Usage{PromptTokens: len(strings.Fields(in.Prompt))},
		}, nil
	case ChatCompletionInput:
		last := ""
		if len(in.Messages) > 0 {
			last = in.Messages[len(in.Messages)-1].Content
		}
		return ChatCompletionOutput{
			Message:      ChatMessage{Role: "assistant", Content: strings.ToUpper(last)},
			FinishReason: FinishStop,
		}, nil
	case EmbeddingInput:
		return EmbeddingOutput{Vector: make([]float32, 16)}, nil
	default:
		return nil, fmt.Errorf("cpu backend: unsupported input %T", input)
	}
}
