// Package backend defines the polymorphic Backend capability set and a
// priority-ordered Registry that picks a backend for a task kind. The
// Registry's shape mirrors a storage-backend registry: a
// name-keyed map behind a single RWMutex, with capability-filtered lookups.
package backend

import "context"

// Kind identifies a class of backend implementation. Selection order in
// Registry.FindFor iterates Kinds in this fixed priority.
type Kind string

const (
	KindGPUNative      Kind = "gpu_native"
	KindGPUCrossVendor Kind = "gpu_cross_vendor"
	KindHTTPAPI        Kind = "http_api"
	KindCPU            Kind = "cpu"
	KindSpecialPurpose Kind = "special_purpose"
	KindMock           Kind = "mock"
)

// priorityOrder is the fixed backend-selection order: "the
// same task-kind always picks the same backend given the same registry
// state."
var priorityOrder = []Kind{
	KindGPUNative,
	KindGPUCrossVendor,
	KindHTTPAPI,
	KindCPU,
	KindSpecialPurpose,
	KindMock,
}

// TaskKind identifies the shape of an Assignment's input/output.
type TaskKind string

const (
	TaskTextCompletion TaskKind = "text_completion"
	TaskChatCompletion TaskKind = "chat_completion"
	TaskEmbedding      TaskKind = "embedding"
	TaskCrawl          TaskKind = "crawl"
)

// Input is the sum type over task kinds that an Assignment carries.
type Input interface {
	Kind() TaskKind
}

// Output is the sum type a Backend.Execute returns.
type Output interface {
	Kind() TaskKind
}

// TextCompletionInput requests free-form text completion.
type TextCompletionInput struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
}

func (TextCompletionInput) Kind() TaskKind { return TaskTextCompletion }

// Usage reports token accounting for a completion-style task.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// FinishReason is the reason a completion stopped producing output.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishCancelled     FinishReason = "cancelled"
	FinishError         FinishReason = "error"
)

// TextCompletionOutput is the result of a TextCompletionInput.
type TextCompletionOutput struct {
	Text         string
	FinishReason FinishReason
	Usage        Usage
}

func (TextCompletionOutput) Kind() TaskKind { return TaskTextCompletion }

// ChatMessage is one turn of a chat-style completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatCompletionInput requests a chat-style completion.
type ChatCompletionInput struct {
	Messages  []ChatMessage
	MaxTokens int
}

func (ChatCompletionInput) Kind() TaskKind { return TaskChatCompletion }

// ChatCompletionOutput is the result of a ChatCompletionInput.
type ChatCompletionOutput struct {
	Message      ChatMessage
	FinishReason FinishReason
	Usage        Usage
}

func (ChatCompletionOutput) Kind() TaskKind { return TaskChatCompletion }

// EmbeddingInput requests a vector embedding of Text.
type EmbeddingInput struct {
	Text string
}

func (EmbeddingInput) Kind() TaskKind { return TaskEmbedding }

// EmbeddingOutput is the result of an EmbeddingInput.
type EmbeddingOutput struct {
	Vector []float32
	Usage  Usage
}

func (EmbeddingOutput) Kind() TaskKind { return TaskEmbedding }

// CrawlInput requests a single-page crawl.
type CrawlInput struct {
	URL string
}

func (CrawlInput) Kind() TaskKind { return TaskCrawl }

// CrawlOutput is the result of a CrawlInput.
type CrawlOutput struct {
	StatusCode int
	Body       string
}

func (CrawlOutput) Kind() TaskKind { return TaskCrawl }

// ModelSpec describes a model to load into a backend.
type ModelSpec struct {
	ModelID string
	Path    string
	Options map[string]string
}

// HealthStatus is a backend's self-reported health.
type HealthStatus struct {
	Healthy bool
	Message string
}

// Info is a backend's declarative capability description.
type Info struct {
	Name              string
	Kind              Kind
	TaskKinds         []TaskKind
	MaxConcurrent     uint32
	AvailableMemoryMB uint64
	GPUPresent        bool
	GPUDevice         string
	MaxContextTokens  uint32
	SoftwareVersion   string
}

// supports reports whether this Info's backend handles the given task kind.
func (i Info) supports(kind TaskKind) bool {
	for _, k := range i.TaskKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Backend is the uniform capability set every backend variant implements
//. The core depends only on this interface, never on a
// concrete backend type.
type Backend interface {
	Name() string
	Capabilities() Info
	Health(ctx context.Context) HealthStatus
	LoadModel(ctx context.Context, spec ModelSpec) error
	UnloadModel(ctx context.Context) error
	// Execute runs input against modelID. An empty modelID falls back to
	// the backend's most recently loaded model, for callers that don't
	// target a specific one.
	Execute(ctx context.Context, modelID string, input Input) (Output, error)
}
