// Package llm defines the Provider interface for the cloud language-model
// backends that serve the quality translation and answer-generation paths.
//
// A Provider wraps a remote model API (OpenAI, Anthropic, a local Ollama
// instance behind an OpenAI-compatible endpoint, ...) and exposes a uniform
// interface so the session orchestrator never couples to a specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Usage holds token accounting information returned by the backend. Counts
// are in the model's native token unit and may differ between providers for
// the same text.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages
	// and system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests
	// the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the
	// provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Providers without a dedicated system field prepend
	// it as a "system"-role message.
	SystemPrompt string
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content. May be empty on a chunk that
	// only carries a FinishReason.
	Text string

	// FinishReason is set on the final chunk: "stop" (natural end),
	// "length" (MaxTokens reached), "error" (mid-stream failure, Text then
	// holds the error message), or "" for a non-final chunk.
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any cloud LLM backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly: when ctx is cancelled the method must return (or
// close its channel) as quickly as possible. Cancellation is routine here —
// the orchestrator aborts in-flight calls whenever newer speech supersedes
// them.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only
	// channel emitting Chunk values as they arrive. The channel is closed
	// by the implementation when generation finishes or ctx is cancelled.
	//
	// Callers must drain the channel. Errors occurring after the channel
	// is opened are surfaced as a Chunk with FinishReason "error"; the
	// error return is non-nil only for failures that prevent the stream
	// from starting. The returned channel is never nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens messages would consume in the
	// model's context window. The result need not be exact but should not
	// undercount; it is used to budget reference-context injection.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata about the underlying model,
	// constant for the lifetime of the Provider.
	Capabilities() ModelCapabilities
}
