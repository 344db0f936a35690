package domain

import "context"

// LLMClient defines the capability to send a composed prompt to the model
// gateway and receive either a single completion or a streamed sequence of
// deltas.
type LLMClient interface {
	Chat(ctx context.Context, prompt ComposedPrompt) (*LLMResponse, error)
	// ChatStream opens one long-lived request and returns the response as an
	// ordered sequence of chunks. The chunk channel is closed after the
	// terminal chunk (Done=true) or when the context is cancelled; a failure
	// mid-stream is delivered on the error channel instead.
	ChatStream(ctx context.Context, prompt ComposedPrompt) (<-chan StreamChunk, <-chan error, error)
	Version() string
}

// LLMResponse carries a complete (non-streamed) model output.
type LLMResponse struct {
	Text string
	Done bool
}

// StreamChunk is one incremental piece of streamed model output. Ordered,
// ephemeral, never persisted individually.
type StreamChunk struct {
	Delta string
	Done  bool
}
