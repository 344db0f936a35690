package usecase

import (
	"context"

	"ziwei-chat/internal/domain"
)

// ChatInput encapsulates one chat turn request.
type ChatInput struct {
	Message        string
	History        []domain.Message
	ConversationID string
	ProfileID      string
	UserContext    *UserContext
	Scene          string
	Emotion        string
	ChartContext   string
	// KnowledgeEnabled toggles retrieval augmentation for this turn.
	KnowledgeEnabled bool
	// ThinkingEnabled forwards the reasoning trace to the client. The trace
	// is always decoded and stripped from the answer either way.
	ThinkingEnabled bool
}

// ChatOutput is the finalized result of one turn.
type ChatOutput struct {
	Reasoning string
	Answer    string
	Citations []domain.Citation
	Model     string
}

// ChatUsecase is the end-to-end orchestrator: retrieve, compose, stream,
// decode, forward.
type ChatUsecase interface {
	Execute(ctx context.Context, input ChatInput) (*ChatOutput, error)
	Stream(ctx context.Context, input ChatInput) <-chan StreamEvent
}

type StreamEventKind string

const (
	StreamEventKindStart    StreamEventKind = "start"
	StreamEventKindThinking StreamEventKind = "thinking"
	StreamEventKindChunk    StreamEventKind = "chunk"
	StreamEventKindDone     StreamEventKind = "done"
	StreamEventKindError    StreamEventKind = "error"
)

// StreamEvent is one discrete event on the outbound event stream. A done or
// error event is terminal; nothing follows it.
type StreamEvent struct {
	Kind    StreamEventKind
	Payload interface{}
}

// StreamStart is the payload of the start event: the citations for the
// passages that made it into the prompt, before any text arrives.
type StreamStart struct {
	ConversationID string            `json:"conversation_id,omitempty"`
	Model          string            `json:"model"`
	Citations      []domain.Citation `json:"citations,omitempty"`
}

// StreamErrorCode classifies a terminal error event so transports can map
// caller mistakes and upstream failures onto different status codes.
type StreamErrorCode string

const (
	StreamErrorBadRequest StreamErrorCode = "bad_request"
	StreamErrorUpstream   StreamErrorCode = "upstream"
)

// StreamError is the payload of an error event.
type StreamError struct {
	Code    StreamErrorCode `json:"code"`
	Message string          `json:"message"`
}

// TurnRecorder persists finalized turns off the hot path. Implementations
// must never block and never surface errors to the caller.
type TurnRecorder interface {
	Record(log *domain.ConversationLog)
}
