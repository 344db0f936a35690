package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ziwei-chat/internal/domain"
)

type chatUsecase struct {
	retrieve RetrievePassagesUsecase
	composer PromptComposer
	llm      domain.LLMClient
	profiles *ProfileRegistry
	recorder TurnRecorder

	model         string
	temperature   float64
	maxTokens     int
	searchMode    domain.SearchMode
	streamTimeout time.Duration
	logger        *slog.Logger
}

// NewChatUsecase wires together the components needed to answer one turn.
func NewChatUsecase(
	retrieve RetrievePassagesUsecase,
	composer PromptComposer,
	llm domain.LLMClient,
	profiles *ProfileRegistry,
	recorder TurnRecorder,
	model string,
	temperature float64,
	maxTokens int,
	searchMode domain.SearchMode,
	streamTimeout time.Duration,
	logger *slog.Logger,
) ChatUsecase {
	if streamTimeout <= 0 {
		streamTimeout = 120 * time.Second
	}
	return &chatUsecase{
		retrieve:      retrieve,
		composer:      composer,
		llm:           llm,
		profiles:      profiles,
		recorder:      recorder,
		model:         model,
		temperature:   temperature,
		maxTokens:     maxTokens,
		searchMode:    searchMode,
		streamTimeout: streamTimeout,
		logger:        logger,
	}
}

func (u *chatUsecase) Execute(ctx context.Context, input ChatInput) (*ChatOutput, error) {
	if strings.TrimSpace(input.Message) == "" {
		return nil, fmt.Errorf("message is required")
	}

	passages, citations := u.gatherKnowledge(ctx, input)
	prompt, err := u.composePrompt(input, passages)
	if err != nil {
		return nil, err
	}

	resp, err := u.llm.Chat(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm generation failed: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return nil, errors.New("empty llm response")
	}

	decoder := NewThinkingDecoder()
	decoder.Feed(resp.Text)
	decoder.Finalize()
	reasoning, answer := decoder.Snapshot()

	output := &ChatOutput{
		Reasoning: reasoning,
		Answer:    answer,
		Citations: citations,
		Model:     prompt.Model,
	}
	u.recordTurn(input, output)
	return output, nil
}

// Stream runs the full pipeline and forwards each decoded emission as it is
// produced. The consumer receives either a complete answer, a partial answer
// followed by exactly one terminal error event, or an immediate error.
func (u *chatUsecase) Stream(ctx context.Context, input ChatInput) <-chan StreamEvent {
	events := make(chan StreamEvent, 4)
	go func() {
		defer close(events)

		if strings.TrimSpace(input.Message) == "" {
			u.send(ctx, events, StreamEvent{
				Kind:    StreamEventKindError,
				Payload: StreamError{Code: StreamErrorBadRequest, Message: "message is required"},
			})
			return
		}

		passages, citations := u.gatherKnowledge(ctx, input)
		prompt, err := u.composePrompt(input, passages)
		if err != nil {
			u.send(ctx, events, StreamEvent{
				Kind:    StreamEventKindError,
				Payload: StreamError{Code: StreamErrorBadRequest, Message: err.Error()},
			})
			return
		}

		if !u.send(ctx, events, StreamEvent{
			Kind: StreamEventKindStart,
			Payload: StreamStart{
				ConversationID: input.ConversationID,
				Model:          prompt.Model,
				Citations:      citations,
			},
		}) {
			return
		}

		streamCtx, cancel := context.WithTimeout(ctx, u.streamTimeout)
		defer cancel()

		chunkCh, errCh, err := u.llm.ChatStream(streamCtx, prompt)
		if err != nil {
			u.send(ctx, events, StreamEvent{
				Kind:    StreamEventKindError,
				Payload: StreamError{Code: StreamErrorUpstream, Message: fmt.Sprintf("llm stream setup failed: %v", err)},
			})
			return
		}

		decoder := NewThinkingDecoder()
		hasData := false
		chunkStream := chunkCh
		errStream := errCh
		done := false

		for {
			if chunkStream == nil && errStream == nil {
				break
			}
			select {
			case <-streamCtx.Done():
				if errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
					u.send(ctx, events, StreamEvent{
						Kind:    StreamEventKindError,
						Payload: StreamError{Code: StreamErrorUpstream, Message: "upstream stream timed out"},
					})
				}
				// Client disconnect: nothing left to deliver, just release.
				return
			case chunk, ok := <-chunkStream:
				if !ok {
					chunkStream = nil
					continue
				}
				if chunk.Delta != "" {
					hasData = true
					if !u.forward(ctx, events, input, decoder.Feed(chunk.Delta)) {
						return
					}
				}
				if chunk.Done {
					done = true
					chunkStream = nil
				}
			case streamErr, ok := <-errStream:
				if !ok {
					errStream = nil
					continue
				}
				// The producer sends its failure only after every delta has
				// been handed to the chunk channel, so anything still buffered
				// there belongs before the terminal error. Drain it first.
				for chunkStream != nil {
					select {
					case chunk, ok := <-chunkStream:
						if !ok {
							chunkStream = nil
							continue
						}
						if chunk.Delta != "" {
							hasData = true
							if !u.forward(ctx, events, input, decoder.Feed(chunk.Delta)) {
								return
							}
						}
					default:
						chunkStream = nil
					}
				}
				if !u.forward(ctx, events, input, decoder.Finalize()) {
					return
				}
				u.send(ctx, events, StreamEvent{
					Kind:    StreamEventKindError,
					Payload: StreamError{Code: StreamErrorUpstream, Message: fmt.Sprintf("llm stream failed: %v", streamErr)},
				})
				return
			}
			if done {
				break
			}
		}

		// Flush unterminated buffers: a model that stopped without closing
		// its tags still gets its text delivered.
		if !u.forward(ctx, events, input, decoder.Finalize()) {
			return
		}

		if !hasData {
			u.send(ctx, events, StreamEvent{
				Kind:    StreamEventKindError,
				Payload: StreamError{Code: StreamErrorUpstream, Message: "llm stream produced no data"},
			})
			return
		}

		reasoning, answer := decoder.Snapshot()
		output := &ChatOutput{
			Reasoning: reasoning,
			Answer:    answer,
			Citations: citations,
			Model:     prompt.Model,
		}
		u.recordTurn(input, output)

		u.send(ctx, events, StreamEvent{
			Kind:    StreamEventKindDone,
			Payload: output,
		})
	}()

	return events
}

// gatherKnowledge retrieves passages for the turn and derives citations.
// Any retrieval failure degrades to an empty passage set; the user-facing
// request never fails because retrieval did.
func (u *chatUsecase) gatherKnowledge(ctx context.Context, input ChatInput) ([]domain.KnowledgePassage, []domain.Citation) {
	if !input.KnowledgeEnabled || strings.TrimSpace(input.Message) == "" {
		return nil, nil
	}

	hits, err := u.retrieve.Execute(ctx, domain.RetrievalQuery{
		Text: input.Message,
		Mode: u.searchMode,
	})
	if err != nil {
		u.logger.Warn("knowledge retrieval failed, continuing without augmentation",
			slog.String("error", err.Error()))
		return nil, nil
	}

	// Passages without citation metadata cannot be rendered back to the
	// user and are dropped before composition.
	passages := hits[:0]
	for _, p := range hits {
		if !p.Citable() {
			u.logger.Warn("dropping passage without citation metadata",
				slog.String("passage_id", p.ID.String()))
			continue
		}
		passages = append(passages, p)
	}

	citations := make([]domain.Citation, 0, len(passages))
	for i, p := range passages {
		citations = append(citations, domain.CitationFromPassage(i+1, p))
	}
	return passages, citations
}

func (u *chatUsecase) composePrompt(input ChatInput, passages []domain.KnowledgePassage) (domain.ComposedPrompt, error) {
	return u.composer.Compose(ComposeInput{
		Profile:      u.profiles.Get(input.ProfileID),
		Passages:     passages,
		UserContext:  input.UserContext,
		Scene:        input.Scene,
		Emotion:      input.Emotion,
		ChartContext: input.ChartContext,
		History:      input.History,
		UserMessage:  input.Message,
		Model:        u.model,
		Temperature:  u.temperature,
		MaxTokens:    u.maxTokens,
	})
}

// forward converts decoder emissions into stream events. Reasoning deltas
// are forwarded only when the client asked for the thinking channel.
func (u *chatUsecase) forward(ctx context.Context, events chan<- StreamEvent, input ChatInput, emissions []Emission) bool {
	for _, e := range emissions {
		kind := StreamEventKindChunk
		if e.Channel == ChannelReasoning {
			if !input.ThinkingEnabled {
				continue
			}
			kind = StreamEventKindThinking
		}
		if !u.send(ctx, events, StreamEvent{Kind: kind, Payload: e.Text}) {
			return false
		}
	}
	return true
}

// recordTurn hands the finalized tuple to the recorder. Persistence is a
// side effect that must not block or fail the response.
func (u *chatUsecase) recordTurn(input ChatInput, output *ChatOutput) {
	if u.recorder == nil {
		return
	}
	u.recorder.Record(&domain.ConversationLog{
		ID:             uuid.New(),
		ConversationID: input.ConversationID,
		UserMessage:    input.Message,
		Reasoning:      output.Reasoning,
		Answer:         output.Answer,
		Citations:      output.Citations,
		Model:          output.Model,
		CreatedAt:      time.Now(),
	})
}

func (u *chatUsecase) send(ctx context.Context, events chan<- StreamEvent, event StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- event:
		return true
	}
}
