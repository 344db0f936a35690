package chat_http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"ziwei-chat/internal/domain"
	"ziwei-chat/internal/usecase"
)

// ChatRequest is the inbound payload for both the streaming and the
// non-streaming chat endpoints.
type ChatRequest struct {
	Message        string               `json:"message"`
	ConversationID string               `json:"conversation_id,omitempty"`
	History        []domain.Message     `json:"history,omitempty"`
	ProfileID      string               `json:"profile_id,omitempty"`
	User           *usecase.UserContext `json:"user,omitempty"`
	Scene          string               `json:"scene,omitempty"`
	Emotion        string               `json:"emotion,omitempty"`
	ChartContext   string               `json:"chart_context,omitempty"`
	// Feature flags default to enabled when omitted.
	KnowledgeEnabled *bool `json:"knowledge_enabled,omitempty"`
	ThinkingEnabled  *bool `json:"thinking_enabled,omitempty"`
}

// SearchRequest is the inbound payload for the retrieve-only endpoint.
type SearchRequest struct {
	Query     string  `json:"query"`
	Count     int     `json:"count,omitempty"`
	Threshold float32 `json:"threshold,omitempty"`
	Mode      string  `json:"mode,omitempty"`
}

type Handler struct {
	chatUsecase     usecase.ChatUsecase
	retrieveUsecase usecase.RetrievePassagesUsecase
}

func NewHandler(chatUsecase usecase.ChatUsecase, retrieveUsecase usecase.RetrievePassagesUsecase) *Handler {
	return &Handler{
		chatUsecase:     chatUsecase,
		retrieveUsecase: retrieveUsecase,
	}
}

// StreamChat answers one chat turn over an event stream.
// (POST /v1/chat/stream)
func (h *Handler) StreamChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	ctx := c.Request().Context()
	events := h.chatUsecase.Stream(ctx, toChatInput(req))

	// An error before anything streamed gets a plain status response, not a
	// one-event SSE stream. Caller mistakes are 400; a gateway that never
	// produced a byte is 502.
	first, ok := <-events
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "stream produced no events"})
	}
	if first.Kind == usecase.StreamEventKindError {
		streamErr, _ := first.Payload.(usecase.StreamError)
		status := http.StatusBadGateway
		if streamErr.Code == usecase.StreamErrorBadRequest {
			status = http.StatusBadRequest
		}
		return c.JSON(status, map[string]string{"error": streamErr.Message})
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	if err := writeSSE(resp, first); err != nil {
		return err
	}
	for event := range events {
		if err := writeSSE(resp, event); err != nil {
			return err
		}
		if event.Kind == usecase.StreamEventKindDone || event.Kind == usecase.StreamEventKindError {
			break
		}
	}
	return nil
}

// Chat answers one chat turn with a single JSON response.
// (POST /v1/chat)
func (h *Handler) Chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	output, err := h.chatUsecase.Execute(c.Request().Context(), toChatInput(req))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"answer":    output.Answer,
		"reasoning": output.Reasoning,
		"citations": output.Citations,
		"model":     output.Model,
	})
}

// SearchKnowledge runs retrieval without generation.
// (POST /v1/knowledge/search)
func (h *Handler) SearchKnowledge(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	passages, err := h.retrieveUsecase.Execute(c.Request().Context(), domain.RetrievalQuery{
		Text:      req.Query,
		Count:     req.Count,
		Threshold: req.Threshold,
		Mode:      domain.SearchMode(req.Mode),
	})
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	results := make([]map[string]interface{}, 0, len(passages))
	for _, p := range passages {
		results = append(results, map[string]interface{}{
			"id":             p.ID,
			"title":          p.Title,
			"chapter":        p.Chapter,
			"page":           p.Page,
			"content":        p.Content,
			"vector_score":   p.VectorScore,
			"text_score":     p.TextScore,
			"combined_score": p.CombinedScore,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"passages": results})
}

func toChatInput(req ChatRequest) usecase.ChatInput {
	input := usecase.ChatInput{
		Message:          req.Message,
		History:          req.History,
		ConversationID:   req.ConversationID,
		ProfileID:        req.ProfileID,
		UserContext:      req.User,
		Scene:            req.Scene,
		Emotion:          req.Emotion,
		ChartContext:     req.ChartContext,
		KnowledgeEnabled: true,
		ThinkingEnabled:  true,
	}
	if req.KnowledgeEnabled != nil {
		input.KnowledgeEnabled = *req.KnowledgeEnabled
	}
	if req.ThinkingEnabled != nil {
		input.ThinkingEnabled = *req.ThinkingEnabled
	}
	return input
}

// sseEvent is the wire form of one outbound event.
type sseEvent struct {
	Type  string      `json:"type"`
	Text  string      `json:"text,omitempty"`
	Start interface{} `json:"start,omitempty"`
	Done  interface{} `json:"done,omitempty"`
	Error string      `json:"error,omitempty"`
}

func writeSSE(resp *echo.Response, event usecase.StreamEvent) error {
	wire := sseEvent{Type: string(event.Kind)}
	switch event.Kind {
	case usecase.StreamEventKindStart:
		wire.Start = event.Payload
	case usecase.StreamEventKindThinking, usecase.StreamEventKindChunk:
		text, _ := event.Payload.(string)
		wire.Text = text
	case usecase.StreamEventKindDone:
		output, _ := event.Payload.(*usecase.ChatOutput)
		if output != nil {
			wire.Done = map[string]interface{}{
				"answer":    output.Answer,
				"citations": output.Citations,
				"model":     output.Model,
			}
		}
	case usecase.StreamEventKindError:
		streamErr, _ := event.Payload.(usecase.StreamError)
		wire.Error = streamErr.Message
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
		return err
	}
	resp.Flush()
	return nil
}
