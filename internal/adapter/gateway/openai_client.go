package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ziwei-chat/internal/domain"
)

// OpenAIClient talks to an OpenAI-compatible chat completions gateway. The
// streaming path consumes the SSE response incrementally; a malformed event
// is skipped, it never aborts the stream.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	policy  FallbackPolicy
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAIClient constructs a gateway client. model is the preferred model
// when the prompt names none; rps bounds how fast new completions may be
// opened process-wide, zero disables the limit.
func NewOpenAIClient(baseURL, apiKey, model string, policy FallbackPolicy, rps float64, logger *slog.Logger, client *http.Client) *OpenAIClient {
	if client == nil {
		client = &http.Client{}
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  client,
		policy:  policy,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Chat sends the prompt and returns the complete assistant message.
func (c *OpenAIClient) Chat(ctx context.Context, prompt domain.ComposedPrompt) (*domain.LLMResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for _, model := range c.policy.attempts(c.preferredModel(prompt)) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.policy.attemptTimeout())
		resp, err := c.doChat(attemptCtx, prompt, model)
		cancel()
		if err != nil {
			lastErr = err
			c.logger.Warn("chat attempt failed",
				slog.String("model", model),
				slog.String("error", err.Error()))
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no models configured")
	}
	return nil, lastErr
}

func (c *OpenAIClient) doChat(ctx context.Context, prompt domain.ComposedPrompt, model string) (*domain.LLMResponse, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    prompt.Messages,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := c.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, errors.New("gateway returned no choices")
	}

	return &domain.LLMResponse{
		Text: chatResp.Choices[0].Message.Content,
		Done: chatResp.Choices[0].FinishReason != "",
	}, nil
}

// ChatStream opens a streaming completion and returns its chunks as they
// arrive. The chunk channel closes after the terminal Done chunk; upstream
// failures mid-stream arrive on the error channel instead. Cancelling the
// context releases the underlying connection promptly.
func (c *OpenAIClient) ChatStream(ctx context.Context, prompt domain.ComposedPrompt) (<-chan domain.StreamChunk, <-chan error, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	var resp *http.Response
	var cancel context.CancelFunc
	var lastErr error
	for _, model := range c.policy.attempts(c.preferredModel(prompt)) {
		resp, cancel, lastErr = c.openStream(ctx, prompt, model)
		if lastErr == nil {
			break
		}
		c.logger.Warn("stream attempt failed",
			slog.String("model", model),
			slog.String("error", lastErr.Error()))
	}
	if resp == nil {
		if lastErr == nil {
			lastErr = errors.New("no models configured")
		}
		return nil, nil, lastErr
	}

	chunks := make(chan domain.StreamChunk, 8)
	errs := make(chan error, 1)
	go c.consume(ctx, resp, cancel, chunks, errs)
	return chunks, errs, nil
}

// openStream makes one attempt against one model. The attempt timeout only
// covers the window up to response headers; once the stream is established
// the returned cancel func is what tears the connection down.
func (c *OpenAIClient) openStream(ctx context.Context, prompt domain.ComposedPrompt, model string) (*http.Response, context.CancelFunc, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    prompt.Messages,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal stream request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(streamCtx, payload)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	connectTimer := time.AfterFunc(c.policy.attemptTimeout(), cancel)
	resp, err := c.client.Do(req)
	connectTimer.Stop()
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
	}
	return resp, cancel, nil
}

func (c *OpenAIClient) consume(ctx context.Context, resp *http.Response, cancel context.CancelFunc, chunks chan<- domain.StreamChunk, errs chan<- error) {
	defer close(chunks)
	defer cancel()
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			c.deliver(ctx, chunks, domain.StreamChunk{Done: true})
			return
		}

		var event streamResponse
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			// One corrupt event must not lose the rest of the stream.
			c.logger.Debug("skipping malformed stream event",
				slog.String("error", err.Error()))
			continue
		}
		if len(event.Choices) == 0 {
			continue
		}
		if delta := event.Choices[0].Delta.Content; delta != "" {
			if !c.deliver(ctx, chunks, domain.StreamChunk{Delta: delta}) {
				return
			}
		}
		if event.Choices[0].FinishReason != "" {
			c.deliver(ctx, chunks, domain.StreamChunk{Done: true})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() == nil {
			errs <- fmt.Errorf("stream read failed: %w", err)
		}
		return
	}
	// Some gateways close the connection instead of sending [DONE].
	c.deliver(ctx, chunks, domain.StreamChunk{Done: true})
}

func (c *OpenAIClient) deliver(ctx context.Context, chunks chan<- domain.StreamChunk, chunk domain.StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case chunks <- chunk:
		return true
	}
}

func (c *OpenAIClient) newRequest(ctx context.Context, payload []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s/v1/chat/completions", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *OpenAIClient) preferredModel(prompt domain.ComposedPrompt) string {
	if prompt.Model != "" {
		return prompt.Model
	}
	return c.model
}

// Version returns the preferred model name.
func (c *OpenAIClient) Version() string {
	return c.model
}

var _ domain.LLMClient = (*OpenAIClient)(nil)
