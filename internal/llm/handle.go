// Package llm provides the model-call layer: an OpenAI-compatible handle
// with plain and structured-output completion, and an invoker that owns the
// retry and primary-to-secondary failover policy per research session.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"deepsearch/internal/config"
)

// ChatCompleter is the slice of the OpenAI client the handle needs. The
// real client satisfies it; tests substitute fakes.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Handle is one bound (client, model, temperature) triple. Handles are
// cheap; the invoker constructs a fresh one per attempt.
type Handle struct {
	client      ChatCompleter
	model       string
	temperature float32
	timeout     time.Duration
}

// Model reports the bound model name.
func (h *Handle) Model() string { return h.model }

// Complete runs one chat completion and returns the assistant text.
func (h *Handle) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp, err := h.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       h.model,
		Temperature: h.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", h.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion (%s): empty choices", h.model)
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteJSON runs one completion in JSON mode and decodes the reply into
// out. A reply that fails to decode is an LLM error so the invoker's
// retry and failover policy applies to malformed structured output too.
func (h *Handle) CompleteJSON(ctx context.Context, system, user string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp, err := h.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       h.model,
		Temperature: h.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return fmt.Errorf("structured completion (%s): %w", h.model, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("structured completion (%s): empty choices", h.model)
	}
	raw := stripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("structured completion (%s): decode reply: %w", h.model, err)
	}
	return nil
}

// stripFences removes a markdown code fence wrapping, which some models add
// even in JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ClientFactory builds a chat client for an endpoint. Swapped in tests.
type ClientFactory func(config.LLMEndpoint) ChatCompleter

// NewOpenAIClient is the production factory.
func NewOpenAIClient(ep config.LLMEndpoint) ChatCompleter {
	cc := openai.DefaultConfig(ep.APIKey)
	if ep.BaseURL != "" {
		cc.BaseURL = ep.BaseURL
	}
	return openai.NewClientWithConfig(cc)
}

var errNoEndpoint = errors.New("llm endpoint not configured")
