package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ariavoice/aria/internal/domain"
)

var tracer = otel.Tracer("aria/llm")

// Client talks to one OpenAI-compatible endpoint.
type Client struct {
	api           *openai.Client
	streamTimeout time.Duration
}

func New(baseURL, apiKey string, streamTimeout time.Duration) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Client{
		api:           openai.NewClientWithConfig(cfg),
		streamTimeout: streamTimeout,
	}
}

// Stream starts a streaming chat completion and forwards deltas on the
// returned channel. The channel closes after the final event; a terminal
// failure arrives as the last event's Err.
func (c *Client) Stream(ctx context.Context, req Request) <-chan StreamEvent {
	events := make(chan StreamEvent, 16)

	go func() {
		defer close(events)

		ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)
		defer cancel()

		ctx, span := tracer.Start(ctx, "llm.stream")
		defer span.End()
		span.SetAttributes(
			attribute.String("llm.model", req.Model),
			attribute.Int("llm.messages", len(req.Messages)),
			attribute.Int("llm.tools", len(req.Tools)),
		)

		stream, err := c.api.CreateChatCompletionStream(ctx, buildRequest(req))
		if err != nil {
			span.RecordError(err)
			events <- StreamEvent{Err: classify(err)}
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				span.RecordError(err)
				events <- StreamEvent{Err: classify(err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			delta := convertDelta(resp.Choices[0].Delta)
			if delta == nil {
				continue
			}
			select {
			case events <- StreamEvent{Delta: delta}:
			case <-ctx.Done():
				events <- StreamEvent{Err: classify(ctx.Err())}
				return
			}
		}
	}()

	return events
}

// Complete runs a non-streaming call. Used for frame summaries, memory
// consolidation and conversation titles.
func (c *Client) Complete(ctx context.Context, model, system, user string) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		span.RecordError(err)
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices: %w", domain.ErrLLMUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// Health verifies the endpoint answers. Used by the readiness probe.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("llm health: %w: %w", domain.ErrLLMUnavailable, err)
	}
	return nil
}

func buildRequest(req Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		Stream:      true,
		// Qwen-style backends toggle reasoning through template kwargs.
		ChatTemplateKwargs: map[string]any{"enable_thinking": req.ThinkMode},
	}

	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		if len(m.Images) > 0 {
			parts := []openai.ChatMessagePart{{
				Type: openai.ChatMessagePartTypeText,
				Text: m.Content,
			}}
			for _, img := range m.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: "data:image/jpeg;base64," + img,
					},
				})
			}
			msg.MultiContent = parts
		} else {
			msg.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return out
}

func convertDelta(d openai.ChatCompletionStreamChoiceDelta) *Delta {
	out := &Delta{
		Content:  d.Content,
		Thinking: d.ReasoningContent,
	}
	for _, tc := range d.ToolCalls {
		idx := -1
		if tc.Index != nil {
			idx = *tc.Index
		}
		out.ToolCalls = append(out.ToolCalls, ToolCallDelta{
			Index:     idx,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if out.Content == "" && out.Thinking == "" && len(out.ToolCalls) == 0 {
		return nil
	}
	return out
}

func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("llm stream: %w", domain.ErrCancelled)
	case errors.Is(err, context.DeadlineExceeded):
		slog.Warn("llm: stream deadline exceeded")
		return fmt.Errorf("llm stream timed out: %w", domain.ErrLLMUnavailable)
	default:
		return fmt.Errorf("llm request failed: %w: %w", domain.ErrLLMUnavailable, err)
	}
}
