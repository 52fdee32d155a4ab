package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

func (r *Registry) registerBuiltins() {
	r.register(Definition{
		Name:        "search_messages",
		Description: "Search the current conversation history with a regular expression.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern": {"type": "string", "description": "Regular expression to search for"},
				"case_sensitive": {"type": "boolean", "default": false},
				"date_from": {"type": "string", "format": "date-time"},
				"date_to": {"type": "string", "format": "date-time"},
				"limit": {"type": "integer", "default": 20}
			},
			"required": ["pattern"]
		}`),
		BuiltIn: true,
		Risk:    RiskLow,
		Handler: r.searchMessages,
	})

	r.register(Definition{
		Name:        "get_conversation_info",
		Description: "Get message count and first/last activity of the current conversation.",
		Schema:      emptyObjectSchema,
		BuiltIn:     true,
		Risk:        RiskLow,
		Handler:     r.getConversationInfo,
	})

	r.register(Definition{
		Name:        "get_frame_summaries",
		Description: "List past session frames of this conversation with their summaries.",
		Schema:      emptyObjectSchema,
		BuiltIn:     true,
		Risk:        RiskLow,
		Handler:     r.getFrameSummaries,
	})

	r.register(Definition{
		Name:        "get_frame_messages",
		Description: "Fetch the full messages of a specific past frame.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"frame_id": {"type": "string"}
			},
			"required": ["frame_id"]
		}`),
		BuiltIn: true,
		Risk:    RiskLow,
		Handler: r.getFrameMessages,
	})

	r.register(Definition{
		Name:        "get_skill_instructions",
		Description: "Fetch the full instruction text of a named skill.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"}
			},
			"required": ["name"]
		}`),
		BuiltIn: true,
		Risk:    RiskLow,
		Handler: r.getSkillInstructions,
	})
}

var emptyObjectSchema = json.RawMessage(`{"type": "object", "properties": {}}`)

type searchMatch struct {
	MessageID string    `json:"message_id"`
	FrameID   string    `json:"frame_id"`
	Snippet   string    `json:"snippet"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Registry) searchMessages(ctx context.Context, env Env, args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}

	limit := intArg(args, "limit", 20)
	from := timeArg(args, "date_from")
	to := timeArg(args, "date_to")

	msgs, err := r.store.SearchMessages(ctx, env.ConversationID, pattern,
		boolArg(args, "case_sensitive"), from, to, limit)
	if err != nil {
		return "", err
	}

	matches := make([]searchMatch, 0, len(msgs))
	for _, m := range msgs {
		matches = append(matches, searchMatch{
			MessageID: m.ID,
			FrameID:   m.FrameID,
			Snippet:   snippet(m.Content, 200),
			CreatedAt: m.CreatedAt,
		})
	}
	return marshalResult(map[string]any{"matches": matches, "count": len(matches)})
}

func (r *Registry) getConversationInfo(ctx context.Context, env Env, _ map[string]any) (string, error) {
	info, err := r.store.GetConversationInfo(ctx, env.ConversationID)
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{
		"message_count":    info.MessageCount,
		"first_message_at": info.FirstAt,
		"last_message_at":  info.LastAt,
	})
}

func (r *Registry) getFrameSummaries(ctx context.Context, env Env, _ map[string]any) (string, error) {
	frames, err := r.store.ListFrames(ctx, env.ConversationID)
	if err != nil {
		return "", err
	}

	type frameSummary struct {
		FrameID   string    `json:"frame_id"`
		Summary   string    `json:"summary"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]frameSummary, 0, len(frames))
	for _, f := range frames {
		summary := "(not yet summarized)"
		if f.Summary != nil {
			summary = *f.Summary
		}
		out = append(out, frameSummary{FrameID: f.ID, Summary: summary, CreatedAt: f.CreatedAt})
	}
	return marshalResult(out)
}

func (r *Registry) getFrameMessages(ctx context.Context, env Env, args map[string]any) (string, error) {
	frameID := stringArg(args, "frame_id")
	if frameID == "" {
		return "", fmt.Errorf("frame_id is required")
	}

	// The frame must belong to this conversation; a model must not be able
	// to read across conversations by guessing IDs.
	frame, err := r.store.GetFrame(ctx, frameID)
	if err != nil {
		return "", err
	}
	if frame.ConversationID != env.ConversationID {
		return "", fmt.Errorf("frame %s is not part of this conversation", frameID)
	}

	msgs, err := r.store.ListFrameMessages(ctx, frameID)
	if err != nil {
		return "", err
	}

	type frameMessage struct {
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]frameMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, frameMessage{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	return marshalResult(out)
}

func (r *Registry) getSkillInstructions(ctx context.Context, env Env, args map[string]any) (string, error) {
	name := stringArg(args, "name")
	if name == "" {
		return "", fmt.Errorf("name is required")
	}

	skill, err := r.store.GetSkillByName(ctx, env.UserID, name)
	if err != nil {
		return "", err
	}
	return skill.Instructions, nil
}

func marshalResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(data), nil
}

func snippet(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func timeArg(args map[string]any, key string) *time.Time {
	s, _ := args[key].(string)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
