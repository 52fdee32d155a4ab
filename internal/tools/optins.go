package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

func (r *Registry) registerOptIns() {
	r.register(Definition{
		Name:        "play_music",
		Description: "Search for a track and start playing it. Replaces the current track.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Song title, artist, or free-text search"}
			},
			"required": ["query"]
		}`),
		Risk:    RiskLow,
		Handler: playMusic,
	})

	r.register(Definition{
		Name:        "music_control",
		Description: "Control playback: pause, resume, skip, or stop.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["pause", "resume", "skip", "stop"]}
			},
			"required": ["action"]
		}`),
		Risk:    RiskLow,
		Handler: musicControl,
	})

	r.register(Definition{
		Name:        "get_music_queue",
		Description: "Get the current playback state and queued tracks.",
		Schema:      emptyObjectSchema,
		Risk:        RiskLow,
		Handler:     getMusicQueue,
	})

	// Routing pseudo-tools. Advertised so models can call them; the agent
	// loop intercepts the call before execution.
	r.register(Definition{
		Name:        RouteToAgent,
		Description: "Delegate the conversation to a named agent for one turn.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"agent_name": {"type": "string"},
				"reason": {"type": "string"}
			},
			"required": ["agent_name", "reason"]
		}`),
		Risk:    RiskLow,
		Handler: routeIntercepted,
	})

	r.register(Definition{
		Name:        RouteToUser,
		Description: "End the discussion and deliver a final message to the user.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"final_message": {"type": "string"}
			},
			"required": ["final_message"]
		}`),
		Risk:    RiskLow,
		Handler: routeIntercepted,
	})
}

func playMusic(ctx context.Context, env Env, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	if env.Media == nil {
		return "", fmt.Errorf("no media session available")
	}
	if err := env.Media.Play(ctx, query); err != nil {
		return "", err
	}
	return fmt.Sprintf("Started playing %q.", query), nil
}

func musicControl(ctx context.Context, env Env, args map[string]any) (string, error) {
	action := stringArg(args, "action")
	if env.Media == nil {
		return "", fmt.Errorf("no media session available")
	}
	if err := env.Media.Control(ctx, action); err != nil {
		return "", err
	}
	return fmt.Sprintf("Playback %s acknowledged.", action), nil
}

func getMusicQueue(_ context.Context, env Env, _ map[string]any) (string, error) {
	if env.Media == nil {
		return "", fmt.Errorf("no media session available")
	}
	return marshalResult(env.Media.State())
}

func routeIntercepted(context.Context, Env, map[string]any) (string, error) {
	return "", fmt.Errorf("routing tools are interpreted by the conversation loop")
}
