// Package tools exposes the callable tool surface of an agent turn:
// built-ins over the store, opt-in music and routing tools, and tools
// discovered from the user's MCP servers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/mcp"
	"github.com/ariavoice/aria/internal/protocol"
	"github.com/ariavoice/aria/internal/store"
)

var tracer = otel.Tracer("aria/tools")

type RiskLevel string

const (
	RiskLow  RiskLevel = "low"
	RiskHigh RiskLevel = "high"
)

// Routing pseudo-tools. They are advertised to models but intercepted by
// the caller as routing effects, never executed here.
const (
	RouteToAgent = domain.RouteToAgentTool
	RouteToUser  = domain.RouteToUserTool
)

// Env carries the per-turn context the registry injects into handlers.
// Models never supply these fields.
type Env struct {
	UserID         string
	ConversationID string
	FrameID        string
	Media          MediaHandler
	MCP            *mcp.Orchestrator
	Emitter        protocol.Emitter
}

// MediaHandler is the slice of the media controller the music tools need.
type MediaHandler interface {
	Play(ctx context.Context, query string) error
	Control(ctx context.Context, action string) error
	State() protocol.MediaState
}

// Handler executes one tool invocation. args is the parsed model-supplied
// argument object.
type Handler func(ctx context.Context, env Env, args map[string]any) (string, error)

// Definition is one registered tool.
type Definition struct {
	Name        string
	Description string
	Schema      json.RawMessage
	BuiltIn     bool
	Risk        RiskLevel
	Handler     Handler
}

type Registry struct {
	store     *store.Store
	approvals *ApprovalBroker
	defs      map[string]Definition
}

func NewRegistry(st *store.Store, approvals *ApprovalBroker) *Registry {
	r := &Registry{
		store:     st,
		approvals: approvals,
		defs:      make(map[string]Definition),
	}
	r.registerBuiltins()
	r.registerOptIns()
	return r
}

func (r *Registry) register(def Definition) {
	r.defs[def.Name] = def
}

// Catalog computes the tool set for one agent turn: every built-in, the
// opt-in tools the agent has not excluded, and the user's MCP tools minus
// exclusions. includeMedia gates the music tools on a live media handler.
func (r *Registry) Catalog(ctx context.Context, agent *domain.Agent, env Env) []Definition {
	var defs []Definition
	for _, def := range r.defs {
		if !def.BuiltIn && agent.Excludes(def.Name) {
			continue
		}
		if isMusicTool(def.Name) && env.Media == nil {
			continue
		}
		defs = append(defs, def)
	}

	if env.MCP != nil {
		mcpTools, err := env.MCP.Tools(ctx)
		if err != nil {
			slog.Warn("tools: mcp catalog failed", "error", err)
		}
		for _, t := range mcpTools {
			name := t.QualifiedName()
			if agent.Excludes(name) {
				continue
			}
			defs = append(defs, Definition{
				Name:        name,
				Description: t.Description,
				Schema:      t.Schema,
				Risk:        RiskHigh,
			})
		}
	}
	return defs
}

// IsRoutingTool reports whether a call must be interpreted as a routing
// effect by the agent loop instead of executed.
func IsRoutingTool(name string) bool {
	return domain.IsRoutingToolName(name)
}

func isMusicTool(name string) bool {
	switch name {
	case "play_music", "music_control", "get_music_queue":
		return true
	}
	return false
}

// Execute runs one tool call with context injection and the high-risk
// approval gate. The returned string is what gets persisted as the
// tool-role message content.
func (r *Registry) Execute(ctx context.Context, call domain.ToolCall, env Env) (string, error) {
	ctx, span := tracer.Start(ctx, "tools.execute")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name))

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "", fmt.Errorf("tool %s: invalid arguments: %w", call.Name, err)
		}
	}

	def, risk, err := r.resolve(call.Name)
	if err != nil {
		return "", err
	}

	if risk == RiskHigh {
		approvedArgs, err := r.approvals.Request(ctx, env.Emitter, call, risk)
		if err != nil {
			span.RecordError(err)
			return "", err
		}
		if approvedArgs != nil {
			args = approvedArgs
		}
	}

	if server, tool, ok := mcp.SplitQualifiedName(call.Name); ok && def == nil {
		if env.MCP == nil {
			return "", fmt.Errorf("tool %s: no mcp session: %w", call.Name, domain.ErrMCPUnavailable)
		}
		return env.MCP.CallTool(ctx, server, tool, args)
	}

	out, err := def.Handler(ctx, env, args)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("tool %s: %w", call.Name, err)
	}
	return out, nil
}

// resolve finds the local definition or recognizes an MCP qualified name.
// MCP tools are always high risk.
func (r *Registry) resolve(name string) (*Definition, RiskLevel, error) {
	if def, ok := r.defs[name]; ok {
		return &def, def.Risk, nil
	}
	if _, _, ok := mcp.SplitQualifiedName(name); ok {
		return nil, RiskHigh, nil
	}
	return nil, RiskLow, fmt.Errorf("unknown tool %q: %w", name, domain.ErrNotFound)
}
