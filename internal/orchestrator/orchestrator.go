// Package orchestrator drives group-discussion turns: an Administrator
// agent routes the conversation between the user's agents until it hands a
// final answer back, within a bounded hop budget.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ariavoice/aria/internal/agent"
	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/id"
	"github.com/ariavoice/aria/internal/protocol"
	"github.com/ariavoice/aria/internal/store"
)

var tracer = otel.Tracer("aria/orchestrator")

// MaxHops bounds agent-to-agent delegations per user message.
const MaxHops = 10

type Orchestrator struct {
	store   *store.Store
	runtime *agent.Runtime
}

func New(st *store.Store, runtime *agent.Runtime) *Orchestrator {
	return &Orchestrator{store: st, runtime: runtime}
}

// RunDiscussion handles a chat request with no explicit agent. base carries
// the turn context with Agent set to the user's Administrator; OtherAgents
// must contain every agent of the user. Returns the final assistant message.
func (o *Orchestrator) RunDiscussion(ctx context.Context, base *agent.Turn) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.discussion")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", base.Conversation.ID))

	admin := base.Agent
	if !admin.IsAdministrator() {
		return nil, fmt.Errorf("discussion must start at the administrator agent: %w", domain.ErrConflict)
	}

	session := &domain.OrchestrationSession{
		ID:             id.NewOrchestration(),
		ConversationID: base.Conversation.ID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.store.CreateOrchestrationSession(ctx, session); err != nil {
		// The hop log is diagnostics; a failed insert must not kill the turn.
		slog.Warn("orchestrator: session log unavailable", "error", err)
		session = nil
	}

	current := admin
	for hop := 1; hop <= MaxHops; hop++ {
		result, err := o.runtime.Run(ctx, turnFor(base, current))
		if err != nil {
			return nil, err
		}

		if result.Route == nil {
			if current.ID == admin.ID {
				// The Administrator answered directly instead of routing;
				// treat it as the final message.
				return result.Message, nil
			}
			// A delegate finished its turn; control returns to the
			// Administrator for the next decision.
			current = admin
			continue
		}

		if result.Route.ToAgent != "" {
			target := findAgent(base.OtherAgents, result.Route.ToAgent)
			if target == nil {
				slog.Warn("orchestrator: route to unknown agent",
					"from", current.Name, "to", result.Route.ToAgent)
				current = admin
				continue
			}

			o.recordHop(ctx, session, hop, current.Name, target.Name, result.Route.Reason)
			base.Env.Emitter.Emit(ctx, protocol.EventAgentSwitch, protocol.AgentSwitch{
				FromAgentID: current.ID,
				ToAgentID:   target.ID,
				FromName:    current.Name,
				ToName:      target.Name,
				Reason:      result.Route.Reason,
			})
			current = target
			continue
		}

		o.recordHop(ctx, session, hop, current.Name, "user", result.Route.Reason)
		return o.DeliverFinal(ctx, base, admin, result.Route.FinalMessage)
	}

	slog.Warn("orchestrator: hop cap reached", "conversation_id", base.Conversation.ID)
	return o.DeliverFinal(ctx, base, admin,
		"The discussion reached its turn limit before the agents converged.")
}

// DeliverFinal persists a route_to_user payload as an assistant message
// spoken by the given agent and streams it to the client. The gateway uses
// it for directly-addressed turns that end in a routing effect.
func (o *Orchestrator) DeliverFinal(ctx context.Context, base *agent.Turn, speaker *domain.Agent, text string) (*domain.Message, error) {
	now := time.Now().UTC()
	msg := &domain.Message{
		ID:          id.NewMessage(),
		FrameID:     base.Frame.ID,
		AgentID:     &speaker.ID,
		Role:        domain.RoleAssistant,
		Content:     text,
		SpeakerName: &speaker.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	base.Env.Emitter.Emit(ctx, protocol.EventStreamChunk, protocol.StreamChunk{
		Content:        text,
		Role:           domain.RoleAssistant,
		AgentID:        speaker.ID,
		Name:           speaker.Name,
		ConversationID: base.Conversation.ID,
		FrameID:        base.Frame.ID,
	})
	return msg, nil
}

func (o *Orchestrator) recordHop(ctx context.Context, session *domain.OrchestrationSession, seq int, from, to, reason string) {
	if session == nil {
		return
	}
	err := o.store.AddOrchestrationHop(ctx, &domain.OrchestrationHop{
		ID:        id.NewHop(),
		SessionID: session.ID,
		Seq:       seq,
		FromAgent: from,
		ToAgent:   to,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("orchestrator: hop log failed", "error", err)
	}
}

// turnFor clones the base turn for a specific speaking agent.
func turnFor(base *agent.Turn, speaking *domain.Agent) *agent.Turn {
	clone := *base
	clone.Agent = speaking
	return &clone
}

func findAgent(agents []*domain.Agent, name string) *domain.Agent {
	for _, a := range agents {
		if a.Name == name {
			return a
		}
	}
	return nil
}
