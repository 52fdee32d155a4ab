package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ariavoice/aria/internal/agent"
	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/id"
	"github.com/ariavoice/aria/internal/protocol"
	"github.com/ariavoice/aria/internal/tools"
)

var tracer = otel.Tracer("aria/gateway")

// chatTurnTimeout bounds one full chat turn including the tool loop.
const chatTurnTimeout = 5 * time.Minute

const maxTitleChars = 80

// maxGeneratedTitleChars caps model-written conversation titles.
const maxGeneratedTitleChars = 50

// handleChat runs one chat turn. The context is detached from the channel:
// a disconnect mid-turn does not stop generation, and events produced during
// a reconnect gap queue up for the next channel.
func (g *Gateway) handleChat(c *client, req *protocol.ChatRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), chatTurnTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "gateway.chat")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", c.userID))

	if strings.TrimSpace(req.Text) == "" {
		c.emitError(errors.New("empty chat request"))
		return
	}

	user, err := g.store.GetUser(ctx, c.userID)
	if err != nil {
		c.emitError(err)
		return
	}
	if req.ModelName != "" {
		override := *user
		override.DefaultModel = req.ModelName
		user = &override
	}

	conv, created, err := g.resolveConversation(ctx, user, req)
	if err != nil {
		c.emitError(err)
		return
	}

	if !c.beginTurn(conv.ID, cancel) {
		c.emitError(fmt.Errorf("a chat turn is already running: %w", domain.ErrConflict))
		return
	}
	defer c.endTurn()

	frame, err := g.frames.EnsureOpenFrame(ctx, user, conv.ID)
	if err != nil {
		c.emitError(err)
		return
	}

	if err := g.persistUserMessage(ctx, user, frame, req); err != nil {
		c.emitError(err)
		return
	}
	if err := g.store.TouchConversation(ctx, conv.ID); err != nil {
		slog.Warn("ws: touch conversation failed", "error", err)
	}
	if created {
		if err := g.store.UpdateConversationTitle(ctx, conv.ID, deriveTitle(req.Text)); err != nil {
			slog.Warn("ws: set conversation title failed", "error", err)
		}
	}

	agents, err := g.store.ListAgents(ctx, user.ID)
	if err != nil {
		c.emitError(err)
		return
	}
	skills, err := g.store.ListSkills(ctx, user.ID)
	if err != nil {
		slog.Warn("ws: list skills failed", "error", err)
	}

	turn := &agent.Turn{
		User:         user,
		Conversation: conv,
		Frame:        frame,
		OtherAgents:  agents,
		Skills:       skills,
		Env: tools.Env{
			UserID:         user.ID,
			ConversationID: conv.ID,
			FrameID:        frame.ID,
			Media:          mediaEnv(c),
			MCP:            c.mcpOrch,
			Emitter:        c,
		},
	}

	if req.AgentID != "" {
		turn.Agent, err = g.store.GetAgent(ctx, req.AgentID, user.ID)
		if err == nil {
			err = g.runDirect(ctx, turn)
		}
	} else {
		turn.Agent, err = g.store.EnsureAdministrator(ctx, user.ID, user.DefaultModel)
		if err == nil {
			if !containsAgent(agents, turn.Agent.ID) {
				turn.OtherAgents = append(turn.OtherAgents, turn.Agent)
			}
			_, err = g.orch.RunDiscussion(ctx, turn)
		}
	}

	// A cancelled turn ends silently: the persisted partial content is all
	// that survives, and no done event goes out.
	if err != nil {
		if errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled) {
			slog.Info("ws: chat turn cancelled", "conversation_id", conv.ID)
		} else {
			slog.Error("ws: chat turn failed", "conversation_id", conv.ID, "error", err)
			span.RecordError(err)
			c.emitError(err)
		}
		return
	}

	if created {
		go g.retitleConversation(user, conv.ID, req.Text)
	}

	c.Emit(ctx, protocol.EventDone, protocol.Done{
		ConversationID: conv.ID,
		FrameID:        frame.ID,
	})
}

// runDirect executes a turn addressed to one agent. Routing effects still
// happen here: a route_to_user payload (or the synthesized message when the
// tool budget runs out) has to reach the client even without the
// orchestrator in the loop.
func (g *Gateway) runDirect(ctx context.Context, turn *agent.Turn) error {
	result, err := g.runtime.Run(ctx, turn)
	if err != nil {
		return err
	}
	if result.Route == nil {
		return nil
	}
	if result.Route.ToAgent != "" {
		slog.Warn("ws: directly addressed agent tried to delegate",
			"agent", turn.Agent.Name, "to", result.Route.ToAgent)
	}
	if result.Route.FinalMessage != "" {
		if _, err := g.orch.DeliverFinal(ctx, turn, turn.Agent, result.Route.FinalMessage); err != nil {
			return err
		}
	}
	return nil
}

// handleAudio transcribes an utterance, echoes the transcription, and feeds
// it through the normal chat flow.
func (g *Gateway) handleAudio(c *client, in *protocol.AudioInput) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pcm, err := decodeAudio(in.Audio)
	if err != nil {
		c.emitError(err)
		return
	}

	text, err := g.asr.Transcribe(ctx, pcm, in.SampleRate)
	if err != nil {
		c.emitError(err)
		return
	}
	text = strings.TrimSpace(text)
	c.Emit(ctx, protocol.EventTranscription, protocol.Transcription{Text: text})
	if text == "" {
		return
	}

	g.handleChat(c, &protocol.ChatRequest{Text: text})
}

func (g *Gateway) resolveConversation(ctx context.Context, user *domain.User, req *protocol.ChatRequest) (*domain.Conversation, bool, error) {
	if req.ConversationID != "" {
		conv, err := g.store.GetConversation(ctx, req.ConversationID, user.ID)
		return conv, false, err
	}

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:        id.NewConversation(),
		UserID:    user.ID,
		Title:     deriveTitle(req.Text),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.store.CreateConversation(ctx, conv); err != nil {
		return nil, false, err
	}
	slog.Info("ws: conversation created", "conversation_id", conv.ID, "user_id", user.ID)
	return conv, true, nil
}

func (g *Gateway) persistUserMessage(ctx context.Context, user *domain.User, frame *domain.Frame, req *protocol.ChatRequest) error {
	now := time.Now().UTC()
	speaker := user.PreferredName
	if speaker == "" {
		speaker = user.Name
	}
	return g.store.AppendMessage(ctx, &domain.Message{
		ID:          id.NewMessage(),
		FrameID:     frame.ID,
		Role:        domain.RoleUser,
		Content:     req.Text,
		Images:      req.Images,
		SpeakerName: &speaker,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// mediaEnv exposes the player to the music tools only once it exists; the
// tool catalog hides music tools until then.
func mediaEnv(c *client) tools.MediaHandler {
	if p := c.currentMedia(); p != nil {
		return p
	}
	return nil
}

func decodeAudio(b64 string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	if len(pcm) == 0 {
		return nil, errors.New("empty audio payload")
	}
	return pcm, nil
}

// retitleConversation replaces the first-line placeholder title with one
// written by the summary model once the first turn has completed. Best
// effort: the placeholder stays on any failure.
func (g *Gateway) retitleConversation(user *domain.User, conversationID, text string) {
	if g.titler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	model := user.DefaultModel
	if user.SummaryModel != nil && *user.SummaryModel != "" {
		model = *user.SummaryModel
	}

	title, err := g.titler.Complete(ctx, model,
		"You name conversations. Reply with a title of at most 50 characters "+
			"for the conversation opening with the user's message. Title only, no quotes.",
		text)
	if err != nil {
		slog.Warn("ws: title generation failed", "conversation_id", conversationID, "error", err)
		return
	}

	title = strings.Trim(strings.TrimSpace(title), `"`)
	if title == "" {
		return
	}
	if runes := []rune(title); len(runes) > maxGeneratedTitleChars {
		title = string(runes[:maxGeneratedTitleChars])
	}
	if err := g.store.UpdateConversationTitle(ctx, conversationID, title); err != nil {
		slog.Warn("ws: set conversation title failed", "conversation_id", conversationID, "error", err)
	}
}

func deriveTitle(text string) string {
	title := strings.TrimSpace(text)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	runes := []rune(title)
	if len(runes) > maxTitleChars {
		title = string(runes[:maxTitleChars]) + "…"
	}
	return title
}

func containsAgent(agents []*domain.Agent, agentID string) bool {
	for _, a := range agents {
		if a.ID == agentID {
			return true
		}
	}
	return false
}
