// Package frames manages session windows within a conversation: rollover
// when a frame goes idle, plus the background summarize and agent-memory
// consolidation jobs that run when a frame closes.
package frames

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/id"
	"github.com/ariavoice/aria/internal/store"
)

var tracer = otel.Tracer("aria/frames")

// MaxMemoryChars caps consolidated agent memory.
const MaxMemoryChars = 4000

const backgroundJobTimeout = 2 * time.Minute

// Completer is the non-streaming LLM surface the background jobs use.
type Completer interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
}

type Manager struct {
	store         *store.Store
	llm           Completer
	idleThreshold time.Duration

	mu     sync.Mutex
	closed map[string]struct{} // frame ids whose close jobs already ran
}

func NewManager(st *store.Store, llm Completer, idleThreshold time.Duration) *Manager {
	return &Manager{
		store:         st,
		llm:           llm,
		idleThreshold: idleThreshold,
		closed:        make(map[string]struct{}),
	}
}

// EnsureOpenFrame returns the frame the next message should land in. A
// conversation with no frames gets its first one; a frame whose newest
// message is older than the idle threshold is closed and replaced, and the
// closing frame's background jobs are scheduled exactly once.
func (m *Manager) EnsureOpenFrame(ctx context.Context, user *domain.User, conversationID string) (*domain.Frame, error) {
	current, lastActivity, err := m.store.CurrentFrame(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return m.openFrame(ctx, conversationID)
	}
	if err != nil {
		return nil, err
	}

	idleSince := current.CreatedAt
	if lastActivity != nil {
		idleSince = *lastActivity
	}
	if time.Since(idleSince) <= m.idleThreshold {
		return current, nil
	}

	next, err := m.openFrame(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	slog.Info("frames: rolled over idle frame",
		"conversation_id", conversationID,
		"closed_frame", current.ID,
		"new_frame", next.ID,
		"idle", time.Since(idleSince).Round(time.Second))

	m.scheduleCloseJobs(user, current)
	return next, nil
}

func (m *Manager) openFrame(ctx context.Context, conversationID string) (*domain.Frame, error) {
	now := time.Now().UTC()
	frame := &domain.Frame{
		ID:             id.NewFrame(),
		ConversationID: conversationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.CreateFrame(ctx, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// scheduleCloseJobs fires the summarize and consolidate jobs for a closing
// frame, at most once per frame id. The jobs run on detached contexts so
// they survive the request that triggered the rollover.
func (m *Manager) scheduleCloseJobs(user *domain.User, frame *domain.Frame) {
	m.mu.Lock()
	if _, done := m.closed[frame.ID]; done {
		m.mu.Unlock()
		return
	}
	m.closed[frame.ID] = struct{}{}
	m.mu.Unlock()

	if user.SummaryModel == nil || *user.SummaryModel == "" {
		return
	}
	model := *user.SummaryModel

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundJobTimeout)
		defer cancel()
		if err := m.summarize(ctx, model, frame); err != nil {
			slog.Error("frames: summarize failed", "frame_id", frame.ID, "error", err)
		}
	}()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundJobTimeout)
		defer cancel()
		if err := m.consolidateMemories(ctx, user, model, frame); err != nil {
			slog.Error("frames: memory consolidation failed", "frame_id", frame.ID, "error", err)
		}
	}()
}

const summarySystemPrompt = `Summarize the following conversation excerpt in a few sentences.
Keep concrete facts, decisions, names, and open questions. Write in the third person.`

func (m *Manager) summarize(ctx context.Context, model string, frame *domain.Frame) error {
	ctx, span := tracer.Start(ctx, "frames.summarize")
	defer span.End()
	span.SetAttributes(attribute.String("frame.id", frame.ID))

	msgs, err := m.store.ListFrameMessages(ctx, frame.ID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	summary, err := m.llm.Complete(ctx, model, summarySystemPrompt, renderTranscript(msgs))
	if err != nil {
		return err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil
	}

	return m.store.UpdateFrameSummary(ctx, frame.ID, summary)
}

const memorySystemPrompt = `You maintain the long-term memory of an assistant agent.
Merge the agent's existing memory with what happened in the conversation below.
Keep durable facts about the user and their world; drop chit-chat. Answer with
the full updated memory text only, at most 4000 characters.`

// consolidateMemories updates the memory of every agent that spoke in the
// closing frame. Re-running with the same inputs writes the same memory, so
// a retried job is harmless.
func (m *Manager) consolidateMemories(ctx context.Context, user *domain.User, model string, frame *domain.Frame) error {
	ctx, span := tracer.Start(ctx, "frames.consolidate")
	defer span.End()
	span.SetAttributes(attribute.String("frame.id", frame.ID))

	msgs, err := m.store.ListFrameMessages(ctx, frame.ID)
	if err != nil {
		return err
	}

	participants := map[string]struct{}{}
	for _, msg := range msgs {
		if msg.AgentID != nil {
			participants[*msg.AgentID] = struct{}{}
		}
	}
	if len(participants) == 0 {
		return nil
	}

	transcript := renderTranscript(msgs)
	var errs []error
	for agentID := range participants {
		agent, err := m.store.GetAgent(ctx, agentID, user.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		prompt := fmt.Sprintf("Agent persona:\n%s\n\nExisting memory:\n%s\n\nConversation:\n%s",
			agent.SystemPrompt, agent.Memory, transcript)
		memory, err := m.llm.Complete(ctx, model, memorySystemPrompt, prompt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		memory = clampRunes(strings.TrimSpace(memory), MaxMemoryChars)
		if memory == "" {
			continue
		}
		if err := m.store.UpdateAgentMemory(ctx, agentID, memory); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func renderTranscript(msgs []*domain.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		if msg.Role == domain.RoleTool {
			continue
		}
		speaker := msg.Role
		if msg.SpeakerName != nil && *msg.SpeakerName != "" {
			speaker = *msg.SpeakerName
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, msg.Content)
	}
	return b.String()
}

func clampRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
