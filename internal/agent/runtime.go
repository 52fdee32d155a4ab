// Package agent runs a single agent's conversational turn: prompt assembly,
// LLM streaming with sentence-level flushing, the bounded tool loop, and
// incremental persistence of the assistant message.
package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/id"
	"github.com/ariavoice/aria/internal/llm"
	"github.com/ariavoice/aria/internal/protocol"
	"github.com/ariavoice/aria/internal/store"
	"github.com/ariavoice/aria/internal/tools"
)

var tracer = otel.Tracer("aria/agent")

// MaxToolRounds bounds tool-use iterations within one user turn.
const MaxToolRounds = 10

// State tracks where a turn is in its lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StatePreparing   State = "preparing"
	StateStreaming   State = "streaming"
	StateToolPending State = "tool_pending"
	StateCancelled   State = "cancelled"
	StateFinal       State = "final"
)

// Streamer is the streaming LLM surface the runtime consumes.
type Streamer interface {
	Stream(ctx context.Context, req llm.Request) <-chan llm.StreamEvent
}

// Synthesizer renders a sentence of speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceReference string) ([]byte, error)
}

// Turn is everything one agent turn needs. The caller has already persisted
// the user message and resolved conversation, frame, and participants.
type Turn struct {
	User         *domain.User
	Agent        *domain.Agent
	Conversation *domain.Conversation
	Frame        *domain.Frame
	OtherAgents  []*domain.Agent
	Skills       []*domain.Skill
	Env          tools.Env

	// OnState observes lifecycle transitions. Optional.
	OnState func(State)
}

// RouteEffect is a routing tool call surfaced to the orchestrator instead
// of being executed.
type RouteEffect struct {
	ToAgent      string // empty means route_to_user
	Reason       string
	FinalMessage string
}

// Result is the outcome of a completed turn.
type Result struct {
	Message *domain.Message
	Route   *RouteEffect
}

type Runtime struct {
	store    *store.Store
	registry *tools.Registry
	llm      Streamer
	tts      Synthesizer
}

func NewRuntime(st *store.Store, registry *tools.Registry, streamer Streamer, tts Synthesizer) *Runtime {
	return &Runtime{store: st, registry: registry, llm: streamer, tts: tts}
}

// Run executes the tool loop for one turn. Stream chunks are emitted as
// sentences complete; each role boundary is durable before the next event
// goes out. On cancellation the accumulated content is persisted and
// ErrCancelled returned.
func (r *Runtime) Run(ctx context.Context, turn *Turn) (*Result, error) {
	ctx, span := tracer.Start(ctx, "agent.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", turn.Agent.ID),
		attribute.String("agent.name", turn.Agent.Name),
		attribute.String("conversation.id", turn.Conversation.ID),
	)

	setState := func(s State) {
		if turn.OnState != nil {
			turn.OnState(s)
		}
	}
	setState(StatePreparing)
	defer setState(StateIdle)

	messages := buildSystemMessages(turn, time.Now())
	history, err := r.store.ListFrameMessages(ctx, turn.Frame.ID)
	if err != nil {
		return nil, err
	}
	messages = append(messages, historyMessages(history)...)

	catalog := r.registry.Catalog(ctx, turn.Agent, turn.Env)
	llmTools := make([]llm.Tool, 0, len(catalog))
	for _, def := range catalog {
		llmTools = append(llmTools, llm.Tool{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Schema,
		})
	}

	speaker := r.newSpeaker(turn)
	defer speaker.close()

	model := turn.Agent.ModelName
	if model == "" {
		model = turn.User.DefaultModel
	}

	for round := 1; round <= MaxToolRounds; round++ {
		msg, err := r.streamRound(ctx, turn, llm.Request{
			Model:     model,
			Messages:  messages,
			Tools:     llmTools,
			ThinkMode: turn.Agent.ThinkMode,
		}, speaker, setState)
		if err != nil {
			return nil, err
		}

		if len(msg.ToolCalls) == 0 {
			setState(StateFinal)
			slog.Info("agent: turn complete",
				"agent", turn.Agent.Name, "rounds", round, "message_id", msg.ID)
			return &Result{Message: msg}, nil
		}

		if effect := routeEffect(msg.ToolCalls); effect != nil {
			setState(StateFinal)
			return &Result{Message: msg, Route: effect}, nil
		}

		setState(StateToolPending)
		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   msg.Content,
			ToolCalls: msg.ToolCalls,
		})

		for _, call := range msg.ToolCalls {
			toolMsg, err := r.runTool(ctx, turn, call)
			if err != nil {
				return nil, err
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    toolMsg.Content,
				ToolCallID: call.ID,
			})
		}
	}

	// Tool budget exhausted: force the turn back to the user.
	slog.Warn("agent: tool round cap reached", "agent", turn.Agent.Name)
	setState(StateFinal)
	return &Result{Route: &RouteEffect{
		FinalMessage: "I hit the limit of tool calls for this request. Here is what I have so far.",
		Reason:       "max tool rounds reached",
	}}, nil
}

// streamRound consumes one LLM stream into a persisted assistant message.
func (r *Runtime) streamRound(ctx context.Context, turn *Turn, req llm.Request, speaker *speaker, setState func(State)) (*domain.Message, error) {
	now := time.Now().UTC()
	msg := &domain.Message{
		ID:          id.NewMessage(),
		FrameID:     turn.Frame.ID,
		AgentID:     &turn.Agent.ID,
		Role:        domain.RoleAssistant,
		SpeakerName: &turn.Agent.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rawInput, err := json.Marshal(req.Messages); err == nil {
		s := string(rawInput)
		msg.RawInput = &s
	}

	var content, thinking, raw strings.Builder
	var toolCalls []domain.ToolCall
	var buffer SentenceBuffer
	started := false

	flush := func(sentence string) error {
		turn.Env.Emitter.Emit(ctx, protocol.EventStreamChunk, r.chunk(turn, msg, sentence, ""))
		speaker.enqueue(msg.ID, sentence)
		msg.Content = content.String()
		msg.Thinking = thinking.String()
		return r.store.UpsertStreamingMessage(ctx, msg)
	}

	for event := range r.llm.Stream(ctx, req) {
		if event.Err != nil {
			// Persist whatever accumulated before surfacing the failure.
			msg.Content = content.String() + buffer.Flush()
			msg.Thinking = thinking.String()
			if msg.Content != "" || msg.Thinking != "" {
				if perr := r.store.UpsertStreamingMessage(ctx, msg); perr != nil {
					slog.Error("agent: persist on stream failure", "error", perr)
				}
			}
			if errors.Is(event.Err, domain.ErrCancelled) {
				setState(StateCancelled)
			}
			return nil, event.Err
		}

		if !started {
			started = true
			setState(StateStreaming)
		}

		delta := event.Delta
		if delta.Thinking != "" {
			thinking.WriteString(delta.Thinking)
			turn.Env.Emitter.Emit(ctx, protocol.EventStreamChunk, r.chunk(turn, msg, "", delta.Thinking))
		}
		if delta.Content != "" {
			content.WriteString(delta.Content)
			raw.WriteString(delta.Content)
			for _, sentence := range buffer.Push(delta.Content) {
				if err := flush(sentence); err != nil {
					return nil, err
				}
			}
		}
		toolCalls = llm.AccumulateToolCalls(toolCalls, delta.ToolCalls)
	}

	if tail := buffer.Flush(); strings.TrimSpace(tail) != "" {
		turn.Env.Emitter.Emit(ctx, protocol.EventStreamChunk, r.chunk(turn, msg, tail, ""))
		speaker.enqueue(msg.ID, tail)
	}

	msg.Content = content.String()
	msg.Thinking = thinking.String()
	msg.ToolCalls = toolCalls
	if rawOutput := raw.String(); rawOutput != "" {
		msg.RawOutput = &rawOutput
	}
	if err := r.store.UpsertStreamingMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// runTool executes one tool call and persists its result as a tool-role
// message. Execution failures (including approval denials) become an error
// payload in the message body rather than aborting the turn.
func (r *Runtime) runTool(ctx context.Context, turn *Turn, call domain.ToolCall) (*domain.Message, error) {
	out, execErr := r.registry.Execute(ctx, call, turn.Env)
	if execErr != nil {
		if errors.Is(execErr, domain.ErrCancelled) {
			return nil, execErr
		}
		payload, _ := json.Marshal(map[string]string{"error": execErr.Error()})
		out = string(payload)
		slog.Warn("agent: tool failed", "tool", call.Name, "error", execErr)
	}

	now := time.Now().UTC()
	toolMsg := &domain.Message{
		ID:         id.NewMessage(),
		FrameID:    turn.Frame.ID,
		AgentID:    &turn.Agent.ID,
		Role:       domain.RoleTool,
		Content:    out,
		ToolCallID: &call.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.AppendMessage(ctx, toolMsg); err != nil {
		return nil, err
	}
	return toolMsg, nil
}

func (r *Runtime) chunk(turn *Turn, msg *domain.Message, content, thinking string) protocol.StreamChunk {
	return protocol.StreamChunk{
		Content:        content,
		Thinking:       thinking,
		Role:           domain.RoleAssistant,
		AgentID:        turn.Agent.ID,
		Name:           turn.Agent.Name,
		VoiceReference: turn.Agent.VoiceReference,
		ConversationID: turn.Conversation.ID,
		FrameID:        turn.Frame.ID,
	}
}

// routeEffect recognizes routing tool calls. The first routing call wins;
// any other calls in the same round are dropped.
func routeEffect(calls []domain.ToolCall) *RouteEffect {
	for _, call := range calls {
		if !tools.IsRoutingTool(call.Name) {
			continue
		}
		args := map[string]any{}
		_ = json.Unmarshal([]byte(call.Arguments), &args)
		if call.Name == tools.RouteToAgent {
			agentName, _ := args["agent_name"].(string)
			reason, _ := args["reason"].(string)
			return &RouteEffect{ToAgent: agentName, Reason: reason}
		}
		finalMessage, _ := args["final_message"].(string)
		return &RouteEffect{FinalMessage: finalMessage}
	}
	return nil
}

// speaker serializes sentence TTS jobs for one turn so audio events keep
// sentence order.
type speaker struct {
	jobs chan speechJob
	done chan struct{}
}

type speechJob struct {
	messageID string
	sentence  string
}

func (r *Runtime) newSpeaker(turn *Turn) *speaker {
	s := &speaker{done: make(chan struct{})}
	if turn.Agent.VoiceReference == nil || *turn.Agent.VoiceReference == "" || r.tts == nil {
		close(s.done)
		return s
	}

	s.jobs = make(chan speechJob, 32)
	voiceRef := *turn.Agent.VoiceReference

	go func() {
		defer close(s.done)
		for job := range s.jobs {
			// Detached from the turn: speech for already-persisted text
			// still plays after a client cancel.
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			audio, err := r.tts.Synthesize(ctx, job.sentence, voiceRef)
			cancel()
			if err != nil {
				slog.Warn("agent: tts failed", "error", err)
				continue
			}
			if len(audio) == 0 {
				continue
			}
			turn.Env.Emitter.Emit(context.Background(), protocol.EventSpeechAudio, protocol.SpeechAudio{
				Audio:     base64.StdEncoding.EncodeToString(audio),
				MessageID: job.messageID,
				Sentence:  job.sentence,
				AgentID:   turn.Agent.ID,
			})
		}
	}()
	return s
}

func (s *speaker) enqueue(messageID, sentence string) {
	if s.jobs == nil {
		return
	}
	select {
	case s.jobs <- speechJob{messageID: messageID, sentence: sentence}:
	default:
		slog.Warn("agent: tts queue full, dropping sentence")
	}
}

func (s *speaker) close() {
	if s.jobs != nil {
		close(s.jobs)
	}
	<-s.done
}
