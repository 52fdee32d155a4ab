package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/llm"
	"github.com/ariavoice/aria/internal/protocol"
	"github.com/ariavoice/aria/internal/store"
	"github.com/ariavoice/aria/internal/tools"
)

type scriptedStreamer struct {
	mu      sync.Mutex
	scripts [][]llm.StreamEvent
}

func (s *scriptedStreamer) Stream(_ context.Context, _ llm.Request) <-chan llm.StreamEvent {
	s.mu.Lock()
	var script []llm.StreamEvent
	if len(s.scripts) > 0 {
		script = s.scripts[0]
		s.scripts = s.scripts[1:]
	}
	s.mu.Unlock()

	ch := make(chan llm.StreamEvent, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch
}

type recordingEmitter struct {
	mu     sync.Mutex
	chunks []protocol.StreamChunk
	types  []protocol.EventType
}

func (r *recordingEmitter) Emit(_ context.Context, typ protocol.EventType, body any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, typ)
	if c, ok := body.(protocol.StreamChunk); ok {
		r.chunks = append(r.chunks, c)
	}
}

func contentDelta(text string) llm.StreamEvent {
	return llm.StreamEvent{Delta: &llm.Delta{Content: text}}
}

func newTestTurn(emitter protocol.Emitter) *Turn {
	return &Turn{
		User:         &domain.User{ID: "usr_1", DefaultModel: "qwen3"},
		Agent:        &domain.Agent{ID: "agt_1", Name: "Aria"},
		Conversation: &domain.Conversation{ID: "conv_1", UserID: "usr_1"},
		Frame:        &domain.Frame{ID: "frm_1", ConversationID: "conv_1"},
		Env:          tools.Env{UserID: "usr_1", ConversationID: "conv_1", FrameID: "frm_1", Emitter: emitter},
	}
}

func newTestRuntime(t *testing.T, streamer Streamer) (*Runtime, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	mock.MatchExpectationsInOrder(false)

	st := store.New(mock)
	return NewRuntime(st, tools.NewRegistry(st, tools.NewApprovalBroker()), streamer, nil), mock
}

// anyArgs builds a matcher list for statements whose values are not the
// point of the test.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func expectEmptyHistory(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery("FROM messages").
		WithArgs("frm_1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "frame_id", "agent_id", "role", "content", "thinking",
			"tool_calls", "tool_call_id", "images", "raw_input", "raw_output",
			"speaker_name", "created_at", "updated_at",
		}))
}

func TestRunStreamsSentencesAndFinalizes(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.StreamEvent{{
		contentDelta("Hello"),
		contentDelta(" there. How"),
		contentDelta(" are you?"),
	}}}
	rt, mock := newTestRuntime(t, streamer)
	expectEmptyHistory(mock)
	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO messages").
			WithArgs(anyArgs(14)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	emitter := &recordingEmitter{}
	var states []State
	turn := newTestTurn(emitter)
	turn.OnState = func(s State) { states = append(states, s) }

	result, err := rt.Run(context.Background(), turn)
	require.NoError(t, err)
	require.NotNil(t, result.Message)
	assert.Equal(t, "Hello there. How are you?", result.Message.Content)
	assert.Nil(t, result.Route)

	require.Len(t, emitter.chunks, 2)
	assert.Equal(t, "Hello there.", emitter.chunks[0].Content)
	assert.Equal(t, " How are you?", emitter.chunks[1].Content)
	assert.Equal(t, "conv_1", emitter.chunks[0].ConversationID)

	assert.Contains(t, states, StatePreparing)
	assert.Contains(t, states, StateStreaming)
	assert.Contains(t, states, StateFinal)
	assert.NotContains(t, states, StateToolPending)
}

func TestRunInterceptsRouteToUser(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.StreamEvent{{
		{Delta: &llm.Delta{ToolCalls: []llm.ToolCallDelta{{
			Index: 0, ID: "call_1", Name: tools.RouteToUser,
			Arguments: `{"final_message":"All done."}`,
		}}}},
	}}}
	rt, mock := newTestRuntime(t, streamer)
	expectEmptyHistory(mock)
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := rt.Run(context.Background(), newTestTurn(&recordingEmitter{}))
	require.NoError(t, err)
	require.NotNil(t, result.Route)
	assert.Empty(t, result.Route.ToAgent)
	assert.Equal(t, "All done.", result.Route.FinalMessage)
}

func TestRunToolFailureRecordedAndLoopContinues(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.StreamEvent{
		{{Delta: &llm.Delta{ToolCalls: []llm.ToolCallDelta{{
			Index: 0, ID: "call_1", Name: "no_such_tool", Arguments: `{}`,
		}}}}},
		{contentDelta("Recovered anyway.")},
	}}
	rt, mock := newTestRuntime(t, streamer)
	expectEmptyHistory(mock)
	// Round one upsert, failed-tool message, round two upserts.
	for i := 0; i < 4; i++ {
		mock.ExpectExec("INSERT INTO messages").
			WithArgs(anyArgs(14)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	result, err := rt.Run(context.Background(), newTestTurn(&recordingEmitter{}))
	require.NoError(t, err)
	require.NotNil(t, result.Message)
	assert.Equal(t, "Recovered anyway.", result.Message.Content)
}

func TestRunCancellationPersistsPartialContent(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.StreamEvent{{
		contentDelta("Partial sentence"),
		{Err: fmt.Errorf("stream torn down: %w", domain.ErrCancelled)},
	}}}
	rt, mock := newTestRuntime(t, streamer)
	expectEmptyHistory(mock)
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	var states []State
	turn := newTestTurn(&recordingEmitter{})
	turn.OnState = func(s State) { states = append(states, s) }

	_, err := rt.Run(context.Background(), turn)
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.Contains(t, states, StateCancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunToolRoundCapSynthesizesRouteToUser(t *testing.T) {
	var scripts [][]llm.StreamEvent
	for i := 0; i < MaxToolRounds; i++ {
		scripts = append(scripts, []llm.StreamEvent{
			{Delta: &llm.Delta{ToolCalls: []llm.ToolCallDelta{{
				Index: 0, ID: fmt.Sprintf("call_%d", i), Name: "no_such_tool", Arguments: `{}`,
			}}}},
		})
	}
	rt, mock := newTestRuntime(t, &scriptedStreamer{scripts: scripts})
	expectEmptyHistory(mock)
	for i := 0; i < 2*MaxToolRounds; i++ {
		mock.ExpectExec("INSERT INTO messages").
			WithArgs(anyArgs(14)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	result, err := rt.Run(context.Background(), newTestTurn(&recordingEmitter{}))
	require.NoError(t, err)
	require.NotNil(t, result.Route)
	assert.Empty(t, result.Route.ToAgent)
	assert.Equal(t, "max tool rounds reached", result.Route.Reason)
}

func TestBuildSystemMessagesOrder(t *testing.T) {
	turn := &Turn{
		User: &domain.User{
			ID:            "usr_1",
			SystemPrompt:  "Global rules.",
			PreferredName: "Sam",
		},
		Agent: &domain.Agent{
			ID:           "agt_1",
			Name:         "Aria",
			SystemPrompt: "Be warm.",
			Memory:       "Sam likes jazz.",
		},
		Skills: []*domain.Skill{{Name: "cooking"}},
		OtherAgents: []*domain.Agent{
			{ID: "agt_2", Name: "Scout", SystemPrompt: "Research specialist.\nMore detail."},
		},
	}

	msgs := buildSystemMessages(turn, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	require.Len(t, msgs, 6)
	assert.Contains(t, msgs[0].Content, "You are Aria.")
	assert.Contains(t, msgs[0].Content, "Be warm.")
	assert.Equal(t, "Global rules.", msgs[1].Content)
	assert.Contains(t, msgs[2].Content, "Sam")
	assert.Contains(t, msgs[2].Content, "2026")
	assert.Contains(t, msgs[3].Content, "jazz")
	assert.Contains(t, msgs[4].Content, "cooking")
	assert.Contains(t, msgs[5].Content, "Scout: Research specialist.")
	assert.NotContains(t, msgs[5].Content, "More detail")
}
