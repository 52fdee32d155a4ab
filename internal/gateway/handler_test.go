package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariavoice/aria/internal/agent"
	"github.com/ariavoice/aria/internal/config"
	"github.com/ariavoice/aria/internal/frames"
	"github.com/ariavoice/aria/internal/llm"
	"github.com/ariavoice/aria/internal/orchestrator"
	"github.com/ariavoice/aria/internal/protocol"
	"github.com/ariavoice/aria/internal/store"
	"github.com/ariavoice/aria/internal/tools"
)

type silentStreamer struct{}

func (silentStreamer) Stream(context.Context, llm.Request) <-chan llm.StreamEvent {
	ch := make(chan llm.StreamEvent)
	close(ch)
	return ch
}

func newTestGateway(t *testing.T) (*Gateway, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	mock.MatchExpectationsInOrder(false)

	st := store.New(mock)
	approvals := tools.NewApprovalBroker()
	rt := agent.NewRuntime(st, tools.NewRegistry(st, approvals), silentStreamer{}, nil)
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "test-secret"

	return New(cfg, st,
		frames.NewManager(st, nil, 30*time.Minute),
		rt, orchestrator.New(st, rt),
		approvals, nil, nil, nil, nil), mock
}

func expectGetUser(mock pgxmock.PgxPoolIface, times int) {
	for i := 0; i < times; i++ {
		mock.ExpectQuery("FROM users").
			WithArgs("usr_1").
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "name", "password_hash", "system_prompt", "preferred_name",
				"default_model_url", "summary_model", "created_at",
			}).AddRow("usr_1", "sam", "", "", "Sam", "qwen3", nil, time.Now()))
	}
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp
}

func readEvent(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func TestConnectRequiresValidToken(t *testing.T) {
	g, _ := newTestGateway(t)
	srv := httptest.NewServer(g)
	defer srv.Close()

	conn, resp := dial(t, srv, "bogus")
	assert.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectSendsSnapshotFirst(t *testing.T) {
	g, mock := newTestGateway(t)
	expectGetUser(mock, 1)
	srv := httptest.NewServer(g)
	defer srv.Close()

	token, err := IssueToken("test-secret", "usr_1", time.Hour)
	require.NoError(t, err)

	conn, _ := dial(t, srv, token)
	require.NotNil(t, conn)

	env := readEvent(t, conn)
	assert.Equal(t, protocol.EventConnected, env.Type)
	snap, err := protocol.DecodeBody[protocol.Connected](env)
	require.NoError(t, err)
	assert.False(t, snap.ChatActive)
	assert.False(t, snap.VisionEnabled)
	assert.Nil(t, snap.MediaState)
}

func TestReconnectSupersedesAndFlushesBacklog(t *testing.T) {
	g, mock := newTestGateway(t)
	expectGetUser(mock, 2)
	srv := httptest.NewServer(g)
	defer srv.Close()

	token, err := IssueToken("test-secret", "usr_1", time.Hour)
	require.NoError(t, err)

	first, _ := dial(t, srv, token)
	require.NotNil(t, first)
	require.Equal(t, protocol.EventConnected, readEvent(t, first).Type)

	// Simulate events produced while the channel is gone: detach the
	// session server-side and emit.
	c := g.clientFor("usr_1")
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()
	c.Emit(context.Background(), protocol.EventTranscription, protocol.Transcription{Text: "queued while away"})
	c.Emit(context.Background(), protocol.EventVisionResult, protocol.VisionResult{})
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	second, _ := dial(t, srv, token)
	require.NotNil(t, second)

	// The first channel gets closed with the superseded code.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := first.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, CloseSuperseded, closeErr.Code)
			break
		}
	}

	// The new channel sees the snapshot, then the backlog; the vision
	// result was never buffered.
	require.Equal(t, protocol.EventConnected, readEvent(t, second).Type)
	env := readEvent(t, second)
	require.Equal(t, protocol.EventTranscription, env.Type)
	tr, err := protocol.DecodeBody[protocol.Transcription](env)
	require.NoError(t, err)
	assert.Equal(t, "queued while away", tr.Text)
}

func TestPongKeepsHeartbeatQuiet(t *testing.T) {
	s := &Session{pongs: make(chan struct{}, 1)}
	s.pong()
	s.pong() // second pong must not block
	select {
	case <-s.pongs:
	default:
		t.Fatal("pong was not recorded")
	}
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "hello", deriveTitle("  hello  "))
	assert.Equal(t, "first line", deriveTitle("first line\nsecond line"))
	long := strings.Repeat("a", 100)
	assert.Equal(t, strings.Repeat("a", maxTitleChars)+"…", deriveTitle(long))
}
