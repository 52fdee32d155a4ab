package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ariavoice/aria/internal/media"
	"github.com/ariavoice/aria/internal/mcp"
	"github.com/ariavoice/aria/internal/protocol"
	"github.com/ariavoice/aria/internal/vision"
)

// client is the per-user state that outlives individual channel connects:
// the pending event queue, the media player, the MCP orchestrator, and the
// vision pipeline. It implements protocol.Emitter for every component that
// produces events toward this user.
type client struct {
	userID  string
	gateway *Gateway

	mu      sync.Mutex
	session *Session
	pending pendingQueue

	chatActive     bool
	conversationID string
	turnCancel     context.CancelFunc

	player  *media.Player
	mcpOrch *mcp.Orchestrator
	matcher *vision.Matcher
	vision  *vision.Pipeline
}

func newClient(userID string, gw *Gateway) *client {
	c := &client{userID: userID, gateway: gw}
	c.matcher = vision.NewMatcher()
	c.vision = vision.NewPipeline(gw.detector, c.matcher, c)
	c.mcpOrch = mcp.NewOrchestrator(gw.store, userID)
	return c
}

// Emit encodes and delivers one server event. With no channel attached the
// event lands in the pending queue for the next connect.
func (c *client) Emit(_ context.Context, typ protocol.EventType, body any) {
	data, err := protocol.Encode(typ, body)
	if err != nil {
		slog.Error("ws: encode event", "type", typ, "error", err)
		return
	}

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil || session.closed() {
		c.pending.push(typ, data)
		return
	}
	session.send(data)
}

// attach installs a new channel, superseding any previous one, and returns
// the session plus the events queued during the gap.
func (c *client) attach(s *Session) (prior *Session, backlog [][]byte) {
	c.mu.Lock()
	prior = c.session
	c.session = s
	c.mu.Unlock()
	return prior, c.pending.drain()
}

// detach clears the session if it is still the given one. A session already
// replaced by a newer connect is left alone.
func (c *client) detach(s *Session) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
}

// mediaPlayer returns the user's player, creating it on first use.
func (c *client) mediaPlayer() *media.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.player == nil {
		c.player = media.NewPlayer(c.gateway.mediaIndex, c)
	}
	return c.player
}

// currentMedia returns the player if one exists, without creating it.
func (c *client) currentMedia() *media.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player
}

// beginTurn claims the single chat slot. Only one turn runs per user.
func (c *client) beginTurn(conversationID string, cancel context.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chatActive {
		return false
	}
	c.chatActive = true
	c.conversationID = conversationID
	c.turnCancel = cancel
	return true
}

func (c *client) endTurn() {
	c.mu.Lock()
	c.chatActive = false
	c.turnCancel = nil
	c.mu.Unlock()
}

func (c *client) cancelTurn() {
	c.mu.Lock()
	cancel := c.turnCancel
	c.mu.Unlock()
	if cancel != nil {
		slog.Info("ws: turn cancelled", "user_id", c.userID)
		cancel()
	}
}

// snapshot builds the connected event for a fresh channel.
func (c *client) snapshot() protocol.Connected {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := protocol.Connected{
		ChatActive:    c.chatActive,
		VisionEnabled: c.vision.Enabled(),
	}
	if c.chatActive {
		snap.ConversationID = c.conversationID
	}
	if c.player != nil {
		state := c.player.State()
		snap.MediaState = &state
	}
	return snap
}
