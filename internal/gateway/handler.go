package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ariavoice/aria/internal/agent"
	"github.com/ariavoice/aria/internal/config"
	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/frames"
	"github.com/ariavoice/aria/internal/media"
	"github.com/ariavoice/aria/internal/orchestrator"
	"github.com/ariavoice/aria/internal/protocol"
	"github.com/ariavoice/aria/internal/store"
	"github.com/ariavoice/aria/internal/tools"
	"github.com/ariavoice/aria/internal/vision"
)

// Transcriber is the speech-to-text surface for audio_input events.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// Titler writes short conversation titles with the summary model.
type Titler interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
}

// Gateway terminates session channels and routes incoming events to the
// owning component.
type Gateway struct {
	cfg        *config.Config
	store      *store.Store
	frames     *frames.Manager
	runtime    *agent.Runtime
	orch       *orchestrator.Orchestrator
	approvals  *tools.ApprovalBroker
	titler     Titler
	asr        Transcriber
	detector   vision.Detector
	mediaIndex media.Resolver
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

func New(
	cfg *config.Config,
	st *store.Store,
	fm *frames.Manager,
	rt *agent.Runtime,
	orch *orchestrator.Orchestrator,
	approvals *tools.ApprovalBroker,
	titler Titler,
	transcriber Transcriber,
	detector vision.Detector,
	mediaIndex media.Resolver,
) *Gateway {
	return &Gateway{
		cfg:        cfg,
		store:      st,
		frames:     fm,
		runtime:    rt,
		orch:       orch,
		approvals:  approvals,
		titler:     titler,
		asr:        transcriber,
		detector:   detector,
		mediaIndex: mediaIndex,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

func (g *Gateway) clientFor(userID string) *client {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[userID]
	if !ok {
		c = newClient(userID, g)
		g.clients[userID] = c
	}
	return c
}

func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := VerifyToken(g.cfg.Auth.JWTSecret, bearerToken(r))
	if err != nil {
		slog.Warn("ws: auth failed", "error", err)
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if _, err := g.store.GetUser(r.Context(), userID); err != nil {
		slog.Warn("ws: unknown user in token", "user_id", userID, "error", err)
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws: upgrade error", "error", err)
		return
	}

	c := g.clientFor(userID)
	session := newSession(conn)
	prior, backlog := c.attach(session)
	if prior != nil {
		slog.Info("ws: superseding previous channel", "user_id", userID)
		prior.closeWith(CloseSuperseded, "superseded")
	}

	// Snapshot first, then the events that accumulated while disconnected.
	if data, err := protocol.Encode(protocol.EventConnected, c.snapshot()); err == nil {
		session.send(data)
	}
	for _, data := range backlog {
		session.send(data)
	}
	slog.Info("ws: session open", "user_id", userID, "flushed", len(backlog))

	g.readLoop(c, session)

	c.detach(session)
	session.closeWith(websocket.CloseNormalClosure, "")
	slog.Info("ws: session closed", "user_id", userID)
}

func (g *Gateway) readLoop(c *client, session *Session) {
	for {
		_, data, err := session.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("ws: read error", "error", err)
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("ws: bad envelope", "error", err)
			c.Emit(context.Background(), protocol.EventError, protocol.ErrorEvent{
				Error: "malformed event", Code: "bad_request",
			})
			continue
		}

		g.dispatch(c, session, env)
	}
}

// dispatch routes one incoming event. Long-running work (chat, audio) runs
// on its own goroutine with a detached context so it survives a disconnect;
// everything else is handled inline in arrival order.
func (g *Gateway) dispatch(c *client, session *Session, env *protocol.Envelope) {
	switch env.Type {
	case protocol.EventChatRequest:
		req, err := protocol.DecodeBody[protocol.ChatRequest](env)
		if err != nil {
			c.emitError(err)
			return
		}
		go g.handleChat(c, req)

	case protocol.EventCancel:
		c.cancelTurn()

	case protocol.EventToolApprovalResponse:
		resp, err := protocol.DecodeBody[protocol.ToolApprovalResponse](env)
		if err != nil {
			c.emitError(err)
			return
		}
		if !g.approvals.Resolve(*resp) {
			slog.Info("ws: approval response with no waiter", "approval_id", resp.ApprovalID)
		}

	case protocol.EventAudioInput:
		in, err := protocol.DecodeBody[protocol.AudioInput](env)
		if err != nil {
			c.emitError(err)
			return
		}
		go g.handleAudio(c, in)

	case protocol.EventVisionStart:
		opts, err := protocol.DecodeBody[protocol.VisionStart](env)
		if err != nil {
			c.emitError(err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.matcher.Refresh(ctx, g.store, c.userID); err != nil {
			slog.Warn("ws: face cache refresh failed", "error", err)
		}
		c.vision.Start(vision.Options{
			Face:  opts.EnableFace,
			Pose:  opts.EnablePose,
			Hands: opts.EnableHands,
		})

	case protocol.EventVisionFrame:
		frame, err := protocol.DecodeBody[protocol.VisionFrame](env)
		if err != nil {
			return
		}
		c.vision.Submit(frame.Frame)

	case protocol.EventVisionStop:
		c.vision.Stop()

	case protocol.EventMediaPlay:
		req, err := protocol.DecodeBody[protocol.MediaPlay](env)
		if err != nil {
			c.emitError(err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = c.mediaPlayer().Play(ctx, req.Query)

	case protocol.EventMediaQueueAdd:
		req, err := protocol.DecodeBody[protocol.MediaQueueAdd](env)
		if err != nil {
			c.emitError(err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = c.mediaPlayer().QueueAdd(ctx, req.Query)

	case protocol.EventMediaQueueRemove:
		req, err := protocol.DecodeBody[protocol.MediaQueueRemove](env)
		if err != nil {
			c.emitError(err)
			return
		}
		if err := c.mediaPlayer().QueueRemove(req.Index); err != nil {
			c.Emit(context.Background(), protocol.EventMediaError, protocol.ErrorEvent{Error: err.Error()})
		}

	case protocol.EventMediaPause:
		c.mediaPlayer().Pause()
	case protocol.EventMediaResume:
		c.mediaPlayer().Resume()
	case protocol.EventMediaSkip:
		c.mediaPlayer().Skip()
	case protocol.EventMediaStop:
		c.mediaPlayer().Stop()

	case protocol.EventMediaVolume:
		req, err := protocol.DecodeBody[protocol.MediaVolume](env)
		if err != nil {
			c.emitError(err)
			return
		}
		if err := c.mediaPlayer().SetVolume(req.Volume); err != nil {
			c.Emit(context.Background(), protocol.EventMediaError, protocol.ErrorEvent{Error: err.Error()})
		}

	case protocol.EventPong:
		session.pong()

	default:
		slog.Warn("ws: unhandled event type", "type", env.Type)
	}
}

func (c *client) emitError(err error) {
	c.Emit(context.Background(), protocol.EventError, protocol.ErrorEvent{
		Error: err.Error(),
		Code:  domain.ErrorCode(err),
	})
}
