package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ariavoice/aria/internal/protocol"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 10 * time.Second
	outboxSize   = 256
)

// Close codes for the session channel.
const (
	CloseUnauthenticated = 4401
	CloseSuperseded      = 4409
	CloseHeartbeatLost   = 4408
)

// Session is one live channel. The writer goroutine owns all writes to the
// connection, including pings; readers never write.
type Session struct {
	conn   *websocket.Conn
	outbox chan []byte
	pongs  chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newSession(conn *websocket.Conn) *Session {
	s := &Session{
		conn:   conn,
		outbox: make(chan []byte, outboxSize),
		pongs:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// send enqueues one frame, dropping the oldest queued frame when the outbox
// is full. Never blocks.
func (s *Session) send(data []byte) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.outbox <- data:
		return
	default:
	}

	select {
	case <-s.outbox:
		slog.Warn("ws: outbox full, dropped oldest event")
	default:
	}
	select {
	case s.outbox <- data:
	default:
	}
}

// pong acknowledges a heartbeat from the client.
func (s *Session) pong() {
	select {
	case s.pongs <- struct{}{}:
	default:
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ping, _ := protocol.Encode(protocol.EventPing, nil)
	var pongDeadline <-chan time.Time

	for {
		select {
		case data := <-s.outbox:
			if err := s.write(data); err != nil {
				slog.Warn("ws: write failed", "error", err)
				s.closeWith(websocket.CloseAbnormalClosure, "write failed")
				return
			}

		case <-ticker.C:
			if err := s.write(ping); err != nil {
				s.closeWith(websocket.CloseAbnormalClosure, "write failed")
				return
			}
			if pongDeadline == nil {
				pongDeadline = time.After(pongTimeout)
			}

		case <-s.pongs:
			pongDeadline = nil

		case <-pongDeadline:
			slog.Info("ws: heartbeat lost, closing session")
			s.closeWith(CloseHeartbeatLost, "heartbeat-lost")
			return

		case <-s.done:
			return
		}
	}
}

func (s *Session) write(data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// closeWith sends a close frame and tears the channel down. Safe to call
// more than once.
func (s *Session) closeWith(code int, reason string) {
	s.once.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(code, reason)
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
		_ = s.conn.Close()
	})
}

// closed reports whether the channel has been torn down.
func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
