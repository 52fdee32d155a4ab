package gateway

import (
	"sync"

	"github.com/ariavoice/aria/internal/protocol"
)

// queueHighWater bounds how many events accumulate while a user has no
// attached channel (the reconnect gap). Above it the oldest event drops.
const queueHighWater = 256

// pendingQueue buffers outbound events produced while no session channel is
// attached. Vision results are never buffered: by the time a client
// reconnects a stale frame result is worthless.
type pendingQueue struct {
	mu    sync.Mutex
	items [][]byte
}

func (q *pendingQueue) push(typ protocol.EventType, data []byte) {
	if typ == protocol.EventVisionResult {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= queueHighWater {
		q.items = q.items[1:]
	}
	q.items = append(q.items, data)
}

// drain removes and returns everything buffered, oldest first.
func (q *pendingQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *pendingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
