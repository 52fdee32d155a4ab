package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/id"
	"github.com/ariavoice/aria/internal/protocol"
)

// approvalTimeout is how long a high-risk invocation waits for the client
// before it is treated as denied.
const approvalTimeout = 60 * time.Second

type approvalAnswer struct {
	approved     bool
	modifiedArgs string
}

// ApprovalBroker pairs outgoing tool_approval_request events with the
// client's responses. One broker serves all sessions.
type ApprovalBroker struct {
	mu      sync.Mutex
	pending map[string]chan approvalAnswer
}

func NewApprovalBroker() *ApprovalBroker {
	return &ApprovalBroker{pending: make(map[string]chan approvalAnswer)}
}

// Request emits an approval request and blocks until the client answers,
// the timeout lapses, or ctx is cancelled. On approval with modified
// arguments, the replacement argument object is returned.
func (b *ApprovalBroker) Request(ctx context.Context, emitter protocol.Emitter, call domain.ToolCall, risk RiskLevel) (map[string]any, error) {
	approvalID := id.NewApproval()
	answer := make(chan approvalAnswer, 1)

	b.mu.Lock()
	b.pending[approvalID] = answer
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, approvalID)
		b.mu.Unlock()
	}()

	emitter.Emit(ctx, protocol.EventToolApprovalRequest, protocol.ToolApprovalRequest{
		ApprovalID:  approvalID,
		ToolName:    call.Name,
		ToolArgs:    call.Arguments,
		Description: fmt.Sprintf("Allow %s to run?", call.Name),
		RiskLevel:   string(risk),
	})
	slog.Info("tools: approval requested", "approval_id", approvalID, "tool", call.Name)

	select {
	case resp := <-answer:
		if !resp.approved {
			return nil, fmt.Errorf("tool %s rejected by user: %w", call.Name, domain.ErrToolDenied)
		}
		if resp.modifiedArgs == "" {
			return nil, nil
		}
		args := map[string]any{}
		if err := json.Unmarshal([]byte(resp.modifiedArgs), &args); err != nil {
			return nil, fmt.Errorf("tool %s: invalid modified arguments: %w", call.Name, err)
		}
		return args, nil
	case <-time.After(approvalTimeout):
		return nil, fmt.Errorf("tool %s approval timed out: %w", call.Name, domain.ErrToolDenied)
	case <-ctx.Done():
		return nil, fmt.Errorf("tool %s approval: %w", call.Name, domain.ErrCancelled)
	}
}

// Resolve delivers a client response. Returns false when no request is
// waiting under that ID (late or duplicate answers are dropped).
func (b *ApprovalBroker) Resolve(resp protocol.ToolApprovalResponse) bool {
	b.mu.Lock()
	answer, ok := b.pending[resp.ApprovalID]
	if ok {
		delete(b.pending, resp.ApprovalID)
	}
	b.mu.Unlock()
	if !ok {
		slog.Warn("tools: approval response without pending request", "approval_id", resp.ApprovalID)
		return false
	}
	answer <- approvalAnswer{approved: resp.Approved, modifiedArgs: resp.ModifiedArgs}
	return true
}
