package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/llm"
)

// buildSystemMessages assembles the system context for one turn, in fixed
// order: agent identity, the user's global prompt, preferred-name and clock
// hints, agent memory, skill names, and the other agents of the user.
func buildSystemMessages(turn *Turn, now time.Time) []llm.Message {
	var parts []string

	identity := fmt.Sprintf("You are %s.", turn.Agent.Name)
	if turn.Agent.SystemPrompt != "" {
		identity += "\n" + turn.Agent.SystemPrompt
	}
	parts = append(parts, identity)

	if turn.User.SystemPrompt != "" {
		parts = append(parts, turn.User.SystemPrompt)
	}

	hints := fmt.Sprintf("Current time: %s.", now.Format("Monday, 2 January 2006, 15:04 MST"))
	if turn.User.PreferredName != "" {
		hints = fmt.Sprintf("The user prefers to be called %s. %s", turn.User.PreferredName, hints)
	}
	parts = append(parts, hints)

	if turn.Agent.Memory != "" {
		parts = append(parts, "Your memory of this user:\n"+turn.Agent.Memory)
	}

	if len(turn.Skills) > 0 {
		names := make([]string, 0, len(turn.Skills))
		for _, s := range turn.Skills {
			names = append(names, s.Name)
		}
		parts = append(parts, "Available skills (fetch instructions with get_skill_instructions): "+
			strings.Join(names, ", "))
	}

	if len(turn.OtherAgents) > 0 {
		var b strings.Builder
		b.WriteString("Other agents in this workspace:\n")
		for _, a := range turn.OtherAgents {
			if a.ID == turn.Agent.ID {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", a.Name, firstLine(a.SystemPrompt))
		}
		parts = append(parts, strings.TrimRight(b.String(), "\n"))
	}

	messages := make([]llm.Message, 0, len(parts))
	for _, p := range parts {
		messages = append(messages, llm.Message{Role: "system", Content: p})
	}
	return messages
}

// historyMessages converts the current frame's persisted messages into LLM
// turns, dropping other agents' system chatter and attaching image
// references on user messages.
func historyMessages(msgs []*domain.Message) []llm.Message {
	var out []llm.Message
	for _, msg := range msgs {
		switch msg.Role {
		case domain.RoleUser:
			out = append(out, llm.Message{
				Role:    "user",
				Content: msg.Content,
				Images:  msg.Images,
			})
		case domain.RoleAssistant:
			m := llm.Message{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: msg.ToolCalls,
			}
			if msg.SpeakerName != nil {
				m.Name = sanitizeName(*msg.SpeakerName)
			}
			out = append(out, m)
		case domain.RoleTool:
			toolCallID := ""
			if msg.ToolCallID != nil {
				toolCallID = *msg.ToolCallID
			}
			out = append(out, llm.Message{
				Role:       "tool",
				Content:    msg.Content,
				ToolCallID: toolCallID,
			})
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		s = "(no description)"
	}
	return s
}

// sanitizeName restricts speaker names to what chat APIs accept.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
