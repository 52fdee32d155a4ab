// Package domain holds the core entities and error kinds shared across the server.
package domain

import "time"

type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	PasswordHash  string     `json:"-"`
	SystemPrompt  string     `json:"system_prompt"`
	PreferredName string     `json:"preferred_name"`
	DefaultModel  string     `json:"default_model_url"`
	SummaryModel  *string    `json:"summary_model,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DeletedAt     *time.Time `json:"-"`
}

// AdministratorAgentName is the reserved per-user routing agent. It cannot be
// renamed or deleted, and its tool exclusions may not be broadened beyond the
// routing tools.
const AdministratorAgentName = "Administrator"

// Routing tool names. Declared here rather than in the tools package so the
// store can validate Administrator exclusions without a dependency cycle.
const (
	RouteToAgentTool = "route_to_agent"
	RouteToUserTool  = "route_to_user"
)

func IsRoutingToolName(name string) bool {
	return name == RouteToAgentTool || name == RouteToUserTool
}

type Agent struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	SystemPrompt   string    `json:"system_prompt"`
	ModelName      string    `json:"model_name"`
	VoiceReference *string   `json:"voice_reference,omitempty"`
	Avatar         *string   `json:"avatar,omitempty"`
	ExcludedTools  []string  `json:"excluded_tools"`
	ThinkMode      bool      `json:"think_mode"`
	Memory         string    `json:"memory,omitempty"`
	TriggerWord    *string   `json:"trigger_word,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (a *Agent) IsAdministrator() bool {
	return a.Name == AdministratorAgentName
}

func (a *Agent) Excludes(tool string) bool {
	for _, t := range a.ExcludedTools {
		if t == tool {
			return true
		}
	}
	return false
}

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Frame is a session window of a conversation. A new frame opens once the
// newest message of the current frame is older than the idle threshold.
type Frame struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Summary        *string   `json:"summary,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Message struct {
	ID          string     `json:"id"`
	FrameID     string     `json:"frame_id"`
	AgentID     *string    `json:"agent_id,omitempty"`
	Role        string     `json:"role"` // user, assistant, tool
	Content     string     `json:"content"`
	Thinking    string     `json:"thinking,omitempty"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID  *string    `json:"tool_call_id,omitempty"` // set on tool-role results
	Images      []string   `json:"images,omitempty"`       // blob UUIDs
	RawInput    *string    `json:"raw_input,omitempty"`
	RawOutput   *string    `json:"raw_output,omitempty"`
	SpeakerName *string    `json:"speaker_name,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ToolCall is an LLM-emitted request to invoke a named function.
// Arguments is the raw JSON argument string as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Skill struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	CreatedAt    time.Time `json:"created_at"`
}

type MCPServer struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Name      string            `json:"name"`
	Transport string            `json:"transport"` // sse, stdio
	URL       string            `json:"url,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Enabled   bool              `json:"enabled"`
	CreatedAt time.Time         `json:"created_at"`
}

// EmbeddingDim is the fixed length of face embedding vectors.
const EmbeddingDim = 512

type FaceIdentity struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type FacePhoto struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	Embedding  []float32 `json:"-"`
	PhotoUUID  string    `json:"photo_uuid"`
	CreatedAt  time.Time `json:"created_at"`
}

// OrchestrationSession records the hop log of one group-discussion turn.
type OrchestrationSession struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type OrchestrationHop struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	FromAgent string    `json:"from_agent"`
	ToAgent   string    `json:"to_agent"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

const (
	MCPTransportSSE   = "sse"
	MCPTransportStdio = "stdio"
)
