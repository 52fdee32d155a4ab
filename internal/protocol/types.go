// Package protocol defines the JSON event protocol spoken over the session
// channel, plus the payload types for every client and server event.
package protocol

// EventType discriminates envelopes on the wire.
type EventType string

// Client → server.
const (
	EventChatRequest          EventType = "chat_request"
	EventCancel               EventType = "cancel"
	EventToolApprovalResponse EventType = "tool_approval_response"
	EventAudioInput           EventType = "audio_input"
	EventVisionStart          EventType = "vision_start"
	EventVisionFrame          EventType = "vision_frame"
	EventVisionStop           EventType = "vision_stop"
	EventMediaPlay            EventType = "media_play"
	EventMediaPause           EventType = "media_pause"
	EventMediaResume          EventType = "media_resume"
	EventMediaSkip            EventType = "media_skip"
	EventMediaStop            EventType = "media_stop"
	EventMediaQueueAdd        EventType = "media_queue_add"
	EventMediaQueueRemove     EventType = "media_queue_remove"
	EventMediaVolume          EventType = "media_volume"
	EventPong                 EventType = "pong"
)

// Server → client.
const (
	EventConnected           EventType = "connected"
	EventStreamChunk         EventType = "stream_chunk"
	EventDone                EventType = "done"
	EventAgentSwitch         EventType = "agent_switch"
	EventToolApprovalRequest EventType = "tool_approval_request"
	EventTranscription       EventType = "transcription"
	EventSpeechAudio         EventType = "speech_audio"
	EventVisionResult        EventType = "vision_result"
	EventMediaState          EventType = "media_state"
	EventMediaChunk          EventType = "media_chunk"
	EventMediaError          EventType = "media_error"
	EventError               EventType = "error"
	EventPing                EventType = "ping"
)

type ChatRequest struct {
	Text           string   `json:"text"`
	ModelName      string   `json:"model_name,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	AgentID        string   `json:"agent_id,omitempty"`
	Images         []string `json:"images,omitempty"` // base64 jpeg/png
}

type ToolApprovalResponse struct {
	ApprovalID   string `json:"approval_id"`
	Approved     bool   `json:"approved"`
	ModifiedArgs string `json:"modified_args,omitempty"` // raw JSON, overrides tool args
}

type AudioInput struct {
	Audio      string `json:"audio"` // base64 pcm16 mono
	SampleRate int    `json:"sample_rate"`
}

type VisionStart struct {
	EnableFace  bool `json:"enable_face"`
	EnablePose  bool `json:"enable_pose"`
	EnableHands bool `json:"enable_hands"`
}

type VisionFrame struct {
	Frame string `json:"frame"` // base64 jpeg
}

type MediaPlay struct {
	Query string `json:"query"`
}

type MediaQueueAdd struct {
	Query string `json:"query"`
}

type MediaQueueRemove struct {
	Index int `json:"index"`
}

type MediaVolume struct {
	Volume float64 `json:"volume"`
}

// Connected is the snapshot sent first on every (re)connect, before any
// queued events are flushed.
type Connected struct {
	ChatActive     bool        `json:"chat_active"`
	ConversationID string      `json:"conversation_id,omitempty"`
	MediaState     *MediaState `json:"media_state,omitempty"`
	VisionEnabled  bool        `json:"vision_enabled"`
}

type StreamChunk struct {
	Content        string  `json:"content,omitempty"`
	Thinking       string  `json:"thinking,omitempty"`
	Role           string  `json:"role"`
	AgentID        string  `json:"agent_id,omitempty"`
	Name           string  `json:"name"`
	VoiceReference *string `json:"voice_reference,omitempty"`
	ConversationID string  `json:"conversation_id"`
	FrameID        string  `json:"frame_id"`
}

type Done struct {
	ConversationID string `json:"conversation_id"`
	FrameID        string `json:"frame_id"`
}

type AgentSwitch struct {
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id"`
	FromName    string `json:"from_name"`
	ToName      string `json:"to_name"`
	Reason      string `json:"reason"`
}

type ToolApprovalRequest struct {
	ApprovalID  string `json:"approval_id"`
	ToolName    string `json:"tool_name"`
	ToolArgs    string `json:"tool_args"` // raw JSON
	Description string `json:"description"`
	RiskLevel   string `json:"risk_level"`
}

type Transcription struct {
	Text string `json:"text"`
}

// SpeechAudio carries synthesized speech for one flushed sentence of an
// assistant turn.
type SpeechAudio struct {
	Audio     string `json:"audio"` // base64 wav
	MessageID string `json:"message_id"`
	Sentence  string `json:"sentence"`
	AgentID   string `json:"agent_id,omitempty"`
}

type DetectedFace struct {
	Name       string     `json:"name"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"` // x, y, w, h
}

type VisionResult struct {
	Faces    []DetectedFace `json:"faces"`
	Gestures []string       `json:"gestures"`
}

type TrackInfo struct {
	Title    string  `json:"title"`
	Artist   string  `json:"artist,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type MediaState struct {
	State        string      `json:"state"` // idle, playing, paused
	CurrentTrack *TrackInfo  `json:"current_track"`
	Queue        []TrackInfo `json:"queue"`
	Volume       float64     `json:"volume"`
}

type MediaChunk struct {
	Data       string `json:"data"` // base64 audio
	ChunkIndex int    `json:"chunk_index"`
	IsLast     bool   `json:"is_last"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

type ErrorEvent struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
