package domain

import "errors"

// Behavior classes of errors. Each code path surfaces exactly one of these;
// wrapping with fmt.Errorf("...: %w", err) preserves the kind for errors.Is.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrLLMUnavailable     = errors.New("llm unavailable")
	ErrTTSUnavailable     = errors.New("tts unavailable")
	ErrASRUnavailable     = errors.New("asr unavailable")
	ErrMCPUnavailable     = errors.New("mcp unavailable")
	ErrVisionUnavailable  = errors.New("vision unavailable")
	ErrToolDenied         = errors.New("tool denied")
	ErrCancelled          = errors.New("cancelled")
)

// ErrorCode maps an error to the wire code carried by error events.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrLLMUnavailable):
		return "llm_unavailable"
	case errors.Is(err, ErrTTSUnavailable):
		return "tts_unavailable"
	case errors.Is(err, ErrASRUnavailable):
		return "asr_unavailable"
	case errors.Is(err, ErrMCPUnavailable):
		return "mcp_unavailable"
	case errors.Is(err, ErrVisionUnavailable):
		return "vision_unavailable"
	case errors.Is(err, ErrToolDenied):
		return "tool_denied"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "internal"
	}
}
