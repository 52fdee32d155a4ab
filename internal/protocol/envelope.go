package protocol

import (
	"context"
	"encoding/json"
	"fmt"
)

// Envelope is the outer frame of every event on the wire. The body is kept
// raw on decode so dispatch can pick the payload type by event type.
type Envelope struct {
	Type EventType       `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

func Encode(typ EventType, body any) ([]byte, error) {
	var raw json.RawMessage
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", typ, err)
		}
		raw = b
	}
	data, err := json.Marshal(Envelope{Type: typ, Body: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", typ, err)
	}
	return data, nil
}

func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &env, nil
}

// DecodeBody unmarshals an envelope body into the payload type for its event.
func DecodeBody[T any](env *Envelope) (*T, error) {
	var body T
	if len(env.Body) == 0 {
		return &body, nil
	}
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return nil, fmt.Errorf("unmarshal %s body: %w", env.Type, err)
	}
	return &body, nil
}

// Emitter delivers server events toward a user's session. Implementations
// must be safe for concurrent use; delivery is best-effort and never blocks
// the caller on a slow or absent client.
type Emitter interface {
	Emit(ctx context.Context, typ EventType, body any)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, typ EventType, body any)

func (f EmitterFunc) Emit(ctx context.Context, typ EventType, body any) {
	f(ctx, typ, body)
}
