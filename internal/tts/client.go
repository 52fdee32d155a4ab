package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ariavoice/aria/internal/domain"
)

var tracer = otel.Tracer("aria/tts")

const (
	ProviderGPTSoVITS = "gpt-sovits"
	ProviderIndexTTS  = "index-tts"
)

type Client struct {
	provider     string
	baseURL      string
	chunkTimeout time.Duration
	client       *http.Client
}

func New(provider, baseURL string, chunkTimeout time.Duration) *Client {
	return &Client{
		provider:     provider,
		baseURL:      baseURL,
		chunkTimeout: chunkTimeout,
		client:       &http.Client{Timeout: 5 * time.Minute},
	}
}

// Synthesize renders text with the given voice reference. Text longer than
// MaxChunkChars is synthesized in chunks and the WAV segments concatenated.
func (c *Client) Synthesize(ctx context.Context, text, voiceReference string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "tts.synthesize")
	defer span.End()
	span.SetAttributes(
		attribute.String("tts.provider", c.provider),
		attribute.Int("text.length", len(text)),
	)

	chunks := SplitText(text)
	span.SetAttributes(attribute.Int("tts.chunks", len(chunks)))

	start := time.Now()
	segments := make([][]byte, 0, len(chunks))
	for _, chunk := range chunks {
		audio, err := c.synthesizeChunk(ctx, chunk, voiceReference)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "chunk synthesis failed")
			return nil, err
		}
		segments = append(segments, audio)
	}

	audio, err := ConcatWAV(segments)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("concat segments: %w", err)
	}

	slog.Info("tts: synthesis complete",
		"provider", c.provider,
		"chunks", len(chunks),
		"audio_bytes", len(audio),
		"latency", time.Since(start))
	return audio, nil
}

func (c *Client) synthesizeChunk(ctx context.Context, text, voiceReference string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.chunkTimeout)
	defer cancel()

	var body any
	var path string
	switch c.provider {
	case ProviderIndexTTS:
		path = "/tts"
		body = map[string]any{
			"text":  text,
			"voice": voiceReference,
		}
	default: // gpt-sovits
		path = "/tts"
		body = map[string]any{
			"text":           text,
			"text_lang":      "auto",
			"ref_audio_path": voiceReference,
			"prompt_lang":    "auto",
			"media_type":     "wav",
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w: %w", domain.ErrTTSUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tts status %d: %s: %w", resp.StatusCode, errBody, domain.ErrTTSUnavailable)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}
	return audio, nil
}

// Health verifies the provider answers. Used by the readiness probe.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.ListVoices(ctx)
	return err
}

// ListVoices returns the voice references the provider can serve.
func (c *Client) ListVoices(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("create voices request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list voices: %w: %w", domain.ErrTTSUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voices status %d: %w", resp.StatusCode, domain.ErrTTSUnavailable)
	}

	var voices []string
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	return voices, nil
}
