// Package asr transcribes pcm16 audio through an external speech
// recognition server.
package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ariavoice/aria/internal/domain"
)

var tracer = otel.Tracer("aria/asr")

type Client struct {
	baseURL   string
	modelPath string
	device    string // cpu, cuda, auto
	client    *http.Client
}

func New(baseURL, modelPath, device string) *Client {
	return &Client{
		baseURL:   baseURL,
		modelPath: modelPath,
		device:    device,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type transcribeRequest struct {
	Audio      string `json:"audio"` // base64 pcm16 mono
	SampleRate int    `json:"sample_rate"`
	ModelPath  string `json:"model_path,omitempty"`
	Device     string `json:"device,omitempty"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Health verifies the recognition server answers. Used by the readiness
// probe.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create asr health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("asr health: %w: %w", domain.ErrASRUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("asr health status %d: %w", resp.StatusCode, domain.ErrASRUnavailable)
	}
	return nil
}

// Transcribe converts pcm16 mono audio to text.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	ctx, span := tracer.Start(ctx, "asr.transcribe")
	defer span.End()
	span.SetAttributes(
		attribute.Int("audio.bytes", len(pcm)),
		attribute.Int("audio.sample_rate", sampleRate),
	)

	payload, err := json.Marshal(transcribeRequest{
		Audio:      base64.StdEncoding.EncodeToString(pcm),
		SampleRate: sampleRate,
		ModelPath:  c.modelPath,
		Device:     c.device,
	})
	if err != nil {
		return "", fmt.Errorf("marshal asr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create asr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("asr request: %w: %w", domain.ErrASRUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("asr status %d: %s: %w", resp.StatusCode, errBody, domain.ErrASRUnavailable)
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode asr response: %w", err)
	}

	slog.Info("asr: transcription complete",
		"audio_bytes", len(pcm),
		"text_length", len(out.Text),
		"latency", time.Since(start))
	return out.Text, nil
}
