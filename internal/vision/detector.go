// Package vision accepts camera frames from the session, runs them through
// the remote detection service with drop-when-busy backpressure, and matches
// detected faces against the user's registered identities.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ariavoice/aria/internal/domain"
)

// Options selects which detectors run on each frame.
type Options struct {
	Face  bool
	Pose  bool
	Hands bool
}

// FaceObservation is one detected face: its embedding plus the bounding box
// in normalized image coordinates.
type FaceObservation struct {
	Embedding []float32  `json:"embedding"`
	BBox      [4]float64 `json:"bbox"`
}

// Detection is the raw output of the detection service for one frame.
type Detection struct {
	Faces    []FaceObservation `json:"faces"`
	Gestures []string          `json:"gestures"`
}

// Detector runs inference on one JPEG frame.
type Detector interface {
	Detect(ctx context.Context, jpegB64 string, opts Options) (*Detection, error)
}

// HTTPDetector talks to the external inference module.
type HTTPDetector struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDetector(baseURL string) *HTTPDetector {
	return &HTTPDetector{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

func (d *HTTPDetector) Detect(ctx context.Context, jpegB64 string, opts Options) (*Detection, error) {
	body, err := json.Marshal(map[string]any{
		"image":        jpegB64,
		"enable_face":  opts.Face,
		"enable_pose":  opts.Pose,
		"enable_hands": opts.Hands,
	})
	if err != nil {
		return nil, fmt.Errorf("encode detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detect: status %d: %w", resp.StatusCode, domain.ErrVisionUnavailable)
	}

	var detection Detection
	if err := json.NewDecoder(resp.Body).Decode(&detection); err != nil {
		return nil, fmt.Errorf("decode detection: %w", err)
	}
	return &detection, nil
}
