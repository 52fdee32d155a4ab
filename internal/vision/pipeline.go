package vision

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/ariavoice/aria/internal/protocol"
)

var tracer = otel.Tracer("aria/vision")

const frameTimeout = 25 * time.Second

// Pipeline processes one session's camera frames. A single inference runs
// at a time; frames arriving while one is in flight are dropped silently,
// so the client can send at camera rate without building a backlog.
type Pipeline struct {
	detector Detector
	matcher  *Matcher
	emitter  protocol.Emitter

	inFlight atomic.Bool
	dropped  atomic.Int64

	mu      sync.Mutex
	enabled bool
	opts    Options
}

func NewPipeline(detector Detector, matcher *Matcher, emitter protocol.Emitter) *Pipeline {
	return &Pipeline{detector: detector, matcher: matcher, emitter: emitter}
}

func (p *Pipeline) Start(opts Options) {
	p.mu.Lock()
	p.enabled = true
	p.opts = opts
	p.mu.Unlock()
	slog.Info("vision: started", "face", opts.Face, "pose", opts.Pose, "hands", opts.Hands)
}

func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
	slog.Info("vision: stopped", "dropped_frames", p.dropped.Load())
}

func (p *Pipeline) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Submit dispatches one frame. Returns false when the frame was dropped,
// either because vision is off or an inference is already running.
func (p *Pipeline) Submit(jpegB64 string) bool {
	p.mu.Lock()
	enabled, opts := p.enabled, p.opts
	p.mu.Unlock()
	if !enabled {
		return false
	}

	if !p.inFlight.CompareAndSwap(false, true) {
		p.dropped.Add(1)
		return false
	}

	go func() {
		defer p.inFlight.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		defer cancel()
		p.process(ctx, jpegB64, opts)
	}()
	return true
}

func (p *Pipeline) process(ctx context.Context, jpegB64 string, opts Options) {
	ctx, span := tracer.Start(ctx, "vision.frame")
	defer span.End()

	detection, err := p.detector.Detect(ctx, jpegB64, opts)
	if err != nil {
		span.RecordError(err)
		slog.Warn("vision: detection failed", "error", err)
		return
	}

	result := protocol.VisionResult{Gestures: detection.Gestures}
	for _, face := range detection.Faces {
		name, score := p.matcher.Match(face.Embedding)
		if name == "" {
			name = "unknown"
		}
		result.Faces = append(result.Faces, protocol.DetectedFace{
			Name:       name,
			Confidence: score,
			BBox:       face.BBox,
		})
	}

	p.emitter.Emit(ctx, protocol.EventVisionResult, result)
}
