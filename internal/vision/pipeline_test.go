package vision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariavoice/aria/internal/protocol"
	"github.com/ariavoice/aria/internal/store"
)

type blockingDetector struct {
	release   chan struct{}
	detection Detection

	mu    sync.Mutex
	calls int
}

func (d *blockingDetector) Detect(ctx context.Context, _ string, _ Options) (*Detection, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	select {
	case <-d.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	copied := d.detection
	return &copied, nil
}

func (d *blockingDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type visionEmitter struct {
	mu      sync.Mutex
	results []protocol.VisionResult
	got     chan struct{}
}

func newVisionEmitter() *visionEmitter {
	return &visionEmitter{got: make(chan struct{}, 8)}
}

func (e *visionEmitter) Emit(_ context.Context, typ protocol.EventType, body any) {
	if typ != protocol.EventVisionResult {
		return
	}
	e.mu.Lock()
	e.results = append(e.results, body.(protocol.VisionResult))
	e.mu.Unlock()
	e.got <- struct{}{}
}

func (e *visionEmitter) waitResult(t *testing.T) protocol.VisionResult {
	t.Helper()
	select {
	case <-e.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no vision result arrived")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results[len(e.results)-1]
}

func TestSubmitDropsFramesWhileInferenceRuns(t *testing.T) {
	detector := &blockingDetector{release: make(chan struct{})}
	emitter := newVisionEmitter()
	p := NewPipeline(detector, NewMatcher(), emitter)
	p.Start(Options{Face: true})

	assert.True(t, p.Submit("frame-1"))
	require.Eventually(t, func() bool {
		return detector.callCount() == 1
	}, time.Second, 5*time.Millisecond)

	// Inference is in flight: everything else is dropped.
	assert.False(t, p.Submit("frame-2"))
	assert.False(t, p.Submit("frame-3"))
	assert.Equal(t, int64(2), p.dropped.Load())

	close(detector.release)
	emitter.waitResult(t)

	// Capacity is available again.
	assert.Eventually(t, func() bool {
		return p.Submit("frame-4")
	}, time.Second, 5*time.Millisecond)
}

func TestSubmitRefusesWhenStopped(t *testing.T) {
	p := NewPipeline(&blockingDetector{release: make(chan struct{})}, NewMatcher(), newVisionEmitter())
	assert.False(t, p.Submit("frame"))
	p.Start(Options{Face: true})
	p.Stop()
	assert.False(t, p.Submit("frame"))
}

func TestProcessMatchesKnownFacesAndLabelsUnknowns(t *testing.T) {
	matcher := NewMatcher()
	matcher.known = []store.KnownEmbedding{
		{Name: "Sam", Embedding: unitVec(0)},
		{Name: "Alex", Embedding: unitVec(1)},
	}

	detector := &blockingDetector{
		release: make(chan struct{}),
		detection: Detection{
			Faces: []FaceObservation{
				{Embedding: unitVec(0), BBox: [4]float64{0.1, 0.1, 0.2, 0.2}},
				{Embedding: unitVec(2)}, // orthogonal to both
			},
			Gestures: []string{"wave"},
		},
	}
	close(detector.release)

	emitter := newVisionEmitter()
	p := NewPipeline(detector, matcher, emitter)
	p.Start(Options{Face: true, Hands: true})
	require.True(t, p.Submit("frame"))

	result := emitter.waitResult(t)
	require.Len(t, result.Faces, 2)
	assert.Equal(t, "Sam", result.Faces[0].Name)
	assert.InDelta(t, 1.0, result.Faces[0].Confidence, 1e-6)
	assert.Equal(t, [4]float64{0.1, 0.1, 0.2, 0.2}, result.Faces[0].BBox)
	assert.Equal(t, "unknown", result.Faces[1].Name)
	assert.Equal(t, []string{"wave"}, result.Gestures)
}

func TestMatcherThreshold(t *testing.T) {
	m := NewMatcher()
	m.known = []store.KnownEmbedding{{Name: "Sam", Embedding: unitVec(0)}}

	name, score := m.Match(unitVec(0))
	assert.Equal(t, "Sam", name)
	assert.InDelta(t, 1.0, score, 1e-6)

	name, _ = m.Match(unitVec(1))
	assert.Empty(t, name)

	name, _ = NewMatcher().Match(unitVec(0))
	assert.Empty(t, name)
}

func TestMatcherRefreshLoadsSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM face_photos").
		WithArgs("usr_1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "embedding"}).
			AddRow("face_1", "Sam", pgvector.NewVector(unitVec(0))))

	m := NewMatcher()
	require.NoError(t, m.Refresh(context.Background(), store.New(mock), "usr_1"))

	name, _ := m.Match(unitVec(0))
	assert.Equal(t, "Sam", name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// unitVec returns a 512-dim one-hot vector.
func unitVec(axis int) []float32 {
	v := make([]float32, 512)
	v[axis] = 1
	return v
}
