package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariavoice/aria/internal/protocol"
)

type captureEmitter struct {
	mu     sync.Mutex
	chunks []protocol.MediaChunk
	states []protocol.MediaState
	errors []protocol.ErrorEvent
	done   chan struct{} // signalled once per is_last chunk
}

func newCaptureEmitter() *captureEmitter {
	return &captureEmitter{done: make(chan struct{}, 8)}
}

func (c *captureEmitter) Emit(_ context.Context, typ protocol.EventType, body any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch typ {
	case protocol.EventMediaChunk:
		chunk := body.(protocol.MediaChunk)
		c.chunks = append(c.chunks, chunk)
		if chunk.IsLast {
			c.done <- struct{}{}
		}
	case protocol.EventMediaState:
		c.states = append(c.states, body.(protocol.MediaState))
	case protocol.EventMediaError:
		c.errors = append(c.errors, body.(protocol.ErrorEvent))
	}
}

func (c *captureEmitter) waitTrackEnd(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("track never finished")
	}
}

func (c *captureEmitter) snapshot() ([]protocol.MediaChunk, []protocol.MediaState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.MediaChunk(nil), c.chunks...),
		append([]protocol.MediaState(nil), c.states...)
}

type stubResolver struct {
	tracks map[string]*Track
}

func (s *stubResolver) Resolve(_ context.Context, query string) (*Track, error) {
	if t, ok := s.tracks[query]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, &trackNotFoundError{query}
}

type trackNotFoundError struct{ query string }

func (e *trackNotFoundError) Error() string { return "no track found for " + e.query }

func audioServer(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPlayStreamsDenseOrderedChunks(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 2*ChunkSize+100)
	srv := audioServer(t, payload)

	emitter := newCaptureEmitter()
	p := NewPlayer(&stubResolver{tracks: map[string]*Track{
		"song": {Title: "Song", Artist: "Band", StreamURL: srv.URL},
	}}, emitter)

	require.NoError(t, p.Play(context.Background(), "song"))
	emitter.waitTrackEnd(t)

	chunks, _ := emitter.snapshot()
	require.Len(t, chunks, 3)
	var total []byte
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Equal(t, i == len(chunks)-1, chunk.IsLast)
		assert.Equal(t, "mp3", chunk.Format)
		data, err := base64.StdEncoding.DecodeString(chunk.Data)
		require.NoError(t, err)
		total = append(total, data...)
	}
	assert.Equal(t, payload, total)

	assert.Eventually(t, func() bool {
		return p.State().State == StateIdle
	}, time.Second, 10*time.Millisecond)
}

func TestQueueAutoAdvances(t *testing.T) {
	srvA := audioServer(t, bytes.Repeat([]byte{1}, 10))
	srvB := audioServer(t, bytes.Repeat([]byte{2}, 10))

	emitter := newCaptureEmitter()
	p := NewPlayer(&stubResolver{tracks: map[string]*Track{
		"first":  {Title: "First", StreamURL: srvA.URL},
		"second": {Title: "Second", StreamURL: srvB.URL},
	}}, emitter)

	require.NoError(t, p.QueueAdd(context.Background(), "first"))
	// First starts immediately; it may already be finishing, but queueing
	// before waitTrackEnd still covers both orders because finishTrack only
	// advances under the player lock.
	require.NoError(t, p.QueueAdd(context.Background(), "second"))

	emitter.waitTrackEnd(t)
	emitter.waitTrackEnd(t)

	assert.Eventually(t, func() bool {
		s := p.State()
		return s.State == StateIdle && len(s.Queue) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestPauseHoldsChunksUntilResume(t *testing.T) {
	release := make(chan struct{})
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(bytes.Repeat([]byte{7}, ChunkSize))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
		_, _ = w.Write([]byte("tail"))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	emitter := newCaptureEmitter()
	p := NewPlayer(&stubResolver{tracks: map[string]*Track{
		"song": {Title: "Song", StreamURL: srv.URL},
	}}, emitter)

	require.NoError(t, p.Play(context.Background(), "song"))
	require.Eventually(t, func() bool {
		chunks, _ := emitter.snapshot()
		return len(chunks) == 1
	}, time.Second, 5*time.Millisecond)

	p.Pause()
	assert.Equal(t, StatePaused, p.State().State)
	close(release)

	// Paused: the second chunk must not arrive.
	time.Sleep(50 * time.Millisecond)
	chunks, _ := emitter.snapshot()
	assert.Len(t, chunks, 1)

	p.Resume()
	emitter.waitTrackEnd(t)
	chunks, _ = emitter.snapshot()
	require.Len(t, chunks, 2)
	assert.True(t, chunks[1].IsLast)
	assert.Equal(t, "wav", chunks[0].Format)
	assert.Equal(t, 1, hits)
}

func TestSkipAdvancesToNextQueuedTrack(t *testing.T) {
	stall := make(chan struct{})
	srvSlow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{1}, ChunkSize))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-stall
	}))
	t.Cleanup(srvSlow.Close)
	t.Cleanup(func() { close(stall) })
	srvNext := audioServer(t, []byte("short"))

	emitter := newCaptureEmitter()
	p := NewPlayer(&stubResolver{tracks: map[string]*Track{
		"slow": {Title: "Slow", StreamURL: srvSlow.URL},
		"next": {Title: "Next", StreamURL: srvNext.URL},
	}}, emitter)

	require.NoError(t, p.Play(context.Background(), "slow"))
	require.NoError(t, p.QueueAdd(context.Background(), "next"))
	require.Eventually(t, func() bool {
		chunks, _ := emitter.snapshot()
		return len(chunks) >= 1
	}, time.Second, 5*time.Millisecond)

	p.Skip()
	emitter.waitTrackEnd(t)

	assert.Eventually(t, func() bool {
		s := p.State()
		return s.State == StateIdle && len(s.Queue) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStopDropsQueue(t *testing.T) {
	stall := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{1}, ChunkSize))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-stall
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(stall) })

	emitter := newCaptureEmitter()
	p := NewPlayer(&stubResolver{tracks: map[string]*Track{
		"a": {Title: "A", StreamURL: srv.URL},
		"b": {Title: "B", StreamURL: srv.URL},
	}}, emitter)

	require.NoError(t, p.Play(context.Background(), "a"))
	require.NoError(t, p.QueueAdd(context.Background(), "b"))
	require.Equal(t, 1, len(p.State().Queue))

	p.Stop()
	s := p.State()
	assert.Equal(t, StateIdle, s.State)
	assert.Nil(t, s.CurrentTrack)
	assert.Empty(t, s.Queue)
}

func TestQueueRemoveAndVolumeBounds(t *testing.T) {
	stall := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{1}, ChunkSize))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-stall
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(stall) })

	p := NewPlayer(&stubResolver{tracks: map[string]*Track{
		"a": {Title: "A", StreamURL: srv.URL},
		"b": {Title: "B", StreamURL: srv.URL},
		"c": {Title: "C", StreamURL: srv.URL},
	}}, newCaptureEmitter())

	require.NoError(t, p.Play(context.Background(), "a"))
	require.NoError(t, p.QueueAdd(context.Background(), "b"))
	require.NoError(t, p.QueueAdd(context.Background(), "c"))

	require.NoError(t, p.QueueRemove(0))
	s := p.State()
	require.Len(t, s.Queue, 1)
	assert.Equal(t, "C", s.Queue[0].Title)
	assert.Error(t, p.QueueRemove(5))

	assert.NoError(t, p.SetVolume(0.5))
	assert.Equal(t, 0.5, p.State().Volume)
	assert.Error(t, p.SetVolume(1.5))
	assert.Error(t, p.SetVolume(-0.1))
}

func TestPlayUnresolvableEmitsMediaError(t *testing.T) {
	emitter := newCaptureEmitter()
	p := NewPlayer(&stubResolver{}, emitter)

	err := p.Play(context.Background(), "nothing")
	require.Error(t, err)
	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Len(t, emitter.errors, 1)
	assert.Contains(t, emitter.errors[0].Error, "no track found")
}

func TestControlDispatch(t *testing.T) {
	p := NewPlayer(&stubResolver{}, newCaptureEmitter())
	assert.NoError(t, p.Control(context.Background(), "pause"))
	assert.NoError(t, p.Control(context.Background(), "resume"))
	assert.NoError(t, p.Control(context.Background(), "stop"))
	assert.Error(t, p.Control(context.Background(), "rewind"))
}
