package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/ariavoice/aria/internal/protocol"
)

// ChunkSize is how much raw audio one media_chunk event carries.
const ChunkSize = 32 * 1024

const (
	StateIdle    = "idle"
	StatePlaying = "playing"
	StatePaused  = "paused"
)

// Player streams music for one user. Chunks go out through the session
// emitter; all control operations are cooperative flags checked between
// chunks, so a slow network read never blocks a control event.
type Player struct {
	index   Resolver
	emitter protocol.Emitter
	client  *http.Client

	mu      sync.Mutex
	state   string
	current *Track
	queue   []Track
	volume  float64
	resume  chan struct{}      // closed to wake a paused streamer
	cancel  context.CancelFunc // stops the current track's streamer
}

func NewPlayer(index Resolver, emitter protocol.Emitter) *Player {
	return &Player{
		index:   index,
		emitter: emitter,
		client:  &http.Client{Timeout: 0}, // streams run until the track ends
		state:   StateIdle,
		volume:  1.0,
	}
}

// Play resolves a query and starts it immediately, replacing the current
// track. The previous queue is kept.
func (p *Player) Play(ctx context.Context, query string) error {
	track, err := p.index.Resolve(ctx, query)
	if err != nil {
		p.emitError(ctx, err)
		return err
	}
	p.startTrack(track)
	return nil
}

// QueueAdd resolves a query and appends it to the queue. Starts playing
// when the player is idle.
func (p *Player) QueueAdd(ctx context.Context, query string) error {
	track, err := p.index.Resolve(ctx, query)
	if err != nil {
		p.emitError(ctx, err)
		return err
	}

	p.mu.Lock()
	idle := p.state == StateIdle
	if !idle {
		p.queue = append(p.queue, *track)
	}
	p.mu.Unlock()

	if idle {
		p.startTrack(track)
		return nil
	}
	p.emitState()
	return nil
}

func (p *Player) QueueRemove(index int) error {
	p.mu.Lock()
	if index < 0 || index >= len(p.queue) {
		p.mu.Unlock()
		return fmt.Errorf("queue index %d out of range", index)
	}
	p.queue = append(p.queue[:index], p.queue[index+1:]...)
	p.mu.Unlock()

	p.emitState()
	return nil
}

func (p *Player) Pause() {
	p.mu.Lock()
	if p.state == StatePlaying {
		p.state = StatePaused
		p.resume = make(chan struct{})
	}
	p.mu.Unlock()
	p.emitState()
}

func (p *Player) Resume() {
	p.mu.Lock()
	if p.state == StatePaused {
		p.state = StatePlaying
		if p.resume != nil {
			close(p.resume)
			p.resume = nil
		}
	}
	p.mu.Unlock()
	p.emitState()
}

// Skip ends the current track; the streamer's completion path starts the
// next queued track if any.
func (p *Player) Skip() {
	p.mu.Lock()
	cancel := p.cancel
	if p.state == StatePaused && p.resume != nil {
		close(p.resume)
		p.resume = nil
	}
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop ends playback and drops the queue.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.queue = nil
	p.current = nil
	p.state = StateIdle
	if p.resume != nil {
		close(p.resume)
		p.resume = nil
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.emitState()
}

func (p *Player) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("volume %v out of range [0,1]", v)
	}
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
	p.emitState()
	return nil
}

// Control dispatches a named action; this is the music_control tool surface.
func (p *Player) Control(_ context.Context, action string) error {
	switch action {
	case "pause":
		p.Pause()
	case "resume":
		p.Resume()
	case "skip":
		p.Skip()
	case "stop":
		p.Stop()
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return nil
}

// State snapshots the player for the media_state event and the connected
// snapshot.
func (p *Player) State() protocol.MediaState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Player) stateLocked() protocol.MediaState {
	out := protocol.MediaState{
		State:  p.state,
		Volume: p.volume,
		Queue:  make([]protocol.TrackInfo, 0, len(p.queue)),
	}
	if p.current != nil {
		out.CurrentTrack = &protocol.TrackInfo{
			Title:    p.current.Title,
			Artist:   p.current.Artist,
			Duration: p.current.Duration,
		}
	}
	for _, t := range p.queue {
		out.Queue = append(out.Queue, protocol.TrackInfo{
			Title: t.Title, Artist: t.Artist, Duration: t.Duration,
		})
	}
	return out
}

func (p *Player) startTrack(track *Track) {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.current = track
	p.state = StatePlaying
	if p.resume != nil {
		close(p.resume)
		p.resume = nil
	}
	p.mu.Unlock()

	p.emitState()
	go p.streamTrack(ctx, track)
}

// streamTrack reads the track's audio and emits ordered media_chunk events.
// The final chunk carries is_last; afterwards the next queued track starts
// automatically.
func (p *Player) streamTrack(ctx context.Context, track *Track) {
	slog.Info("media: track started", "title", track.Title)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, track.StreamURL, nil)
	if err != nil {
		p.emitError(ctx, err)
		p.Stop()
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			p.emitError(ctx, fmt.Errorf("stream %q: %w", track.Title, err))
		}
		p.finishTrack(track)
		return
	}
	defer resp.Body.Close()

	format := formatFromContentType(resp.Header.Get("Content-Type"))
	buf := make([]byte, ChunkSize)
	chunkIndex := 0

	for {
		n, readErr := io.ReadFull(resp.Body, buf)
		last := readErr == io.EOF || readErr == io.ErrUnexpectedEOF
		if readErr != nil && !last {
			if ctx.Err() == nil {
				p.emitError(ctx, fmt.Errorf("stream %q: %w", track.Title, readErr))
			}
			p.finishTrack(track)
			return
		}

		// Pause is cooperative: a chunk read while paused is held here
		// until resume.
		if !p.waitWhilePaused(ctx) {
			p.finishTrack(track)
			return
		}

		if n > 0 || last {
			p.emitter.Emit(ctx, protocol.EventMediaChunk, protocol.MediaChunk{
				Data:       base64.StdEncoding.EncodeToString(buf[:n]),
				ChunkIndex: chunkIndex,
				IsLast:     last,
				Format:     format,
				SampleRate: 44100,
			})
			chunkIndex++
		}
		if last {
			slog.Info("media: track finished", "title", track.Title, "chunks", chunkIndex)
			p.finishTrack(track)
			return
		}
	}
}

// waitWhilePaused blocks between chunks while the pause flag is set.
// Returns false when the track was cancelled.
func (p *Player) waitWhilePaused(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		p.mu.Lock()
		resume := p.resume
		p.mu.Unlock()
		if resume == nil {
			return true
		}
		select {
		case <-resume:
		case <-ctx.Done():
			return false
		}
	}
}

// finishTrack advances to the next queued track, or goes idle.
func (p *Player) finishTrack(track *Track) {
	p.mu.Lock()
	if p.current == nil || p.current.StreamURL != track.StreamURL {
		// A newer track already took over (Play replaced us, or Stop ran).
		p.mu.Unlock()
		return
	}
	if len(p.queue) > 0 {
		next := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
		p.startTrack(&next)
		return
	}
	p.current = nil
	p.state = StateIdle
	p.cancel = nil
	p.mu.Unlock()
	p.emitState()
}

func (p *Player) emitState() {
	p.mu.Lock()
	state := p.stateLocked()
	p.mu.Unlock()
	p.emitter.Emit(context.Background(), protocol.EventMediaState, state)
}

func (p *Player) emitError(ctx context.Context, err error) {
	slog.Warn("media: error", "error", err)
	p.emitter.Emit(ctx, protocol.EventMediaError, protocol.ErrorEvent{Error: err.Error()})
}

func formatFromContentType(contentType string) string {
	switch {
	case strings.Contains(contentType, "ogg"), strings.Contains(contentType, "opus"):
		return "opus"
	case strings.Contains(contentType, "wav"):
		return "wav"
	default:
		return "mp3"
	}
}
