// Package telemetry turns playhead samples into play segments and one-time
// view events, and hands them to a recorder without blocking the caller.
package telemetry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/metrics"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/playhead"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/recorder"
)

const (
	MinFlushInterval     = 15 * time.Second
	MaxFlushInterval     = 30 * time.Second
	DefaultViewThreshold = 5 * time.Second
	DefaultCallTimeout   = 10 * time.Second

	// seekSlack absorbs sampling jitter when telling playback from a jump.
	seekSlack = 1.5
)

// Recorder is the persistence side a Session reports to.
type Recorder interface {
	RegisterView(ctx context.Context, contentID string) recorder.Result
	RegisterPlayback(ctx context.Context, contentID string, start, end float64) recorder.Result
}

// Config tunes a Session.
type Config struct {
	// FlushInterval is clamped to [MinFlushInterval, MaxFlushInterval].
	FlushInterval time.Duration
	// ViewThreshold is the position a load must advance past before its
	// view is registered.
	ViewThreshold time.Duration
	// CallTimeout bounds each recorder call.
	CallTimeout time.Duration
	// MaxPlaybackRate enables forward-seek detection: an advance larger than
	// the wall time since the previous sample times this rate is treated as
	// a jump, not listening. Zero disables detection.
	MaxPlaybackRate float64
	// Now overrides the clock used for seek detection.
	Now func() time.Time
}

// DefaultConfig returns the settings used by the server and CLI.
func DefaultConfig() Config {
	return Config{
		FlushInterval:   MinFlushInterval,
		ViewThreshold:   DefaultViewThreshold,
		CallTimeout:     DefaultCallTimeout,
		MaxPlaybackRate: 4,
	}
}

// ClampFlushInterval bounds d to [MinFlushInterval, MaxFlushInterval].
func ClampFlushInterval(d time.Duration) time.Duration {
	switch {
	case d < MinFlushInterval:
		return MinFlushInterval
	case d > MaxFlushInterval:
		return MaxFlushInterval
	default:
		return d
	}
}

// State is a point-in-time copy of a Session.
type State struct {
	ContentID      string
	Open           bool
	Start          float64
	End            float64
	LastSeen       float64
	Duration       float64
	ViewRegistered bool
	Closed         bool
}

// Session accumulates segments for one player instance. Samples, timer
// callbacks and lifecycle calls are serialized by a mutex; recorder calls
// run in tracked goroutines and never block a sample.
type Session struct {
	rec    Recorder
	cfg    Config
	logger zerolog.Logger
	ctx    context.Context

	mu             sync.Mutex
	contentID      string
	duration       float64
	open           bool
	seg            models.PlaybackSegment
	lastSeen       float64
	lastSampleAt   time.Time
	sampled        bool
	viewRegistered bool
	timer          *time.Timer
	timerGen       uint64
	closed         bool

	inflight sync.WaitGroup
}

var _ playhead.Listener = (*Session)(nil)

// NewSession returns an Idle session. Recorder calls use ctx for values
// only; they outlive its cancellation so a teardown flush still lands.
func NewSession(ctx context.Context, rec Recorder, cfg Config, logger zerolog.Logger) *Session {
	cfg.FlushInterval = ClampFlushInterval(cfg.FlushInterval)
	if cfg.ViewThreshold <= 0 {
		cfg.ViewThreshold = DefaultViewThreshold
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		rec:    rec,
		cfg:    cfg,
		logger: logger,
		ctx:    context.WithoutCancel(ctx),
	}
}

// Load switches the session to contentID. Any open segment of the previous
// episode is flushed first. Loading the current episode again is a no-op.
func (s *Session) Load(contentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || contentID == s.contentID {
		return
	}

	s.closeSegmentLocked(metrics.ReasonContentChange)
	s.contentID = contentID
	s.duration = 0
	s.lastSeen = 0
	s.sampled = false
	s.viewRegistered = false
	s.logger.Debug().Str("episode_id", contentID).Msg("episode loaded")
}

// OnMetadata records the source duration.
func (s *Session) OnMetadata(duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.duration = duration
}

// OnTimeUpdate feeds one playhead sample.
func (s *Session) OnTimeUpdate(pos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.contentID == "" || math.IsNaN(pos) || math.IsInf(pos, 0) {
		return
	}

	now := s.cfg.Now()
	prev, prevAt, sampled := s.lastSeen, s.lastSampleAt, s.sampled
	s.lastSeen = pos
	s.lastSampleAt = now
	s.sampled = true

	if !sampled {
		// The first sample after a load or a pause only anchors the
		// reference; playback may resume anywhere.
		return
	}
	if pos <= prev {
		// Backward seek or a stalled playhead: only the reference moves.
		return
	}

	if s.cfg.MaxPlaybackRate > 0 {
		allowed := now.Sub(prevAt).Seconds()*s.cfg.MaxPlaybackRate + seekSlack
		if pos-prev > allowed {
			s.closeSegmentLocked(metrics.ReasonSeek)
			return
		}
	}

	if !s.open {
		s.open = true
		s.seg = models.PlaybackSegment{ContentID: s.contentID, StartPosition: prev, EndPosition: pos}
		s.armTimerLocked()
	} else if pos > s.seg.EndPosition {
		s.seg.EndPosition = pos
	}

	if !s.viewRegistered && pos >= s.cfg.ViewThreshold.Seconds() {
		s.viewRegistered = true
		s.dispatchView(s.contentID)
	}
}

// Flush closes the open segment, as on pause. The session stays usable; the
// next sample re-anchors the reference, so seeks made while paused are not
// counted.
func (s *Session) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closeSegmentLocked(metrics.ReasonPause)
	s.sampled = false
}

// Close tears the session down: the timer is cleared and a final flush is
// dispatched without waiting for it. Use Drain to wait.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closeSegmentLocked(metrics.ReasonTeardown)
	s.closed = true
}

// Drain waits for in-flight recorder calls or for ctx to end.
func (s *Session) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot for diagnostics and tests.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ContentID:      s.contentID,
		Open:           s.open,
		Start:          s.seg.StartPosition,
		End:            s.seg.EndPosition,
		LastSeen:       s.lastSeen,
		Duration:       s.duration,
		ViewRegistered: s.viewRegistered,
		Closed:         s.closed,
	}
}

// closeSegmentLocked hands the open segment to the recorder and returns the
// session to Idle.
func (s *Session) closeSegmentLocked(reason string) {
	s.stopTimerLocked()
	if !s.open {
		return
	}
	s.open = false
	s.emitLocked(s.seg, reason)
}

func (s *Session) emitLocked(seg models.PlaybackSegment, reason string) {
	if seg.EndPosition <= seg.StartPosition {
		metrics.RecordSegmentDropped()
		s.logger.Debug().
			Str("episode_id", seg.ContentID).
			Float64("start", seg.StartPosition).
			Float64("end", seg.EndPosition).
			Msg("empty segment dropped")
		return
	}
	metrics.RecordSegmentFlushed(reason)
	s.dispatchPlayback(seg, reason)
}

func (s *Session) armTimerLocked() {
	if s.timer != nil {
		return
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(s.cfg.FlushInterval, func() { s.onTimer(gen) })
}

func (s *Session) stopTimerLocked() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	s.timer = nil
	s.timerGen++
}

// onTimer flushes the open segment and starts the next one at its end. A
// segment that did not advance since the previous tick returns to Idle.
func (s *Session) onTimer(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.timerGen {
		return
	}
	s.timer = nil
	if !s.open {
		return
	}
	if s.seg.EndPosition <= s.seg.StartPosition {
		s.open = false
		return
	}

	s.emitLocked(s.seg, metrics.ReasonTimer)
	s.seg.StartPosition = s.seg.EndPosition
	s.armTimerLocked()
}

func (s *Session) dispatchView(contentID string) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.CallTimeout)
		defer cancel()

		res := s.rec.RegisterView(ctx, contentID)
		ev := s.logger.Debug()
		if !res.Success {
			ev = s.logger.Warn().Err(res.Err)
		}
		ev.Str("episode_id", contentID).
			Bool("fallback", res.LocalStorageFallback).
			Msg("view registered")
	}()
}

func (s *Session) dispatchPlayback(seg models.PlaybackSegment, reason string) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.CallTimeout)
		defer cancel()

		res := s.rec.RegisterPlayback(ctx, seg.ContentID, seg.StartPosition, seg.EndPosition)
		ev := s.logger.Debug()
		if !res.Success {
			ev = s.logger.Warn().Err(res.Err)
		}
		ev.Str("episode_id", seg.ContentID).
			Str("reason", reason).
			Float64("start", seg.StartPosition).
			Float64("end", seg.EndPosition).
			Bool("skipped", res.Skipped).
			Msg("segment flushed")
	}()
}
