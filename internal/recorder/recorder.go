// Package recorder turns views and play segments into durable store
// mutations, with a local counter as the fallback for failed view writes.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/auth"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/metrics"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/store"
)

// ErrEmptyContentID rejects blank episode ids before any store is touched.
var ErrEmptyContentID = errors.New("recorder: empty content id")

// Fallback is the local counter incremented when a view insert fails.
type Fallback interface {
	Increment(contentID string) error
}

// Result reports which path a registration took. Err is set only when
// Success is false.
type Result struct {
	Success              bool   `json:"success"`
	LocalStorageFallback bool   `json:"localStorageFallback,omitempty"`
	Skipped              bool   `json:"skipped,omitempty"`
	RecordID             string `json:"record_id,omitempty"`
	Err                  error  `json:"-"`
}

// Error returns the failure message, or "".
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithLocation sets the zone whose midnight bounds a listening day.
func WithLocation(loc *time.Location) Option {
	return func(r *Recorder) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// Recorder is safe for concurrent use.
type Recorder struct {
	views    store.ViewStore
	adder    store.DailyMinutesAdder
	fallback Fallback
	logger   zerolog.Logger
	now      func() time.Time
	loc      *time.Location
}

// New builds a Recorder. If views also implements store.DailyMinutesAdder
// playback minutes are applied atomically.
func New(views store.ViewStore, fallback Fallback, logger zerolog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		views:    views,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
		loc:      time.Local,
	}
	if adder, ok := views.(store.DailyMinutesAdder); ok {
		r.adder = adder
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterView records that contentID started playing now. A failed insert
// is absorbed by the fallback counter and still reported as a success.
func (r *Recorder) RegisterView(ctx context.Context, contentID string) Result {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		metrics.RecordView(metrics.PathInvalid)
		return Result{Err: ErrEmptyContentID}
	}

	rec := models.ViewRecord{
		ContentID: contentID,
		ActorID:   auth.ActorFromContext(ctx),
		ViewedAt:  r.now().In(r.loc),
	}
	id, err := r.views.InsertView(ctx, rec)
	if err == nil {
		metrics.RecordView(metrics.PathRemote)
		return Result{Success: true, RecordID: id}
	}

	r.logger.Warn().Err(err).Str("episode_id", contentID).Msg("view insert failed; using local fallback")
	if ferr := r.fallback.Increment(contentID); ferr != nil {
		metrics.RecordView(metrics.PathFailed)
		r.logger.Error().Err(ferr).Str("episode_id", contentID).Msg("fallback increment failed")
		return Result{Err: fmt.Errorf("register view %s: %w", contentID, errors.Join(err, ferr))}
	}
	metrics.RecordView(metrics.PathFallback)
	return Result{Success: true, LocalStorageFallback: true}
}

// RegisterPlayback adds (end-start)/60 minutes to today's row for
// contentID, creating the row when the day has none. Non-positive spans are
// skipped. Failures are returned in the Result and never retried.
func (r *Recorder) RegisterPlayback(ctx context.Context, contentID string, start, end float64) Result {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		metrics.RecordPlayback(metrics.OutcomeFailed, 0)
		return Result{Err: ErrEmptyContentID}
	}

	seg := models.PlaybackSegment{ContentID: contentID, StartPosition: start, EndPosition: end}
	minutes := seg.Minutes()
	if minutes <= 0 {
		metrics.RecordPlayback(metrics.OutcomeSkipped, 0)
		return Result{Success: true, Skipped: true}
	}

	now := r.now().In(r.loc)
	dayStart, dayEnd := DayBounds(now)

	var (
		id  string
		err error
	)
	if r.adder != nil {
		id, _, err = r.adder.AddDailyMinutes(ctx, store.DailyIncrement{
			ContentID: contentID,
			ActorID:   auth.ActorFromContext(ctx),
			DayStart:  dayStart,
			DayEnd:    dayEnd,
			At:        now,
			Minutes:   minutes,
		})
	} else {
		id, err = r.readModifyWrite(ctx, contentID, now, dayStart, dayEnd, minutes)
	}
	if err != nil {
		metrics.RecordPlayback(metrics.OutcomeFailed, 0)
		r.logger.Warn().Err(err).
			Str("episode_id", contentID).
			Float64("minutes", minutes).
			Msg("playback minutes dropped")
		return Result{Err: fmt.Errorf("register playback %s: %w", contentID, err)}
	}

	metrics.RecordPlayback(metrics.OutcomeRecorded, minutes)
	r.logger.Debug().Str("episode_id", contentID).Float64("minutes", minutes).Str("record_id", id).Msg("playback recorded")
	return Result{Success: true, RecordID: id}
}

// readModifyWrite is the non-atomic path. Two concurrent calls for the same
// episode and day can both read the same total; the later write wins.
func (r *Recorder) readModifyWrite(ctx context.Context, contentID string, now, dayStart, dayEnd time.Time, minutes float64) (string, error) {
	row, err := r.views.FindLatestView(ctx, store.ViewQuery{ContentID: contentID, From: dayStart, To: dayEnd})
	switch {
	case err == nil:
		if err := r.views.UpdateViewMinutes(ctx, row.ID, row.MinutesPlayed+minutes); err != nil {
			return "", err
		}
		return row.ID, nil
	case errors.Is(err, store.ErrNotFound):
		return r.views.InsertView(ctx, models.ViewRecord{
			ContentID:     contentID,
			ActorID:       auth.ActorFromContext(ctx),
			ViewedAt:      now,
			MinutesPlayed: minutes,
		})
	default:
		return "", err
	}
}

// DayBounds returns local midnight of t's day and the following midnight.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
