// Package store defines the durable-store contract used by the recorder and
// the statistics aggregator, plus an in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// ViewQuery selects view rows of one episode whose viewed_at falls in
// [From, To).
type ViewQuery struct {
	ContentID string
	From      time.Time
	To        time.Time
}

// DailyIncrement adds Minutes to the most recent row of ContentID inside
// [DayStart, DayEnd), creating a row stamped At when there is none.
type DailyIncrement struct {
	ContentID string
	ActorID   string
	DayStart  time.Time
	DayEnd    time.Time
	At        time.Time
	Minutes   float64
}

// ViewStore is the row-level surface: insert, patch, and a latest-first
// filtered query.
type ViewStore interface {
	InsertView(ctx context.Context, rec models.ViewRecord) (string, error)
	UpdateViewMinutes(ctx context.Context, id string, minutes float64) error
	FindLatestView(ctx context.Context, q ViewQuery) (models.ViewRecord, error)
}

// DailyMinutesAdder is implemented by stores that can apply a DailyIncrement
// atomically (minutes_played = minutes_played + delta). Callers should always
// prefer it over a read-modify-write through ViewStore.
type DailyMinutesAdder interface {
	AddDailyMinutes(ctx context.Context, inc DailyIncrement) (id string, created bool, err error)
}

// AggregateSource returns one row per episode that has ever been viewed.
type AggregateSource interface {
	AggregateByContent(ctx context.Context) ([]models.ContentAggregate, error)
}

// EpisodeSyncer receives catalog snapshots so aggregates can carry titles and
// publish dates.
type EpisodeSyncer interface {
	SyncEpisodes(ctx context.Context, episodes []models.Episode) error
}

// Backend is everything a durable store offers to the application.
type Backend interface {
	ViewStore
	AggregateSource
	EpisodeSyncer
	Close() error
}
