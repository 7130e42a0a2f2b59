package models

import (
	"math"
	"time"
)

// PlaybackSegment is a contiguous span of playhead positions, in seconds,
// observed between two flush points. It is never persisted.
type PlaybackSegment struct {
	ContentID     string
	StartPosition float64
	EndPosition   float64
}

// Minutes returns the listened duration of the segment, floored at zero.
func (s PlaybackSegment) Minutes() float64 {
	delta := s.EndPosition - s.StartPosition
	if math.IsNaN(delta) || math.IsInf(delta, 0) || delta <= 0 {
		return 0
	}
	return delta / 60
}

// ViewRecord is one durable view row. The most recent row of a local
// calendar day carries that day's running minutes total for the episode.
type ViewRecord struct {
	ID            string    `json:"id"`
	ContentID     string    `json:"episode_id"`
	ActorID       string    `json:"user_id,omitempty"`
	ViewedAt      time.Time `json:"viewed_at"`
	MinutesPlayed float64   `json:"minutes_played"`
}

// ContentAggregate is the per-episode row produced by the durable store's
// aggregate call.
type ContentAggregate struct {
	ContentID          string
	Title              string
	TotalViews         int64
	TotalMinutesPlayed float64
	PublishedAt        time.Time
}

// StatSummary is the read-side view of one episode's listening totals.
type StatSummary struct {
	ContentID     string    `json:"id"`
	Title         string    `json:"title"`
	Views         int64     `json:"views"`
	MinutesPlayed float64   `json:"minutes_played"`
	PublishedAt   time.Time `json:"published_at"`
}
