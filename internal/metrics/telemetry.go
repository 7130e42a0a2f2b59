// Package metrics exposes Prometheus counters for the playback telemetry
// pipeline. All collectors register on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	viewsRegistered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podcast_views_registered_total",
		Help: "View registrations by the path that stored them",
	}, []string{"path"}) // path=remote|fallback|failed|invalid

	playbackRegistered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podcast_playback_registered_total",
		Help: "Playback registrations by outcome",
	}, []string{"outcome"}) // outcome=recorded|skipped|failed

	minutesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podcast_minutes_recorded_total",
		Help: "Listening minutes written to the durable store",
	})

	segmentsFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podcast_segments_flushed_total",
		Help: "Play segments handed to the recorder by flush reason",
	}, []string{"reason"}) // reason=timer|pause|teardown|content_change|seek

	segmentsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podcast_segments_dropped_total",
		Help: "Zero-length or negative segments discarded at flush",
	})

	statsQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podcast_stats_queries_total",
		Help: "Statistics aggregate reads by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	fallbackReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podcast_fallback_reconciled_total",
		Help: "Fallback view counts replayed into the durable store",
	})
)

// View paths.
const (
	PathRemote   = "remote"
	PathFallback = "fallback"
	PathFailed   = "failed"
	PathInvalid  = "invalid"
)

// Playback outcomes.
const (
	OutcomeRecorded = "recorded"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Flush reasons.
const (
	ReasonTimer         = "timer"
	ReasonPause         = "pause"
	ReasonTeardown      = "teardown"
	ReasonContentChange = "content_change"
	ReasonSeek          = "seek"
)

func RecordView(path string) {
	viewsRegistered.WithLabelValues(path).Inc()
}

// RecordPlayback counts one playback registration; minutes are only added
// for recorded outcomes.
func RecordPlayback(outcome string, minutes float64) {
	playbackRegistered.WithLabelValues(outcome).Inc()
	if outcome == OutcomeRecorded && minutes > 0 {
		minutesRecorded.Add(minutes)
	}
}

func RecordSegmentFlushed(reason string) {
	segmentsFlushed.WithLabelValues(reason).Inc()
}

func RecordSegmentDropped() {
	segmentsDropped.Inc()
}

func RecordStatsQuery(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	statsQueries.WithLabelValues(outcome).Inc()
}

func RecordFallbackReconciled(n int64) {
	if n > 0 {
		fallbackReconciled.Add(float64(n))
	}
}
