// Package server exposes the catalog, audio files and playback telemetry
// over HTTP.
package server

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/recorder"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/telemetry"
)

const defaultIngestPerMinute = 240

// DefaultMaxSpan bounds one reported segment: a full flush interval at the
// fastest playback rate a player offers, plus headroom for sampling jitter.
const DefaultMaxSpan = 5 * telemetry.MaxFlushInterval

// EpisodeProvider is the catalog surface used by the handlers.
type EpisodeProvider interface {
	ListEpisodes() []models.Episode
	Lookup(id string) (models.Episode, bool)
}

// ActorResolver maps a request token to the actor it belongs to.
type ActorResolver interface {
	Actor(token string) (string, bool)
}

// Registrar records views and listened segments.
type Registrar interface {
	RegisterView(ctx context.Context, contentID string) recorder.Result
	RegisterPlayback(ctx context.Context, contentID string, start, end float64) recorder.Result
}

// StatsSource produces per-episode listening summaries.
type StatsSource interface {
	GetStatsByContent(ctx context.Context) ([]models.StatSummary, error)
}

// Deps wires the handlers. Tokens may be nil, which leaves every route
// open and writes anonymous.
type Deps struct {
	Catalog   EpisodeProvider
	Tokens    ActorResolver
	Recorder  Registrar
	Stats     StatsSource
	AudioRoot string
	Logger    zerolog.Logger
	// IngestPerMinute caps telemetry writes per client IP.
	IngestPerMinute int
	// MaxSpan caps end-start of one playback report. Zero means
	// DefaultMaxSpan.
	MaxSpan time.Duration
}

type handler struct {
	deps      Deps
	audioRoot string
	maxSpan   float64
	logger    zerolog.Logger
}

// New builds the router.
func New(deps Deps) http.Handler {
	absRoot, err := filepath.Abs(filepath.Clean(deps.AudioRoot))
	if err != nil {
		deps.Logger.Warn().Err(err).Str("audio_root", deps.AudioRoot).Msg("unable to resolve absolute audio root")
		absRoot = filepath.Clean(deps.AudioRoot)
	}
	if deps.IngestPerMinute <= 0 {
		deps.IngestPerMinute = defaultIngestPerMinute
	}
	if deps.MaxSpan <= 0 {
		deps.MaxSpan = DefaultMaxSpan
	}

	h := &handler{deps: deps, audioRoot: absRoot, maxSpan: deps.MaxSpan.Seconds(), logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(logRequests(h.logger))

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.requireToken)

		r.Get("/episodes", h.handleEpisodes)
		r.Get("/audio/*", h.handleAudio)
		r.Head("/audio/*", h.handleAudio)

		r.Route("/api", func(r chi.Router) {
			r.Get("/stats", h.handleStats)
			r.Group(func(r chi.Router) {
				r.Use(rateLimit(deps.IngestPerMinute, time.Minute))
				r.Post("/views", h.handleView)
				r.Post("/playback", h.handlePlayback)
			})
		})
	})

	return r
}
