// Package stats merges durable per-episode aggregates with the local
// fallback counters into the listening summaries shown to admins.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/metrics"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/store"
)

// ErrQuery marks a failed aggregate read. The accompanying result is always
// empty; fallback-only totals are never reported as complete.
var ErrQuery = errors.New("stats: aggregate query failed")

// FallbackReader exposes the local counters.
type FallbackReader interface {
	ReadAll() (map[string]int64, error)
}

// TitleLookup resolves metadata for episodes the durable store has no row
// for.
type TitleLookup interface {
	Lookup(id string) (models.Episode, bool)
}

// Aggregator is safe for concurrent use; overlapping calls share one read.
type Aggregator struct {
	source   store.AggregateSource
	fallback FallbackReader
	titles   TitleLookup
	logger   zerolog.Logger
	timeout  time.Duration
	group    singleflight.Group
}

// DefaultQueryTimeout bounds one shared aggregate read.
const DefaultQueryTimeout = 15 * time.Second

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithQueryTimeout overrides DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// New builds an Aggregator. fallback and titles may be nil.
func New(source store.AggregateSource, fallback FallbackReader, titles TitleLookup, logger zerolog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:   source,
		fallback: fallback,
		titles:   titles,
		logger:   logger,
		timeout:  DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetStatsByContent returns one unordered summary per episode that has
// durable rows or fallback counts. The shared read is detached from any
// single caller; a caller whose ctx ends stops waiting without failing the
// others.
func (a *Aggregator) GetStatsByContent(ctx context.Context) ([]models.StatSummary, error) {
	ch := a.group.DoChan("stats", func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		return a.load(lctx)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		metrics.RecordStatsQuery(false)
		return []models.StatSummary{}, fmt.Errorf("%w: %w", ErrQuery, ctx.Err())
	}
	if res.Err != nil {
		metrics.RecordStatsQuery(false)
		return []models.StatSummary{}, res.Err
	}
	metrics.RecordStatsQuery(true)

	shared := res.Val.([]models.StatSummary)
	out := make([]models.StatSummary, len(shared))
	copy(out, shared)
	return out, nil
}

func (a *Aggregator) load(ctx context.Context) ([]models.StatSummary, error) {
	var (
		aggs     []models.ContentAggregate
		counters map[string]int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		aggs, err = a.source.AggregateByContent(gctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrQuery, err)
		}
		return nil
	})
	if a.fallback != nil {
		g.Go(func() error {
			var err error
			counters, err = a.fallback.ReadAll()
			if err != nil {
				a.logger.Warn().Err(err).Msg("fallback counters unreadable; reporting durable totals only")
				counters = nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.Error().Err(err).Msg("stats aggregate failed")
		return nil, err
	}

	return a.merge(aggs, counters), nil
}

func (a *Aggregator) merge(aggs []models.ContentAggregate, counters map[string]int64) []models.StatSummary {
	out := make([]models.StatSummary, 0, len(aggs)+len(counters))
	index := make(map[string]int, len(aggs))
	for _, agg := range aggs {
		index[agg.ContentID] = len(out)
		out = append(out, models.StatSummary{
			ContentID:     agg.ContentID,
			Title:         agg.Title,
			Views:         agg.TotalViews,
			MinutesPlayed: agg.TotalMinutesPlayed,
			PublishedAt:   agg.PublishedAt,
		})
	}

	for id, count := range counters {
		if i, ok := index[id]; ok {
			out[i].Views += count
			continue
		}
		summary := models.StatSummary{ContentID: id, Title: id, Views: count}
		if a.titles != nil {
			if ep, ok := a.titles.Lookup(id); ok {
				summary.Title = ep.Title
				summary.PublishedAt = ep.PublishedAt
			}
		}
		index[id] = len(out)
		out = append(out, summary)
	}

	for i := range out {
		if out[i].Title == "" && a.titles != nil {
			if ep, ok := a.titles.Lookup(out[i].ContentID); ok {
				out[i].Title = ep.Title
				if out[i].PublishedAt.IsZero() {
					out[i].PublishedAt = ep.PublishedAt
				}
			}
		}
		if out[i].Title == "" {
			out[i].Title = out[i].ContentID
		}
	}
	return out
}
