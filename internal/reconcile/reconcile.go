// Package reconcile replays local fallback view counts into the durable
// store once it is reachable again, so the two sources stop overlapping.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/metrics"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/store"
)

// Counters is the fallback surface a reconcile pass needs.
type Counters interface {
	ReadAll() (map[string]int64, error)
	Subtract(contentID string, n int64) error
}

// Report summarizes one pass.
type Report struct {
	Episodes int   `json:"episodes"`
	Replayed int64 `json:"replayed"`
	Pending  int64 `json:"pending"`
}

// Reconciler moves fallback counts into durable view rows.
type Reconciler struct {
	counters Counters
	views    store.ViewStore
	logger   zerolog.Logger
	now      func() time.Time
}

func New(counters Counters, views store.ViewStore, logger zerolog.Logger) *Reconciler {
	return &Reconciler{counters: counters, views: views, logger: logger, now: time.Now}
}

// Run inserts one zero-minute view row per fallback count and subtracts
// exactly the number of rows that were written. It stops at the first
// failed insert of an episode and moves on to the next one, leaving the
// remainder for a later pass.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	counts, err := r.counters.ReadAll()
	if err != nil {
		return Report{}, fmt.Errorf("read fallback counters: %w", err)
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rep Report
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		want := counts[id]
		if want <= 0 {
			continue
		}

		var written int64
		for written < want {
			_, err := r.views.InsertView(ctx, models.ViewRecord{ContentID: id, ViewedAt: r.now()})
			if err != nil {
				r.logger.Warn().Err(err).Str("episode_id", id).Int64("written", written).Msg("replay interrupted")
				break
			}
			written++
		}

		if written > 0 {
			if err := r.counters.Subtract(id, written); err != nil {
				// Rows are already durable; the counter will be replayed again.
				return rep, fmt.Errorf("subtract fallback counter %s: %w", id, err)
			}
			rep.Episodes++
			rep.Replayed += written
			metrics.RecordFallbackReconciled(written)
		}
		rep.Pending += want - written
	}

	r.logger.Info().
		Int("episodes", rep.Episodes).
		Int64("replayed", rep.Replayed).
		Int64("pending", rep.Pending).
		Msg("fallback reconcile finished")
	return rep, nil
}
