package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/fallback"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/store"
)

// flakyStore accepts a fixed number of inserts, then fails.
type flakyStore struct {
	*store.Memory
	budget int
}

func (f *flakyStore) InsertView(ctx context.Context, rec models.ViewRecord) (string, error) {
	if f.budget <= 0 {
		return "", errors.New("unavailable")
	}
	f.budget--
	return f.Memory.InsertView(ctx, rec)
}

func seed(t *testing.T, counts map[string]int) *fallback.Memory {
	t.Helper()
	c := fallback.NewMemory()
	for id, n := range counts {
		for i := 0; i < n; i++ {
			require.NoError(t, c.Increment(id))
		}
	}
	return c
}

func TestRunReplaysAllCounts(t *testing.T) {
	counters := seed(t, map[string]int{"e1": 2, "e2": 1})
	mem := store.NewMemory()

	rep, err := New(counters, mem, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Episodes: 2, Replayed: 3}, rep)

	left, err := counters.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, left)

	aggs, err := mem.AggregateByContent(context.Background())
	require.NoError(t, err)
	views := map[string]int64{}
	for _, a := range aggs {
		views[a.ContentID] = a.TotalViews
		assert.Zero(t, a.TotalMinutesPlayed)
	}
	assert.Equal(t, map[string]int64{"e1": 2, "e2": 1}, views)
}

func TestRunSubtractsOnlyWhatWasWritten(t *testing.T) {
	counters := seed(t, map[string]int{"e1": 3, "e2": 2})
	fs := &flakyStore{Memory: store.NewMemory(), budget: 2}

	rep, err := New(counters, fs, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Episodes: 1, Replayed: 2, Pending: 3}, rep)

	left, err := counters.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"e1": 1, "e2": 2}, left)
	assert.Len(t, fs.Rows(), 2)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	counters := seed(t, map[string]int{"e1": 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(counters, store.NewMemory(), zerolog.Nop()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	r := New(fallback.NewMemory(), store.NewMemory(), zerolog.Nop())

	_, err := NewScheduler("every tuesday", r, time.Second, zerolog.Nop())
	assert.Error(t, err)

	s, err := NewScheduler("@hourly", r, time.Second, zerolog.Nop())
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
