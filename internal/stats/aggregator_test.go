package stats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/fallback"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
)

type staticSource struct {
	rows  []models.ContentAggregate
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (s *staticSource) AggregateByContent(ctx context.Context) ([]models.ContentAggregate, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.rows, s.err
}

type brokenCounters struct{}

func (brokenCounters) ReadAll() (map[string]int64, error) { return nil, errors.New("corrupt") }

type catalog map[string]models.Episode

func (c catalog) Lookup(id string) (models.Episode, bool) {
	ep, ok := c[id]
	return ep, ok
}

func counters(t *testing.T, counts map[string]int64) *fallback.Memory {
	t.Helper()
	m := fallback.NewMemory()
	for id, n := range counts {
		for i := int64(0); i < n; i++ {
			require.NoError(t, m.Increment(id))
		}
	}
	return m
}

var bySummaryID = cmpopts.SortSlices(func(a, b models.StatSummary) bool { return a.ContentID < b.ContentID })

func TestMergeAddsFallbackViews(t *testing.T) {
	src := &staticSource{rows: []models.ContentAggregate{
		{ContentID: "e1", Title: "Ansiedade", TotalViews: 3, TotalMinutesPlayed: 12.5},
	}}
	agg := New(src, counters(t, map[string]int64{"e1": 2}), nil, zerolog.Nop())

	got, err := agg.GetStatsByContent(context.Background())
	require.NoError(t, err)
	want := []models.StatSummary{{ContentID: "e1", Title: "Ansiedade", Views: 5, MinutesPlayed: 12.5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summaries mismatch (-want +got):\n%s", diff)
	}
}

func TestFallbackOnlyEpisodesUseCatalog(t *testing.T) {
	published := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	src := &staticSource{rows: []models.ContentAggregate{
		{ContentID: "e1", TotalViews: 1, TotalMinutesPlayed: 2},
	}}
	titles := catalog{
		"e1": {ID: "e1", Title: "Sono"},
		"e2": {ID: "e2", Title: "Foco", PublishedAt: published},
	}
	agg := New(src, counters(t, map[string]int64{"e2": 4, "ghost": 1}), titles, zerolog.Nop())

	got, err := agg.GetStatsByContent(context.Background())
	require.NoError(t, err)
	want := []models.StatSummary{
		{ContentID: "e1", Title: "Sono", Views: 1, MinutesPlayed: 2},
		{ContentID: "e2", Title: "Foco", Views: 4, PublishedAt: published},
		{ContentID: "ghost", Title: "ghost", Views: 1},
	}
	if diff := cmp.Diff(want, got, bySummaryID); diff != "" {
		t.Fatalf("summaries mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateFailureReturnsEmpty(t *testing.T) {
	src := &staticSource{err: errors.New("connection refused")}
	agg := New(src, counters(t, map[string]int64{"e1": 7}), nil, zerolog.Nop())

	got, err := agg.GetStatsByContent(context.Background())
	require.ErrorIs(t, err, ErrQuery)
	assert.NotNil(t, got)
	assert.Empty(t, got, "fallback-only data must not be reported as complete")
}

func TestUnreadableFallbackKeepsDurableTotals(t *testing.T) {
	src := &staticSource{rows: []models.ContentAggregate{{ContentID: "e1", Title: "t", TotalViews: 3}}}
	agg := New(src, brokenCounters{}, nil, zerolog.Nop())

	got, err := agg.GetStatsByContent(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].Views)
}

func TestConcurrentCallsShareOneRead(t *testing.T) {
	src := &staticSource{
		rows: []models.ContentAggregate{{ContentID: "e1", Title: "t", TotalViews: 1}},
		gate: make(chan struct{}),
	}
	agg := New(src, nil, nil, zerolog.Nop())

	var wg sync.WaitGroup
	results := make([][]models.StatSummary, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := agg.GetStatsByContent(context.Background())
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}

	assert.Eventually(t, func() bool { return src.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.LessOrEqual(t, src.calls.Load(), int32(5))
	for _, r := range results {
		require.Len(t, r, 1)
	}
	results[0][0].Views = 100
	assert.Equal(t, int64(1), results[1][0].Views, "callers get independent slices")
}

func TestCancelledCallerDoesNotFailSharedRead(t *testing.T) {
	src := &staticSource{
		rows: []models.ContentAggregate{{ContentID: "e1", Title: "t", TotalViews: 2}},
		gate: make(chan struct{}),
	}
	agg := New(src, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := agg.GetStatsByContent(ctx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan []models.StatSummary, 1)
	go func() {
		got, err := agg.GetStatsByContent(context.Background())
		assert.NoError(t, err)
		second <- got
	}()

	cancel()
	err := <-firstErr
	require.ErrorIs(t, err, ErrQuery)
	require.ErrorIs(t, err, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	got := <-second
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Views)
}

func TestSharedReadHasItsOwnTimeout(t *testing.T) {
	src := &staticSource{gate: make(chan struct{})}
	agg := New(src, nil, nil, zerolog.Nop(), WithQueryTimeout(20*time.Millisecond))

	_, err := agg.GetStatsByContent(context.Background())
	require.ErrorIs(t, err, ErrQuery)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
