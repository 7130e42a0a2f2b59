package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
)

func sample() []models.StatSummary {
	return []models.StatSummary{
		{ContentID: "a", Title: "Alpha", Views: 3, MinutesPlayed: 40},
		{ContentID: "b", Title: "Bravo", Views: 9, MinutesPlayed: 5},
		{ContentID: "c", Title: "Charlie", Views: 3, MinutesPlayed: 12.5},
		{ContentID: "d", Title: "Delta", Views: 1, MinutesPlayed: 0},
	}
}

func ids(in []models.StatSummary) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = s.ContentID
	}
	return out
}

func TestTopByViews(t *testing.T) {
	in := sample()
	assert.Equal(t, []string{"b", "a", "c"}, ids(Top(in, ByViews, 3)))
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(in), "input untouched")
}

func TestTopByMinutes(t *testing.T) {
	assert.Equal(t, []string{"a", "c", "b", "d"}, ids(Top(sample(), ByMinutes, 0)))
	assert.Equal(t, []string{"a"}, ids(Top(sample(), ByMinutes, 1)))
	assert.Len(t, Top(sample(), ByMinutes, 10), 4)
}

func TestTotals(t *testing.T) {
	views, minutes := Totals(sample())
	assert.Equal(t, int64(16), views)
	assert.InDelta(t, 57.5, minutes, 1e-9)

	views, minutes = Totals(nil)
	assert.Zero(t, views)
	assert.Zero(t, minutes)
}

func TestParseSortKey(t *testing.T) {
	for raw, want := range map[string]SortKey{"": ByViews, "views": ByViews, "MINUTES": ByMinutes, "minutes_played": ByMinutes} {
		got, err := ParseSortKey(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseSortKey("likes")
	assert.Error(t, err)
	assert.Equal(t, "minutes", ByMinutes.String())
}
