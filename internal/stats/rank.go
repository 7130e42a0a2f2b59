package stats

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
)

// SortKey selects the ranking metric.
type SortKey int

const (
	ByViews SortKey = iota
	ByMinutes
)

func (k SortKey) String() string {
	if k == ByMinutes {
		return "minutes"
	}
	return "views"
}

// ParseSortKey accepts "views" or "minutes"; empty means views.
func ParseSortKey(raw string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "views":
		return ByViews, nil
	case "minutes", "minutes_played":
		return ByMinutes, nil
	default:
		return ByViews, fmt.Errorf("unknown sort key %q", raw)
	}
}

// Top returns the n best summaries by key, ties broken by title then id.
// n <= 0 returns all of them. The input is not modified.
func Top(summaries []models.StatSummary, key SortKey, n int) []models.StatSummary {
	out := slices.Clone(summaries)
	slices.SortStableFunc(out, func(a, b models.StatSummary) int {
		var c int
		switch key {
		case ByMinutes:
			c = cmpDesc(a.MinutesPlayed, b.MinutesPlayed)
		default:
			c = cmpDesc(a.Views, b.Views)
		}
		if c != 0 {
			return c
		}
		if c = strings.Compare(a.Title, b.Title); c != 0 {
			return c
		}
		return strings.Compare(a.ContentID, b.ContentID)
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Totals sums views and minutes across summaries.
func Totals(summaries []models.StatSummary) (views int64, minutes float64) {
	for _, s := range summaries {
		views += s.Views
		minutes += s.MinutesPlayed
	}
	return views, minutes
}

func cmpDesc[T int64 | float64](a, b T) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}
