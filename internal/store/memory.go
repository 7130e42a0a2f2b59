package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
)

// Memory is a process-local Backend. It deliberately does not implement
// DailyMinutesAdder, so writers fall back to read-modify-write against it.
type Memory struct {
	mu       sync.RWMutex
	rows     []models.ViewRecord
	episodes map[string]models.Episode
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{episodes: make(map[string]models.Episode)}
}

func (m *Memory) InsertView(_ context.Context, rec models.ViewRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.mu.Lock()
	m.rows = append(m.rows, rec)
	m.mu.Unlock()
	return rec.ID, nil
}

func (m *Memory) UpdateViewMinutes(_ context.Context, id string, minutes float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].MinutesPlayed = minutes
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) FindLatestView(_ context.Context, q ViewQuery) (models.ViewRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		latest models.ViewRecord
		found  bool
	)
	for _, row := range m.rows {
		if row.ContentID != q.ContentID {
			continue
		}
		if row.ViewedAt.Before(q.From) || !row.ViewedAt.Before(q.To) {
			continue
		}
		// Later insertions win ties, matching insertion order in the SQL store.
		if !found || !row.ViewedAt.Before(latest.ViewedAt) {
			latest = row
			found = true
		}
	}
	if !found {
		return models.ViewRecord{}, ErrNotFound
	}
	return latest, nil
}

func (m *Memory) AggregateByContent(_ context.Context) ([]models.ContentAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	index := make(map[string]int)
	var out []models.ContentAggregate
	for _, row := range m.rows {
		i, ok := index[row.ContentID]
		if !ok {
			agg := models.ContentAggregate{ContentID: row.ContentID}
			if ep, known := m.episodes[row.ContentID]; known {
				agg.Title = ep.Title
				agg.PublishedAt = ep.PublishedAt
			}
			out = append(out, agg)
			i = len(out) - 1
			index[row.ContentID] = i
		}
		out[i].TotalViews++
		out[i].TotalMinutesPlayed += row.MinutesPlayed
	}
	return out, nil
}

func (m *Memory) SyncEpisodes(_ context.Context, episodes []models.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ep := range episodes {
		m.episodes[ep.ID] = ep
	}
	return nil
}

// Rows returns a copy of every stored row.
func (m *Memory) Rows() []models.ViewRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ViewRecord, len(m.rows))
	copy(out, m.rows)
	return out
}

func (m *Memory) Close() error { return nil }
