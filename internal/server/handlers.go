package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	pathpkg "path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/recorder"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/stats"
)

const maxTelemetryBody = 4 << 10

type viewRequest struct {
	EpisodeID string `json:"episode_id"`
}

type playbackRequest struct {
	EpisodeID     string  `json:"episode_id"`
	StartPosition float64 `json:"start_position"`
	EndPosition   float64 `json:"end_position"`
}

type resultResponse struct {
	Success              bool   `json:"success"`
	LocalStorageFallback bool   `json:"localStorageFallback,omitempty"`
	Skipped              bool   `json:"skipped,omitempty"`
	RecordID             string `json:"record_id,omitempty"`
	Error                string `json:"error,omitempty"`
}

type statsResponse struct {
	Episodes     []models.StatSummary `json:"episodes"`
	TotalViews   int64                `json:"total_views"`
	TotalMinutes float64              `json:"total_minutes"`
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleEpisodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Catalog.ListEpisodes())
}

func (h *handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(pathpkg.Clean(strings.TrimPrefix(r.URL.Path, "/audio/")), "/")
	if rel == "" || rel == "." {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	resolved, err := filepath.Abs(filepath.Join(h.audioRoot, filepath.FromSlash(rel)))
	if err != nil {
		h.logger.Error().Err(err).Str("path", rel).Msg("failed to resolve audio path")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !pathWithinRoot(h.audioRoot, resolved) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("path", resolved).Msg("failed to stat audio file")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if info.IsDir() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	http.ServeFile(w, r, resolved)
}

func (h *handler) handleView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, ok := h.knownEpisode(w, req.EpisodeID); !ok {
		return
	}
	h.writeResult(w, h.deps.Recorder.RegisterView(r.Context(), req.EpisodeID))
}

func (h *handler) handlePlayback(w http.ResponseWriter, r *http.Request) {
	var req playbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ep, ok := h.knownEpisode(w, req.EpisodeID)
	if !ok {
		return
	}

	start, end := req.StartPosition, req.EndPosition
	if start < 0 || end < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "positions must not be negative"})
		return
	}
	if d := ep.Duration(); d > 0 && end > d {
		end = d
	}
	if end-start > h.maxSpan {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "segment exceeds the maximum span"})
		return
	}
	h.writeResult(w, h.deps.Recorder.RegisterPlayback(r.Context(), req.EpisodeID, start, end))
}

func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := stats.ParseSortKey(q.Get("sort"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
	}

	summaries, err := h.deps.Stats.GetStatsByContent(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "stats_unavailable"})
		return
	}

	views, minutes := stats.Totals(summaries)
	writeJSON(w, http.StatusOK, statsResponse{
		Episodes:     stats.Top(summaries, key, limit),
		TotalViews:   views,
		TotalMinutes: minutes,
	})
}

func (h *handler) knownEpisode(w http.ResponseWriter, id string) (models.Episode, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "episode_id is required"})
		return models.Episode{}, false
	}
	if h.deps.Catalog == nil {
		return models.Episode{ID: id}, true
	}
	ep, ok := h.deps.Catalog.Lookup(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown episode"})
		return models.Episode{}, false
	}
	return ep, true
}

// writeResult maps a recorder result to a response. Fallback writes are
// successes; only a failed registration is an error status.
func (h *handler) writeResult(w http.ResponseWriter, res recorder.Result) {
	body := resultResponse{
		Success:              res.Success,
		LocalStorageFallback: res.LocalStorageFallback,
		Skipped:              res.Skipped,
		RecordID:             res.RecordID,
		Error:                res.Error(),
	}
	status := http.StatusOK
	switch {
	case errors.Is(res.Err, recorder.ErrEmptyContentID):
		status = http.StatusBadRequest
	case !res.Success:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTelemetryBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathWithinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../")
}
