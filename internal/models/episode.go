package models

import "time"

// Episode is a catalog entry for a single playable audio file.
type Episode struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename"`
	RelativePath    string    `json:"relative_path"`
	Category        string    `json:"category,omitempty"`
	Title           string    `json:"title"`
	Artist          *string   `json:"artist,omitempty"`
	Album           *string   `json:"album,omitempty"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	BitrateKbps     *int      `json:"bitrate_kbps,omitempty"`
	FilesizeBytes   int64     `json:"filesize_bytes"`
	ModifiedAt      time.Time `json:"modified_at"`
	PublishedAt     time.Time `json:"published_at"`
}

// Duration returns the probed duration in seconds, or zero when unknown.
func (e Episode) Duration() float64 {
	if e.DurationSeconds == nil {
		return 0
	}
	return *e.DurationSeconds
}
