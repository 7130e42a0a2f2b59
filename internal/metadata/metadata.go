// Package metadata probes audio files for the catalog: tags, duration,
// bitrate and a publish date.
package metadata

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
)

type fileTags struct {
	title  string
	artist *string
	album  *string
	year   int
}

// BuildEpisode describes the file at p. The episode id is its slash
// separated path relative to root; the first directory level is the
// category.
func BuildEpisode(p, root string) (models.Episode, error) {
	info, err := os.Stat(p)
	if err != nil {
		return models.Episode{}, fmt.Errorf("stat episode: %w", err)
	}

	relative, err := filepath.Rel(root, p)
	if err != nil {
		relative = filepath.Base(p)
	}
	relative = filepath.ToSlash(relative)

	tags := readTags(p)
	if tags.title == "" {
		tags.title = strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	}

	modified := info.ModTime().UTC().Round(time.Second)
	ep := models.Episode{
		ID:            relative,
		Filename:      filepath.Base(p),
		RelativePath:  relative,
		Category:      category(relative),
		Title:         tags.title,
		Artist:        tags.artist,
		Album:         tags.album,
		FilesizeBytes: info.Size(),
		ModifiedAt:    modified,
		PublishedAt:   publishedAt(tags.year, modified),
	}

	if strings.EqualFold(filepath.Ext(p), ".mp3") {
		if dur, err := ProbeDuration(p); err == nil && dur > 0 {
			ep.DurationSeconds = &dur
			if kbps := int(math.Round(float64(info.Size()) * 8 / dur / 1000)); kbps > 0 {
				ep.BitrateKbps = &kbps
			}
		}
	}
	return ep, nil
}

// ProbeDuration sums the frame durations of an MP3 stream, in seconds.
func ProbeDuration(p string) (float64, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var (
		decoder = mp3.NewDecoder(f)
		frame   mp3.Frame
		skipped int
		total   float64
	)
	for {
		if err := decoder.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return 0, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
		}
		total += frame.Duration().Seconds()
	}
}

func readTags(p string) fileTags {
	f, err := os.Open(p)
	if err != nil {
		return fileTags{}
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return fileTags{}
	}
	return fileTags{
		title:  strings.TrimSpace(meta.Title()),
		artist: optionalString(meta.Artist()),
		album:  optionalString(meta.Album()),
		year:   meta.Year(),
	}
}

// publishedAt prefers the tagged year, falling back to the file's
// modification time.
func publishedAt(year int, modified time.Time) time.Time {
	if year >= 1900 && year <= modified.Year()+1 {
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return modified
}

func category(relative string) string {
	dir := path.Dir(relative)
	if dir == "." || dir == "/" {
		return ""
	}
	if i := strings.IndexByte(dir, '/'); i >= 0 {
		return dir[:i]
	}
	return dir
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
