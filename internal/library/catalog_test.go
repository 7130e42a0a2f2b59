package library

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
)

func newTestCatalog(t *testing.T, root string, exts ...string) *Catalog {
	t.Helper()
	c, err := NewCatalog(Options{Root: root, Extensions: exts, Debounce: 10 * time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return c
}

func TestCatalogWatchesAndRefreshes(t *testing.T) {
	root := t.TempDir()
	initial := filepath.Join(root, "initial.wav")
	if err := os.WriteFile(initial, []byte("one"), 0o644); err != nil {
		t.Fatalf("write initial file: %v", err)
	}

	lib := newTestCatalog(t, root, ".wav")

	waitFor(t, func() bool { return len(lib.ListEpisodes()) == 1 }, "initial scan")

	second := filepath.Join(root, "second.wav")
	if err := os.WriteFile(second, []byte("two"), 0o644); err != nil {
		t.Fatalf("write second file: %v", err)
	}
	waitFor(t, func() bool { return len(lib.ListEpisodes()) == 2 }, "detect second file")

	subdir := filepath.Join(root, "nested")
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	nested := filepath.Join(subdir, "third.wav")
	if err := os.WriteFile(nested, []byte("three"), 0o644); err != nil {
		t.Fatalf("write nested file: %v", err)
	}
	waitFor(t, func() bool { return len(lib.ListEpisodes()) == 3 }, "detect nested file")

	renamePath := filepath.Join(root, "initial-renamed.wav")
	if err := os.Rename(initial, renamePath); err != nil {
		t.Fatalf("rename file: %v", err)
	}
	waitFor(t, func() bool {
		for _, ep := range lib.ListEpisodes() {
			if ep.Filename == "initial-renamed.wav" {
				return true
			}
		}
		return false
	}, "detect rename")

	if err := os.Remove(second); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	waitFor(t, func() bool { return len(lib.ListEpisodes()) == 2 }, "reflect removal")

	eps := lib.ListEpisodes()
	if len(eps) == 0 {
		t.Fatalf("expected episodes to be present")
	}
	eps[0].Title = "mutated"
	if lib.ListEpisodes()[0].Title == "mutated" {
		t.Fatalf("expected ListEpisodes to return a defensive copy")
	}
}

func TestCatalogIgnoresNonAudioFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("text"), 0o644); err != nil {
		t.Fatalf("write txt: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "song.wav"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	lib := newTestCatalog(t, root, ".wav")

	waitFor(t, func() bool { return len(lib.ListEpisodes()) == 1 }, "initial scan")

	eps := lib.ListEpisodes()
	if eps[0].Filename != "song.wav" {
		t.Fatalf("expected song.wav, got %s", eps[0].Filename)
	}

	// Adding another non-audio file should not change the count.
	if err := os.WriteFile(filepath.Join(root, "readme.md"), []byte("doc"), 0o644); err != nil {
		t.Fatalf("write md: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if len(lib.ListEpisodes()) != 1 {
		t.Fatalf("expected still 1 episode, got %d", len(lib.ListEpisodes()))
	}
}

func TestCatalogMultipleExtensions(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.mp3"), []byte("mp3"), 0o644); err != nil {
		t.Fatalf("write mp3: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.flac"), []byte("flac"), 0o644); err != nil {
		t.Fatalf("write flac: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "c.txt"), []byte("text"), 0o644); err != nil {
		t.Fatalf("write txt: %v", err)
	}

	lib := newTestCatalog(t, root, ".mp3", ".flac")

	waitFor(t, func() bool { return len(lib.ListEpisodes()) == 2 }, "scan mp3 and flac")
}

func TestCatalogEmptyDirectory(t *testing.T) {
	root := t.TempDir()

	lib := newTestCatalog(t, root, ".wav")

	time.Sleep(50 * time.Millisecond)

	if len(lib.ListEpisodes()) != 0 {
		t.Fatalf("expected 0 episodes for empty dir, got %d", len(lib.ListEpisodes()))
	}

	// Adding a file to an initially empty library should be detected.
	if err := os.WriteFile(filepath.Join(root, "new.wav"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	waitFor(t, func() bool { return len(lib.ListEpisodes()) == 1 }, "detect new file")
}

func TestCatalogPreexistingSubdirectory(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "albums", "jazz")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "track.wav"), []byte("jazz"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	lib := newTestCatalog(t, root, ".wav")

	waitFor(t, func() bool { return len(lib.ListEpisodes()) == 1 }, "scan pre-existing nested file")

	eps := lib.ListEpisodes()
	if eps[0].Filename != "track.wav" {
		t.Fatalf("expected track.wav, got %s", eps[0].Filename)
	}
}

func waitFor(t *testing.T, predicate func() bool, label string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", label)
}

func TestCatalogLookupAndPath(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sono")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "ep1.wav"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	lib := newTestCatalog(t, root, ".wav")

	ep, ok := lib.Lookup("sono/ep1.wav")
	if !ok {
		t.Fatalf("expected lookup by relative id to succeed")
	}
	if ep.Title != "ep1" || ep.Category != "sono" {
		t.Fatalf("unexpected episode %+v", ep)
	}
	if _, ok := lib.Lookup("missing.wav"); ok {
		t.Fatalf("unexpected lookup hit")
	}

	p, ok := lib.Path("sono/ep1.wav")
	if !ok || p != filepath.Join(sub, "ep1.wav") {
		t.Fatalf("unexpected path %q", p)
	}
}

func TestCatalogOnRefreshReceivesSnapshots(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.wav"), []byte("a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var (
		mu    sync.Mutex
		sizes []int
	)
	c, err := NewCatalog(Options{
		Root:       root,
		Extensions: []string{".wav"},
		Debounce:   10 * time.Millisecond,
		Logger:     zerolog.Nop(),
		OnRefresh: func(eps []models.Episode) {
			mu.Lock()
			sizes = append(sizes, len(eps))
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := os.WriteFile(filepath.Join(root, "b.wav"), []byte("b"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sizes) >= 2 && sizes[len(sizes)-1] == 2
	}, "refresh callback")

	mu.Lock()
	defer mu.Unlock()
	if sizes[0] != 1 {
		t.Fatalf("expected initial snapshot of 1 episode, got %d", sizes[0])
	}
}
