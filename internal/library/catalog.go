// Package library keeps the episode catalog in sync with an audio
// directory tree.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/metadata"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
)

// Options configures a Catalog.
type Options struct {
	Root       string
	Extensions []string
	// Debounce delays a rescan after the last filesystem event.
	Debounce time.Duration
	Logger   zerolog.Logger
	// OnRefresh receives every new snapshot, including the initial scan.
	// It runs on the refresh goroutine and must not call back into Close.
	OnRefresh func(episodes []models.Episode)
}

// Catalog watches Root recursively and serves episode metadata by id.
type Catalog struct {
	opts    Options
	allowed map[string]struct{}
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	mu       sync.RWMutex
	episodes []models.Episode
	byID     map[string]int

	refreshMu    sync.Mutex
	refreshTimer *time.Timer

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewCatalog scans Root once and starts watching it.
func NewCatalog(opts Options) (*Catalog, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create catalog watcher: %w", err)
	}

	c := &Catalog{
		opts:    opts,
		allowed: make(map[string]struct{}, len(opts.Extensions)),
		watcher: watcher,
		logger:  opts.Logger,
		byID:    make(map[string]int),
		done:    make(chan struct{}),
	}
	for _, ext := range opts.Extensions {
		c.allowed[strings.ToLower(ext)] = struct{}{}
	}

	c.watchTree(opts.Root)

	if err := c.refresh(); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	c.wg.Add(1)
	go c.run()

	return c, nil
}

// Close stops watching and waits for the watcher goroutine.
func (c *Catalog) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.refreshMu.Lock()
		if c.refreshTimer != nil {
			c.refreshTimer.Stop()
			c.refreshTimer = nil
		}
		c.refreshMu.Unlock()

		c.closeErr = c.watcher.Close()
		c.wg.Wait()
	})
	return c.closeErr
}

// ListEpisodes returns a copy of the current snapshot ordered by path.
func (c *Catalog) ListEpisodes() []models.Episode {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Episode, len(c.episodes))
	copy(out, c.episodes)
	return out
}

// Lookup returns the episode with the given id.
func (c *Catalog) Lookup(id string) (models.Episode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byID[id]
	if !ok {
		return models.Episode{}, false
	}
	return c.episodes[i], true
}

// Path returns the absolute file path of an episode.
func (c *Catalog) Path(id string) (string, bool) {
	ep, ok := c.Lookup(id)
	if !ok {
		return "", false
	}
	return filepath.Join(c.opts.Root, filepath.FromSlash(ep.RelativePath)), true
}

func (c *Catalog) run() {
	defer c.wg.Done()

	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(event)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn().Err(err).Msg("catalog watcher error")
		case <-c.done:
			return
		}
	}
}

func (c *Catalog) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			c.watchTree(event.Name)
			c.scheduleRefresh()
			return
		}
	}

	removed := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	changed := event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
	if removed || (changed && c.isAllowed(event.Name)) {
		c.scheduleRefresh()
	}
}

func (c *Catalog) refresh() error {
	var episodes []models.Episode

	err := filepath.WalkDir(c.opts.Root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			c.logger.Debug().Err(err).Str("path", p).Msg("walk error")
			return nil
		}
		if d.IsDir() || !c.isAllowed(p) {
			return nil
		}

		ep, err := metadata.BuildEpisode(p, c.opts.Root)
		if err != nil {
			c.logger.Warn().Err(err).Str("path", p).Msg("metadata probe failed")
			return nil
		}
		episodes = append(episodes, ep)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan catalog: %w", err)
	}

	sort.SliceStable(episodes, func(i, j int) bool {
		return episodes[i].RelativePath < episodes[j].RelativePath
	})
	byID := make(map[string]int, len(episodes))
	for i, ep := range episodes {
		byID[ep.ID] = i
	}

	c.mu.Lock()
	c.episodes = episodes
	c.byID = byID
	c.mu.Unlock()

	c.logger.Info().Int("episodes", len(episodes)).Msg("catalog refreshed")

	if c.opts.OnRefresh != nil {
		snapshot := make([]models.Episode, len(episodes))
		copy(snapshot, episodes)
		c.opts.OnRefresh(snapshot)
	}
	return nil
}

func (c *Catalog) scheduleRefresh() {
	select {
	case <-c.done:
		return
	default:
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(c.opts.Debounce, func() {
		if err := c.refresh(); err != nil {
			c.logger.Error().Err(err).Msg("catalog refresh failed")
		}

		c.refreshMu.Lock()
		if c.refreshTimer == timer {
			c.refreshTimer = nil
		}
		c.refreshMu.Unlock()
	})
	c.refreshTimer = timer
}

func (c *Catalog) watchTree(root string) {
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			c.logger.Debug().Err(err).Str("path", p).Msg("walk error")
			return nil
		}
		if d.IsDir() {
			if err := c.watcher.Add(p); err != nil {
				c.logger.Warn().Err(err).Str("path", p).Msg("cannot watch directory")
			}
		}
		return nil
	})
}

func (c *Catalog) isAllowed(p string) bool {
	_, ok := c.allowed[strings.ToLower(filepath.Ext(p))]
	return ok
}
