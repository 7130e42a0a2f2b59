// Package auth resolves bearer tokens to the actor id that tags telemetry
// writes. Tokens live in a plain text file that is reloaded on change.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// TokenStore maps writer tokens to actor ids. Each non-empty line of the
// backing file is "token [actor]"; a line without an actor uses the token
// itself as the actor. Lines starting with '#' are ignored.
type TokenStore struct {
	file         string
	logger       zerolog.Logger
	watcher      *fsnotify.Watcher
	refreshDelay time.Duration

	mu     sync.RWMutex
	actors map[string]string

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	done         chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
	closeErr     error
}

// NewTokenStore loads filePath and watches its directory for edits. A
// missing file is not an error; it simply yields no valid tokens.
func NewTokenStore(filePath string, debounce time.Duration, logger zerolog.Logger) (*TokenStore, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create token watcher: %w", err)
	}

	s := &TokenStore{
		file:         filepath.Clean(filePath),
		logger:       logger,
		watcher:      watcher,
		refreshDelay: debounce,
		actors:       make(map[string]string),
		done:         make(chan struct{}),
	}

	if err := s.refresh(); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(s.file)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch token directory: %w", err)
	}
	if err := watcher.Add(s.file); err != nil {
		s.logger.Debug().Err(err).Str("file", s.file).Msg("token file not watched directly")
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// Close stops the watcher and waits for its goroutine.
func (s *TokenStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.refreshMu.Lock()
		if s.refreshTimer != nil {
			s.refreshTimer.Stop()
			s.refreshTimer = nil
		}
		s.refreshMu.Unlock()

		s.closeErr = s.watcher.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

// Actor returns the actor id bound to token.
func (s *TokenStore) Actor(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	actor, ok := s.actors[token]
	return actor, ok
}

// IsValidToken reports whether token is authorized to write.
func (s *TokenStore) IsValidToken(token string) bool {
	_, ok := s.Actor(token)
	return ok
}

// Len returns the number of loaded tokens.
func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actors)
}

func (s *TokenStore) run() {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.file {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.scheduleRefresh()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Msg("token watcher error")
		case <-s.done:
			return
		}
	}
}

func (s *TokenStore) scheduleRefresh() {
	select {
	case <-s.done:
		return
	default:
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	s.refreshTimer = time.AfterFunc(s.refreshDelay, func() {
		if err := s.refresh(); err != nil {
			s.logger.Error().Err(err).Str("file", s.file).Msg("token refresh failed")
		}
	})
}

func (s *TokenStore) refresh() error {
	data, err := os.ReadFile(s.file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.actors = make(map[string]string)
			s.mu.Unlock()
			s.logger.Warn().Str("file", s.file).Msg("token file missing; writes are rejected")
			return nil
		}
		return fmt.Errorf("read token file: %w", err)
	}

	actors := parseTokens(string(data))

	s.mu.Lock()
	s.actors = actors
	s.mu.Unlock()

	s.logger.Info().Int("tokens", len(actors)).Msg("loaded writer tokens")
	return nil
}

func parseTokens(data string) map[string]string {
	lines := strings.Split(data, "\n")
	actors := make(map[string]string, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		actor := fields[0]
		if len(fields) > 1 {
			actor = fields[1]
		}
		actors[fields[0]] = actor
	}
	return actors
}
