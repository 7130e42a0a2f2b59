// Package config resolves runtime settings from defaults, an optional YAML
// file named by PODCAST_CONFIG, and PODCAST_* environment variables, in
// that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/telemetry"
)

var allowedExtensions = []string{
	".mp3",
	".m4a",
	".aac",
	".wav",
	".flac",
	".ogg",
}

const (
	defaultListenAddr        = "127.0.0.1:8080"
	defaultRefreshDebounceMS = 500
	defaultSampleInterval    = 250 * time.Millisecond
	defaultMaxPlaybackRate   = 4
	defaultRedisAddr         = "127.0.0.1:6379"
	defaultRedisPrefix       = "podcast:"

	StoreSQLite = "sqlite"
	StoreRedis  = "redis"

	FallbackBadger = "badger"
	FallbackFile   = "file"
	FallbackMemory = "memory"
)

// AllowedExtensions returns the supported audio file extensions (lowercase).
func AllowedExtensions() []string {
	result := make([]string, len(allowedExtensions))
	copy(result, allowedExtensions)
	return result
}

type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type StoreSettings struct {
	Backend    string        `yaml:"backend"`
	SQLitePath string        `yaml:"sqlite_path"`
	Redis      RedisSettings `yaml:"redis"`
}

type FallbackSettings struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type TelemetrySettings struct {
	FlushInterval   time.Duration `yaml:"flush_interval"`
	ViewThreshold   time.Duration `yaml:"view_threshold"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
	MaxPlaybackRate float64       `yaml:"max_playback_rate"`
}

// Settings is the fully resolved configuration.
type Settings struct {
	AudioDir          string            `yaml:"audio_dir"`
	ListenAddr        string            `yaml:"listen_addr"`
	RefreshDebounce   time.Duration     `yaml:"refresh_debounce"`
	TokenFile         string            `yaml:"token_file"`
	DataDir           string            `yaml:"data_dir"`
	Store             StoreSettings     `yaml:"store"`
	Fallback          FallbackSettings  `yaml:"fallback"`
	Telemetry         TelemetrySettings `yaml:"telemetry"`
	Timezone          string            `yaml:"timezone"`
	ReconcileSchedule string            `yaml:"reconcile_schedule"`
	LogLevel          string            `yaml:"log_level"`
	LogFormat         string            `yaml:"log_format"`
}

// Defaults returns the built-in settings before any file or env override.
func Defaults() Settings {
	return Settings{
		AudioDir:        "audio",
		ListenAddr:      defaultListenAddr,
		RefreshDebounce: defaultRefreshDebounceMS * time.Millisecond,
		DataDir:         "data",
		Store: StoreSettings{
			Backend: StoreSQLite,
			Redis:   RedisSettings{Addr: defaultRedisAddr, Prefix: defaultRedisPrefix},
		},
		Fallback: FallbackSettings{Backend: FallbackFile},
		Telemetry: TelemetrySettings{
			FlushInterval:   telemetry.MinFlushInterval,
			ViewThreshold:   telemetry.DefaultViewThreshold,
			SampleInterval:  defaultSampleInterval,
			MaxPlaybackRate: defaultMaxPlaybackRate,
		},
		Timezone: "Local",
	}
}

// Load resolves Settings and validates them. Paths come back absolute.
func Load() (Settings, error) {
	s := Defaults()

	if path := strings.TrimSpace(os.Getenv("PODCAST_CONFIG")); path != "" {
		if err := s.mergeFile(expandHome(path)); err != nil {
			return Settings{}, err
		}
	}
	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	if err := s.normalize(); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (s *Settings) applyEnv() error {
	setString(&s.AudioDir, "PODCAST_AUDIO_DIR")
	setString(&s.ListenAddr, "PODCAST_LISTEN_ADDR")
	setString(&s.TokenFile, "PODCAST_TOKEN_FILE")
	setString(&s.DataDir, "PODCAST_DATA_DIR")
	setString(&s.Store.Backend, "PODCAST_STORE")
	setString(&s.Store.SQLitePath, "PODCAST_SQLITE_PATH")
	setString(&s.Store.Redis.Addr, "PODCAST_REDIS_ADDR")
	setString(&s.Store.Redis.Password, "PODCAST_REDIS_PASSWORD")
	setString(&s.Fallback.Backend, "PODCAST_FALLBACK")
	setString(&s.Fallback.Path, "PODCAST_FALLBACK_PATH")
	setString(&s.Timezone, "PODCAST_TIMEZONE")
	setString(&s.ReconcileSchedule, "PODCAST_RECONCILE_SCHEDULE")
	setString(&s.LogLevel, "PODCAST_LOG_LEVEL")
	setString(&s.LogFormat, "PODCAST_LOG_FORMAT")

	// Invalid or negative debounce values keep the previous setting.
	if value := strings.TrimSpace(os.Getenv("PODCAST_REFRESH_DEBOUNCE_MS")); value != "" {
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
			s.RefreshDebounce = time.Duration(ms) * time.Millisecond
		}
	}

	if value := strings.TrimSpace(os.Getenv("PODCAST_REDIS_DB")); value != "" {
		db, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("PODCAST_REDIS_DB: %w", err)
		}
		s.Store.Redis.DB = db
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PODCAST_FLUSH_INTERVAL", &s.Telemetry.FlushInterval},
		{"PODCAST_VIEW_THRESHOLD", &s.Telemetry.ViewThreshold},
		{"PODCAST_SAMPLE_INTERVAL", &s.Telemetry.SampleInterval},
	}
	for _, d := range durations {
		value := strings.TrimSpace(os.Getenv(d.key))
		if value == "" {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (s *Settings) normalize() error {
	var err error
	if s.AudioDir, err = absPath(s.AudioDir); err != nil {
		return err
	}
	if s.DataDir, err = absPath(s.DataDir); err != nil {
		return err
	}
	if s.TokenFile != "" {
		if s.TokenFile, err = absPath(s.TokenFile); err != nil {
			return err
		}
	}

	s.Store.Backend = strings.ToLower(strings.TrimSpace(s.Store.Backend))
	if s.Store.SQLitePath == "" {
		s.Store.SQLitePath = filepath.Join(s.DataDir, "views.db")
	} else if s.Store.SQLitePath, err = absPath(s.Store.SQLitePath); err != nil {
		return err
	}

	s.Fallback.Backend = strings.ToLower(strings.TrimSpace(s.Fallback.Backend))
	if s.Fallback.Path == "" {
		switch s.Fallback.Backend {
		case FallbackFile:
			s.Fallback.Path = filepath.Join(s.DataDir, "podcast_episode_views.json")
		default:
			s.Fallback.Path = filepath.Join(s.DataDir, "fallback")
		}
	} else if s.Fallback.Path, err = absPath(s.Fallback.Path); err != nil {
		return err
	}

	s.Telemetry.FlushInterval = telemetry.ClampFlushInterval(s.Telemetry.FlushInterval)
	if s.Telemetry.ViewThreshold <= 0 {
		s.Telemetry.ViewThreshold = telemetry.DefaultViewThreshold
	}
	if s.Telemetry.SampleInterval <= 0 {
		s.Telemetry.SampleInterval = defaultSampleInterval
	}
	return nil
}

// Validate reports the first invalid setting.
func (s Settings) Validate() error {
	if err := ValidateListenAddr(s.ListenAddr); err != nil {
		return err
	}
	switch s.Store.Backend {
	case StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown store backend %q", s.Store.Backend)
	}
	switch s.Fallback.Backend {
	case FallbackBadger, FallbackFile, FallbackMemory:
	default:
		return fmt.Errorf("unknown fallback backend %q", s.Fallback.Backend)
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the zone whose midnight bounds a listening day.
func (s Settings) Location() (*time.Location, error) {
	switch strings.TrimSpace(s.Timezone) {
	case "", "Local":
		return time.Local, nil
	default:
		loc, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
		}
		return loc, nil
	}
}

// EnsureDirs creates the audio and data directories and, when configured,
// an empty token file.
func (s Settings) EnsureDirs() error {
	for _, dir := range []string{s.AudioDir, s.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if s.TokenFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.TokenFile), 0o755); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	f, err := os.OpenFile(s.TokenFile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("create token file: %w", err)
	}
	return f.Close()
}

// ValidateListenAddr ensures the listen address is restricted to localhost.
func ValidateListenAddr(addr string) error {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if strings.HasPrefix(addr, "127.0.0.1:") || strings.HasPrefix(addr, "localhost:") || strings.HasPrefix(addr, "[::1]:") {
		return nil
	}
	return errors.New("listen address must bind to localhost for security")
}

func setString(dst *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func absPath(path string) (string, error) {
	abs, err := filepath.Abs(expandHome(strings.TrimSpace(path)))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}
