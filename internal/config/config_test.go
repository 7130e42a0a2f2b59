package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"PODCAST_CONFIG", "PODCAST_AUDIO_DIR", "PODCAST_LISTEN_ADDR", "PODCAST_REFRESH_DEBOUNCE_MS",
	"PODCAST_TOKEN_FILE", "PODCAST_DATA_DIR", "PODCAST_STORE", "PODCAST_SQLITE_PATH",
	"PODCAST_REDIS_ADDR", "PODCAST_REDIS_PASSWORD", "PODCAST_REDIS_DB", "PODCAST_FALLBACK",
	"PODCAST_FALLBACK_PATH", "PODCAST_FLUSH_INTERVAL", "PODCAST_VIEW_THRESHOLD",
	"PODCAST_SAMPLE_INTERVAL", "PODCAST_TIMEZONE", "PODCAST_RECONCILE_SCHEDULE", "PODCAST_LOG_LEVEL",
	"PODCAST_LOG_FORMAT",
}

// cleanEnv clears every PODCAST_* variable and runs the test from a temp
// working directory.
func cleanEnv(t *testing.T) string {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	temp := t.TempDir()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(temp); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
	return temp
}

func TestAllowedExtensionsIsolation(t *testing.T) {
	first := AllowedExtensions()
	second := AllowedExtensions()

	if len(first) == 0 {
		t.Fatalf("expected allowed extensions to be non-empty")
	}

	first[0] = ".doesnotexist"
	if first[0] == second[0] {
		t.Fatalf("mutating returned slice should not affect internal configuration")
	}
}

func TestLoadDefaults(t *testing.T) {
	temp := cleanEnv(t)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.AudioDir != filepath.Join(temp, "audio") {
		t.Fatalf("unexpected audio dir %s", s.AudioDir)
	}
	if s.ListenAddr != "127.0.0.1:8080" {
		t.Fatalf("expected default listen address, got %s", s.ListenAddr)
	}
	if s.RefreshDebounce != 500*time.Millisecond {
		t.Fatalf("expected default debounce, got %s", s.RefreshDebounce)
	}
	if s.Store.Backend != StoreSQLite || s.Store.SQLitePath != filepath.Join(temp, "data", "views.db") {
		t.Fatalf("unexpected store settings %+v", s.Store)
	}
	if s.Fallback.Backend != FallbackFile || s.Fallback.Path != filepath.Join(temp, "data", "podcast_episode_views.json") {
		t.Fatalf("unexpected fallback settings %+v", s.Fallback)
	}
	if s.Telemetry.FlushInterval != 15*time.Second || s.Telemetry.ViewThreshold != 5*time.Second {
		t.Fatalf("unexpected telemetry settings %+v", s.Telemetry)
	}
	if s.TokenFile != "" || s.ReconcileSchedule != "" {
		t.Fatalf("expected optional settings to stay empty")
	}
	if loc, err := s.Location(); err != nil || loc != time.Local {
		t.Fatalf("expected local timezone, got %v %v", loc, err)
	}
}

func TestLoadTildeAndEnsureDirs(t *testing.T) {
	temp := cleanEnv(t)
	home := filepath.Join(temp, "home")
	if err := os.Mkdir(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("PODCAST_AUDIO_DIR", "~/episodes")
	t.Setenv("PODCAST_TOKEN_FILE", filepath.Join(temp, "tokens", "writers.tokens"))

	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.AudioDir != filepath.Join(home, "episodes") {
		t.Fatalf("expected tilde expansion, got %s", s.AudioDir)
	}

	if err := s.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, dir := range []string{s.AudioDir, s.DataDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
	info, err := os.Stat(s.TokenFile)
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if !info.Mode().IsRegular() {
		t.Fatalf("expected token path to be a regular file")
	}
}

func TestRefreshDebounceEnv(t *testing.T) {
	cases := map[string]time.Duration{
		"1500":         1500 * time.Millisecond,
		"not-a-number": 500 * time.Millisecond,
		"-10":          500 * time.Millisecond,
	}
	for value, want := range cases {
		cleanEnv(t)
		t.Setenv("PODCAST_REFRESH_DEBOUNCE_MS", value)
		s, err := Load()
		if err != nil {
			t.Fatalf("Load(%s): %v", value, err)
		}
		if s.RefreshDebounce != want {
			t.Fatalf("debounce %q: got %s want %s", value, s.RefreshDebounce, want)
		}
	}
}

func TestValidateListenAddr(t *testing.T) {
	valid := []string{"127.0.0.1:8080", "localhost:9000", "[::1]:7000"}
	for _, addr := range valid {
		if err := ValidateListenAddr(addr); err != nil {
			t.Fatalf("expected %s to be valid: %v", addr, err)
		}
	}

	invalid := []string{"0.0.0.0:80", "192.168.1.1:1234", ":8080"}
	for _, addr := range invalid {
		if err := ValidateListenAddr(addr); err == nil {
			t.Fatalf("expected %s to be rejected", addr)
		}
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"PODCAST_LISTEN_ADDR":    "0.0.0.0:80",
		"PODCAST_STORE":          "postgres",
		"PODCAST_FALLBACK":       "cookies",
		"PODCAST_TIMEZONE":       "Mars/Olympus",
		"PODCAST_FLUSH_INTERVAL": "soon",
		"PODCAST_REDIS_DB":       "one",
	}
	for key, value := range cases {
		cleanEnv(t)
		t.Setenv(key, value)
		if _, err := Load(); err == nil {
			t.Fatalf("expected %s=%s to be rejected", key, value)
		}
	}
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	temp := cleanEnv(t)
	configPath := filepath.Join(temp, "podcast.yaml")
	content := "" +
		"listen_addr: localhost:9100\n" +
		"data_dir: state\n" +
		"store:\n" +
		"  backend: redis\n" +
		"  redis:\n" +
		"    addr: 127.0.0.1:6380\n" +
		"    db: 2\n" +
		"fallback:\n" +
		"  backend: badger\n" +
		"telemetry:\n" +
		"  flush_interval: 45s\n" +
		"  view_threshold: 8s\n" +
		"timezone: America/Sao_Paulo\n" +
		"reconcile_schedule: \"@hourly\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("PODCAST_CONFIG", configPath)
	t.Setenv("PODCAST_REDIS_DB", "5")
	t.Setenv("PODCAST_LOG_FORMAT", "console")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.ListenAddr != "localhost:9100" {
		t.Fatalf("expected file listen address, got %s", s.ListenAddr)
	}
	if s.Store.Backend != StoreRedis || s.Store.Redis.Addr != "127.0.0.1:6380" {
		t.Fatalf("unexpected store settings %+v", s.Store)
	}
	if s.Store.Redis.DB != 5 {
		t.Fatalf("expected env to override redis db, got %d", s.Store.Redis.DB)
	}
	if s.Store.Redis.Prefix != "podcast:" {
		t.Fatalf("expected default prefix to survive a partial file, got %q", s.Store.Redis.Prefix)
	}
	if s.Fallback.Backend != FallbackBadger || s.Fallback.Path != filepath.Join(temp, "state", "fallback") {
		t.Fatalf("unexpected fallback path %s", s.Fallback.Path)
	}
	if s.Telemetry.FlushInterval != 30*time.Second {
		t.Fatalf("expected flush interval clamped to 30s, got %s", s.Telemetry.FlushInterval)
	}
	if s.Telemetry.ViewThreshold != 8*time.Second {
		t.Fatalf("expected view threshold 8s, got %s", s.Telemetry.ViewThreshold)
	}
	if s.ReconcileSchedule != "@hourly" {
		t.Fatalf("unexpected schedule %q", s.ReconcileSchedule)
	}
	if s.LogFormat != "console" {
		t.Fatalf("expected log format from env, got %q", s.LogFormat)
	}
	loc, err := s.Location()
	if err != nil || loc.String() != "America/Sao_Paulo" {
		t.Fatalf("unexpected location %v %v", loc, err)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	temp := cleanEnv(t)
	t.Setenv("PODCAST_CONFIG", filepath.Join(temp, "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
