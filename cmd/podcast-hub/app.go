package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/config"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/fallback"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/library"
	xlog "github.com/sapiens-psi/audio-verse-podcast-hub/internal/log"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/recorder"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/stats"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/store"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/store/redisstore"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/store/sqlite"
)

const syncTimeout = 10 * time.Second

// app holds the long-lived dependencies shared by every command.
type app struct {
	settings config.Settings
	logger   zerolog.Logger
	views    store.Backend
	counters fallback.Counter
	catalog  *library.Catalog
	recorder *recorder.Recorder
	stats    *stats.Aggregator
}

// openApp loads settings and opens the stores. The catalog is only started
// when withCatalog is set, since it watches the audio tree until closed.
func openApp(ctx context.Context, withCatalog bool) (*app, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := xlog.Configure(xlog.Config{Level: settings.LogLevel, Format: settings.LogFormat}); err != nil {
		return nil, err
	}
	logger := xlog.Base()

	if err := settings.EnsureDirs(); err != nil {
		return nil, err
	}
	loc, err := settings.Location()
	if err != nil {
		return nil, err
	}

	a := &app{settings: settings, logger: logger}

	a.views, err = openViews(ctx, settings)
	if err != nil {
		return nil, err
	}
	a.counters, err = openCounters(settings)
	if err != nil {
		_ = a.views.Close()
		return nil, err
	}

	if withCatalog {
		a.catalog, err = library.NewCatalog(library.Options{
			Root:       settings.AudioDir,
			Extensions: config.AllowedExtensions(),
			Debounce:   settings.RefreshDebounce,
			Logger:     xlog.WithComponent("catalog"),
			OnRefresh:  a.syncEpisodes,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("initialise catalog: %w", err)
		}
	}

	a.recorder = recorder.New(a.views, a.counters, xlog.WithComponent("recorder"), recorder.WithLocation(loc))

	var titles stats.TitleLookup
	if a.catalog != nil {
		titles = a.catalog
	}
	a.stats = stats.New(a.views, a.counters, titles, xlog.WithComponent("stats"))

	logger.Info().
		Str("store", settings.Store.Backend).
		Str("fallback", settings.Fallback.Backend).
		Str("timezone", loc.String()).
		Msg("application initialised")
	return a, nil
}

func openViews(ctx context.Context, s config.Settings) (store.Backend, error) {
	switch s.Store.Backend {
	case config.StoreRedis:
		st, err := redisstore.Open(ctx, redisstore.Config{
			Addr:     s.Store.Redis.Addr,
			Password: s.Store.Redis.Password,
			DB:       s.Store.Redis.DB,
			Prefix:   s.Store.Redis.Prefix,
		}, xlog.WithComponent("redis"))
		if err != nil {
			return nil, fmt.Errorf("open redis view store: %w", err)
		}
		return st, nil
	default:
		st, err := sqlite.Open(s.Store.SQLitePath, sqlite.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("open sqlite view store: %w", err)
		}
		return st, nil
	}
}

func openCounters(s config.Settings) (fallback.Counter, error) {
	switch s.Fallback.Backend {
	case config.FallbackMemory:
		return fallback.NewMemory(), nil
	case config.FallbackFile:
		fs, err := fallback.OpenFile(s.Fallback.Path)
		if err != nil {
			return nil, err
		}
		return fs, nil
	default:
		bs, err := fallback.OpenBadger(s.Fallback.Path)
		if err != nil {
			return nil, err
		}
		return bs, nil
	}
}

// syncEpisodes pushes catalog snapshots into the store so aggregates carry
// titles and publish dates.
func (a *app) syncEpisodes(episodes []models.Episode) {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	if err := a.views.SyncEpisodes(ctx, episodes); err != nil {
		a.logger.Warn().Err(err).Int("episodes", len(episodes)).Msg("episode sync failed")
	}
}

func (a *app) Close() error {
	var errs []error
	if a.catalog != nil {
		errs = append(errs, a.catalog.Close())
	}
	if a.counters != nil {
		errs = append(errs, a.counters.Close())
	}
	if a.views != nil {
		errs = append(errs, a.views.Close())
	}
	return errors.Join(errs...)
}
