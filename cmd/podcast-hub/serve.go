package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/auth"
	xlog "github.com/sapiens-psi/audio-verse-podcast-hub/internal/log"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/reconcile"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/server"
)

const reconcileTimeout = 2 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the catalog, audio files and telemetry API",
	RunE:  runServe,
}

var ingestPerMinute int

func init() {
	serveCmd.Flags().IntVar(&ingestPerMinute, "ingest-rate", 240, "telemetry writes allowed per client per minute")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("error closing application")
		}
	}()
	logger := a.logger

	var tokens server.ActorResolver
	if a.settings.TokenFile != "" {
		ts, err := auth.NewTokenStore(a.settings.TokenFile, a.settings.RefreshDebounce, xlog.WithComponent("auth"))
		if err != nil {
			return fmt.Errorf("initialise token store: %w", err)
		}
		defer func() {
			if err := ts.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing token store")
			}
		}()
		tokens = ts
	}

	if spec := a.settings.ReconcileSchedule; spec != "" {
		sched, err := reconcile.NewScheduler(spec, reconcile.New(a.counters, a.views, xlog.WithComponent("reconcile")), reconcileTimeout, xlog.WithComponent("reconcile"))
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	handler := server.New(server.Deps{
		Catalog:         a.catalog,
		Tokens:          tokens,
		Recorder:        a.recorder,
		Stats:           a.stats,
		AudioRoot:       a.settings.AudioDir,
		Logger:          xlog.WithComponent("http"),
		IngestPerMinute: ingestPerMinute,
	})
	httpServer := &http.Server{
		Addr:              a.settings.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("graceful shutdown error")
		}
	}()

	logger.Info().
		Str("addr", a.settings.ListenAddr).
		Str("audio_dir", a.settings.AudioDir).
		Bool("tokens", tokens != nil).
		Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
