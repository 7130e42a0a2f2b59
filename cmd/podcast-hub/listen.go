package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	xlog "github.com/sapiens-psi/audio-verse-podcast-hub/internal/log"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/metadata"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/playhead"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/telemetry"
)

var listenCmd = &cobra.Command{
	Use:   "listen <episode-id>",
	Short: "Play an episode headlessly and record its listening telemetry",
	Args:  cobra.ExactArgs(1),
	RunE:  runListen,
}

var (
	listenFor  time.Duration
	listenFrom time.Duration
)

func init() {
	listenCmd.Flags().DurationVar(&listenFor, "for", 2*time.Minute, "how long to play (0 plays to the end)")
	listenCmd.Flags().DurationVar(&listenFrom, "from", 0, "start position")
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	id := args[0]
	ep, ok := a.catalog.Lookup(id)
	if !ok {
		return fmt.Errorf("unknown episode %q", id)
	}
	duration := ep.Duration()
	if duration <= 0 {
		if path, ok := a.catalog.Path(id); ok {
			if probed, err := metadata.ProbeDuration(path); err == nil {
				duration = probed
			}
		}
	}
	if duration <= 0 {
		return fmt.Errorf("episode %q has no known duration", id)
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.FlushInterval = a.settings.Telemetry.FlushInterval
	tcfg.ViewThreshold = a.settings.Telemetry.ViewThreshold
	tcfg.MaxPlaybackRate = a.settings.Telemetry.MaxPlaybackRate

	session := telemetry.NewSession(ctx, a.recorder, tcfg, xlog.WithComponent("telemetry"))
	player := playhead.NewPlayer(playhead.WithInterval(a.settings.Telemetry.SampleInterval))
	unsubscribe := player.Subscribe(session)

	session.Load(id)
	player.Load(id, duration)
	player.Seek(listenFrom.Seconds())
	player.Play()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "playing %s (%s) from %s\n", ep.Title, playhead.FormatTime(duration), playhead.FormatTime(player.Position()))

	var deadline <-chan time.Time
	if listenFor > 0 {
		timer := time.NewTimer(listenFor)
		defer timer.Stop()
		deadline = timer.C
	}
	progress := time.NewTicker(5 * time.Second)
	defer progress.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-deadline:
			break wait
		case <-progress.C:
			if !player.Playing() {
				break wait
			}
			fmt.Fprintf(out, "  %s / %s\n", playhead.FormatTime(player.Position()), playhead.FormatTime(duration))
		}
	}

	player.Pause()
	state := session.State()
	session.Flush()
	session.Close()
	unsubscribe()
	player.Close()

	drainCtx, cancel := context.WithTimeout(context.Background(), tcfg.CallTimeout)
	defer cancel()
	if err := session.Drain(drainCtx); err != nil {
		return fmt.Errorf("waiting for telemetry writes: %w", err)
	}

	fmt.Fprintf(out, "stopped at %s, view registered: %t\n", playhead.FormatTime(state.LastSeen), state.ViewRegistered)
	return nil
}
