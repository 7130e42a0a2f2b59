package main

import (
	"fmt"

	"github.com/spf13/cobra"

	xlog "github.com/sapiens-psi/audio-verse-podcast-hub/internal/log"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Replay local fallback view counts into the view store",
	RunE:  runReconcile,
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	rep, err := reconcile.New(a.counters, a.views, xlog.WithComponent("reconcile")).Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "replayed %d views across %d episodes, %d pending\n", rep.Replayed, rep.Episodes, rep.Pending)
	return nil
}
