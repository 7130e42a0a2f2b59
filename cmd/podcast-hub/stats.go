package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/playhead"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the most listened episodes",
	RunE:  runStats,
}

var (
	statsSort  string
	statsLimit int
)

func init() {
	statsCmd.Flags().StringVar(&statsSort, "sort", "views", "ranking metric: views or minutes")
	statsCmd.Flags().IntVarP(&statsLimit, "limit", "n", 10, "number of episodes to show (0 for all)")
}

func runStats(cmd *cobra.Command, _ []string) error {
	key, err := stats.ParseSortKey(statsSort)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	summaries, err := a.stats.GetStatsByContent(cmd.Context())
	if err != nil {
		return fmt.Errorf("couldn't load stats: %w", err)
	}

	out := cmd.OutOrStdout()
	views, minutes := stats.Totals(summaries)
	fmt.Fprintf(out, "%d episodes, %d views, %s listened\n\n", len(summaries), views, playhead.FormatMinutes(minutes))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTITLE\tVIEWS\tLISTENED")
	for i, s := range stats.Top(summaries, key, statsLimit) {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i+1, s.Title, s.Views, playhead.FormatMinutes(s.MinutesPlayed))
	}
	return tw.Flush()
}
