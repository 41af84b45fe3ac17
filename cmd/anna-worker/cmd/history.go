package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/store"
)

var (
	historyJournal string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history [job_id]",
	Short: "Show the recorded transitions and publishes of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		path := cfg.JournalPath
		if historyJournal != "" {
			path = historyJournal
		}
		if path == "" {
			return errors.New("no journal configured (set journal_path, ANNA_JOURNAL_PATH or --journal)")
		}

		s, err := store.New(path)
		if err != nil {
			return err
		}
		defer s.Close()

		transitions, err := s.Transitions(cmd.Context(), args[0], historyLimit)
		if err != nil {
			return err
		}
		publishes, err := s.Publishes(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(transitions) == 0 && len(publishes) == 0 {
			cmd.Printf("no history for job %s\n", args[0])
			return nil
		}
		printHistory(cmd.OutOrStdout(), transitions, publishes)
		return nil
	},
}

func printHistory(w io.Writer, transitions []*store.TransitionEntry, publishes []*store.PublishEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tFROM\tTO\tCONTAINER\tTRACE")
	for _, t := range transitions {
		to := string(t.To)
		if t.Evicted {
			to = "(evicted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.Timestamp.Format(time.RFC3339), dash(string(t.From)), to, dash(t.Container), dash(t.TraceID))
	}
	tw.Flush()

	if len(publishes) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATUS\tRESULT")
	for _, p := range publishes {
		result := "ok"
		if !p.OK {
			result = "failed: " + p.Error.String
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Timestamp.Format(time.RFC3339), p.Status, result)
	}
	tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	historyCmd.Flags().StringVar(&historyJournal, "journal", "", "journal database (overrides journal_path)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 100, "maximum transitions to show")
	rootCmd.AddCommand(historyCmd)
}
