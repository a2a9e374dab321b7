package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"offlinesync/internal/export"

	"github.com/spf13/cobra"
)

// NewHistoryCommand groups the sync history commands.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Replay pass history commands",
	}

	cmd.AddCommand(newHistoryListCommand(opts))
	cmd.AddCommand(newHistoryClearCommand(opts))
	cmd.AddCommand(newHistoryExportCommand(opts))
	return cmd
}

func newHistoryListCommand(opts *RootOptions) *cobra.Command {
	var details bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent replay passes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := db.History(opts.historyLimit()).List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON() {
				return writeJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "no sync history")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTRIGGER\tTOTAL\tSYNCED\tFAILED\tDURATION")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%dms\n",
					e.Timestamp.Format(time.RFC3339), e.Trigger, e.TotalItems, e.SuccessCount, e.ErrorCount, e.DurationMs)
				if details {
					for _, d := range e.Details {
						fmt.Fprintf(w, "\t  %s\t\t\t\t\n", strings.TrimSpace(d))
					}
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVarP(&details, "details", "d", false, "print per-record detail lines")
	return cmd
}

func newHistoryClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all history entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.History(opts.historyLimit()).Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
			return nil
		},
	}
}

func newHistoryExportCommand(opts *RootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write history, queue and dead letters to an xlsx report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = opts.cfg.Exports.Path
			}

			db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			queue := db.Queue()
			var report export.Report
			if report.History, err = db.History(opts.historyLimit()).List(ctx); err != nil {
				return err
			}
			if report.Queue, err = queue.Snapshot(ctx); err != nil {
				return err
			}
			if report.DeadLetters, err = queue.ListDeadLetters(ctx); err != nil {
				return err
			}

			path, err := export.SaveToDir(dir, time.Now(), report)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "out", "o", "", "output directory (defaults to exports.path)")
	return cmd
}
