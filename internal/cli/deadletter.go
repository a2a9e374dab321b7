package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewDeadLetterCommand groups commands for records that exhausted their retries.
func NewDeadLetterCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dlq"},
		Short:   "Dead-lettered record commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List dead-lettered records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			letters, err := db.Queue().ListDeadLetters(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON() {
				return writeJSON(out, letters)
			}
			if len(letters) == 0 {
				fmt.Fprintln(out, "no dead letters")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODULE\tACTION\tRETRIES\tAT\tREASON")
			for _, dl := range letters {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					dl.Record.ID, dl.Record.Module, dl.Record.Action, dl.Record.RetryCount,
					dl.DeadLetteredAt.Format(time.RFC3339), dl.Reason)
			}
			return w.Flush()
		},
	})
	return cmd
}
