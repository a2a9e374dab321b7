package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"offlinesync/internal/models"
	"offlinesync/internal/worker"

	"github.com/spf13/cobra"
)

// NewQueueCommand groups the pending queue commands.
func NewQueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Pending mutation queue commands",
	}

	cmd.AddCommand(newQueueListCommand(opts))
	cmd.AddCommand(newQueueClearCommand(opts))
	cmd.AddCommand(newQueueEnqueueCommand(opts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending records in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.Queue().Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON() {
				return writeJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "queue is empty")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODULE\tACTION\tCREATED\tRETRIES")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
					rec.ID, rec.Module, rec.Action, rec.Timestamp.Format(time.RFC3339), rec.RetryCount)
			}
			return w.Flush()
		},
	}
}

func newQueueClearCommand(opts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the queue without --yes")
			}
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Queue().Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queue cleared")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm removal of pending records")
	return cmd
}

func newQueueEnqueueCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <module> <create|update|delete> [payload-json]",
		Short: "Append a mutation to the queue",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			module, action := args[0], models.Action(args[1])
			if !opts.moduleConfigured(module) {
				return fmt.Errorf("%w: %s", worker.ErrUnknownModule, module)
			}

			var payload any
			if len(args) == 3 {
				payload = json.RawMessage(args[2])
			}
			rec, err := worker.NewRecord(module, action, payload, time.Now())
			if err != nil {
				return err
			}

			db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Queue().Append(cmd.Context(), rec); err != nil {
				return err
			}

			if opts.asJSON() {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s\n", rec.ID)
			return nil
		},
	}
}

func (o *RootOptions) moduleConfigured(module string) bool {
	for _, m := range o.cfg.Remote.Modules {
		if m.Name == module {
			return true
		}
	}
	return false
}
