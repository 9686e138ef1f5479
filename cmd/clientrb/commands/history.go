package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/clientrb/pkg/converge"
	"github.com/openfroyo/clientrb/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		status string
		events bool
		prune  int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded converge runs",
		Long: `List recorded converge runs, newest first, or show one run with its
resources and, with --events, the events it published.`,
		Example: `  # Last ten runs
  clientrb history --limit 10

  # Only failures
  clientrb history --status failed

  # One run in detail
  clientrb history 1b4e28ba-2fa1-11d2-883f-0016d3cca427 --events

  # Keep the newest 100 runs
  clientrb history --prune 100`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := newSession()
			if err != nil {
				return err
			}
			defer sess.close(ctx)

			store, err := sess.openStore(ctx)
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("run history is disabled (state_path is %q)", sess.settings.StatePath)
			}
			defer store.Close()

			w := cmd.OutOrStdout()

			if prune > 0 {
				deleted, err := store.PruneRuns(ctx, prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Deleted %d runs\n", deleted)
				return nil
			}

			if len(args) == 1 {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				var evts []*stores.EventRecord
				if events {
					if evts, err = store.ListEvents(ctx, run.ID); err != nil {
						return err
					}
				}
				if jsonOutput {
					return printJSON(cmd, struct {
						*stores.Run
						Events []*stores.EventRecord `json:"events,omitempty"`
					}{Run: run, Events: evts})
				}
				printRun(w, run, evts)
				return nil
			}

			runs, err := store.ListRuns(ctx, stores.RunFilter{
				Status: converge.RunStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs recorded.")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(w, "%s  %s  %-9s  %-8s  changed=%t reloaded=%t  %s\n",
					r.StartedAt.Local().Format(time.RFC3339), r.ID, r.Status,
					r.Duration().Round(time.Millisecond), r.Changed, r.Reloaded, r.Target)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (succeeded, failed)")
	cmd.Flags().BoolVar(&events, "events", false, "include the events of a single run")
	cmd.Flags().IntVar(&prune, "prune", 0, "delete all but the newest N runs")

	return cmd
}

func printRun(w io.Writer, r *stores.Run, events []*stores.EventRecord) {
	fmt.Fprintf(w, "Run:      %s\n", r.ID)
	fmt.Fprintf(w, "Status:   %s\n", r.Status)
	fmt.Fprintf(w, "Target:   %s\n", r.Target)
	fmt.Fprintf(w, "Started:  %s\n", r.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Duration: %s\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Config:   %s (sha256 %s)\n", r.ConfigPath, r.Digest)
	fmt.Fprintf(w, "Changed:  %t, reloaded: %t\n", r.Changed, r.Reloaded)
	if r.Error != nil {
		fmt.Fprintf(w, "Error:    %s\n", *r.Error)
	}
	fmt.Fprintln(w, "Resources:")
	for _, rr := range r.Resources {
		fmt.Fprintf(w, "  %-45s %-16s %s\n", rr.ResourceID, rr.Action, rr.Duration)
	}
	if len(events) > 0 {
		fmt.Fprintln(w, "Events:")
		for _, e := range events {
			fmt.Fprintf(w, "  %s  %-7s %-22s %s\n", e.Timestamp.Local().Format("15:04:05.000"), e.Level, e.Type, e.Message)
		}
	}
}
