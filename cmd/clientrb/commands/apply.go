package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/clientrb/pkg/converge"
)

func newApplyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge the target on the rendered client.rb",
		Long: `Render client.rb and converge the target: create the Chef directories,
install configured gems, write client.rb, and reload the agent when the file
changed.

A render error aborts before the target is touched. The run is recorded in
the state store unless state_path is "none".`,
		Example: `  # Converge the local host
  sudo clientrb apply -a /etc/clientrb/node.yaml

  # Converge a remote host described in clientrb.yaml
  clientrb apply --config clientrb.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := newSession()
			if err != nil {
				return err
			}
			defer sess.close(ctx)

			tree, err := sess.loadTree(ctx)
			if err != nil {
				return err
			}

			target, closeTarget, err := sess.settings.OpenTarget(ctx)
			if err != nil {
				return err
			}
			defer closeTarget()

			store, err := sess.openStore(ctx)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			report, runErr := sess.newRunner(target, store).Converge(ctx, tree, sess.settings.Sources...)
			sess.prune(ctx, store)

			if jsonOutput {
				if err := printJSON(cmd, report); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}
			return runErr
		},
	}

	return cmd
}

func printReport(w io.Writer, r *converge.Report) {
	fmt.Fprintf(w, "Run %s %s on %s in %s (changed: %t, reloaded: %t)\n",
		r.RunID, r.Status, r.Target, r.Duration().Round(time.Millisecond), r.Changed, r.Reloaded)
	for _, rr := range r.Resources {
		marker := " "
		switch {
		case rr.Error != "":
			marker = "!"
		case rr.Changed:
			marker = "~"
		case rr.Skipped:
			marker = "-"
		}
		fmt.Fprintf(w, "  %s %-45s %s\n", marker, rr.ID, rr.Action)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}
}
