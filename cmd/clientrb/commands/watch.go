package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openfroyo/clientrb/pkg/attributes"
)

func newWatchCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Converge now and again whenever an attribute source changes",
		Long: `Converge once, then watch the attribute sources and converge again after
each change. Runs until interrupted.

A source that fails to load or render is logged and the target is left as
it was; the next good change converges normally.`,
		Example: `  # Watch the attribute files and serve Prometheus metrics
  clientrb watch -a base.yaml -a node.yaml --metrics-addr 127.0.0.1:9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := newSession()
			if err != nil {
				return err
			}
			defer sess.close(context.Background())

			if metricsAddr != "" {
				sess.settings.Watch.MetricsAddress = metricsAddr
			}

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

			if addr := sess.settings.Watch.MetricsAddress; addr != "" {
				go func() {
					if err := sess.tel.Metrics.Serve(ctx, addr, sess.log.Zerolog()); err != nil {
						sess.log.WithError(err).Error("Metrics server failed")
					}
				}()
			}

			runner := sess.newRunner(target, store)
			sources := sess.settings.Sources
			converge := func(ctx context.Context, tree *attributes.Tree) {
				// Failures are logged by the runner; watching continues.
				report, _ := runner.Converge(ctx, tree, sources...)
				sess.prune(ctx, store)
				if jsonOutput {
					_ = printJSON(cmd, report)
				} else {
					printReport(cmd.OutOrStdout(), report)
				}
			}

			converge(ctx, tree)

			watcher := attributes.NewWatcher(sess.loader, sources, sess.settings.Watch.Debounce, sess.log)
			return watcher.Run(ctx, func(ctx context.Context, tree *attributes.Tree, err error) {
				if err != nil {
					sess.tel.Metrics.RecordError(errorKind(err))
					return
				}
				converge(ctx, tree)
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}
