package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/clientrb/pkg/converge"
)

// planOutput is the --json form of a plan.
type planOutput struct {
	Target      string   `json:"target"`
	ConfigPath  string   `json:"config_path"`
	Resources   []string `json:"resources"`
	Changed     bool     `json:"changed"`
	Digest      string   `json:"digest"`
	Previous    string   `json:"previous_digest,omitempty"`
	ReloadFires bool     `json:"reload_would_fire"`
	Diff        string   `json:"diff,omitempty"`
}

func newPlanCommand() *cobra.Command {
	var dotFile string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would change",
		Long: `Render client.rb, compare it with the file on the target, and print a
unified diff, the ordered resources, and whether the agent would be reloaded.

The target is read but never changed.`,
		Example: `  # Preview against the local host
  clientrb plan -a node.yaml

  # Preview and write the resource graph for Graphviz
  clientrb plan -a node.yaml --dot plan.dot`,
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

			preview, err := sess.newRunner(target, nil).Preview(ctx, tree)
			if err != nil {
				sess.tel.Metrics.RecordError(errorKind(err))
				return err
			}

			diff, err := unifiedDiff(preview)
			if err != nil {
				return err
			}

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(preview.Plan.Graph.ToDOT()), 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", dotFile, err)
				}
				log.Info().Str("dot", dotFile).Msg("Wrote resource graph")
			}

			if jsonOutput {
				return printJSON(cmd, planOutput{
					Target:      target.Name(),
					ConfigPath:  preview.Plan.ConfigPath,
					Resources:   preview.Plan.Graph.Order(),
					Changed:     preview.Decision.Changed,
					Digest:      preview.Decision.Digest,
					Previous:    preview.Decision.PreviousDigest,
					ReloadFires: preview.ReloadWouldFire(),
					Diff:        diff,
				})
			}

			printPlan(cmd.OutOrStdout(), target.Name(), preview, diff)
			return nil
		},
	}

	cmd.Flags().StringVar(&dotFile, "dot", "", "write the resource graph in DOT format")

	return cmd
}

func unifiedDiff(p *converge.Preview) (string, error) {
	if !p.Decision.Changed {
		return "", nil
	}
	from := p.Plan.ConfigPath
	if !p.HadPrevious {
		from = "/dev/null"
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(p.Previous)),
		B:        difflib.SplitLines(p.Document.String()),
		FromFile: from,
		ToFile:   p.Plan.ConfigPath,
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("failed to diff %s: %w", p.Plan.ConfigPath, err)
	}
	return diff, nil
}

func printPlan(w io.Writer, target string, p *converge.Preview, diff string) {
	fmt.Fprintf(w, "Plan for %s (%s)\n\n", target, p.Plan.ConfigPath)

	fmt.Fprintln(w, "Resources:")
	for i, id := range p.Plan.Graph.Order() {
		step, _ := p.Plan.Step(id)
		suffix := ""
		if step.Delayed {
			suffix = " (delayed)"
		}
		fmt.Fprintf(w, "  %2d. %s%s\n", i+1, id, suffix)
	}
	fmt.Fprintln(w)

	switch {
	case !p.Decision.Changed:
		fmt.Fprintln(w, "client.rb is up to date.")
	case !p.HadPrevious:
		fmt.Fprintln(w, "client.rb will be created:")
		fmt.Fprint(w, diff)
	default:
		fmt.Fprintln(w, "client.rb will be updated:")
		fmt.Fprint(w, diff)
	}

	switch {
	case p.ReloadWouldFire():
		fmt.Fprintln(w, "Reload: would fire")
	case p.Decision.Changed:
		fmt.Fprintln(w, "Reload: disabled by chef_client.reload_config")
	default:
		fmt.Fprintln(w, "Reload: not needed")
	}
}
