package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/clientrb/pkg/attributes"
	"github.com/openfroyo/clientrb/pkg/render"
)

// validationResult is one checked item.
type validationResult struct {
	Check string `json:"check"`
	OK    bool   `json:"ok"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

var errValidationFailed = errors.New("validation failed")

func newValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check attribute sources without touching any target",
		Long: `Validate the attribute sources.

This command checks:
  - each source parses on its own
  - the merged attributes match the expected shape
  - the merged attributes render to a client.rb`,
		Example: `  # Validate the sources named in clientrb.yaml
  clientrb validate

  # Validate specific files and require explicit identity settings
  clientrb validate -a base.yaml -a node.cue --strict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := newSession()
			if err != nil {
				return err
			}
			defer sess.close(ctx)

			if len(sess.settings.Sources) == 0 {
				return fmt.Errorf("no attribute sources to validate")
			}

			var results []validationResult
			check := func(name string, err error) bool {
				r := validationResult{Check: name, OK: err == nil}
				if err != nil {
					r.Error = err.Error()
					r.Kind = errorKind(err)
				}
				results = append(results, r)
				return err == nil
			}

			sourcesOK := true
			for _, src := range sess.settings.Sources {
				_, err := sess.loader.LoadSource(ctx, src)
				sourcesOK = check("load "+src, err) && sourcesOK
			}

			if sourcesOK {
				tree, err := sess.loader.Load(ctx, sess.settings.Sources...)
				if check("merge", err) {
					schema, err := attributes.NewSchema()
					if err != nil {
						return err
					}
					check("schema", schema.Validate(tree))

					var opts []render.Option
					if strict {
						opts = append(opts, render.WithoutDefaults())
					}
					_, err = render.New(opts...).Render(tree)
					check("render", err)
				}
			}

			failed := 0
			for _, r := range results {
				if !r.OK {
					failed++
				}
			}

			if jsonOutput {
				if err := printJSON(cmd, struct {
					Valid   bool               `json:"valid"`
					Results []validationResult `json:"results"`
				}{Valid: failed == 0, Results: results}); err != nil {
					return err
				}
			} else {
				w := cmd.OutOrStdout()
				for _, r := range results {
					if r.OK {
						fmt.Fprintf(w, "✓ %s\n", r.Check)
					} else {
						fmt.Fprintf(w, "✗ %s: %s\n", r.Check, r.Error)
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%w: %d of %d checks failed", errValidationFailed, failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail when identity settings fall back to defaults")

	return cmd
}
