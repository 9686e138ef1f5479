package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/clientrb/pkg/render"
)

func newRenderCommand() *cobra.Command {
	var (
		outFile    string
		noDefaults bool
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render client.rb from attribute sources",
		Long: `Render client.rb from the merged attribute sources and print it.

Nothing on any target is read or changed.`,
		Example: `  # Print client.rb for two attribute files
  clientrb render -a base.yaml -a node.cue

  # Write the result to a file
  clientrb render -a node.yaml --out client.rb

  # Fail instead of falling back to the built-in identity defaults
  clientrb render -a node.yaml --no-defaults`,
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

			var opts []render.Option
			if noDefaults {
				opts = append(opts, render.WithoutDefaults())
			}
			doc, err := render.New(opts...).Render(tree)
			if err != nil {
				sess.tel.Metrics.RecordError(errorKind(err))
				return err
			}

			if jsonOutput {
				return printJSON(cmd, struct {
					Digest string   `json:"digest"`
					Lines  []string `json:"lines"`
				}{Digest: doc.Digest(), Lines: doc.Lines})
			}

			if outFile != "" {
				if err := os.WriteFile(outFile, doc.Bytes(), 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", outFile, err)
				}
				log.Info().Str("out", outFile).Str("digest", doc.Digest()).Msg("Rendered client.rb")
				return nil
			}

			_, err = cmd.OutOrStdout().Write(doc.Bytes())
			return err
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write client.rb to this file instead of stdout")
	cmd.Flags().BoolVar(&noDefaults, "no-defaults", false, "require chef_server_url and the other identity settings")

	return cmd
}
