package commands

import (
	"context"
	"iter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/buildtree/pkg/frontend"
)

func newWalkCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "walk",
		Short: "Read every build file found in the tree",
		Long: `Read every moz.build file below the source root in sorted path order,
without following DIRS. Output directories (obj*) and the paths given with
--ignore are skipped, as is the output tree when it lives inside the
source tree.`,
		Example: `  # Evaluate every build file
  buildtree walk --topsrcdir ~/src/gecko

  # Skip third-party code and record the walk
  buildtree walk --ignore 'third_party/**' --db .buildtree/catalog.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			fn := func(ctx context.Context, r *frontend.Reader) iter.Seq2[*frontend.Context, error] {
				return r.WalkTopSrcDir(ctx)
			}
			return s.walk(ctx, "walk", fn, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	return cmd
}
