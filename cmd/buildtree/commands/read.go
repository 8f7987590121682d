package commands

import (
	"context"
	"iter"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/buildtree/pkg/frontend"
	"github.com/openfroyo/buildtree/pkg/mozpath"
)

func newReadCommand(opts *options) *cobra.Command {
	var noDescend bool

	cmd := &cobra.Command{
		Use:   "read [build-file]",
		Short: "Read the tree by following DIRS",
		Long: `Read the build file at the top of the source tree and every build file
reachable through DIRS and, when ENABLE_TESTS=1, TEST_DIRS.

Contexts are printed in traversal order: a directory always comes before
its children. With a build-file argument only that file and the
directories it references are read.`,
		Example: `  # Read the whole tree
  buildtree read --topsrcdir ~/src/gecko

  # Read one directory without its children, as JSON
  buildtree read dom/base/moz.build --no-descend -o json

  # Enable test directories
  buildtree read -D ENABLE_TESTS=1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			log.Debug().Str("topsrcdir", s.cfg.TopSrcDir).Str("topobjdir", s.cfg.TopObjDir).Msg("Reading tree")

			fn := func(ctx context.Context, r *frontend.Reader) iter.Seq2[*frontend.Context, error] {
				return r.ReadTopSrcDir(ctx)
			}
			if len(args) == 1 || noDescend {
				path := mozpath.Join(s.cfg.TopSrcDir, frontend.BuildFileName)
				if len(args) == 1 {
					path = buildFilePath(s.cfg.TopSrcDir, args[0])
				}
				fn = func(ctx context.Context, r *frontend.Reader) iter.Seq2[*frontend.Context, error] {
					return r.ReadBuildFile(ctx, path, frontend.ReadOptions{Descend: !noDescend})
				}
			}
			return s.walk(ctx, "read", fn, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&noDescend, "no-descend", false, "do not read child directories")

	return cmd
}

// buildFilePath resolves a command line path against the source root. A
// directory names its build file.
func buildFilePath(topsrcdir, arg string) string {
	p := mozpath.Normalize(filepath.ToSlash(arg))
	if !mozpath.IsAbs(p) {
		p = mozpath.Join(topsrcdir, p)
	}
	if mozpath.Base(p) != frontend.BuildFileName {
		p = mozpath.Join(p, frontend.BuildFileName)
	}
	return p
}
