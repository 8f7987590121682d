package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/buildtree/pkg/frontend"
)

// options are the global flags shared by every command.
type options struct {
	topSrcDir   string
	topObjDir   string
	statusPath  string
	substs      []string
	ignore      []string
	policyPaths []string
	dbPath      string
	output      string
	trace       string
	metricsAddr string
	verbose     bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		var bre *frontend.BuildReaderError
		if !errors.As(err, &bre) {
			log.Error().Err(err).Msg("Command execution failed")
		}
	}
	return err
}

// ExitCode maps a command error to the process exit status: 2 for build
// file diagnostics and 1 for everything else.
func ExitCode(err error) int {
	var bre *frontend.BuildReaderError
	if errors.As(err, &bre) {
		return 2
	}
	return 1
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "buildtree",
		Short: "Read trees of moz.build files",
		Long: `buildtree evaluates the moz.build files of a source tree in a sandbox
and reports the validated build contexts they produce.

Features:
  - Lazy depth-first traversal following DIRS and TEST_DIRS
  - Templates and exported variables inherited by child directories
  - Foreign build descriptions written in CUE
  - Nested configuration decisions written in Rego
  - Diagnostics naming the offending file and line
  - A SQLite catalog of past walks`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.topSrcDir, "topsrcdir", ".", "top of the source tree")
	flags.StringVar(&opts.topObjDir, "topobjdir", "", "top of the output tree (default: <topsrcdir>/obj)")
	flags.StringVar(&opts.statusPath, "status", "", "configuration status file (default: <topobjdir>/config.status when present)")
	flags.StringArrayVarP(&opts.substs, "set", "D", nil, "build setting KEY=VALUE, overriding the status file")
	flags.StringSliceVar(&opts.ignore, "ignore", nil, "additional glob patterns ignored when scanning the tree")
	flags.StringSliceVar(&opts.policyPaths, "policy", nil, "Rego files or directories deciding nested configurations")
	flags.StringVar(&opts.dbPath, "db", "", "record walks in this SQLite catalog")
	flags.StringVarP(&opts.output, "output", "o", "text", "output format (text, json, yaml)")
	flags.StringVar(&opts.trace, "trace", "", "export traces (stdout, otlp)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newReadCommand(opts))
	rootCmd.AddCommand(newWalkCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))
	rootCmd.AddCommand(newVarsCommand(opts))
	rootCmd.AddCommand(newWalksCommand(opts))

	return rootCmd
}
