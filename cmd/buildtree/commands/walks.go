package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/buildtree/pkg/stores"
)

func newWalksCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "walks",
		Short: "Inspect the catalog of recorded walks",
		Long: `Inspect walks recorded with --db: when they ran, how many contexts they
produced and the diagnostics they raised.`,
	}

	cmd.AddCommand(newWalksListCommand(opts))
	cmd.AddCommand(newWalksShowCommand(opts))
	cmd.AddCommand(newWalksDeleteCommand(opts))

	return cmd
}

// withStore opens the catalog named by --db for the duration of fn.
func withStore(cmd *cobra.Command, opts *options, fn func(*stores.SQLiteStore) error) error {
	if opts.dbPath == "" {
		return fmt.Errorf("--db is required")
	}
	store, err := openStore(cmd.Context(), opts.dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newWalksListCommand(opts *options) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List recorded walks, most recent first",
		Example: `  buildtree walks list --db .buildtree/catalog.db --limit 5`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(store *stores.SQLiteStore) error {
				walks, err := store.ListWalks(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				p := newPrinter(w, opts.output)
				for _, walk := range walks {
					if err := p.value(walk, func() error { return writeWalkText(w, walk) }); err != nil {
						return err
					}
				}
				return p.flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of walks")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of walks to skip")

	return cmd
}

// walkDetail is the printed form of one walk with its contents.
type walkDetail struct {
	Walk        *stores.Walk            `json:"walk" yaml:"walk"`
	Contexts    []*stores.ContextRecord `json:"contexts" yaml:"contexts"`
	Diagnostics []*stores.Diagnostic    `json:"diagnostics" yaml:"diagnostics"`
}

func newWalksShowCommand(opts *options) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "show WALK_ID",
		Short: "Show the contexts and diagnostics of a walk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(store *stores.SQLiteStore) error {
				ctx := cmd.Context()
				walk, err := store.GetWalk(ctx, args[0])
				if err != nil {
					return err
				}
				contexts, err := store.ListContexts(ctx, walk.ID)
				if err != nil {
					return err
				}
				var kindFilter *string
				if kind != "" {
					kindFilter = &kind
				}
				diags, err := store.ListDiagnostics(ctx, walk.ID, kindFilter)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				p := newPrinter(w, opts.output)
				detail := walkDetail{Walk: walk, Contexts: contexts, Diagnostics: diags}
				if err := p.value(detail, func() error { return writeWalkDetailText(w, detail) }); err != nil {
					return err
				}
				return p.flush()
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "only show diagnostics of this kind")

	return cmd
}

func newWalksDeleteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete WALK_ID...",
		Short: "Delete recorded walks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(store *stores.SQLiteStore) error {
				for _, id := range args {
					if err := store.DeleteWalk(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted walk %s\n", id)
				}
				return nil
			})
		},
	}
}

func writeWalkText(w io.Writer, walk *stores.Walk) error {
	_, err := fmt.Fprintf(w, "%s  %-9s  %-5s  %4d contexts  %s  %s\n",
		walk.ID, walk.Status, walk.Mode, walk.Contexts, walk.StartedAt.Local().Format(time.DateTime), walk.TopSrcDir)
	return err
}

func writeWalkDetailText(w io.Writer, d walkDetail) error {
	if err := writeWalkText(w, d.Walk); err != nil {
		return err
	}
	if d.Walk.Error != nil {
		fmt.Fprintf(w, "\n%s\n", indent(*d.Walk.Error, "    "))
	}
	fmt.Fprintln(w, "\nContexts:")
	for _, c := range d.Contexts {
		dir := c.RelSrcDir
		if dir == "" {
			dir = "."
		}
		fmt.Fprintf(w, "  %3d  %-9s  %s\n", c.Seq, c.Kind, dir)
	}
	if len(d.Diagnostics) > 0 {
		fmt.Fprintln(w, "\nDiagnostics:")
		for _, diag := range d.Diagnostics {
			fmt.Fprintf(w, "  [%s] %s\n%s\n", diag.Kind, diag.Path, indent(diag.Message, "      "))
		}
	}
	return nil
}
