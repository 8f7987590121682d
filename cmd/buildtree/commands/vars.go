package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/buildtree/pkg/frontend"
)

// symbolView is the printed form of a registry entry.
type symbolView struct {
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	Doc  string `json:"doc" yaml:"doc"`
}

func newVarsCommand(opts *options) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "vars [NAME...]",
		Short: "Describe the variables build files may set",
		Long: `List the upper-case variables build files may assign, with their types
and documentation. With --all the functions and read-only special
variables are listed too. Unknown names are reported with the closest
known spellings.`,
		Example: `  # Everything about DIRS
  buildtree vars DIRS

  # The whole vocabulary as YAML
  buildtree vars --all -o yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := describeSymbols(frontend.DefaultRegistry(), args, all)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout(), opts.output)
			for _, v := range views {
				if err := p.value(v, func() error { return writeSymbolText(cmd.OutOrStdout(), v) }); err != nil {
					return err
				}
			}
			return p.flush()
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include functions and special variables")

	return cmd
}

func describeSymbols(reg *frontend.Registry, names []string, all bool) ([]symbolView, error) {
	var views []symbolView
	if len(names) == 0 {
		for _, n := range reg.VariableNames() {
			views = append(views, variableView(reg, n))
		}
		if all {
			for _, n := range reg.FunctionNames() {
				views = append(views, symbolView{Name: n, Kind: "function", Doc: reg.Functions[n].Doc})
			}
			for _, n := range reg.SpecialNames() {
				views = append(views, symbolView{Name: n, Kind: "special", Doc: reg.Special[n].Doc})
			}
		}
		return views, nil
	}

	for _, n := range names {
		if _, ok := reg.Variables[n]; ok {
			views = append(views, variableView(reg, n))
			continue
		}
		if f, ok := reg.Functions[n]; ok {
			views = append(views, symbolView{Name: n, Kind: "function", Doc: f.Doc})
			continue
		}
		if sp, ok := reg.Special[n]; ok {
			views = append(views, symbolView{Name: n, Kind: "special", Doc: sp.Doc})
			continue
		}
		msg := fmt.Sprintf("unknown variable %s", n)
		if hint, ok := reg.DeprecationHints[n]; ok {
			msg += ": " + hint
		} else if matches := frontend.CloseMatches(n, reg.VariableNames()); len(matches) > 0 {
			msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(matches, " or "))
		}
		return nil, fmt.Errorf("%s", msg)
	}
	return views, nil
}

func variableView(reg *frontend.Registry, name string) symbolView {
	spec := reg.Variables[name]
	return symbolView{Name: name, Kind: "variable", Type: spec.Type.Name(), Doc: spec.Doc}
}

func writeSymbolText(w io.Writer, v symbolView) error {
	header := v.Name
	if v.Type != "" {
		header += " (" + v.Type + ")"
	} else {
		header += " (" + v.Kind + ")"
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n\n", header, indent(v.Doc, "    "))
	return err
}
