package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/buildtree/pkg/frontend"
)

// contextView is the printed form of a context.
type contextView struct {
	RelSrcDir string         `json:"relsrcdir" yaml:"relsrcdir"`
	Kind      string         `json:"kind" yaml:"kind"`
	Path      string         `json:"path" yaml:"path"`
	ObjDir    string         `json:"objdir" yaml:"objdir"`
	Sources   []string       `json:"sources" yaml:"sources"`
	Variables map[string]any `json:"variables" yaml:"variables"`
}

func viewOf(bctx *frontend.Context) contextView {
	return contextView{
		RelSrcDir: bctx.RelSrcDir(),
		Kind:      bctx.Kind().String(),
		Path:      bctx.MainPath(),
		ObjDir:    bctx.ObjDir(),
		Sources:   bctx.AllPaths(),
		Variables: bctx.Snapshot(),
	}
}

// printer writes contexts in one of the supported formats. json prints
// one object per line, yaml one document per context.
type printer struct {
	w      io.Writer
	format string
	enc    *yaml.Encoder
}

func newPrinter(w io.Writer, format string) *printer {
	p := &printer{w: w, format: format}
	if format == "yaml" {
		p.enc = yaml.NewEncoder(w)
		p.enc.SetIndent(2)
	}
	return p
}

func (p *printer) context(bctx *frontend.Context) error {
	return p.value(viewOf(bctx), func() error { return writeContextText(p.w, bctx) })
}

// value prints v as json or yaml, or calls text for the text format.
func (p *printer) value(v any, text func() error) error {
	switch p.format {
	case "json":
		return json.NewEncoder(p.w).Encode(v)
	case "yaml":
		return p.enc.Encode(v)
	case "text", "":
		return text()
	default:
		return fmt.Errorf("unknown output format %q", p.format)
	}
}

func (p *printer) flush() error {
	if p.enc != nil {
		return p.enc.Close()
	}
	return nil
}

func writeContextText(w io.Writer, bctx *frontend.Context) error {
	dir := bctx.RelSrcDir()
	if dir == "" {
		dir = "."
	}
	if _, err := fmt.Fprintf(w, "%s (%s) %s\n", dir, bctx.Kind(), bctx.MainPath()); err != nil {
		return err
	}
	vars := bctx.Snapshot()
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		data, err := json.Marshal(vars[k])
		if err != nil {
			return fmt.Errorf("failed to format %s: %w", k, err)
		}
		if _, err := fmt.Fprintf(w, "    %s = %s\n", k, data); err != nil {
			return err
		}
	}
	return nil
}

// indent prefixes every line of s.
func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
