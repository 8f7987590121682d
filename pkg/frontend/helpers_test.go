package frontend

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/buildtree/pkg/config"
	"github.com/openfroyo/buildtree/pkg/mozpath"
)

// testEnv returns a configuration rooted in a fresh temporary directory.
// Nothing is created on disk.
func testEnv(t *testing.T) *config.Environment {
	t.Helper()
	root := mozpath.Normalize(t.TempDir())
	return &config.Environment{
		TopSrcDir: mozpath.Join(root, "src"),
		TopObjDir: mozpath.Join(root, "obj"),
		Substs:    map[string]string{},
	}
}

// writeTree creates files below dir. Keys are slash-separated relative
// paths; leading indentation common to all lines of a value is removed.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(filepath.FromSlash(dir), filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(dedent(content)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func dedent(s string) string {
	s = strings.TrimPrefix(s, "\n")
	lines := strings.Split(s, "\n")
	indent := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, "\t "))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	if indent <= 0 {
		return s
	}
	for i, l := range lines {
		if len(l) >= indent {
			lines[i] = l[indent:]
		} else {
			lines[i] = strings.TrimLeft(l, "\t ")
		}
	}
	return strings.Join(lines, "\n")
}

// execSource evaluates src as the top-level build file of cfg.
func execSource(t *testing.T, cfg *config.Environment, src string) (*Context, error) {
	t.Helper()
	return execSourceAt(t, cfg, mozpath.Join(cfg.TopSrcDir, BuildFileName), src)
}

func execSourceAt(t *testing.T, cfg *config.Environment, path, src string) (*Context, error) {
	t.Helper()
	ctx := NewContext(DefaultRegistry(), cfg)
	sb, err := NewSandbox(ctx, nil)
	if err != nil {
		t.Fatalf("NewSandbox() error = %v", err)
	}
	return ctx, sb.ExecSource(path, []byte(dedent(src)))
}

// collect drains a walk, stopping at the first error.
func collect(seq iter.Seq2[*Context, error]) ([]*Context, error) {
	var out []*Context
	for c, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

// relDirs returns the source directories of contexts relative to the
// source root, "." for the root itself.
func relDirs(contexts []*Context) []string {
	out := make([]string, len(contexts))
	for i, c := range contexts {
		rel := c.RelSrcDir()
		if c.Kind() == KindSecondary {
			rel = "obj:" + c.RelObjDir()
		}
		if rel == "" {
			rel = "."
		}
		out[i] = rel
	}
	return out
}

func background() context.Context { return context.Background() }
