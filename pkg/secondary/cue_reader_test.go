package secondary

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/buildtree/pkg/config"
	"github.com/openfroyo/buildtree/pkg/frontend"
	"github.com/openfroyo/buildtree/pkg/mozpath"
)

const description = `
vars: {
	OS: string
}

targets: {
	base: {
		type:    "static_library"
		sources: ["a.c", "big.c"]
		defines: {FOO: "1", BAR: "two"}
		include_dirs: ["include"]
		if vars.OS == "WINNT" {
			os_libs: ["ws2_32"]
		}
	}
	"tool-main": {
		type:          "program"
		name:          "tool"
		sources:       ["main.c"]
		final_library: "xul"
	}
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testRequest(t *testing.T, content string, vars map[string]string) frontend.SecondaryRequest {
	t.Helper()
	root := mozpath.Normalize(t.TempDir())
	cfg := &config.Environment{
		TopSrcDir: mozpath.Join(root, "src"),
		TopObjDir: mozpath.Join(root, "obj"),
	}
	input := mozpath.Join(cfg.TopSrcDir, "third_party/lib/lib.cue")
	writeFile(t, input, content)
	return frontend.SecondaryRequest{
		Config:    cfg,
		Registry:  frontend.DefaultRegistry(),
		Input:     input,
		OutputDir: mozpath.Join(cfg.TopObjDir, "third_party/lib/out"),
		Variables: vars,
		Excluded:  []string{mozpath.Join(cfg.TopSrcDir, "third_party/lib/big.c")},
	}
}

func TestCUEReaderRead(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want map[string]map[string]any
	}{
		{
			name: "linux",
			vars: map[string]string{"OS": "Linux"},
			want: map[string]map[string]any{
				"third_party/lib/out/base": {
					"LIBRARY_NAME":    "base",
					"SOURCES":         []any{"big.c"},
					"UNIFIED_SOURCES": []any{"a.c"},
					"DEFINES":         map[string]any{"BAR": "two", "FOO": "1"},
					"LOCAL_INCLUDES":  []any{"include"},
				},
				"third_party/lib/out/tool-main": {
					"PROGRAM":         "tool",
					"UNIFIED_SOURCES": []any{"main.c"},
					"FINAL_LIBRARY":   "xul",
				},
			},
		},
		{
			name: "windows adds system libraries",
			vars: map[string]string{"OS": "WINNT"},
			want: map[string]map[string]any{
				"third_party/lib/out/base": {
					"LIBRARY_NAME":    "base",
					"SOURCES":         []any{"big.c"},
					"UNIFIED_SOURCES": []any{"a.c"},
					"DEFINES":         map[string]any{"BAR": "two", "FOO": "1"},
					"LOCAL_INCLUDES":  []any{"include"},
					"OS_LIBS":         []any{"ws2_32"},
				},
				"third_party/lib/out/tool-main": {
					"PROGRAM":         "tool",
					"UNIFIED_SOURCES": []any{"main.c"},
					"FINAL_LIBRARY":   "xul",
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest(t, description, tt.vars)
			contexts, err := NewCUEReader().Read(context.Background(), req)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			got := make(map[string]map[string]any)
			for _, c := range contexts {
				if c.Kind() != frontend.KindSecondary {
					t.Errorf("context %s has kind %s", c.RelObjDir(), c.Kind())
				}
				if c.MainPath() != req.Input {
					t.Errorf("MainPath() = %s, want %s", c.MainPath(), req.Input)
				}
				got[c.RelObjDir()] = c.Snapshot()
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("contexts mismatch (-want +got):\n%s", diff)
			}
			if contexts[0].RelObjDir() != "third_party/lib/out/base" {
				t.Errorf("targets not read in name order: first is %s", contexts[0].RelObjDir())
			}
		})
	}
}

func TestCUEReaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		vars    map[string]string
		wantMsg string
	}{
		{
			name:    "syntax error",
			content: "targets: {\n\tbase: {type: \"none\"\n",
			wantMsg: "expected",
		},
		{
			name:    "unknown target type",
			content: "targets: base: type: \"archive\"\n",
			wantMsg: "targets.base",
		},
		{
			name:    "misspelled field",
			content: "targets: base: {type: \"none\", soruces: [\"a.c\"]}\n",
			wantMsg: "targets.base",
		},
		{
			name:    "empty source",
			content: "targets: base: {type: \"program\", sources: [\"\"]}\n",
			wantMsg: "targets.base",
		},
		{
			name:    "no targets",
			content: "vars: OS: string\n",
			vars:    map[string]string{"OS": "Linux"},
			wantMsg: "no targets declared",
		},
		{
			name:    "missing variable",
			content: "vars: OS: string\ntargets: base: {type: \"none\", name: vars.OS}\n",
			wantMsg: "incomplete",
		},
		{
			name:    "conflicting variable",
			content: "vars: OS: \"Linux\"\ntargets: base: type: \"none\"\n",
			vars:    map[string]string{"OS": "Darwin"},
			wantMsg: "conflicting values",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest(t, tt.content, tt.vars)
			_, err := NewCUEReader().Read(context.Background(), req)
			var problems DescriptionErrors
			if !errors.As(err, &problems) {
				t.Fatalf("Read() error = %v, want DescriptionErrors", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
			if len(problems) == 0 {
				t.Error("no problems reported")
			}
		})
	}
}

func TestCUEReaderMissingFile(t *testing.T) {
	req := testRequest(t, "", nil)
	req.Input = req.Input + ".missing"
	if _, err := NewCUEReader().Read(context.Background(), req); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read() error = %v, want not-exist", err)
	}
}

func TestCUEReaderWithBuildReader(t *testing.T) {
	req := testRequest(t, description, nil)
	cfg := req.Config
	writeFile(t, mozpath.Join(cfg.TopSrcDir, "moz.build"), "DIRS += ['third_party']\n")
	writeFile(t, mozpath.Join(cfg.TopSrcDir, "third_party/moz.build"), strings.Join([]string{
		"FOREIGN_DIRS['lib/out'].input = 'lib/lib.cue'",
		"FOREIGN_DIRS['lib/out'].variables = {'OS': 'Linux'}",
		"FOREIGN_DIRS['lib/out'].non_unified_sources = ['lib/big.c']",
		"",
	}, "\n"))
	writeFile(t, mozpath.Join(cfg.TopSrcDir, "third_party/lib/big.c"), "")

	r := frontend.NewReader(cfg, frontend.WithSecondaryReader(NewCUEReader()))
	var dirs []string
	for c, err := range r.ReadTopSrcDir(context.Background()) {
		if err != nil {
			t.Fatalf("ReadTopSrcDir() error = %v", err)
		}
		if c.Kind() == frontend.KindSecondary {
			dirs = append(dirs, "obj:"+c.RelObjDir())
			continue
		}
		dirs = append(dirs, c.RelSrcDir())
	}
	want := []string{"", "third_party", "obj:third_party/lib/out/base", "obj:third_party/lib/out/tool-main"}
	if diff := cmp.Diff(want, dirs); diff != "" {
		t.Errorf("walk mismatch (-want +got):\n%s", diff)
	}
}
