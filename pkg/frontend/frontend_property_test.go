//go:build property

package frontend

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func quoted(items []string) string {
	q := make([]string, len(items))
	for i, s := range items {
		q[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(q, ", ") + "]"
}

func TestSandboxProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)
	names := gen.SliceOf(gen.Identifier())

	properties.Property("appends keep order", prop.ForAll(
		func(a, b []string) bool {
			ctx, err := execSource(t, testEnv(t), fmt.Sprintf("SOURCES += %s\nSOURCES += %s\n", quoted(a), quoted(b)))
			if err != nil {
				return false
			}
			v, _ := ctx.Peek("SOURCES")
			want := append(slices.Clone(a), b...)
			if v == nil {
				return len(want) == 0
			}
			return slices.Equal(v.(*List).Strings(), want)
		},
		names, names,
	))

	properties.Property("template merge appends exactly the template's items", prop.ForAll(
		func(caller, inner []string) bool {
			src := fmt.Sprintf("def Add(items):\n    SOURCES += items\n\ntemplate(Add)\nSOURCES += %s\nAdd(%s)\n",
				quoted(caller), quoted(inner))
			ctx, err := execSource(t, testEnv(t), src)
			if err != nil {
				return false
			}
			v, _ := ctx.Peek("SOURCES")
			return slices.Equal(v.(*List).Strings(), append(slices.Clone(caller), inner...))
		},
		names, names,
	))

	properties.Property("child directories are yielded in DIRS order", prop.ForAll(
		func(dirs []string) bool {
			dirs = slices.Compact(slices.Sorted(slices.Values(dirs)))
			slices.Reverse(dirs)
			cfg := testEnv(t)
			files := map[string]string{"moz.build": "DIRS += " + quoted(dirs) + "\n"}
			for _, d := range dirs {
				files[d+"/moz.build"] = ""
			}
			writeTree(t, cfg.TopSrcDir, files)
			got, err := collect(NewReader(cfg).ReadTopSrcDir(background()))
			if err != nil {
				return false
			}
			return slices.Equal(relDirs(got), append([]string{"."}, dirs...))
		},
		names,
	))

	properties.TestingRun(t)
}
