package frontend

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFinderFind(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"moz.build":                                   "",
		"a/moz.build":                                 "",
		"a/b/moz.build":                               "",
		"a/b/other.build":                             "",
		"obj-x86_64/moz.build":                        "",
		"python/mozbuild/mozbuild/test/moz.build":     "",
		"python/mozbuild/mozbuild/frontend/moz.build": "",
	})
	tests := []struct {
		name   string
		ignore []string
		want   []string
	}{
		{
			name:   "default ignore",
			ignore: DefaultIgnore,
			want: []string{
				"a/b/moz.build",
				"a/moz.build",
				"moz.build",
				"python/mozbuild/mozbuild/frontend/moz.build",
			},
		},
		{
			name: "nothing ignored",
			want: []string{
				"a/b/moz.build",
				"a/moz.build",
				"moz.build",
				"obj-x86_64/moz.build",
				"python/mozbuild/mozbuild/frontend/moz.build",
				"python/mozbuild/mozbuild/test/moz.build",
			},
		},
		{
			name:   "wildcard within a segment",
			ignore: []string{"a/*", "python/*/mozbuild"},
			want:   []string{"moz.build", "obj-x86_64/moz.build"},
		},
		{
			name:   "deep wildcard",
			ignore: []string{"**/test", "obj*", "a"},
			want:   []string{"moz.build", "python/mozbuild/mozbuild/frontend/moz.build"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFinder(root, tt.ignore)
			if err != nil {
				t.Fatalf("NewFinder() error = %v", err)
			}
			got, err := f.Find(BuildFileName)
			if err != nil {
				t.Fatalf("Find() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Find() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewFinderInvalidPattern(t *testing.T) {
	if _, err := NewFinder(t.TempDir(), []string{"[unterminated"}); err == nil {
		t.Error("NewFinder() accepted an invalid pattern")
	}
}
