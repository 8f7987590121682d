package frontend

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"

	"github.com/openfroyo/buildtree/pkg/mozpath"
)

// DefaultIgnore lists the patterns skipped by an exhaustive scan: output
// directories at the top of the tree and the reader's own test fixtures.
var DefaultIgnore = []string{"obj*", "python/mozbuild/mozbuild/test"}

// Finder locates build files below a root directory.
type Finder struct {
	root   string
	ignore []glob.Glob
}

// NewFinder returns a Finder for root skipping directories whose path
// relative to root matches one of the ignore patterns.
func NewFinder(root string, ignore []string) (*Finder, error) {
	f := &Finder{root: mozpath.Normalize(root)}
	for _, p := range ignore {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		f.ignore = append(f.ignore, g)
	}
	return f, nil
}

func (f *Finder) ignored(rel string) bool {
	for _, g := range f.ignore {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Find returns the sorted paths, relative to the root, of every file named
// name outside ignored directories.
func (f *Finder) Find(name string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(filepath.FromSlash(f.root), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := mozpath.Rel(f.root, filepath.ToSlash(p))
		if d.IsDir() {
			if rel != "" && f.ignored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == name && !f.ignored(rel) {
			found = append(found, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}
