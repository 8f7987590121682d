package frontend

import (
	"github.com/openfroyo/buildtree/pkg/config"
	"github.com/openfroyo/buildtree/pkg/mozpath"
)

// IsReadAllowed reports whether a build file at path may be read under
// cfg. Only files below the source root or the external source root are
// allowed. Symbolic links are not resolved.
func IsReadAllowed(path string, cfg *config.Environment) bool {
	if cfg == nil || !mozpath.IsAbs(path) {
		return false
	}
	path = mozpath.Normalize(path)
	if mozpath.HasPrefix(path, cfg.TopSrcDir) {
		return true
	}
	return cfg.ExternalSourceDir != "" && mozpath.HasPrefix(path, cfg.ExternalSourceDir)
}
