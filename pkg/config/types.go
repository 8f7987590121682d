package config

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
)

// StatusFileName is the name of the status artifact written by configure
// into an output directory.
const StatusFileName = "config.status"

// Environment is the configuration of one build tree.
type Environment struct {
	// TopSrcDir is the absolute path of the primary source root.
	TopSrcDir string `yaml:"topsrcdir" json:"topsrcdir" validate:"required,abspath"`

	// TopObjDir is the absolute path of the output root.
	TopObjDir string `yaml:"topobjdir" json:"topobjdir" validate:"required,abspath"`

	// ExternalSourceDir is an optional absolute source root outside
	// TopSrcDir whose build files may also be read.
	ExternalSourceDir string `yaml:"external_source_dir,omitempty" json:"external_source_dir,omitempty" validate:"omitempty,abspath"`

	// Substs holds the build settings produced by configure.
	Substs map[string]string `yaml:"substs,omitempty" json:"substs,omitempty"`
}

// StatusLoader derives a configuration from an on-disk status artifact.
type StatusLoader func(path string) (*Environment, error)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("abspath", func(fl validator.FieldLevel) bool {
		return filepath.IsAbs(fl.Field().String())
	})
	return v
}

// Validate checks the struct constraints of the environment.
func (e *Environment) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid build configuration: %w", err)
	}
	return nil
}

// Clone returns a deep copy of the environment.
func (e *Environment) Clone() *Environment {
	c := *e
	if e.Substs != nil {
		c.Substs = make(map[string]string, len(e.Substs))
		for k, v := range e.Substs {
			c.Substs[k] = v
		}
	}
	return &c
}

// Subst returns the build setting for key and whether it is set.
func (e *Environment) Subst(key string) (string, bool) {
	v, ok := e.Substs[key]
	return v, ok
}

// SubstKeys returns the sorted names of all build settings.
func (e *Environment) SubstKeys() []string {
	keys := make([]string, 0, len(e.Substs))
	for k := range e.Substs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
