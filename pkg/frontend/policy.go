package frontend

import (
	"context"
	"fmt"

	"github.com/openfroyo/buildtree/pkg/config"
	"github.com/openfroyo/buildtree/pkg/mozpath"
)

// ConfigPolicy selects the configuration a build file is evaluated with.
type ConfigPolicy interface {
	Select(ctx context.Context, path string, cfg *config.Environment) (*config.Environment, error)
}

// NestedDecider decides whether the directory reldir, relative to the
// source root, is built with its own nested configuration.
type NestedDecider interface {
	UseNestedConfig(ctx context.Context, reldir string, cfg *config.Environment) (bool, error)
}

// NestedRule names a subtree configured separately unless the build
// setting UnlessSubst is set.
type NestedRule struct {
	Subtree     string `yaml:"subtree" json:"subtree"`
	UnlessSubst string `yaml:"unless_subst,omitempty" json:"unless_subst,omitempty"`
}

// StaticRules is a NestedDecider backed by a fixed list of rules.
type StaticRules []NestedRule

// UseNestedConfig implements NestedDecider.
func (rules StaticRules) UseNestedConfig(_ context.Context, reldir string, cfg *config.Environment) (bool, error) {
	for _, r := range rules {
		if reldir != r.Subtree {
			continue
		}
		if r.UnlessSubst != "" && cfg.Substs[r.UnlessSubst] != "" {
			return false, nil
		}
		return true, nil
	}
	return false, nil
}

// DefaultNestedRules reads js/src with its own configuration unless the
// tree is a standalone JavaScript build.
var DefaultNestedRules = StaticRules{{Subtree: "js/src", UnlessSubst: "JS_STANDALONE"}}

// SubtreePolicy is the standard ConfigPolicy. Files below the external
// source root get a configuration rooted there, and directories chosen by
// the decider get the configuration stored in their output directory.
type SubtreePolicy struct {
	LoadStatus config.StatusLoader
	Decider    NestedDecider
}

// NewSubtreePolicy returns a SubtreePolicy using DefaultNestedRules.
func NewSubtreePolicy(load config.StatusLoader) *SubtreePolicy {
	return &SubtreePolicy{LoadStatus: load, Decider: DefaultNestedRules}
}

// Select implements ConfigPolicy.
func (p *SubtreePolicy) Select(ctx context.Context, path string, cfg *config.Environment) (*config.Environment, error) {
	topobjdir := cfg.TopObjDir

	if !mozpath.HasPrefix(path, cfg.TopSrcDir) && cfg.ExternalSourceDir != "" &&
		mozpath.HasPrefix(path, cfg.ExternalSourceDir) {
		loaded, err := p.load(mozpath.Join(topobjdir, config.StatusFileName))
		if err != nil {
			return nil, err
		}
		ext := loaded.Clone()
		ext.TopSrcDir = cfg.ExternalSourceDir
		ext.ExternalSourceDir = ""
		cfg = ext
	}

	if p.Decider == nil {
		return cfg, nil
	}
	reldir := mozpath.Dir(mozpath.Rel(cfg.TopSrcDir, path))
	nested, err := p.Decider.UseNestedConfig(ctx, reldir, cfg)
	if err != nil {
		return nil, fmt.Errorf("deciding configuration for %s: %w", reldir, err)
	}
	if !nested {
		return cfg, nil
	}
	loaded, err := p.load(mozpath.Join(topobjdir, reldir, config.StatusFileName))
	if err != nil {
		return nil, err
	}
	sub := loaded.Clone()
	sub.TopObjDir = topobjdir
	sub.ExternalSourceDir = ""
	return sub, nil
}

func (p *SubtreePolicy) load(path string) (*config.Environment, error) {
	load := p.LoadStatus
	if load == nil {
		load = config.LoadStatus
	}
	cfg, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("loading configuration %s: %w", path, err)
	}
	return cfg, nil
}
