package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/buildtree/pkg/config"
)

// RegoDecider implements frontend.NestedDecider by evaluating Rego modules.
type RegoDecider struct {
	mu     sync.RWMutex
	query  rego.PreparedEvalQuery
	names  []string
	qs     string
	logger zerolog.Logger
}

// DeciderOption configures a RegoDecider.
type DeciderOption func(*RegoDecider)

// WithQuery overrides DefaultQuery.
func WithQuery(q string) DeciderOption { return func(d *RegoDecider) { d.qs = q } }

// NewRegoDecider compiles modules and prepares the decision query.
func NewRegoDecider(ctx context.Context, logger zerolog.Logger, modules []Module, opts ...DeciderOption) (*RegoDecider, error) {
	d := &RegoDecider{
		qs:     DefaultQuery,
		logger: logger.With().Str("component", "nested-decider").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.Reload(ctx, modules); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload replaces the modules of the decider. On failure the previous
// modules stay in effect.
func (d *RegoDecider) Reload(ctx context.Context, modules []Module) error {
	if len(modules) == 0 {
		return fmt.Errorf("no policy modules provided")
	}
	opts := []func(*rego.Rego){rego.Query(d.qs)}
	names := make([]string, 0, len(modules))
	for _, m := range modules {
		if _, err := ast.ParseModule(m.Name, m.Rego); err != nil {
			return fmt.Errorf("failed to parse policy %s: %w", m.Name, err)
		}
		opts = append(opts, rego.Module(m.Name, m.Rego))
		names = append(names, m.Name)
	}
	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	d.mu.Lock()
	d.query = query
	d.names = names
	d.mu.Unlock()

	d.logger.Debug().Strs("modules", names).Str("query", d.qs).Msg("Policy modules compiled")
	return nil
}

// Modules returns the names of the compiled modules.
func (d *RegoDecider) Modules() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.names...)
}

// UseNestedConfig implements frontend.NestedDecider.
func (d *RegoDecider) UseNestedConfig(ctx context.Context, reldir string, cfg *config.Environment) (bool, error) {
	input := Input{RelDir: reldir, TopSrcDir: cfg.TopSrcDir, Substs: cfg.Substs}
	if input.Substs == nil {
		input.Substs = map[string]string{}
	}

	d.mu.RLock()
	query := d.query
	d.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("policy evaluation error: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	nested, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy %s returned %T, want a boolean", d.qs, results[0].Expressions[0].Value)
	}
	if nested {
		d.logger.Debug().Str("reldir", reldir).Msg("Directory uses nested configuration")
	}
	return nested, nil
}
