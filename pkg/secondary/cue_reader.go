package secondary

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/openfroyo/buildtree/pkg/frontend"
	"github.com/openfroyo/buildtree/pkg/mozpath"
)

// Target types understood by the reader.
const (
	TypeStaticLibrary = "static_library"
	TypeSharedLibrary = "shared_library"
	TypeProgram       = "program"
	TypeNone          = "none"
)

// Target is one entry of the targets struct of a description.
type Target struct {
	Type           string            `json:"type" validate:"required,oneof=static_library shared_library program none"`
	Sources        []string          `json:"sources,omitempty" validate:"dive,required"`
	Defines        map[string]string `json:"defines,omitempty"`
	IncludeDirs    []string          `json:"include_dirs,omitempty" validate:"dive,required"`
	CFlags         []string          `json:"cflags,omitempty"`
	CXXFlags       []string          `json:"cxxflags,omitempty"`
	OSLibs         []string          `json:"os_libs,omitempty"`
	FinalLibrary   string            `json:"final_library,omitempty"`
	TargetName     string            `json:"name,omitempty"`
	NoDistInstall  bool              `json:"no_dist_install,omitempty"`
	FailOnWarnings bool              `json:"fail_on_warnings,omitempty"`
}

// DescriptionError is one problem found in a foreign description.
type DescriptionError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e DescriptionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// DescriptionErrors collects every problem of a description.
type DescriptionErrors []DescriptionError

func (e DescriptionErrors) Error() string {
	msgs := make([]string, len(e))
	for i, d := range e {
		msgs[i] = d.Error()
	}
	return strings.Join(msgs, "\n")
}

// CUEReader implements frontend.SecondaryReader for CUE descriptions.
type CUEReader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
	log       zerolog.Logger
}

// Option configures a CUEReader.
type Option func(*CUEReader)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option { return func(r *CUEReader) { r.log = log } }

// NewCUEReader returns a reader with its own CUE runtime.
func NewCUEReader(opts ...Option) *CUEReader {
	r := &CUEReader{
		ctx:       cuecontext.New(),
		validator: validator.New(),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.schema = compileTargetSchema(r.ctx)
	return r
}

// Read implements frontend.SecondaryReader.
func (r *CUEReader) Read(ctx context.Context, req frontend.SecondaryRequest) ([]*frontend.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	targets, err := r.Targets(req.Input, req.Variables)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(req.Excluded))
	for _, p := range req.Excluded {
		excluded[mozpath.Normalize(p)] = true
	}

	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*frontend.Context, 0, len(names))
	for _, name := range names {
		c := frontend.NewSecondaryContext(req.Registry, req.Config, req.Input, mozpath.Join(req.OutputDir, name))
		if err := populate(c, name, targets[name], excluded); err != nil {
			return nil, fmt.Errorf("target %s of %s: %w", name, req.Input, err)
		}
		r.log.Debug().
			Str("input", req.Input).
			Str("target", name).
			Int("variables", c.Len()).
			Msg("Read foreign target")
		out = append(out, c)
	}
	return out, nil
}

// Targets evaluates the description at path with vars and returns its
// targets keyed by name.
func (r *CUEReader) Targets(path string, vars map[string]string) (map[string]Target, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign description: %w", err)
	}
	val := r.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	if len(vars) > 0 {
		val = val.FillPath(cue.ParsePath("vars"), vars)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	targetsVal := val.LookupPath(cue.ParsePath("targets"))
	if !targetsVal.Exists() {
		return nil, DescriptionErrors{{File: path, Message: "no targets declared"}}
	}
	iter, err := targetsVal.Fields()
	if err != nil {
		return nil, convertCUEErrors(err)
	}

	targets := make(map[string]Target)
	var problems DescriptionErrors
	for iter.Next() {
		name := iter.Selector().Unquoted()
		if errs := checkTarget(r.schema, name, iter.Value()); len(errs) > 0 {
			problems = append(problems, errs...)
			continue
		}
		var t Target
		if err := iter.Value().Decode(&t); err != nil {
			problems = append(problems, DescriptionError{File: path, Message: fmt.Sprintf("targets.%s: %v", name, err)})
			continue
		}
		if err := r.validator.Struct(t); err != nil {
			problems = append(problems, DescriptionError{File: path, Message: fmt.Sprintf("targets.%s: %v", name, err)})
			continue
		}
		targets[name] = t
	}
	if len(problems) > 0 {
		return nil, problems
	}
	return targets, nil
}

// populate writes the variables describing t into c. Sources listed in
// excluded are compiled on their own; the others are unified.
func populate(c *frontend.Context, name string, t Target, excluded map[string]bool) error {
	targetName := t.TargetName
	if targetName == "" {
		targetName = name
	}
	set := c.Set

	switch t.Type {
	case TypeStaticLibrary:
		if err := set("LIBRARY_NAME", frontend.String(targetName)); err != nil {
			return err
		}
	case TypeSharedLibrary:
		if err := set("SHARED_LIBRARY_NAME", frontend.String(targetName)); err != nil {
			return err
		}
	case TypeProgram:
		if err := set("PROGRAM", frontend.String(targetName)); err != nil {
			return err
		}
	}

	var sources, unified []string
	for _, s := range t.Sources {
		if excluded[mozpath.Join(c.SrcDir(), s)] {
			sources = append(sources, s)
		} else {
			unified = append(unified, s)
		}
	}
	lists := []struct {
		name  string
		items []string
	}{
		{"SOURCES", sources},
		{"UNIFIED_SOURCES", unified},
		{"LOCAL_INCLUDES", t.IncludeDirs},
		{"CFLAGS", t.CFlags},
		{"CXXFLAGS", t.CXXFlags},
		{"OS_LIBS", t.OSLibs},
	}
	for _, l := range lists {
		if len(l.items) == 0 {
			continue
		}
		if err := set(l.name, strList(l.items)); err != nil {
			return err
		}
	}

	if len(t.Defines) > 0 {
		d := frontend.NewDict()
		keys := make([]string, 0, len(t.Defines))
		for k := range t.Defines {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := d.Set(c, k, frontend.String(t.Defines[k])); err != nil {
				return err
			}
		}
		if err := set("DEFINES", d); err != nil {
			return err
		}
	}
	if t.FinalLibrary != "" {
		if err := set("FINAL_LIBRARY", frontend.String(t.FinalLibrary)); err != nil {
			return err
		}
	}
	if t.NoDistInstall {
		if err := set("NO_DIST_INSTALL", frontend.Bool(true)); err != nil {
			return err
		}
	}
	if t.FailOnWarnings {
		if err := set("FAIL_ON_WARNINGS", frontend.Bool(true)); err != nil {
			return err
		}
	}
	return nil
}

func strList(items []string) *frontend.List {
	vs := make([]frontend.Value, len(items))
	for i, s := range items {
		vs[i] = frontend.String(s)
	}
	return frontend.NewList(vs...)
}

// convertCUEErrors flattens a CUE error into DescriptionErrors with the
// position of each problem.
func convertCUEErrors(err error) DescriptionErrors {
	var out DescriptionErrors
	for _, e := range cueerrors.Errors(err) {
		d := DescriptionError{Message: cueerrors.Details(e, nil)}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			d.File = pos[0].Filename()
			d.Line = pos[0].Line()
			d.Column = pos[0].Column()
		}
		out = append(out, d)
	}
	return out
}
