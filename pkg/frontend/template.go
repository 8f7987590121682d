package frontend

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.starlark.net/syntax"
)

// Template is a function registered with template(). Calling it evaluates
// its body in a scratch Context whose results are merged into the caller.
type Template struct {
	Name string
	Func *Function

	// Body is the parsed function body. Its nodes keep the positions of
	// the file the template was defined in.
	Body []syntax.Stmt

	// Path is the file the template was defined in.
	Path string
}

// TemplateFunc is the callable value a template name resolves to.
type TemplateFunc struct {
	Template *Template
	sandbox  *Sandbox
}

func (t *TemplateFunc) Type() string   { return "template" }
func (t *TemplateFunc) String() string { return "<template " + t.Template.Name + ">" }

// RegisterTemplate registers fn, which must be a function defined with def,
// as a template.
func (sb *Sandbox) RegisterTemplate(fn Value) error {
	var f *Function
	switch x := fn.(type) {
	case *TemplateFunc:
		return &TemplateError{Name: x.Template.Name, PreviousPath: x.Template.Path}
	case *Function:
		f = x
	default:
		return &TemplateError{Reason: "`template` must be called with a function declared with def"}
	}
	if prev, ok := sb.metadata.Templates[f.name]; ok {
		return &TemplateError{Name: f.name, PreviousPath: prev.Path}
	}
	if !isCamelCase(f.name) {
		return &TemplateError{Name: f.name, Reason: "Template function names must be CamelCase."}
	}
	sb.metadata.Templates[f.name] = &Template{
		Name: f.name,
		Func: f,
		Body: f.def.Body,
		Path: f.path,
	}
	sb.env.log.Debug().Str("template", f.name).Str("path", f.path).Msg("Registered template")
	return nil
}

// isCamelCase rejects names that are all lower case, all upper case, or
// start with a lower-case letter.
func isCamelCase(name string) bool {
	first, _ := utf8.DecodeRuneInString(name)
	if unicode.IsLower(first) || isUpper(name) {
		return false
	}
	return strings.ToLower(name) != name
}

// callTemplate evaluates t with the given arguments and merges the result
// into the caller's Context.
func (sb *Sandbox) callTemplate(t *Template, args []Value, kwargs []kwarg) error {
	if sb.depth >= maxTemplateDepth {
		return fmt.Errorf("template %s: maximum template nesting depth %d exceeded", t.Name, maxTemplateDepth)
	}
	bound, err := bindArgs(t.Func, args, kwargs)
	if err != nil {
		return err
	}

	tctx := newContext(KindTemplate, sb.registry, sb.ctx.Config())
	tctx.AddSource(sb.ctx.CurrentPath())
	for _, p := range sb.ctx.AllPaths() {
		tctx.AddSource(p)
	}

	child, err := newSandbox(tctx, sb.metadata, sb.env)
	if err != nil {
		return err
	}
	child.depth = sb.depth + 1
	for _, b := range bound {
		if err := child.Set(b.name, b.value); err != nil {
			return err
		}
	}

	if tel := sb.env.tel; tel != nil {
		tel.Metrics.RecordTemplateCall(t.Name)
	}
	sb.env.log.Debug().Str("template", t.Name).Str("caller", sb.ctx.CurrentPath()).Msg("Calling template")

	if err := child.ExecStatements(t.Path, t.Body); err != nil {
		return err
	}
	if err := sb.mergeTemplate(t, tctx); err != nil {
		return err
	}
	for _, p := range tctx.AllPaths() {
		sb.ctx.AddSource(p)
	}
	return nil
}

// mergeTemplate folds what a template contributed into the caller: lists
// are extended, dicts updated key by key and every other value
// overwritten. Variables still holding their seed or their default are
// left alone, so reads inside the template do not leak into the caller.
func (sb *Sandbox) mergeTemplate(t *Template, tctx *Context) error {
	for _, name := range tctx.Keys() {
		v, _ := tctx.Peek(name)
		if !tctx.contributed(name, v) {
			continue
		}
		seed := tctx.seeds[name]
		switch x := v.(type) {
		case *List:
			cur, err := sb.ctx.Get(name)
			if err != nil {
				return err
			}
			dst, ok := cur.(*List)
			if !ok {
				return &internalError{msg: fmt.Sprintf("merging %s: caller holds %s", name, cur.Type())}
			}
			delta := x.elems
			if s, ok := seed.(*List); ok && len(delta) >= len(s.elems) && equalSeq(delta[:len(s.elems)], s.elems) {
				delta = delta[len(s.elems):]
			}
			if err := dst.Extend(sb.ctx, delta); err != nil {
				return err
			}
			if err := sb.mergeSet(name, dst); err != nil {
				return err
			}

		case *Dict:
			cur, err := sb.ctx.Get(name)
			if err != nil {
				return err
			}
			dst, ok := cur.(*Dict)
			if !ok {
				return &internalError{msg: fmt.Sprintf("merging %s: caller holds %s", name, cur.Type())}
			}
			s, _ := seed.(*Dict)
			for _, k := range x.keys {
				nv := x.values[k]
				if s != nil {
					if sv, ok := s.values[k]; ok && equal(sv, nv) {
						continue
					}
				}
				if old, exists := dst.values[k]; exists && !equal(old, nv) {
					sb.env.log.Warn().
						Str("template", t.Name).
						Str("variable", name).
						Str("key", k).
						Str("path", sb.ctx.CurrentPath()).
						Msg("Template overrides existing dict entry")
				}
				if err := dst.Set(sb.ctx, k, nv); err != nil {
					return err
				}
			}
			if err := sb.mergeSet(name, dst); err != nil {
				return err
			}

		default:
			if err := sb.mergeSet(name, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// contributed reports whether v, the template's value of name, differs
// from what the template started with: the seeded export when there is
// one, the declared default otherwise. In-place changes such as append or
// index assignment count as well as plain assignment.
func (c *Context) contributed(name string, v Value) bool {
	if seed, ok := c.seeds[name]; ok {
		return !equal(seed, v)
	}
	if c.written[name] {
		return true
	}
	spec, ok := c.registry.Variables[name]
	if !ok {
		return true
	}
	return !equal(c.defaultValue(spec), v)
}

// mergeSet stores a merged value without the reassignment check. It
// consumes a pending export like any other write.
func (sb *Sandbox) mergeSet(name string, v Value) error {
	delete(sb.pending, name)
	return sb.ctx.Update(name, v)
}
