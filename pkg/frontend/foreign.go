package frontend

import (
	"context"
	"fmt"
	"os"

	"github.com/openfroyo/buildtree/pkg/mozpath"
)

// readSecondary reads the foreign build descriptions declared in
// FOREIGN_DIRS. Each produced Context goes through the post-eval hook and
// its output directory is appended to DIRS of the parent.
func (r *Reader) readSecondary(ctx context.Context, bctx *Context) (_ []*Context, err error) {
	defer recoverInternal(bctx.MainPath(), &err)
	v, ok := bctx.Peek("FOREIGN_DIRS")
	if !ok {
		return nil, nil
	}
	dirs, ok := v.(*Dict)
	if !ok || dirs.Len() == 0 {
		return nil, nil
	}
	if r.secondary == nil {
		return nil, &ValidationError{
			Message: "FOREIGN_DIRS is set but no foreign build description reader is configured",
			Context: bctx,
		}
	}

	curdir := bctx.SrcDir()
	var out []*Context
	for _, target := range dirs.Keys() {
		entry, _ := dirs.Get(target)
		obj, ok := entry.(*Object)
		if !ok {
			return nil, &internalError{msg: fmt.Sprintf("FOREIGN_DIRS[%q] holds %s", target, entry.Type())}
		}
		for _, field := range []string{"input", "variables"} {
			if fv, _ := obj.Attr(field); fv == nil || !truth(fv) {
				return nil, &ValidationError{
					Message: fmt.Sprintf("Missing value for FOREIGN_DIRS[%q].%s", target, field),
					Context: bctx,
				}
			}
		}

		var excluded []string
		if nv, ok := obj.Attr("non_unified_sources"); ok {
			if list, ok := nv.(*List); ok {
				for _, s := range list.Strings() {
					source := mozpath.Join(curdir, s)
					if _, err := os.Stat(source); err != nil {
						return nil, &ValidationError{Message: fmt.Sprintf("Cannot find %s.", source), Context: bctx}
					}
					excluded = append(excluded, source)
				}
			}
		}

		input, _ := obj.Attr("input")
		inputPath, _ := asString(input)
		variables := make(map[string]string)
		if vv, ok := obj.Attr("variables"); ok {
			if d, ok := vv.(*Dict); ok {
				for _, k := range d.Keys() {
					val, _ := d.Get(k)
					variables[k], _ = asString(val)
				}
			}
		}

		req := SecondaryRequest{
			Config:    bctx.Config(),
			Registry:  r.registry,
			Input:     mozpath.Join(curdir, inputPath),
			OutputDir: mozpath.Join(bctx.ObjDir(), target),
			Variables: variables,
			Excluded:  excluded,
		}
		r.log.Debug().Str("input", req.Input).Str("objdir", req.OutputDir).Msg("Reading foreign build description")
		contexts, err := r.secondary.Read(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("reading foreign build description %s: %w", req.Input, err)
		}

		sandboxVars, _ := obj.Attr("sandbox_vars")
		for _, sc := range contexts {
			if sv, ok := sandboxVars.(*Dict); ok {
				for _, k := range sv.Keys() {
					val, _ := sv.Get(k)
					if err := sc.Update(k, val); err != nil {
						return nil, &ValidationError{
							Message: fmt.Sprintf("FOREIGN_DIRS[%q].sandbox_vars: %v", target, err),
							Context: bctx,
						}
					}
				}
			}
			out = append(out, sc)
		}
	}

	dirsVar, err := bctx.Get("DIRS")
	if err != nil {
		return nil, err
	}
	for _, sc := range out {
		if r.postEval != nil {
			if err := r.postEval(sc); err != nil {
				return nil, err
			}
		}
		rel := mozpath.Rel(bctx.ObjDir(), sc.ObjDir())
		if err := dirsVar.(*List).Append(bctx, String(rel)); err != nil {
			return nil, err
		}
	}
	return out, nil
}
