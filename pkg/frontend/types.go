package frontend

import (
	"strings"

	"github.com/openfroyo/buildtree/pkg/mozpath"
)

// Type describes the values a declared variable, dict entry, object field or
// function argument accepts.
type Type interface {
	// Name is the type name shown in type-mismatch diagnostics.
	Name() string

	// Zero returns the default value of the type for ctx.
	Zero(ctx *Context) Value

	// Coerce returns v unchanged when it already has the type and a
	// converted value otherwise. Failures are *TypeMismatchError values
	// with an empty Name, filled in by the caller.
	Coerce(ctx *Context, v Value) (Value, error)
}

func mismatch(v Value, t Type) error {
	return &TypeMismatchError{Got: v, Accepted: []string{t.Name()}}
}

// StringType accepts strings. Paths convert to their written form.
type StringType struct{}

func (StringType) Name() string        { return "str" }
func (StringType) Zero(*Context) Value { return String("") }
func (t StringType) Coerce(_ *Context, v Value) (Value, error) {
	switch x := v.(type) {
	case String:
		return x, nil
	case Path:
		return String(x.Raw), nil
	}
	return nil, mismatch(v, t)
}

// BoolType accepts booleans.
type BoolType struct{}

func (BoolType) Name() string        { return "bool" }
func (BoolType) Zero(*Context) Value { return Bool(false) }
func (t BoolType) Coerce(_ *Context, v Value) (Value, error) {
	if b, ok := v.(Bool); ok {
		return b, nil
	}
	return nil, mismatch(v, t)
}

// IntType accepts integers.
type IntType struct{}

func (IntType) Name() string        { return "int" }
func (IntType) Zero(*Context) Value { return Int(0) }
func (t IntType) Coerce(_ *Context, v Value) (Value, error) {
	if i, ok := v.(Int); ok {
		return i, nil
	}
	return nil, mismatch(v, t)
}

// AnyType accepts every value unchanged.
type AnyType struct{}

func (AnyType) Name() string                              { return "any" }
func (AnyType) Zero(*Context) Value                       { return None }
func (AnyType) Coerce(_ *Context, v Value) (Value, error) { return v, nil }

// PathType is derived from the Context: a string is resolved against the
// source root when it starts with "/" and against the Context's source
// directory otherwise.
type PathType struct{}

func (PathType) Name() string        { return "SourcePath" }
func (PathType) Zero(*Context) Value { return Path{} }
func (t PathType) Coerce(ctx *Context, v Value) (Value, error) {
	switch x := v.(type) {
	case Path:
		return x, nil
	case String:
		return NewPath(ctx, string(x)), nil
	}
	return nil, mismatch(v, t)
}

// NewPath resolves raw against ctx.
func NewPath(ctx *Context, raw string) Path {
	var full string
	switch {
	case ctx == nil:
		full = mozpath.Normalize(raw)
	case strings.HasPrefix(raw, "/"):
		full = mozpath.Join(ctx.Config().TopSrcDir, raw[1:])
	default:
		full = mozpath.Join(ctx.SrcDir(), raw)
	}
	return Path{Raw: raw, Full: full}
}

// ListType accepts lists and tuples whose elements all coerce to Elem.
// A nil Elem accepts any element.
type ListType struct {
	Elem Type
}

func (t *ListType) Name() string {
	if t.Elem == nil {
		return "list"
	}
	return "list of " + t.Elem.Name()
}

func (t *ListType) Zero(*Context) Value { return &List{typ: t} }

func (t *ListType) Coerce(ctx *Context, v Value) (Value, error) {
	var elems []Value
	switch x := v.(type) {
	case *List:
		if x.typ == t {
			return x, nil
		}
		elems = x.elems
	case Tuple:
		elems = x
	default:
		return nil, mismatch(v, t)
	}
	out := &List{typ: t, elems: make([]Value, 0, len(elems))}
	for _, e := range elems {
		if err := out.Append(ctx, e); err != nil {
			return nil, mismatch(v, t)
		}
	}
	return out, nil
}

// DictType accepts dicts whose values all coerce to Value. When Value is
// set, reading a missing key through an index creates its default.
type DictType struct {
	Value Type
}

func (t *DictType) Name() string {
	if t.Value == nil {
		return "dict"
	}
	return "dict of " + t.Value.Name()
}

func (t *DictType) Zero(*Context) Value {
	return &Dict{typ: t, values: make(map[string]Value)}
}

func (t *DictType) Coerce(ctx *Context, v Value) (Value, error) {
	x, ok := v.(*Dict)
	if !ok {
		return nil, mismatch(v, t)
	}
	if x.typ == t {
		return x, nil
	}
	out := &Dict{typ: t, values: make(map[string]Value, x.Len())}
	for _, k := range x.keys {
		if err := out.Set(ctx, k, x.values[k]); err != nil {
			return nil, mismatch(v, t)
		}
	}
	return out, nil
}

// ObjectType is a record type with declared, typed fields.
type ObjectType struct {
	TypeName string
	Fields   []FieldSpec
}

func (t *ObjectType) Name() string { return t.TypeName }

func (t *ObjectType) Zero(ctx *Context) Value {
	o := &Object{typ: t, values: make(map[string]Value, len(t.Fields))}
	for _, f := range t.Fields {
		o.values[f.Name] = f.Type.Zero(ctx)
	}
	return o
}

func (t *ObjectType) Coerce(_ *Context, v Value) (Value, error) {
	if o, ok := v.(*Object); ok && o.typ == t {
		return o, nil
	}
	return nil, mismatch(v, t)
}

func (t *ObjectType) field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}
