package frontend

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is any value manipulated by build-file code.
type Value interface {
	// Type returns the name of the value's type as shown in diagnostics.
	Type() string

	// String returns a source-like representation of the value.
	String() string
}

// String is a string value.
type String string

func (String) Type() string     { return "str" }
func (s String) String() string { return strconv.Quote(string(s)) }

// Int is an integer value.
type Int int64

func (Int) Type() string     { return "int" }
func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

// Bool is a boolean value.
type Bool bool

func (Bool) Type() string { return "bool" }
func (b Bool) String() string {
	if b {
		return "True"
	}
	return "False"
}

// NoneType is the type of None.
type NoneType struct{}

// None is the absent value.
var None = NoneType{}

func (NoneType) Type() string   { return "NoneType" }
func (NoneType) String() string { return "None" }

// Path is a source path resolved against the Context it was created in.
// Raw is the path as written; Full is the normalized absolute path.
type Path struct {
	Raw  string
	Full string
}

func (Path) Type() string     { return "SourcePath" }
func (p Path) String() string { return strconv.Quote(p.Raw) }

// Tuple is an immutable sequence.
type Tuple []Value

func (Tuple) Type() string { return "tuple" }
func (t Tuple) String() string {
	if len(t) == 1 {
		return "(" + t[0].String() + ",)"
	}
	return "(" + joinValues(t) + ")"
}

// List is an ordered, mutable sequence. A List created by a ListType keeps
// that type and coerces every element appended to it.
type List struct {
	elems []Value
	typ   *ListType
}

// NewList returns an untyped list holding elems.
func NewList(elems ...Value) *List {
	return &List{elems: append([]Value(nil), elems...)}
}

func (l *List) Type() string   { return "list" }
func (l *List) String() string { return "[" + joinValues(l.elems) + "]" }

// Len returns the number of elements.
func (l *List) Len() int { return len(l.elems) }

// Index returns the i-th element.
func (l *List) Index(i int) Value { return l.elems[i] }

// Elems returns a copy of the elements.
func (l *List) Elems() []Value { return append([]Value(nil), l.elems...) }

// Strings returns the elements rendered as plain strings.
func (l *List) Strings() []string {
	out := make([]string, 0, len(l.elems))
	for _, e := range l.elems {
		if s, ok := asString(e); ok {
			out = append(out, s)
		} else {
			out = append(out, e.String())
		}
	}
	return out
}

// Append adds v, coercing it to the element type of a typed list.
func (l *List) Append(ctx *Context, v Value) error {
	if l.typ != nil && l.typ.Elem != nil {
		c, err := l.typ.Elem.Coerce(ctx, v)
		if err != nil {
			return err
		}
		v = c
	}
	l.elems = append(l.elems, v)
	return nil
}

// Extend appends every element of vs.
func (l *List) Extend(ctx *Context, vs []Value) error {
	for _, v := range vs {
		if err := l.Append(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a copy whose elements are cloned as well.
func (l *List) Clone() *List {
	c := &List{typ: l.typ, elems: make([]Value, len(l.elems))}
	for i, e := range l.elems {
		c.elems[i] = cloneValue(e)
	}
	return c
}

// Dict is a keyed collection with string keys kept in insertion order.
type Dict struct {
	keys     []string
	values   map[string]Value
	typ      *DictType
	readOnly bool

	// missingNone makes reads of absent keys return None, as for CONFIG.
	missingNone bool
}

// NewDict returns an empty untyped dict.
func NewDict() *Dict {
	return &Dict{values: make(map[string]Value)}
}

func (d *Dict) Type() string { return "dict" }
func (d *Dict) String() string {
	parts := make([]string, 0, len(d.keys))
	for _, k := range d.keys {
		parts = append(parts, strconv.Quote(k)+": "+d.values[k].String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string { return append([]string(nil), d.keys...) }

// Get returns the value stored under key.
func (d *Dict) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// GetOrCreate returns the value stored under key, creating it with the
// dict's value type when the dict has one.
func (d *Dict) GetOrCreate(ctx *Context, key string) (Value, error) {
	if v, ok := d.values[key]; ok {
		return v, nil
	}
	if d.missingNone {
		return None, nil
	}
	if d.typ == nil || d.typ.Value == nil || d.readOnly {
		return nil, fmt.Errorf("key %q not found", key)
	}
	v := d.typ.Value.Zero(ctx)
	d.put(key, v)
	return v, nil
}

// Set stores v under key, coercing it to the dict's value type.
func (d *Dict) Set(ctx *Context, key string, v Value) error {
	if d.readOnly {
		return fmt.Errorf("dict is read-only")
	}
	if d.typ != nil && d.typ.Value != nil {
		c, err := d.typ.Value.Coerce(ctx, v)
		if err != nil {
			return err
		}
		v = c
	}
	d.put(key, v)
	return nil
}

func (d *Dict) put(key string, v Value) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// Clone returns a writable copy whose values are cloned as well.
func (d *Dict) Clone() *Dict {
	c := &Dict{typ: d.typ, values: make(map[string]Value, len(d.values)), missingNone: d.missingNone}
	for _, k := range d.keys {
		c.put(k, cloneValue(d.values[k]))
	}
	return c
}

// FieldSpec declares one attribute of an ObjectType.
type FieldSpec struct {
	Name string
	Type Type
	Doc  string
}

// Object is a record with a fixed set of typed attributes.
type Object struct {
	typ    *ObjectType
	values map[string]Value
}

func (o *Object) Type() string { return o.typ.TypeName }
func (o *Object) String() string {
	parts := make([]string, 0, len(o.typ.Fields))
	for _, f := range o.typ.Fields {
		parts = append(parts, f.Name+"="+o.values[f.Name].String())
	}
	return o.typ.TypeName + "(" + strings.Join(parts, ", ") + ")"
}

// Attr returns the attribute name.
func (o *Object) Attr(name string) (Value, bool) {
	v, ok := o.values[name]
	return v, ok
}

// SetAttr coerces and stores an attribute.
func (o *Object) SetAttr(ctx *Context, name string, v Value) error {
	f, ok := o.typ.field(name)
	if !ok {
		return fmt.Errorf("%s has no attribute %q", o.typ.TypeName, name)
	}
	c, err := f.Type.Coerce(ctx, v)
	if err != nil {
		return err
	}
	o.values[name] = c
	return nil
}

// Clone returns a deep copy.
func (o *Object) Clone() *Object {
	c := &Object{typ: o.typ, values: make(map[string]Value, len(o.values))}
	for k, v := range o.values {
		c.values[k] = cloneValue(v)
	}
	return c
}

// joinValues renders vs separated by commas.
func joinValues(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

// cloneValue deep-copies mutable containers and returns scalars unchanged.
func cloneValue(v Value) Value {
	switch x := v.(type) {
	case *List:
		return x.Clone()
	case *Dict:
		return x.Clone()
	case *Object:
		return x.Clone()
	case Tuple:
		c := make(Tuple, len(x))
		for i, e := range x {
			c[i] = cloneValue(e)
		}
		return c
	}
	return v
}

// asString returns the string form of String and Path values.
func asString(v Value) (string, bool) {
	switch x := v.(type) {
	case String:
		return string(x), true
	case Path:
		return x.Raw, true
	}
	return "", false
}

// truth implements the truthiness rules of the build language.
func truth(v Value) bool {
	switch x := v.(type) {
	case NoneType:
		return false
	case Bool:
		return bool(x)
	case Int:
		return x != 0
	case String:
		return x != ""
	case Path:
		return x.Raw != ""
	case Tuple:
		return len(x) > 0
	case *List:
		return x.Len() > 0
	case *Dict:
		return x.Len() > 0
	}
	return true
}

// equal reports whether two values compare equal with ==.
func equal(a, b Value) bool {
	if as, ok := asString(a); ok {
		bs, ok := asString(b)
		return ok && as == bs
	}
	switch x := a.(type) {
	case Int:
		y, ok := b.(Int)
		return ok && x == y
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case NoneType:
		_, ok := b.(NoneType)
		return ok
	case Tuple:
		y, ok := b.(Tuple)
		return ok && equalSeq(x, y)
	case *List:
		y, ok := b.(*List)
		return ok && equalSeq(x.elems, y.elems)
	case *Dict:
		y, ok := b.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, k := range x.keys {
			yv, ok := y.values[k]
			if !ok || !equal(x.values[k], yv) {
				return false
			}
		}
		return true
	case *Object:
		y, ok := b.(*Object)
		if !ok || x.typ != y.typ {
			return false
		}
		for _, f := range x.typ.Fields {
			if !equal(x.values[f.Name], y.values[f.Name]) {
				return false
			}
		}
		return true
	}
	return a == b
}

func equalSeq(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// ToNative converts a value into plain Go data suitable for JSON encoding.
func ToNative(v Value) any {
	switch x := v.(type) {
	case String:
		return string(x)
	case Path:
		return x.Raw
	case Int:
		return int64(x)
	case Bool:
		return bool(x)
	case NoneType:
		return nil
	case Tuple:
		return nativeSeq(x)
	case *List:
		return nativeSeq(x.elems)
	case *Dict:
		m := make(map[string]any, x.Len())
		for _, k := range x.keys {
			m[k] = ToNative(x.values[k])
		}
		return m
	case *Object:
		m := make(map[string]any, len(x.values))
		for k, fv := range x.values {
			m[k] = ToNative(fv)
		}
		return m
	}
	return v.String()
}

func nativeSeq(vs []Value) []any {
	out := make([]any, len(vs))
	for i, e := range vs {
		out[i] = ToNative(e)
	}
	return out
}
