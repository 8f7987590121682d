package frontend

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.starlark.net/syntax"
)

type kwarg struct {
	name  string
	value Value
}

// Builtin is a function implemented by the reader.
type Builtin struct {
	name string
	fn   func(args []Value, kwargs []kwarg) (Value, error)
}

func (b *Builtin) Type() string   { return "builtin_function_or_method" }
func (b *Builtin) String() string { return "<built-in function " + b.name + ">" }

// Name returns the function name.
func (b *Builtin) Name() string { return b.name }

type funcParam struct {
	name string
	dflt Value
}

// Function is a function defined with def in a build file.
type Function struct {
	name   string
	def    *syntax.DefStmt
	params []funcParam
	path   string
	scope  *scope
}

func (f *Function) Type() string   { return "function" }
func (f *Function) String() string { return "<function " + f.name + ">" }

// Name returns the function name.
func (f *Function) Name() string { return f.name }

// Path returns the file the function was defined in.
func (f *Function) Path() string { return f.path }

// Body returns the statements of the function body.
func (f *Function) Body() []syntax.Stmt { return f.def.Body }

// universe holds the names every build file can read but not assign.
var universe = map[string]Value{
	"True":   Bool(true),
	"False":  Bool(false),
	"None":   None,
	"sorted": &Builtin{name: "sorted", fn: builtinSorted},
	"int":    &Builtin{name: "int", fn: builtinInt},
	"len":    &Builtin{name: "len", fn: builtinLen},
}

func positional(name string, args []Value, kwargs []kwarg, n int) error {
	if len(kwargs) > 0 {
		return fmt.Errorf("%s() takes no keyword arguments", name)
	}
	if len(args) != n {
		return fmt.Errorf("%s() takes exactly %d argument(s) (%d given)", name, n, len(args))
	}
	return nil
}

func builtinSorted(args []Value, kwargs []kwarg) (Value, error) {
	if err := positional("sorted", args, kwargs, 1); err != nil {
		return nil, err
	}
	elems, err := iterate(args[0])
	if err != nil {
		return nil, err
	}
	var sortErr error
	sort.SliceStable(elems, func(i, j int) bool {
		less, err := compare(syntax.LT, elems[i], elems[j])
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return less
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return &List{elems: elems}, nil
}

func builtinInt(args []Value, kwargs []kwarg) (Value, error) {
	if err := positional("int", args, kwargs, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case Int:
		return x, nil
	case Bool:
		if x {
			return Int(1), nil
		}
		return Int(0), nil
	case String:
		i, err := strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid literal for int(): %s", x)
		}
		return Int(i), nil
	}
	return nil, fmt.Errorf("int() argument must be a string or a number, not '%s'", args[0].Type())
}

func builtinLen(args []Value, kwargs []kwarg) (Value, error) {
	if err := positional("len", args, kwargs, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case String:
		return Int(len(x)), nil
	case Tuple:
		return Int(len(x)), nil
	case *List:
		return Int(x.Len()), nil
	case *Dict:
		return Int(x.Len()), nil
	}
	return nil, fmt.Errorf("object of type '%s' has no len()", args[0].Type())
}

// sequence returns the elements of a list or tuple.
func sequence(v Value) ([]Value, bool) {
	switch x := v.(type) {
	case *List:
		return x.Elems(), true
	case Tuple:
		return append([]Value(nil), x...), true
	}
	return nil, false
}

// iterate returns a snapshot of the values a for loop visits.
func iterate(v Value) ([]Value, error) {
	if elems, ok := sequence(v); ok {
		return elems, nil
	}
	if d, ok := v.(*Dict); ok {
		keys := make([]Value, 0, d.Len())
		for _, k := range d.keys {
			keys = append(keys, String(k))
		}
		return keys, nil
	}
	return nil, fmt.Errorf("'%s' object is not iterable", v.Type())
}

func binary(op syntax.Token, x, y Value) (Value, error) {
	switch op {
	case syntax.EQL:
		return Bool(equal(x, y)), nil
	case syntax.NEQ:
		return Bool(!equal(x, y)), nil
	case syntax.LT, syntax.LE, syntax.GT, syntax.GE:
		ok, err := compare(op, x, y)
		if err != nil {
			return nil, err
		}
		return Bool(ok), nil
	case syntax.IN, syntax.NOT_IN:
		ok, err := contains(y, x)
		if err != nil {
			return nil, err
		}
		if op == syntax.NOT_IN {
			ok = !ok
		}
		return Bool(ok), nil
	case syntax.PERCENT:
		if s, ok := asString(x); ok {
			return format(s, y)
		}
	}

	if xs, ok := asString(x); ok {
		if ys, ok := asString(y); ok && op == syntax.PLUS {
			return String(xs + ys), nil
		}
		if n, ok := y.(Int); ok && op == syntax.STAR {
			count, err := repeatCount(n, len(xs))
			if err != nil {
				return nil, err
			}
			return String(strings.Repeat(xs, count)), nil
		}
	}

	switch a := x.(type) {
	case Int:
		if b, ok := y.(Int); ok {
			switch op {
			case syntax.PLUS:
				return a + b, nil
			case syntax.MINUS:
				return a - b, nil
			case syntax.STAR:
				return a * b, nil
			case syntax.PERCENT:
				if b == 0 {
					return nil, fmt.Errorf("integer modulo by zero")
				}
				return a % b, nil
			case syntax.PIPE:
				return a | b, nil
			}
		}
	case *List:
		if b, ok := y.(*List); ok && op == syntax.PLUS {
			return &List{elems: append(a.Elems(), b.elems...)}, nil
		}
		if n, ok := y.(Int); ok && op == syntax.STAR {
			count, err := repeatCount(n, len(a.elems))
			if err != nil {
				return nil, err
			}
			out := &List{elems: make([]Value, 0, count*len(a.elems))}
			for i := 0; i < count; i++ {
				out.elems = append(out.elems, a.elems...)
			}
			return out, nil
		}
	case Tuple:
		if b, ok := y.(Tuple); ok && op == syntax.PLUS {
			return append(append(Tuple{}, a...), b...), nil
		}
	case *Dict:
		if b, ok := y.(*Dict); ok && op == syntax.PIPE {
			out := NewDict()
			for _, k := range a.keys {
				out.put(k, a.values[k])
			}
			for _, k := range b.keys {
				out.put(k, b.values[k])
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("unsupported operand type(s) for %s: '%s' and '%s'", op, x.Type(), y.Type())
}

// maxRepeatLen bounds the length of a string or list built with *.
const maxRepeatLen = 1 << 24

// repeatCount validates n copies of a sequence of length unit.
func repeatCount(n Int, unit int) (int, error) {
	if n <= 0 || unit == 0 {
		return 0, nil
	}
	if int64(n) > maxRepeatLen/int64(unit) {
		return 0, fmt.Errorf("repetition result too large: %d copies of length %d exceed %d", n, unit, maxRepeatLen)
	}
	return int(n), nil
}

func compare(op syntax.Token, x, y Value) (bool, error) {
	var c int
	xs, xok := asString(x)
	ys, yok := asString(y)
	switch {
	case xok && yok:
		c = strings.Compare(xs, ys)
	default:
		a, aok := x.(Int)
		b, bok := y.(Int)
		if !aok || !bok {
			return false, fmt.Errorf("unsupported comparison %s between '%s' and '%s'", op, x.Type(), y.Type())
		}
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	}
	switch op {
	case syntax.LT:
		return c < 0, nil
	case syntax.LE:
		return c <= 0, nil
	case syntax.GT:
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func contains(container, x Value) (bool, error) {
	switch c := container.(type) {
	case *Dict:
		k, ok := asString(x)
		if !ok {
			return false, nil
		}
		_, found := c.values[k]
		return found, nil
	case String:
		s, ok := asString(x)
		if !ok {
			return false, fmt.Errorf("'in <string>' requires string as left operand, not %s", x.Type())
		}
		return strings.Contains(string(c), s), nil
	}
	elems, ok := sequence(container)
	if !ok {
		return false, fmt.Errorf("argument of type '%s' is not iterable", container.Type())
	}
	for _, e := range elems {
		if equal(e, x) {
			return true, nil
		}
	}
	return false, nil
}

// format implements the % operator on strings for %s, %d, %r and %%.
func format(f string, arg Value) (Value, error) {
	args := []Value{arg}
	if t, ok := arg.(Tuple); ok {
		args = t
	}
	var b strings.Builder
	next := 0
	for i := 0; i < len(f); i++ {
		if f[i] != '%' {
			b.WriteByte(f[i])
			continue
		}
		i++
		if i >= len(f) {
			return nil, fmt.Errorf("incomplete format")
		}
		if f[i] == '%' {
			b.WriteByte('%')
			continue
		}
		if next >= len(args) {
			return nil, fmt.Errorf("not enough arguments for format string")
		}
		a := args[next]
		next++
		switch f[i] {
		case 's':
			if s, ok := asString(a); ok {
				b.WriteString(s)
			} else {
				b.WriteString(a.String())
			}
		case 'r':
			b.WriteString(a.String())
		case 'd':
			n, ok := a.(Int)
			if !ok {
				return nil, fmt.Errorf("%%d format: a number is required, not %s", a.Type())
			}
			b.WriteString(n.String())
		default:
			return nil, fmt.Errorf("unsupported format character '%c'", f[i])
		}
	}
	if next < len(args) {
		return nil, fmt.Errorf("not all arguments converted during string formatting")
	}
	return String(b.String()), nil
}

func (fr *frame) index(container, key Value) (Value, error) {
	switch c := container.(type) {
	case *Dict:
		k, ok := asString(key)
		if !ok {
			return nil, fmt.Errorf("dict keys must be strings, not %s", key.Type())
		}
		return c.GetOrCreate(fr.sb.ctx, k)
	case String:
		i, err := indexOf(key, len(c))
		if err != nil {
			return nil, err
		}
		return c[i : i+1], nil
	}
	elems, ok := sequence(container)
	if !ok {
		return nil, fmt.Errorf("'%s' object is not subscriptable", container.Type())
	}
	i, err := indexOf(key, len(elems))
	if err != nil {
		return nil, err
	}
	return elems[i], nil
}

func indexOf(key Value, n int) (int, error) {
	k, ok := key.(Int)
	if !ok {
		return 0, fmt.Errorf("indices must be integers, not %s", key.Type())
	}
	i := int(k)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("index %d out of range", int(k))
	}
	return i, nil
}

func (fr *frame) setIndex(container, key, v Value) error {
	switch c := container.(type) {
	case *Dict:
		k, ok := asString(key)
		if !ok {
			return fmt.Errorf("dict keys must be strings, not %s", key.Type())
		}
		return c.Set(fr.sb.ctx, k, v)
	case *List:
		i, err := indexOf(key, c.Len())
		if err != nil {
			return err
		}
		if c.typ != nil && c.typ.Elem != nil {
			coerced, err := c.typ.Elem.Coerce(fr.sb.ctx, v)
			if err != nil {
				return err
			}
			v = coerced
		}
		c.elems[i] = v
		return nil
	}
	return fmt.Errorf("'%s' object does not support item assignment", container.Type())
}

func (fr *frame) setAttr(x Value, name string, v Value) error {
	o, ok := x.(*Object)
	if !ok {
		return fmt.Errorf("'%s' object attribute '%s' is read-only", x.Type(), name)
	}
	if err := o.SetAttr(fr.sb.ctx, name, v); err != nil {
		if tm, ok := err.(*TypeMismatchError); ok {
			tm.Name = o.Type() + "." + name
			tm.Got = v
		}
		return err
	}
	return nil
}

// attr returns a field of an object or a bound method of a builtin type.
func (fr *frame) attr(x Value, name string) (Value, error) {
	if o, ok := x.(*Object); ok {
		if v, ok := o.Attr(name); ok {
			return v, nil
		}
	}
	if m := fr.method(x, name); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("'%s' object has no attribute '%s'", x.Type(), name)
}

func (fr *frame) method(x Value, name string) *Builtin {
	ctx := fr.sb.ctx
	bind := func(n int, fn func(args []Value) (Value, error)) *Builtin {
		return &Builtin{name: name, fn: func(args []Value, kwargs []kwarg) (Value, error) {
			if err := positional(name, args, kwargs, n); err != nil {
				return nil, err
			}
			return fn(args)
		}}
	}

	switch recv := x.(type) {
	case *List:
		switch name {
		case "append":
			return bind(1, func(args []Value) (Value, error) {
				return None, recv.Append(ctx, args[0])
			})
		case "extend":
			return bind(1, func(args []Value) (Value, error) {
				elems, err := iterate(args[0])
				if err != nil {
					return nil, err
				}
				return None, recv.Extend(ctx, elems)
			})
		}

	case *Dict:
		switch name {
		case "keys":
			return bind(0, func([]Value) (Value, error) {
				keys, _ := iterate(recv)
				return &List{elems: keys}, nil
			})
		case "values":
			return bind(0, func([]Value) (Value, error) {
				out := &List{}
				for _, k := range recv.keys {
					out.elems = append(out.elems, recv.values[k])
				}
				return out, nil
			})
		case "items":
			return bind(0, func([]Value) (Value, error) {
				out := &List{}
				for _, k := range recv.keys {
					out.elems = append(out.elems, Tuple{String(k), recv.values[k]})
				}
				return out, nil
			})
		case "get":
			return &Builtin{name: name, fn: func(args []Value, kwargs []kwarg) (Value, error) {
				if len(kwargs) > 0 || len(args) < 1 || len(args) > 2 {
					return nil, fmt.Errorf("get() takes 1 or 2 positional arguments")
				}
				k, ok := asString(args[0])
				if ok {
					if v, found := recv.values[k]; found {
						return v, nil
					}
				}
				if len(args) == 2 {
					return args[1], nil
				}
				return None, nil
			}}
		case "update":
			return bind(1, func(args []Value) (Value, error) {
				other, ok := args[0].(*Dict)
				if !ok {
					return nil, fmt.Errorf("update() argument must be a dict, not %s", args[0].Type())
				}
				for _, k := range other.keys {
					if err := recv.Set(ctx, k, other.values[k]); err != nil {
						return nil, err
					}
				}
				return None, nil
			})
		}

	case String, Path:
		s, _ := asString(recv)
		return stringMethod(s, name, bind)
	}
	return nil
}

func stringMethod(s, name string, bind func(int, func([]Value) (Value, error)) *Builtin) *Builtin {
	str := func(v Value) (string, error) {
		if x, ok := asString(v); ok {
			return x, nil
		}
		return "", fmt.Errorf("%s() argument must be str, not %s", name, v.Type())
	}
	switch name {
	case "startswith", "endswith":
		return bind(1, func(args []Value) (Value, error) {
			p, err := str(args[0])
			if err != nil {
				return nil, err
			}
			if name == "startswith" {
				return Bool(strings.HasPrefix(s, p)), nil
			}
			return Bool(strings.HasSuffix(s, p)), nil
		})
	case "upper":
		return bind(0, func([]Value) (Value, error) { return String(strings.ToUpper(s)), nil })
	case "lower":
		return bind(0, func([]Value) (Value, error) { return String(strings.ToLower(s)), nil })
	case "strip":
		return bind(0, func([]Value) (Value, error) { return String(strings.TrimSpace(s)), nil })
	case "split":
		return bind(1, func(args []Value) (Value, error) {
			sep, err := str(args[0])
			if err != nil {
				return nil, err
			}
			out := &List{}
			for _, part := range strings.Split(s, sep) {
				out.elems = append(out.elems, String(part))
			}
			return out, nil
		})
	case "join":
		return bind(1, func(args []Value) (Value, error) {
			elems, err := iterate(args[0])
			if err != nil {
				return nil, err
			}
			parts := make([]string, len(elems))
			for i, e := range elems {
				if parts[i], err = str(e); err != nil {
					return nil, err
				}
			}
			return String(strings.Join(parts, s)), nil
		})
	case "replace":
		return bind(2, func(args []Value) (Value, error) {
			old, err := str(args[0])
			if err != nil {
				return nil, err
			}
			repl, err := str(args[1])
			if err != nil {
				return nil, err
			}
			return String(strings.ReplaceAll(s, old, repl)), nil
		})
	}
	return nil
}
