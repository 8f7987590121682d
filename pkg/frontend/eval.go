package frontend

import (
	"errors"
	"fmt"

	"go.starlark.net/syntax"
)

type flow int

const (
	flowNext flow = iota
	flowBreak
	flowContinue
	flowReturn
)

// frame is the evaluation state of one block of statements: the sandbox it
// writes to and the scope holding its local names.
type frame struct {
	sb     *Sandbox
	scope  *scope
	loops  int
	inFunc bool
	result Value
}

func (fr *frame) execBlock(stmts []syntax.Stmt) (flow, error) {
	for _, st := range stmts {
		f, err := fr.exec(st)
		if err != nil {
			return flowNext, err
		}
		if f != flowNext {
			return f, nil
		}
	}
	return flowNext, nil
}

func (fr *frame) exec(st syntax.Stmt) (flow, error) {
	f, err := fr.execStmt(st)
	if err != nil {
		return f, fr.atPos(st, err)
	}
	return f, nil
}

// atPos attributes err to the start of node unless it already carries a
// position or belongs to another file.
func (fr *frame) atPos(node syntax.Node, err error) error {
	var (
		pe *posError
		xe *ExecutionError
		le *LoadError
		se syntax.Error
	)
	if errors.As(err, &pe) || errors.As(err, &xe) || errors.As(err, &le) || errors.As(err, &se) {
		return err
	}
	start, _ := node.Span()
	var ce *CalledError
	if errors.As(err, &ce) {
		if !ce.Pos.IsValid() {
			ce.Pos = start
			ce.Line = fr.sb.env.line(start.Filename(), start.Line)
		}
		return err
	}
	return &posError{pos: start, err: err}
}

func unsupported(node syntax.Node, what string) error {
	start, _ := node.Span()
	return syntax.Error{Pos: start, Msg: what + " is not supported in build files"}
}

func (fr *frame) execStmt(st syntax.Stmt) (flow, error) {
	switch s := st.(type) {
	case *syntax.ExprStmt:
		_, err := fr.eval(s.X)
		return flowNext, err

	case *syntax.AssignStmt:
		return flowNext, fr.execAssign(s)

	case *syntax.IfStmt:
		cond, err := fr.eval(s.Cond)
		if err != nil {
			return flowNext, err
		}
		if truth(cond) {
			return fr.execBlock(s.True)
		}
		return fr.execBlock(s.False)

	case *syntax.ForStmt:
		return fr.execFor(s)

	case *syntax.DefStmt:
		fn, err := fr.makeFunction(s)
		if err != nil {
			return flowNext, err
		}
		return flowNext, fr.sb.assign(s.Name.Name, fn, fr.scope)

	case *syntax.ReturnStmt:
		fr.result = None
		if s.Result != nil {
			v, err := fr.eval(s.Result)
			if err != nil {
				return flowNext, err
			}
			fr.result = v
		}
		return flowReturn, nil

	case *syntax.BranchStmt:
		switch s.Token {
		case syntax.PASS:
			return flowNext, nil
		case syntax.BREAK, syntax.CONTINUE:
			if fr.loops == 0 {
				return flowNext, unsupported(s, s.Token.String()+" outside a loop")
			}
			if s.Token == syntax.BREAK {
				return flowBreak, nil
			}
			return flowContinue, nil
		}

	case *syntax.LoadStmt:
		return flowNext, unsupported(s, "load")
	case *syntax.WhileStmt:
		return flowNext, unsupported(s, "while")
	}
	return flowNext, unsupported(st, fmt.Sprintf("statement %T", st))
}

func (fr *frame) execFor(s *syntax.ForStmt) (flow, error) {
	x, err := fr.eval(s.X)
	if err != nil {
		return flowNext, err
	}
	items, err := iterate(x)
	if err != nil {
		return flowNext, err
	}
	fr.loops++
	defer func() { fr.loops-- }()
	for _, item := range items {
		if err := fr.bind(s.Vars, item); err != nil {
			return flowNext, err
		}
		f, err := fr.execBlock(s.Body)
		if err != nil {
			return flowNext, err
		}
		switch f {
		case flowBreak:
			return flowNext, nil
		case flowReturn:
			return f, nil
		}
	}
	return flowNext, nil
}

var augmentedOps = map[syntax.Token]syntax.Token{
	syntax.PLUS_EQ:    syntax.PLUS,
	syntax.MINUS_EQ:   syntax.MINUS,
	syntax.STAR_EQ:    syntax.STAR,
	syntax.PERCENT_EQ: syntax.PERCENT,
	syntax.PIPE_EQ:    syntax.PIPE,
}

func (fr *frame) execAssign(s *syntax.AssignStmt) error {
	if s.Op == syntax.EQ {
		v, err := fr.eval(s.RHS)
		if err != nil {
			return err
		}
		return fr.bind(s.LHS, v)
	}
	op, ok := augmentedOps[s.Op]
	if !ok {
		return unsupported(s, "operator "+s.Op.String())
	}

	switch lhs := s.LHS.(type) {
	case *syntax.Ident:
		old, err := fr.lookup(lhs.Name)
		if err != nil {
			return err
		}
		nv, err := fr.augment(op, old, s.RHS)
		if err != nil {
			var tm *TypeMismatchError
			if errors.As(err, &tm) && tm.Name == "" {
				tm.Name = lhs.Name
				tm.Accepted = []string{typeName(old)}
			}
			return err
		}
		return fr.sb.assign(lhs.Name, nv, fr.scope)

	case *syntax.IndexExpr:
		container, err := fr.eval(lhs.X)
		if err != nil {
			return err
		}
		key, err := fr.eval(lhs.Y)
		if err != nil {
			return err
		}
		old, err := fr.index(container, key)
		if err != nil {
			return err
		}
		nv, err := fr.augment(op, old, s.RHS)
		if err != nil {
			return err
		}
		return fr.setIndex(container, key, nv)

	case *syntax.DotExpr:
		x, err := fr.eval(lhs.X)
		if err != nil {
			return err
		}
		old, err := fr.attr(x, lhs.Name.Name)
		if err != nil {
			return err
		}
		nv, err := fr.augment(op, old, s.RHS)
		if err != nil {
			return err
		}
		return fr.setAttr(x, lhs.Name.Name, nv)
	}
	return unsupported(s.LHS, "augmented assignment target")
}

// augment applies op to old and the value of rhs. Lists and dicts are
// updated in place so the variable keeps its identity.
func (fr *frame) augment(op syntax.Token, old Value, rhs syntax.Expr) (Value, error) {
	y, err := fr.eval(rhs)
	if err != nil {
		return nil, err
	}
	switch x := old.(type) {
	case *List:
		if op == syntax.PLUS {
			elems, ok := sequence(y)
			if !ok {
				return nil, fmt.Errorf("unsupported operand type(s) for +=: 'list' and '%s'", y.Type())
			}
			if err := x.Extend(fr.sb.ctx, elems); err != nil {
				return nil, err
			}
			return x, nil
		}
	case *Dict:
		if op == syntax.PIPE {
			other, ok := y.(*Dict)
			if !ok {
				return nil, fmt.Errorf("unsupported operand type(s) for |=: 'dict' and '%s'", y.Type())
			}
			for _, k := range other.keys {
				if err := x.Set(fr.sb.ctx, k, other.values[k]); err != nil {
					return nil, err
				}
			}
			return x, nil
		}
	}
	return binary(op, old, y)
}

// bind assigns v to an assignment target.
func (fr *frame) bind(target syntax.Expr, v Value) error {
	switch t := target.(type) {
	case *syntax.Ident:
		return fr.sb.assign(t.Name, v, fr.scope)
	case *syntax.ParenExpr:
		return fr.bind(t.X, v)
	case *syntax.TupleExpr:
		return fr.unpack(t.List, v)
	case *syntax.ListExpr:
		return fr.unpack(t.List, v)
	case *syntax.IndexExpr:
		container, err := fr.eval(t.X)
		if err != nil {
			return err
		}
		key, err := fr.eval(t.Y)
		if err != nil {
			return err
		}
		return fr.setIndex(container, key, v)
	case *syntax.DotExpr:
		x, err := fr.eval(t.X)
		if err != nil {
			return err
		}
		return fr.setAttr(x, t.Name.Name, v)
	}
	return unsupported(target, "assignment target")
}

func (fr *frame) unpack(targets []syntax.Expr, v Value) error {
	elems, ok := sequence(v)
	if !ok {
		return fmt.Errorf("cannot unpack non-sequence %s", v.Type())
	}
	if len(elems) != len(targets) {
		return fmt.Errorf("cannot unpack %d values into %d targets", len(elems), len(targets))
	}
	for i, t := range targets {
		if err := fr.bind(t, elems[i]); err != nil {
			return err
		}
	}
	return nil
}

func (fr *frame) lookup(name string) (Value, error) {
	return fr.sb.resolve(name, fr.scope)
}

func (fr *frame) eval(e syntax.Expr) (Value, error) {
	switch x := e.(type) {
	case *syntax.Ident:
		return fr.lookup(x.Name)

	case *syntax.Literal:
		switch v := x.Value.(type) {
		case string:
			if x.Token == syntax.STRING {
				return String(v), nil
			}
		case int64:
			return Int(v), nil
		}
		return nil, unsupported(x, "literal "+x.Raw)

	case *syntax.ParenExpr:
		return fr.eval(x.X)

	case *syntax.ListExpr:
		elems, err := fr.evalAll(x.List)
		if err != nil {
			return nil, err
		}
		return &List{elems: elems}, nil

	case *syntax.TupleExpr:
		elems, err := fr.evalAll(x.List)
		if err != nil {
			return nil, err
		}
		return Tuple(elems), nil

	case *syntax.DictExpr:
		d := NewDict()
		for _, item := range x.List {
			entry := item.(*syntax.DictEntry)
			k, err := fr.eval(entry.Key)
			if err != nil {
				return nil, err
			}
			key, ok := asString(k)
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, not %s", k.Type())
			}
			v, err := fr.eval(entry.Value)
			if err != nil {
				return nil, err
			}
			d.put(key, v)
		}
		return d, nil

	case *syntax.UnaryExpr:
		return fr.evalUnary(x)

	case *syntax.BinaryExpr:
		return fr.evalBinary(x)

	case *syntax.CondExpr:
		cond, err := fr.eval(x.Cond)
		if err != nil {
			return nil, err
		}
		if truth(cond) {
			return fr.eval(x.True)
		}
		return fr.eval(x.False)

	case *syntax.CallExpr:
		return fr.evalCall(x)

	case *syntax.IndexExpr:
		container, err := fr.eval(x.X)
		if err != nil {
			return nil, err
		}
		key, err := fr.eval(x.Y)
		if err != nil {
			return nil, err
		}
		return fr.index(container, key)

	case *syntax.DotExpr:
		v, err := fr.eval(x.X)
		if err != nil {
			return nil, err
		}
		return fr.attr(v, x.Name.Name)

	case *syntax.SliceExpr:
		return nil, unsupported(x, "slicing")
	case *syntax.Comprehension:
		return nil, unsupported(x, "comprehension")
	case *syntax.LambdaExpr:
		return nil, unsupported(x, "lambda")
	}
	return nil, unsupported(e, fmt.Sprintf("expression %T", e))
}

func (fr *frame) evalAll(exprs []syntax.Expr) ([]Value, error) {
	out := make([]Value, 0, len(exprs))
	for _, e := range exprs {
		v, err := fr.eval(e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (fr *frame) evalUnary(x *syntax.UnaryExpr) (Value, error) {
	if x.Op == syntax.STAR || x.Op == syntax.STARSTAR {
		return nil, unsupported(x, "argument unpacking")
	}
	v, err := fr.eval(x.X)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case syntax.NOT:
		return Bool(!truth(v)), nil
	case syntax.MINUS:
		if i, ok := v.(Int); ok {
			return -i, nil
		}
	case syntax.PLUS:
		if i, ok := v.(Int); ok {
			return i, nil
		}
	default:
		return nil, unsupported(x, "operator "+x.Op.String())
	}
	return nil, fmt.Errorf("bad operand type for unary %s: '%s'", x.Op, v.Type())
}

func (fr *frame) evalBinary(x *syntax.BinaryExpr) (Value, error) {
	l, err := fr.eval(x.X)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case syntax.AND:
		if !truth(l) {
			return l, nil
		}
		return fr.eval(x.Y)
	case syntax.OR:
		if truth(l) {
			return l, nil
		}
		return fr.eval(x.Y)
	}
	r, err := fr.eval(x.Y)
	if err != nil {
		return nil, err
	}
	return binary(x.Op, l, r)
}

func (fr *frame) evalCall(x *syntax.CallExpr) (Value, error) {
	fn, err := fr.eval(x.Fn)
	if err != nil {
		return nil, err
	}
	var (
		args   []Value
		kwargs []kwarg
	)
	for _, a := range x.Args {
		switch arg := a.(type) {
		case *syntax.BinaryExpr:
			if arg.Op == syntax.EQ {
				name, ok := arg.X.(*syntax.Ident)
				if !ok {
					return nil, unsupported(arg, "keyword argument")
				}
				v, err := fr.eval(arg.Y)
				if err != nil {
					return nil, err
				}
				kwargs = append(kwargs, kwarg{name: name.Name, value: v})
				continue
			}
		case *syntax.UnaryExpr:
			if arg.Op == syntax.STAR || arg.Op == syntax.STARSTAR {
				return nil, unsupported(arg, "argument unpacking")
			}
		}
		if len(kwargs) > 0 {
			return nil, unsupported(a, "positional argument after keyword argument")
		}
		v, err := fr.eval(a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return fr.call(fn, args, kwargs)
}

func (fr *frame) call(fn Value, args []Value, kwargs []kwarg) (Value, error) {
	switch f := fn.(type) {
	case *Builtin:
		return f.fn(args, kwargs)
	case *Function:
		return fr.sb.callFunction(f, args, kwargs)
	case *TemplateFunc:
		if err := f.sandbox.callTemplate(f.Template, args, kwargs); err != nil {
			return nil, err
		}
		return None, nil
	}
	return nil, fmt.Errorf("'%s' object is not callable", fn.Type())
}

func (fr *frame) makeFunction(s *syntax.DefStmt) (*Function, error) {
	fn := &Function{
		name:  s.Name.Name,
		def:   s,
		path:  fr.sb.ctx.CurrentPath(),
		scope: fr.scope,
	}
	for _, p := range s.Params {
		switch param := p.(type) {
		case *syntax.Ident:
			fn.params = append(fn.params, funcParam{name: param.Name})
		case *syntax.BinaryExpr:
			name, ok := param.X.(*syntax.Ident)
			if !ok || param.Op != syntax.EQ {
				return nil, unsupported(param, "parameter")
			}
			v, err := fr.eval(param.Y)
			if err != nil {
				return nil, err
			}
			fn.params = append(fn.params, funcParam{name: name.Name, dflt: v})
		default:
			return nil, unsupported(p, "variadic parameter")
		}
	}
	return fn, nil
}

// callFunction runs a plain function in a fresh local scope nested in the
// scope it was defined in.
func (sb *Sandbox) callFunction(fn *Function, args []Value, kwargs []kwarg) (Value, error) {
	bound, err := bindArgs(fn, args, kwargs)
	if err != nil {
		return nil, err
	}
	fr := &frame{sb: sb, scope: newScope(fn.scope), inFunc: true}
	for _, b := range bound {
		if err := sb.assign(b.name, b.value, fr.scope); err != nil {
			return nil, err
		}
	}
	f, err := fr.execBlock(fn.def.Body)
	if err != nil {
		return nil, err
	}
	if f == flowReturn && fr.result != nil {
		return fr.result, nil
	}
	return None, nil
}

type binding struct {
	name  string
	value Value
}

// bindArgs matches call arguments to the parameters of fn.
func bindArgs(fn *Function, args []Value, kwargs []kwarg) ([]binding, error) {
	if len(args) > len(fn.params) {
		return nil, fmt.Errorf("%s() takes at most %d positional argument(s) (%d given)", fn.name, len(fn.params), len(args))
	}
	values := make([]Value, len(fn.params))
	copy(values, args)
	for _, kw := range kwargs {
		idx := -1
		for i, p := range fn.params {
			if p.name == kw.name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%s() got an unexpected keyword argument '%s'", fn.name, kw.name)
		}
		if values[idx] != nil {
			return nil, fmt.Errorf("%s() got multiple values for argument '%s'", fn.name, kw.name)
		}
		values[idx] = kw.value
	}
	out := make([]binding, len(fn.params))
	for i, p := range fn.params {
		v := values[i]
		if v == nil {
			if p.dflt == nil {
				return nil, fmt.Errorf("%s() missing argument '%s'", fn.name, p.name)
			}
			v = cloneValue(p.dflt)
		}
		out[i] = binding{name: p.name, value: v}
	}
	return out, nil
}

// typeName returns the declared type name of a typed container.
func typeName(v Value) string {
	switch x := v.(type) {
	case *List:
		if x.typ != nil {
			return x.typ.Name()
		}
	case *Dict:
		if x.typ != nil {
			return x.typ.Name()
		}
	}
	return v.Type()
}
