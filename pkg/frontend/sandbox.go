package frontend

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"go.starlark.net/syntax"

	"github.com/openfroyo/buildtree/pkg/telemetry"
)

// maxTemplateDepth bounds nested template invocations.
const maxTemplateDepth = 64

// Metadata is the state a Sandbox shares with the templates it invokes and
// hands down to the sandboxes of child directories.
type Metadata struct {
	// Exports maps exported variable names to their values.
	Exports map[string]Value

	// Templates maps template names to their registrations.
	Templates map[string]*Template
}

// NewMetadata returns empty metadata.
func NewMetadata() *Metadata {
	return &Metadata{
		Exports:   make(map[string]Value),
		Templates: make(map[string]*Template),
	}
}

// Clone returns a copy of the template registry and deep copies of the
// exported values. Cloning nil returns nil.
func (md *Metadata) Clone() *Metadata {
	if md == nil {
		return nil
	}
	c := NewMetadata()
	for name, t := range md.Templates {
		c.Templates[name] = t
	}
	for name, v := range md.Exports {
		c.Exports[name] = cloneValue(v)
	}
	return c
}

// sandboxEnv is shared by every sandbox created during one walk.
type sandboxEnv struct {
	log     zerolog.Logger
	tel     *telemetry.Telemetry
	sources map[string][]string
}

func newSandboxEnv(log zerolog.Logger, tel *telemetry.Telemetry) *sandboxEnv {
	return &sandboxEnv{log: log, tel: tel, sources: make(map[string][]string)}
}

func (e *sandboxEnv) remember(path string, src []byte) {
	e.sources[path] = strings.Split(string(src), "\n")
}

// line returns the text of line n (1-based) of path.
func (e *sandboxEnv) line(path string, n int32) string {
	lines, ok := e.sources[path]
	if !ok || n < 1 || int(n) > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[n-1], "\r")
}

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

// WithSandboxLogger sets the logger used for warnings and debug output.
func WithSandboxLogger(log zerolog.Logger) SandboxOption {
	return func(sb *Sandbox) { sb.env.log = log }
}

// WithSandboxTelemetry records warnings and template calls in tel.
func WithSandboxTelemetry(tel *telemetry.Telemetry) SandboxOption {
	return func(sb *Sandbox) { sb.env.tel = tel }
}

// Sandbox evaluates build-file code against one Context.
type Sandbox struct {
	ctx      *Context
	registry *Registry
	metadata *Metadata

	// pending holds exported names not yet written in this sandbox.
	pending map[string]bool

	globals  *scope
	builtins map[string]*Builtin
	env      *sandboxEnv
	depth    int
}

// NewSandbox returns a Sandbox evaluating into ctx. Values exported by
// metadata are copied into ctx.
func NewSandbox(ctx *Context, md *Metadata, opts ...SandboxOption) (*Sandbox, error) {
	sb, err := newSandbox(ctx, md, newSandboxEnv(zerolog.Nop(), nil))
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(sb)
	}
	return sb, nil
}

func newSandbox(ctx *Context, md *Metadata, env *sandboxEnv) (*Sandbox, error) {
	if md == nil {
		md = NewMetadata()
	}
	if md.Exports == nil {
		md.Exports = make(map[string]Value)
	}
	if md.Templates == nil {
		md.Templates = make(map[string]*Template)
	}
	sb := &Sandbox{
		ctx:      ctx,
		registry: ctx.Registry(),
		metadata: md,
		pending:  make(map[string]bool, len(md.Exports)),
		globals:  newScope(nil),
		builtins: make(map[string]*Builtin),
		env:      env,
	}
	for name, v := range md.Exports {
		if err := ctx.seed(name, v); err != nil {
			return nil, fmt.Errorf("seeding exported variable %s: %w", name, err)
		}
		sb.pending[name] = true
	}
	return sb, nil
}

// Context returns the Context the sandbox evaluates into.
func (sb *Sandbox) Context() *Context { return sb.ctx }

// Metadata returns the sandbox metadata.
func (sb *Sandbox) Metadata() *Metadata { return sb.metadata }

// Get resolves name as build-file code would.
func (sb *Sandbox) Get(name string) (Value, error) {
	return sb.resolve(name, sb.globals)
}

// Set assigns name as build-file code would.
func (sb *Sandbox) Set(name string, v Value) error {
	return sb.assign(name, v, sb.globals)
}

func (sb *Sandbox) resolve(name string, sc *scope) (Value, error) {
	if spec, ok := sb.registry.Special[name]; ok {
		return spec.Compute(sb.ctx), nil
	}
	if _, ok := sb.registry.Functions[name]; ok {
		return sb.builtin(name), nil
	}
	if t, ok := sb.metadata.Templates[name]; ok {
		return &TemplateFunc{Template: t, sandbox: sb}, nil
	}
	if isUpper(name) {
		return sb.ctx.Get(name)
	}
	if v, ok := sc.lookup(name); ok {
		return v, nil
	}
	if v, ok := universe[name]; ok {
		return v, nil
	}
	return nil, &NameError{Namespace: NamespaceLocal, Op: OpGetUnknown, Name: name}
}

func (sb *Sandbox) assign(name string, v Value, sc *scope) error {
	if sb.registry.reserved(name) {
		return &NameError{Namespace: NamespaceGlobal, Op: OpReassign, Name: name}
	}
	if _, ok := sb.metadata.Templates[name]; ok {
		return &NameError{Namespace: NamespaceGlobal, Op: OpReassign, Name: name}
	}
	if sb.pending[name] {
		delete(sb.pending, name)
		return sb.ctx.Update(name, v)
	}
	if isUpper(name) {
		return sb.ctx.Set(name, v)
	}
	if _, ok := universe[name]; ok {
		return fmt.Errorf("cannot reassign builtin %s", name)
	}
	sc.vars[name] = v
	return nil
}

// builtin returns the bound registry function name, coercing positional
// arguments to their declared types.
func (sb *Sandbox) builtin(name string) *Builtin {
	if b, ok := sb.builtins[name]; ok {
		return b
	}
	spec := sb.registry.Functions[name]
	b := &Builtin{name: name, fn: func(args []Value, kwargs []kwarg) (Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s() takes no keyword arguments", name)
		}
		if len(args) != len(spec.Args) {
			return nil, fmt.Errorf("%s() takes exactly %d argument(s) (%d given)", name, len(spec.Args), len(args))
		}
		coerced := make([]Value, len(args))
		for i, a := range args {
			c, err := spec.Args[i].Coerce(sb.ctx, a)
			if err != nil {
				var tm *TypeMismatchError
				if errors.As(err, &tm) {
					tm.Name = fmt.Sprintf("argument %d of %s()", i+1, name)
					tm.Got = a
				}
				return nil, err
			}
			coerced[i] = c
		}
		return spec.Impl(sb, coerced)
	}}
	sb.builtins[name] = b
	return b
}

// ExecFile evaluates the build file at path in this sandbox.
func (sb *Sandbox) ExecFile(path string) error {
	if !IsReadAllowed(path, sb.ctx.Config()) {
		return &LoadError{FileStack: sb.ctx.SourceStack(), IllegalPath: path}
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return &LoadError{FileStack: sb.ctx.SourceStack(), ReadError: path, Err: err}
	}
	return sb.ExecSource(path, src)
}

// ExecSource parses and evaluates src as the content of path.
func (sb *Sandbox) ExecSource(path string, src []byte) error {
	sb.env.remember(path, src)
	sb.ctx.PushSource(path)
	defer sb.ctx.PopSource()

	f, err := syntax.Parse(path, src, 0)
	if err != nil {
		return sb.executionError(err)
	}
	return sb.run(f.Stmts)
}

// ExecStatements evaluates already-parsed statements from path.
func (sb *Sandbox) ExecStatements(path string, stmts []syntax.Stmt) error {
	sb.ctx.PushSource(path)
	defer sb.ctx.PopSource()
	return sb.run(stmts)
}

func (sb *Sandbox) run(stmts []syntax.Stmt) error {
	fr := &frame{sb: sb, scope: sb.globals}
	if _, err := fr.execBlock(stmts); err != nil {
		return sb.executionError(err)
	}
	return nil
}

// executionError turns an evaluation failure into the error reported for
// the file on top of the source stack. Errors already attributed to a file
// pass through.
func (sb *Sandbox) executionError(err error) error {
	var (
		xe *ExecutionError
		le *LoadError
		ce *CalledError
	)
	if errors.As(err, &xe) || errors.As(err, &le) || errors.As(err, &ce) {
		return unwrapPos(err)
	}
	var pos syntax.Position
	var pe *posError
	if errors.As(err, &pe) {
		pos = pe.pos
		err = pe.err
	}
	var se syntax.Error
	if errors.As(err, &se) {
		pos = se.Pos
	}
	file := sb.ctx.CurrentPath()
	if pos.IsValid() && pos.Filename() != "" {
		file = pos.Filename()
	}
	return &ExecutionError{
		FileStack: sb.ctx.SourceStack(),
		Pos:       pos,
		Line:      sb.env.line(file, pos.Line),
		Err:       err,
	}
}

// Export marks name for propagation to child directories.
func (sb *Sandbox) Export(name string) error {
	if _, ok := sb.metadata.Exports[name]; ok {
		return fmt.Errorf("variable has already been exported: %s", name)
	}
	v, ok := sb.ctx.Peek(name)
	if !ok {
		return &NameError{Namespace: NamespaceGlobal, Op: OpGetUnknown, Name: name}
	}
	sb.metadata.Exports[name] = v
	return nil
}

// RecomputeExports refreshes every exported value with its current value.
// It reads the stored values directly and never materializes defaults.
func (sb *Sandbox) RecomputeExports() error {
	for name := range sb.metadata.Exports {
		v, ok := sb.ctx.Peek(name)
		if !ok {
			return &NameError{Namespace: NamespaceGlobal, Op: OpGetUnknown, Name: name}
		}
		sb.metadata.Exports[name] = v
	}
	return nil
}

// childMetadata returns the metadata handed to a child directory.
func (sb *Sandbox) childMetadata() *Metadata {
	return sb.metadata.Clone()
}

// Warning reports a non-fatal message from a build file.
func (sb *Sandbox) Warning(message string) {
	path := sb.ctx.CurrentPath()
	sb.env.log.Warn().Str("path", path).Msg(message)
	if tel := sb.env.tel; tel != nil {
		tel.Metrics.RecordWarning()
		_ = tel.Events.PublishWarning(path, message)
	}
}

// scope holds the local names of a file or function call.
type scope struct {
	vars   map[string]Value
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: make(map[string]Value), parent: parent}
}

func (s *scope) lookup(name string) (Value, bool) {
	for ; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// isUpper reports whether name has at least one cased letter and no
// lower-case ones. Such names address declared variables.
func isUpper(name string) bool {
	cased := false
	for _, r := range name {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}

// posError attaches a source position to an evaluation failure.
type posError struct {
	pos syntax.Position
	err error
}

func (e *posError) Error() string { return fmt.Sprintf("%s: %v", e.pos, e.err) }
func (e *posError) Unwrap() error { return e.err }

func unwrapPos(err error) error {
	for {
		pe, ok := err.(*posError)
		if !ok {
			return err
		}
		err = pe.err
	}
}
