package frontend

import (
	"fmt"
	"sort"
	"time"

	"github.com/openfroyo/buildtree/pkg/config"
	"github.com/openfroyo/buildtree/pkg/mozpath"
)

// ContextKind distinguishes the origin of a Context.
type ContextKind int

const (
	// KindPrimary is the Context of a build file read from the tree.
	KindPrimary ContextKind = iota
	// KindTemplate is the scratch Context of one template invocation.
	KindTemplate
	// KindSecondary is a Context synthesized from a foreign build description.
	KindSecondary
)

func (k ContextKind) String() string {
	switch k {
	case KindPrimary:
		return "primary"
	case KindTemplate:
		return "template"
	case KindSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("ContextKind(%d)", int(k))
	}
}

// Context is the validated variable table produced by evaluating one build
// file, together with its provenance.
type Context struct {
	kind     ContextKind
	registry *Registry
	config   *config.Environment

	values map[string]Value
	order  []string

	allPaths    []string
	pathSet     map[string]struct{}
	sourceStack []string

	// objdir overrides the output directory of synthesized contexts.
	objdir string

	// seeds holds a copy of every variable seeded from exports, as it was
	// at seeding time.
	seeds   map[string]Value
	written map[string]bool

	frozen bool

	// ExecutionTime is the wall-clock time spent evaluating the build file.
	ExecutionTime time.Duration
}

// NewContext returns an empty primary Context.
func NewContext(reg *Registry, cfg *config.Environment) *Context {
	return newContext(KindPrimary, reg, cfg)
}

// NewSecondaryContext returns a Context synthesized for a foreign build
// description read from mainPath, producing output into objdir.
func NewSecondaryContext(reg *Registry, cfg *config.Environment, mainPath, objdir string) *Context {
	c := newContext(KindSecondary, reg, cfg)
	c.AddSource(mainPath)
	c.objdir = mozpath.Normalize(objdir)
	return c
}

func newContext(kind ContextKind, reg *Registry, cfg *config.Environment) *Context {
	return &Context{
		kind:     kind,
		registry: reg,
		config:   cfg,
		values:   make(map[string]Value),
		pathSet:  make(map[string]struct{}),
		seeds:    make(map[string]Value),
		written:  make(map[string]bool),
	}
}

// Kind returns the origin of the Context.
func (c *Context) Kind() ContextKind { return c.kind }

// Config returns the configuration the Context was evaluated with.
func (c *Context) Config() *config.Environment { return c.config }

// Registry returns the vocabulary the Context is validated against.
func (c *Context) Registry() *Registry { return c.registry }

// AddSource records path as a source of the data in this Context.
func (c *Context) AddSource(path string) {
	path = mozpath.Normalize(path)
	if path == "" {
		return
	}
	if _, ok := c.pathSet[path]; ok {
		return
	}
	c.pathSet[path] = struct{}{}
	c.allPaths = append(c.allPaths, path)
}

// PushSource records path as a source and makes it the current file.
func (c *Context) PushSource(path string) {
	c.AddSource(path)
	c.sourceStack = append(c.sourceStack, mozpath.Normalize(path))
}

// PopSource removes the current file from the source stack.
func (c *Context) PopSource() {
	if n := len(c.sourceStack); n > 0 {
		c.sourceStack = c.sourceStack[:n-1]
	}
}

// MainPath returns the first source recorded for the Context.
func (c *Context) MainPath() string {
	if len(c.allPaths) == 0 {
		return ""
	}
	return c.allPaths[0]
}

// CurrentPath returns the file currently being evaluated.
func (c *Context) CurrentPath() string {
	if len(c.sourceStack) == 0 {
		return ""
	}
	return c.sourceStack[len(c.sourceStack)-1]
}

// AllPaths returns every source in the order it was recorded.
func (c *Context) AllPaths() []string { return append([]string(nil), c.allPaths...) }

// SourceStack returns a copy of the stack of files being evaluated.
func (c *Context) SourceStack() []string { return append([]string(nil), c.sourceStack...) }

// SrcDir returns the directory of the main build file.
func (c *Context) SrcDir() string {
	if c.MainPath() == "" {
		return c.config.TopSrcDir
	}
	return mozpath.Dir(c.MainPath())
}

// RelSrcDir returns SrcDir relative to the source root.
func (c *Context) RelSrcDir() string {
	return mozpath.Rel(c.config.TopSrcDir, c.SrcDir())
}

// RelObjDir returns ObjDir relative to the output root.
func (c *Context) RelObjDir() string {
	if c.objdir != "" {
		return mozpath.Rel(c.config.TopObjDir, c.objdir)
	}
	return c.RelSrcDir()
}

// ObjDir returns the output directory of the Context.
func (c *Context) ObjDir() string {
	if c.objdir != "" {
		return c.objdir
	}
	return mozpath.Join(c.config.TopObjDir, c.RelSrcDir())
}

// Freeze makes the Context read-only.
func (c *Context) Freeze() { c.frozen = true }

// Frozen reports whether the Context is read-only.
func (c *Context) Frozen() bool { return c.frozen }

// Declared reports whether name is a variable of the registry.
func (c *Context) Declared(name string) bool {
	_, ok := c.registry.Variables[name]
	return ok
}

// Get returns the value of a declared variable. Reading a declared but
// unset variable stores and returns its default, unless the Context is
// frozen.
func (c *Context) Get(name string) (Value, error) {
	if v, ok := c.values[name]; ok {
		return v, nil
	}
	spec, ok := c.registry.Variables[name]
	if !ok {
		return nil, &NameError{Namespace: NamespaceGlobal, Op: OpGetUnknown, Name: name}
	}
	v := c.defaultValue(spec)
	if !c.frozen {
		c.store(name, v)
	}
	return v, nil
}

// Peek returns the value of name if it has been set. It never creates
// defaults.
func (c *Context) Peek(name string) (Value, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Set validates and stores a declared variable. Replacing a value that was
// already assigned with anything but the same container is a reassignment
// error. Defaults materialized by Get do not count as assigned.
func (c *Context) Set(name string, v Value) error {
	return c.assign(name, v, true)
}

// Update validates and stores a declared variable without the reassignment
// check. It is used when merging template results and synthesized values.
func (c *Context) Update(name string, v Value) error {
	return c.assign(name, v, false)
}

func (c *Context) assign(name string, v Value, checkReassign bool) error {
	if c.frozen {
		return &internalError{msg: fmt.Sprintf("write of %s to a frozen context", name)}
	}
	spec, ok := c.registry.Variables[name]
	if !ok {
		return &NameError{Namespace: NamespaceGlobal, Op: OpSetUnknown, Name: name}
	}
	coerced, err := spec.Type.Coerce(c, v)
	if err != nil {
		if tm, ok := err.(*TypeMismatchError); ok {
			tm.Name = name
			tm.Got = v
			return tm
		}
		return err
	}
	if checkReassign {
		if old, ok := c.values[name]; ok && c.written[name] && !sameContainer(old, coerced) {
			return &NameError{Namespace: NamespaceGlobal, Op: OpReassign, Name: name}
		}
	}
	if old, ok := c.values[name]; !ok || !sameContainer(old, coerced) {
		delete(c.seeds, name)
	}
	c.store(name, coerced)
	c.written[name] = true
	return nil
}

func (c *Context) store(name string, v Value) {
	if _, ok := c.values[name]; !ok {
		c.order = append(c.order, name)
	}
	c.values[name] = v
}

// seed copies an exported value into the Context without marking it
// written.
func (c *Context) seed(name string, v Value) error {
	spec, ok := c.registry.Variables[name]
	if !ok {
		return &NameError{Namespace: NamespaceGlobal, Op: OpSetUnknown, Name: name}
	}
	coerced, err := spec.Type.Coerce(c, cloneValue(v))
	if err != nil {
		return err
	}
	c.store(name, coerced)
	c.seeds[name] = cloneValue(coerced)
	return nil
}

func (c *Context) defaultValue(spec VariableSpec) Value {
	if spec.Default != nil {
		return spec.Default(c)
	}
	return spec.Type.Zero(c)
}

// Keys returns the names of all set variables in sorted order.
func (c *Context) Keys() []string {
	keys := append([]string(nil), c.order...)
	sort.Strings(keys)
	return keys
}

// Len returns the number of set variables.
func (c *Context) Len() int { return len(c.values) }

// Snapshot returns the set variables as plain Go data.
func (c *Context) Snapshot() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = ToNative(v)
	}
	return out
}

// sameContainer reports whether b is the very container a refers to, which
// is what augmented assignment on a list or dict stores back.
func sameContainer(a, b Value) bool {
	switch x := a.(type) {
	case *List:
		y, ok := b.(*List)
		return ok && x == y
	case *Dict:
		y, ok := b.(*Dict)
		return ok && x == y
	case *Object:
		y, ok := b.(*Object)
		return ok && x == y
	}
	return false
}
