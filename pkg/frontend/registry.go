package frontend

import (
	"sort"
)

// VariableSpec declares one variable a build file may assign.
type VariableSpec struct {
	Type Type

	// Default computes the initial value. When nil the type's zero value
	// is used.
	Default func(ctx *Context) Value

	Doc string
}

// FunctionImpl is the implementation of a registry function. Arguments
// have already been coerced to the declared argument types.
type FunctionImpl func(sb *Sandbox, args []Value) (Value, error)

// FunctionSpec declares a function callable from build files.
type FunctionSpec struct {
	Impl FunctionImpl
	Args []Type
	Doc  string
}

// SpecialSpec declares a read-only value derived from the Context.
type SpecialSpec struct {
	Compute func(ctx *Context) Value
	Doc     string
}

// Registry holds the tables that define the build-file vocabulary.
type Registry struct {
	Variables        map[string]VariableSpec
	Functions        map[string]FunctionSpec
	Special          map[string]SpecialSpec
	DeprecationHints map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		Variables:        make(map[string]VariableSpec),
		Functions:        make(map[string]FunctionSpec),
		Special:          make(map[string]SpecialSpec),
		DeprecationHints: make(map[string]string),
	}
}

// VariableNames returns the sorted names of all declared variables.
func (r *Registry) VariableNames() []string {
	return sortedKeys(r.Variables)
}

// FunctionNames returns the sorted names of all registry functions.
func (r *Registry) FunctionNames() []string {
	return sortedKeys(r.Functions)
}

// SpecialNames returns the sorted names of all special variables.
func (r *Registry) SpecialNames() []string {
	return sortedKeys(r.Special)
}

// reserved reports whether name belongs to a special variable or function.
func (r *Registry) reserved(name string) bool {
	if _, ok := r.Special[name]; ok {
		return true
	}
	_, ok := r.Functions[name]
	return ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
