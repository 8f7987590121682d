package frontend

import (
	"fmt"
	"strings"
)

// BuildFileName is the name of the build file read in every directory.
const BuildFileName = "moz.build"

var (
	foreignDirType = &ObjectType{
		TypeName: "ForeignDir",
		Fields: []FieldSpec{
			{Name: "input", Type: StringType{}, Doc: "Foreign build description, relative to the directory."},
			{Name: "variables", Type: &DictType{Value: StringType{}}, Doc: "Variables handed to the foreign description."},
			{Name: "non_unified_sources", Type: &ListType{Elem: StringType{}}, Doc: "Sources excluded from unified compilation."},
			{Name: "sandbox_vars", Type: &DictType{}, Doc: "Variables set on every synthesized context."},
		},
	}

	javaJarType = &ObjectType{
		TypeName: "JavaJar",
		Fields: []FieldSpec{
			{Name: "name", Type: StringType{}},
			{Name: "sources", Type: &ListType{Elem: StringType{}}},
			{Name: "generated_sources", Type: &ListType{Elem: StringType{}}},
			{Name: "extra_jars", Type: &ListType{Elem: StringType{}}},
			{Name: "javac_flags", Type: &ListType{Elem: StringType{}}},
		},
	}
)

// DefaultRegistry returns the standard build-file vocabulary.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	strs := func() Type { return &ListType{Elem: StringType{}} }
	paths := func() Type { return &ListType{Elem: PathType{}} }

	r.Variables = map[string]VariableSpec{
		"DIRS": {Type: paths(), Doc: "Child directories to descend into looking for build files."},
		"TEST_DIRS": {Type: paths(), Doc: `Like DIRS but only for directories that contain test-only code.

Directories are only read when ENABLE_TESTS is set in the build configuration.`},
		"SOURCES":             {Type: strs(), Doc: "Source code files."},
		"UNIFIED_SOURCES":     {Type: strs(), Doc: "Source code files that can be compiled together."},
		"GENERATED_SOURCES":   {Type: strs(), Doc: "Source code files generated during the build."},
		"HOST_SOURCES":        {Type: strs(), Doc: "Source code files compiled with the host compiler."},
		"EXPORTS":             {Type: strs(), Doc: "Header files to install in the distribution include directory."},
		"EXTRA_JS_MODULES":    {Type: strs(), Doc: "Additional JavaScript files to distribute."},
		"LOCAL_INCLUDES":      {Type: paths(), Doc: "Additional directories to search for include files."},
		"OS_LIBS":             {Type: strs(), Doc: "System link libraries."},
		"USE_LIBS":            {Type: strs(), Doc: "Libraries this target links against."},
		"CFLAGS":              {Type: strs(), Doc: "Flags passed to the C compiler for all of the C source files."},
		"CXXFLAGS":            {Type: strs(), Doc: "Flags passed to the C++ compiler for all of the C++ source files."},
		"XPIDL_SOURCES":       {Type: strs(), Doc: "XPCOM Interface Definition Files."},
		"DEFINES":             {Type: &DictType{}, Doc: "Preprocessor definitions, keyed by macro name."},
		"LIBRARY_NAME":        {Type: StringType{}, Doc: "The code name of the library generated for a directory."},
		"FINAL_LIBRARY":       {Type: StringType{}, Doc: "Library in which the objects of the current directory will be linked."},
		"PROGRAM":             {Type: StringType{}, Doc: "Compiled executable name."},
		"SHARED_LIBRARY_NAME": {Type: StringType{}, Doc: "The name of the shared library generated for a directory."},
		"XPIDL_MODULE":        {Type: StringType{}, Doc: "XPCOM Interface Definition Module Name."},
		"FAIL_ON_WARNINGS":    {Type: BoolType{}, Doc: "Whether to treat warnings as errors."},
		"NO_DIST_INSTALL":     {Type: BoolType{}, Doc: "Disable installing the target into the distribution directory."},
		"FOREIGN_DIRS": {Type: &DictType{Value: foreignDirType}, Doc: `Directories described by a foreign build description.

Each key names an output subdirectory; the value's input, variables,
non_unified_sources and sandbox_vars fields describe how to read it.`},
		"JAVA_JAR_TARGETS": {Type: &DictType{Value: javaJarType}, Doc: "Java JAR targets registered with add_java_jar()."},
	}

	r.Functions = map[string]FunctionSpec{
		"include": {Impl: fnInclude, Args: []Type{PathType{}}, Doc: `Include another build file in the context of this one.

Paths starting with "/" are relative to the source root; other paths are
relative to the directory of the including file.`},
		"export":       {Impl: fnExport, Args: []Type{StringType{}}, Doc: "Make a variable available to all child directories."},
		"warning":      {Impl: fnWarning, Args: []Type{StringType{}}, Doc: "Issue a warning."},
		"error":        {Impl: fnError, Args: []Type{StringType{}}, Doc: "Abort processing of the build file with an error."},
		"template":     {Impl: fnTemplate, Args: []Type{AnyType{}}, Doc: "Register a function defined with def as a template."},
		"add_java_jar": {Impl: fnAddJavaJar, Args: []Type{StringType{}}, Doc: "Declare a Java JAR target to be built."},
	}

	r.Special = map[string]SpecialSpec{
		"TOPSRCDIR":   {Compute: func(c *Context) Value { return String(c.Config().TopSrcDir) }, Doc: "Absolute path of the source root."},
		"TOPOBJDIR":   {Compute: func(c *Context) Value { return String(c.Config().TopObjDir) }, Doc: "Absolute path of the output root."},
		"RELATIVEDIR": {Compute: func(c *Context) Value { return String(c.RelSrcDir()) }, Doc: "Directory of the current build file relative to the source root."},
		"SRCDIR":      {Compute: func(c *Context) Value { return String(c.SrcDir()) }, Doc: "Absolute directory of the current build file."},
		"OBJDIR":      {Compute: func(c *Context) Value { return String(c.ObjDir()) }, Doc: "Absolute output directory of the current build file."},
		"CONFIG":      {Compute: configDict, Doc: "Read-only dictionary of build settings. Missing keys read as None."},
	}

	r.DeprecationHints = map[string]string{
		"CPP_UNIT_TESTS": "CPP_UNIT_TESTS is no longer valid. Use CppUnitTests() instead:\n\n    CppUnitTests(['foo', 'bar'])",
		"PARALLEL_DIRS":  "PARALLEL_DIRS is no longer valid. Use DIRS instead.",
		"TOOL_DIRS":      "TOOL_DIRS is no longer valid. Use DIRS instead.",
		"TEST_TOOL_DIRS": "TEST_TOOL_DIRS is no longer valid. Use TEST_DIRS instead.",
		"MODULE":         "MODULE is no longer valid. Use XPIDL_MODULE for the name of the XPIDL module.",
	}
	return r
}

func configDict(c *Context) Value {
	d := NewDict()
	for _, k := range c.Config().SubstKeys() {
		v, _ := c.Config().Subst(k)
		d.put(k, String(v))
	}
	d.readOnly = true
	d.missingNone = true
	return d
}

func fnInclude(sb *Sandbox, args []Value) (Value, error) {
	return None, sb.ExecFile(args[0].(Path).Full)
}

func fnExport(sb *Sandbox, args []Value) (Value, error) {
	return None, sb.Export(string(args[0].(String)))
}

func fnWarning(sb *Sandbox, args []Value) (Value, error) {
	sb.Warning(string(args[0].(String)))
	return None, nil
}

func fnError(sb *Sandbox, args []Value) (Value, error) {
	return nil, &CalledError{
		FileStack: sb.ctx.SourceStack(),
		Message:   string(args[0].(String)),
	}
}

func fnTemplate(sb *Sandbox, args []Value) (Value, error) {
	return None, sb.RegisterTemplate(args[0])
}

// fnAddJavaJar registers a keyed Java JAR target and returns it so the
// caller can fill in its fields.
func fnAddJavaJar(sb *Sandbox, args []Value) (Value, error) {
	name := string(args[0].(String))
	if name == "" {
		return nil, fmt.Errorf("Java JAR cannot be registered without a name")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, ".jar") {
		return nil, fmt.Errorf("Java JAR names must not include slashes or .jar: %s", name)
	}
	v, err := sb.Get("JAVA_JAR_TARGETS")
	if err != nil {
		return nil, err
	}
	targets := v.(*Dict)
	if _, ok := targets.Get(name); ok {
		return nil, fmt.Errorf("Java JAR has already been registered: %s", name)
	}
	jar := javaJarType.Zero(sb.ctx).(*Object)
	jar.values["name"] = String(name)
	if err := targets.Set(sb.ctx, name, jar); err != nil {
		return nil, err
	}
	return jar, nil
}
