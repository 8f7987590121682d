package frontend

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/syntax"
)

// ErrReaderUsed is returned when a Reader is asked to walk a second time.
var ErrReaderUsed = errors.New("build reader has already been used")

// Kind classifies a build reader diagnostic.
type Kind string

const (
	// KindIllegalPath is a read of a file outside the allowed roots.
	KindIllegalPath Kind = "illegal_path"

	// KindFileNotFound is a referenced file that is missing or unreadable.
	KindFileNotFound Kind = "file_not_found"

	// KindSyntax is a parse failure or a construct the language rejects.
	KindSyntax Kind = "syntax"

	// KindUnknownRead is a read of an undeclared variable or undefined local.
	KindUnknownRead Kind = "unknown_read"

	// KindUnknownWrite is a write of an undeclared upper-case variable.
	KindUnknownWrite Kind = "unknown_write"

	// KindReassign is a plain assignment to an already-set variable or a
	// reserved name.
	KindReassign Kind = "reassign"

	// KindTypeMismatch is a value rejected by a variable's declared type.
	KindTypeMismatch Kind = "type_mismatch"

	// KindCalledError is an explicit error() call from a build file.
	KindCalledError Kind = "called_error"

	// KindValidation is a failure validating the result of an evaluation.
	KindValidation Kind = "validation"

	// KindScript is any other failure raised by the build file's own code.
	KindScript Kind = "script"

	// KindInternal is a defect in the reader itself.
	KindInternal Kind = "internal"
)

// Namespace tells which name class a NameError refers to.
type Namespace string

const (
	NamespaceGlobal Namespace = "global_ns"
	NamespaceLocal  Namespace = "local_ns"
)

// NameOp is the failed operation of a NameError.
type NameOp string

const (
	OpGetUnknown NameOp = "get_unknown"
	OpSetUnknown NameOp = "set_unknown"
	OpReassign   NameOp = "reassign"
)

// NameError reports a failed read or write of a name.
type NameError struct {
	Namespace Namespace
	Op        NameOp
	Name      string
}

func (e *NameError) Error() string {
	switch {
	case e.Namespace == NamespaceLocal:
		return fmt.Sprintf("name %q is not defined", e.Name)
	case e.Op == OpGetUnknown:
		return fmt.Sprintf("read of unknown variable %s", e.Name)
	case e.Op == OpSetUnknown:
		return fmt.Sprintf("write of unknown variable %s", e.Name)
	default:
		return fmt.Sprintf("reassignment of %s", e.Name)
	}
}

// TypeMismatchError reports a value rejected by a declared type.
type TypeMismatchError struct {
	Name     string
	Got      Value
	Accepted []string
}

func (e *TypeMismatchError) Error() string {
	got := "unknown"
	if e.Got != nil {
		got = e.Got.Type()
	}
	return fmt.Sprintf("%s expects %s, got %s", e.Name, strings.Join(e.Accepted, " or "), got)
}

// LoadError reports a file that could not be loaded. FileStack is the
// source stack when the load was attempted; it does not include the file
// itself.
type LoadError struct {
	FileStack   []string
	IllegalPath string
	ReadError   string
	Err         error
}

func (e *LoadError) Error() string {
	if e.IllegalPath != "" {
		return fmt.Sprintf("illegal file access: %s", e.IllegalPath)
	}
	if e.Err != nil {
		return fmt.Sprintf("cannot read %s: %v", e.ReadError, e.Err)
	}
	return fmt.Sprintf("cannot read %s", e.ReadError)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ExecutionError reports a failure while executing build-file code.
type ExecutionError struct {
	FileStack []string
	Pos       syntax.Position
	// Line is the text of the source line at Pos, when known.
	Line string
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %v", e.Pos, e.Err)
	}
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// File returns the file the failing code lives in.
func (e *ExecutionError) File() string {
	if e.Pos.IsValid() && e.Pos.Filename() != "" {
		return e.Pos.Filename()
	}
	if n := len(e.FileStack); n > 0 {
		return e.FileStack[n-1]
	}
	return ""
}

// CalledError is raised by the error() function of a build file.
type CalledError struct {
	FileStack []string
	Pos       syntax.Position
	Line      string
	Message   string
}

func (e *CalledError) Error() string {
	return "error() called: " + e.Message
}

// ValidationError reports a result that failed validation after evaluation.
type ValidationError struct {
	Message string
	Context *Context
}

func (e *ValidationError) Error() string { return e.Message }

// TemplateError reports an invalid template registration.
type TemplateError struct {
	Name         string
	Reason       string
	PreviousPath string
}

func (e *TemplateError) Error() string {
	if e.PreviousPath != "" {
		return fmt.Sprintf("a template named %q was already declared in %s", e.Name, e.PreviousPath)
	}
	return e.Reason
}

// internalError marks a defect in the reader.
type internalError struct {
	msg string
	err error

	// trace is the goroutine stack of a recovered panic.
	trace []byte
}

func (e *internalError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *internalError) Unwrap() error { return e.err }

// BuildReaderError is the single diagnostic produced for a failing build
// file. FileStack is the chain of build files being read, outermost first.
type BuildReaderError struct {
	FileStack []string
	Kind      Kind
	Cause     error

	// Registry is the vocabulary the failing file was read with. Render
	// suggests names from it.
	Registry *Registry
}

func (e *BuildReaderError) Unwrap() error { return e.Cause }

// Is matches another BuildReaderError of the same kind.
func (e *BuildReaderError) Is(target error) bool {
	t, ok := target.(*BuildReaderError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// MainFile returns the build file whose evaluation failed.
func (e *BuildReaderError) MainFile() string {
	if n := len(e.FileStack); n > 0 {
		return e.FileStack[n-1]
	}
	return ""
}

// ActualFile returns the file containing the offending code. For load
// errors this is the file that referenced the unloadable one.
func (e *BuildReaderError) ActualFile() string {
	var le *LoadError
	if errors.As(e.Cause, &le) {
		if n := len(le.FileStack); n > 0 {
			return le.FileStack[n-1]
		}
		if n := len(e.FileStack); n > 1 {
			return e.FileStack[n-2]
		}
		return e.MainFile()
	}
	var ce *CalledError
	if errors.As(e.Cause, &ce) {
		if ce.Pos.IsValid() && ce.Pos.Filename() != "" {
			return ce.Pos.Filename()
		}
		if n := len(ce.FileStack); n > 0 {
			return ce.FileStack[n-1]
		}
	}
	var xe *ExecutionError
	if errors.As(e.Cause, &xe) {
		if f := xe.File(); f != "" {
			return f
		}
	}
	return e.MainFile()
}

// NewBuildReaderError wraps err for the given execution stack unless it is
// already a BuildReaderError.
func NewBuildReaderError(stack []string, err error) *BuildReaderError {
	var bre *BuildReaderError
	if errors.As(err, &bre) {
		return bre
	}
	return &BuildReaderError{
		FileStack: append([]string(nil), stack...),
		Kind:      Classify(err),
		Cause:     err,
	}
}

// Classify returns the diagnostic kind of err.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var bre *BuildReaderError
	if errors.As(err, &bre) {
		return bre.Kind
	}
	var le *LoadError
	if errors.As(err, &le) {
		if le.IllegalPath != "" {
			return KindIllegalPath
		}
		return KindFileNotFound
	}
	var ce *CalledError
	if errors.As(err, &ce) {
		return KindCalledError
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	var ie *internalError
	if errors.As(err, &ie) {
		return KindInternal
	}
	var xe *ExecutionError
	if !errors.As(err, &xe) {
		return KindInternal
	}
	var se syntax.Error
	if errors.As(xe.Err, &se) {
		return KindSyntax
	}
	var ne *NameError
	if errors.As(xe.Err, &ne) {
		switch {
		case ne.Op == OpGetUnknown:
			return KindUnknownRead
		case ne.Op == OpSetUnknown:
			return KindUnknownWrite
		default:
			return KindReassign
		}
	}
	var tm *TypeMismatchError
	if errors.As(xe.Err, &tm) {
		return KindTypeMismatch
	}
	return KindScript
}

// IsKind reports whether err is a build reader diagnostic of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && Classify(err) == k
}
