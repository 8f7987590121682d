package frontend

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"go.starlark.net/syntax"
)

// suggestionCutoff is the minimum similarity for a name to be suggested.
const suggestionCutoff = 0.6

// Error renders the diagnostic for humans.
func (e *BuildReaderError) Error() string {
	return e.Render(nil)
}

// Render renders the diagnostic, using reg for name suggestions. A nil
// registry falls back to e.Registry, then to the one recorded on a
// validation failure and finally to the default registry.
func (e *BuildReaderError) Render(reg *Registry) string {
	if reg == nil {
		reg = e.registry()
	}
	var b strings.Builder
	delim := strings.Repeat("=", 30)
	fmt.Fprintf(&b, "\n%s\nERROR PROCESSING MOZBUILD FILE\n%s\n\n", delim, delim)

	actual := e.ActualFile()
	b.WriteString("The error occurred while processing the following file:\n\n")
	fmt.Fprintf(&b, "    %s\n\n", actual)

	var le *LoadError
	isLoad := errors.As(e.Cause, &le)
	if main := e.MainFile(); actual != main && !isLoad && main != "" {
		b.WriteString("This file was included as part of processing:\n\n")
		fmt.Fprintf(&b, "    %s\n\n", main)
	}

	var (
		ce *CalledError
		xe *ExecutionError
		ve *ValidationError
	)
	switch {
	case isLoad:
		writeLoadError(&b, le)
	case errors.As(e.Cause, &ce):
		writeTriggerLine(&b, ce.Pos, ce.Line)
		b.WriteString("A moz.build file called the error() function.\n\n")
		b.WriteString("The error it encountered is:\n\n")
		fmt.Fprintf(&b, "    %s\n\n", ce.Message)
		b.WriteString("Correct the error condition and try again.\n")
	case e.Kind == KindInternal:
		writeInternalError(&b, e.Cause)
	case errors.As(e.Cause, &xe):
		var se syntax.Error
		if !errors.As(xe.Err, &se) {
			writeTriggerLine(&b, xe.Pos, xe.Line)
		}
		writeExecutionError(&b, xe, reg)
	case errors.As(e.Cause, &ve):
		b.WriteString("The error occurred when validating the result of ")
		b.WriteString("the execution. The reported error is:\n\n")
		for _, l := range strings.Split(ve.Message, "\n") {
			fmt.Fprintf(&b, "    %s\n", l)
		}
		b.WriteString("\n")
	default:
		writeInternalError(&b, e.Cause)
	}
	return b.String()
}

func (e *BuildReaderError) registry() *Registry {
	if e.Registry != nil {
		return e.Registry
	}
	var ve *ValidationError
	if errors.As(e.Cause, &ve) && ve.Context != nil {
		return ve.Context.Registry()
	}
	return DefaultRegistry()
}

func writeTriggerLine(b *strings.Builder, pos syntax.Position, line string) {
	if !pos.IsValid() {
		return
	}
	fmt.Fprintf(b, "The error was triggered on line %d of this file:\n\n", pos.Line)
	fmt.Fprintf(b, "    %s\n\n", strings.TrimSpace(line))
}

func writeLoadError(b *strings.Builder, le *LoadError) {
	if le.IllegalPath != "" {
		b.WriteString("The underlying problem is an illegal file access. ")
		b.WriteString("This is likely due to trying to access a file ")
		b.WriteString("outside of the top source directory.\n\n")
		b.WriteString("The path whose access was denied is:\n\n")
		fmt.Fprintf(b, "    %s\n\n", le.IllegalPath)
		b.WriteString("Modify the script to not access this file and try again.\n")
		return
	}
	if _, err := os.Stat(le.ReadError); os.IsNotExist(err) {
		b.WriteString("The underlying problem is we referenced a path ")
		b.WriteString("that does not exist. That path is:\n\n")
		fmt.Fprintf(b, "    %s\n\n", le.ReadError)
		b.WriteString("Either create the file if it needs to exist or do not reference it.\n")
		return
	}
	b.WriteString("The underlying problem is a referenced path could ")
	b.WriteString("not be read. The trouble path is:\n\n")
	fmt.Fprintf(b, "    %s\n\n", le.ReadError)
	b.WriteString("It is possible the path is not correct. Is it ")
	b.WriteString("pointing to a directory? It could also be a file ")
	b.WriteString("permissions issue. Ensure that the file is readable.\n")
}

func writeExecutionError(b *strings.Builder, xe *ExecutionError, reg *Registry) {
	var se syntax.Error
	if errors.As(xe.Err, &se) {
		fmt.Fprintf(b, "The underlying problem is a syntax error on line %d:\n\n", se.Pos.Line)
		fmt.Fprintf(b, "    %s\n", xe.Line)
		if se.Pos.Col > 0 {
			fmt.Fprintf(b, "%s^\n", strings.Repeat(" ", int(se.Pos.Col)+3))
		}
		fmt.Fprintf(b, "\n    %s\n\n", se.Msg)
		b.WriteString("Fix the syntax error and try again.\n")
		return
	}

	var ne *NameError
	if errors.As(xe.Err, &ne) {
		writeNameError(b, ne, reg)
		return
	}

	var tm *TypeMismatchError
	if errors.As(xe.Err, &tm) {
		b.WriteString("The underlying problem is an attempt to write an illegal ")
		b.WriteString("value to a special variable.\n\n")
		b.WriteString("The variable whose value was rejected is:\n\n")
		fmt.Fprintf(b, "    %s\n\n", tm.Name)
		b.WriteString("The value being written to it was of the following type:\n\n")
		got := "unknown"
		if tm.Got != nil {
			got = tm.Got.Type()
		}
		fmt.Fprintf(b, "    %s\n\n", got)
		b.WriteString("This variable expects the following type(s):\n\n")
		for _, t := range tm.Accepted {
			fmt.Fprintf(b, "    %s\n", t)
		}
		b.WriteString("\nChange the file to write a value of the appropriate type and try again.\n")
		return
	}

	b.WriteString("An error was encountered as part of executing the file ")
	b.WriteString("itself. The error appears to be the fault of the script.\n\n")
	b.WriteString("The error as reported is:\n\n")
	fmt.Fprintf(b, "    %v\n", xe.Err)
}

func writeNameError(b *strings.Builder, ne *NameError, reg *Registry) {
	if ne.Namespace == NamespaceLocal {
		b.WriteString("The underlying problem is a reference to an undefined local variable:\n\n")
		fmt.Fprintf(b, "    %s\n\n", ne.Name)
		b.WriteString("Please change the file to not reference undefined variables and try again.\n")
		return
	}
	if ne.Op == OpReassign {
		b.WriteString("The underlying problem is an attempt to reassign ")
		b.WriteString("a reserved UPPERCASE variable.\n\n")
		b.WriteString("The reassigned variable causing the error is:\n\n")
		fmt.Fprintf(b, "    %s\n\n", ne.Name)
		b.WriteString("Maybe you meant \"+=\" instead of \"=\"?\n")
		return
	}

	verb := "read"
	if ne.Op == OpSetUnknown {
		verb = "write"
	}
	fmt.Fprintf(b, "The underlying problem is an attempt to %s ", verb)
	b.WriteString("a reserved UPPERCASE variable that does not exist.\n\n")
	fmt.Fprintf(b, "The variable %s causing the error is:\n\n", verb)
	fmt.Fprintf(b, "    %s\n\n", ne.Name)

	names := reg.VariableNames()
	if matches := closeMatches(ne.Name, names, 2); len(matches) > 0 {
		fmt.Fprintf(b, "Maybe you meant %s?\n\n", strings.Join(matches, " or "))
	}
	if hint, ok := reg.DeprecationHints[ne.Name]; ok {
		fmt.Fprintf(b, "%s\n", strings.TrimSpace(hint))
		return
	}
	b.WriteString("Please change the file to not use this variable.\n\n")
	b.WriteString("For reference, the set of valid variables is:\n\n")
	b.WriteString(strings.Join(names, ", ") + "\n")
}

func writeInternalError(b *strings.Builder, err error) {
	b.WriteString("The error appears to be part of the build reader itself! ")
	b.WriteString("It is possible you have stumbled across a legitimate bug.\n\n")
	var trace []byte
	for err != nil {
		fmt.Fprintf(b, "    %T: %v\n", err, err)
		if ie, ok := err.(*internalError); ok && ie.trace != nil {
			trace = ie.trace
		}
		err = errors.Unwrap(err)
	}
	if trace != nil {
		fmt.Fprintf(b, "\n%s", trace)
	}
}

// CloseMatches returns the two candidates spelled most like word, best
// first.
func CloseMatches(word string, candidates []string) []string {
	return closeMatches(word, candidates, 2)
}

// closeMatches returns up to n candidates most similar to word, best first.
// Similarity is 1 - distance/max(len), and candidates below
// suggestionCutoff are dropped.
func closeMatches(word string, candidates []string, n int) []string {
	type scored struct {
		name  string
		score float64
	}
	var matches []scored
	for _, c := range candidates {
		longest := len(word)
		if len(c) > longest {
			longest = len(c)
		}
		if longest == 0 {
			continue
		}
		score := 1 - float64(levenshtein.ComputeDistance(word, c))/float64(longest)
		if score >= suggestionCutoff {
			matches = append(matches, scored{c, score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].name < matches[j].name
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.name
	}
	return out
}
