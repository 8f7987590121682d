package secondary

import (
	"fmt"

	"cuelang.org/go/cue"
)

// targetSchema constrains every entry of targets. The definition is closed,
// so misspelled fields are rejected with their position.
const targetSchema = `
#Target: {
	type:              "static_library" | "shared_library" | "program" | "none"
	name?:             string & !=""
	sources?:          [...string & !=""]
	defines?:          {[string]: string}
	include_dirs?:     [...string & !=""]
	cflags?:           [...string]
	cxxflags?:         [...string]
	os_libs?:          [...string]
	final_library?:    string
	no_dist_install?:  bool
	fail_on_warnings?: bool
}
`

// compileTargetSchema returns the #Target definition compiled in ctx.
func compileTargetSchema(ctx *cue.Context) cue.Value {
	return ctx.CompileString(targetSchema, cue.Filename("target.cue")).LookupPath(cue.ParsePath("#Target"))
}

// checkTarget unifies v with the schema and reports every violation
// against the target's name.
func checkTarget(schema cue.Value, name string, v cue.Value) DescriptionErrors {
	if err := schema.Err(); err != nil {
		return DescriptionErrors{{Message: fmt.Sprintf("invalid target schema: %v", err)}}
	}
	err := schema.Unify(v).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	problems := convertCUEErrors(err)
	for i := range problems {
		problems[i].Message = fmt.Sprintf("targets.%s: %s", name, problems[i].Message)
	}
	return problems
}
