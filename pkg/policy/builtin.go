package policy

// DefaultModule returns the Rego rendition of the standard nested
// configuration rule: js/src is configured separately unless the tree is a
// standalone JavaScript build.
func DefaultModule() Module {
	return Module{
		Name:        "nested.rego",
		Description: "js/src uses its own configuration unless JS_STANDALONE is set",
		Rego: `package buildtree.nested

import rego.v1

default nested := false

nested if {
	input.reldir == "js/src"
	not standalone
}

standalone if input.substs.JS_STANDALONE != ""
`,
	}
}
