package policy

// Module is one Rego source file.
type Module struct {
	// Name identifies the module in compiler errors.
	Name string `json:"name" yaml:"name"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Rego is the module source.
	Rego string `json:"rego" yaml:"rego"`

	// Source is the file the module was loaded from, if any.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Input is the document a decision is evaluated against.
type Input struct {
	RelDir    string            `json:"reldir"`
	TopSrcDir string            `json:"topsrcdir"`
	Substs    map[string]string `json:"substs"`
}

// DefaultQuery is the rule evaluated for every directory.
const DefaultQuery = "data.buildtree.nested.nested"
