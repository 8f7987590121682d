// Package policy decides with Open Policy Agent which directories of a
// source tree are built with their own nested configuration.
//
// A RegoDecider plugs into frontend.SubtreePolicy in place of the static
// rule list. Its Rego modules define a boolean rule, by default
// data.buildtree.nested.nested, evaluated with an input document of the
// form
//
//	{
//	    "reldir":    "js/src",
//	    "topsrcdir": "/src",
//	    "substs":    {"JS_STANDALONE": "1", ...}
//	}
//
// An undefined result means the directory shares its parent's
// configuration.
//
// # Usage
//
//	d, err := policy.NewRegoDecider(ctx, log, []policy.Module{policy.DefaultModule()})
//	if err != nil {
//	    return err
//	}
//	r := frontend.NewReader(cfg, frontend.WithConfigPolicy(&frontend.SubtreePolicy{Decider: d}))
//
// Modules can be loaded from files and directories with a Loader, which
// can also watch them and hand reloaded modules to RegoDecider.Reload.
package policy
