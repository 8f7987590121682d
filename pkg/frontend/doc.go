// Package frontend reads trees of moz.build files into validated build
// contexts.
//
// # Overview
//
// A build file is written in a small Python-like language. Upper-case names
// address variables declared in a Registry; they are type checked and
// stored in the file's Context. Every other name is a local of the file or
// of the function being executed. Build files call registry functions such
// as include, export and template, and may register functions defined with
// def as templates whose results are merged into the caller.
//
// # Reading a tree
//
//	r := frontend.NewReader(cfg, frontend.WithLogger(log))
//	for bctx, err := range r.ReadTopSrcDir(ctx) {
//		if err != nil {
//			return err
//		}
//		process(bctx)
//	}
//
// The walk is lazy and depth first: the Context of a directory is yielded
// before any of its children is read, and stopping the range loop stops the
// walk. Values exported by a directory and the templates it registered are
// inherited by its children. A file reached from several parents is read
// once.
//
// # Diagnostics
//
// A failing file produces exactly one *BuildReaderError. Its Kind
// classifies the failure and its Error method renders a report naming the
// offending file and line together with a suggestion for fixing it.
package frontend
