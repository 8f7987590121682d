// Package config describes the build configuration consumed by the build
// reader.
//
// # Overview
//
// An Environment carries the facts the reader needs about a configured
// tree: the absolute source root, the absolute output (object) root, an
// optional external source root for third-party applications hooking into
// the build, and the string substitutions produced by configure.
//
// Environments are loaded from YAML status artifacts (config.status):
//
//	topsrcdir: /src/gecko
//	topobjdir: /src/gecko/obj-x86_64
//	external_source_dir: /src/comm
//	substs:
//	  ENABLE_TESTS: "1"
//	  OS_TARGET: Linux
//
// # Derivation
//
// Child configurations are always copy-derived. Clone returns a deep copy so
// that a directory switching to a nested configuration never mutates the
// configuration of its parent.
//
// # Validation
//
// Environments are validated with go-playground/validator struct tags. Root
// paths must be absolute.
package config
