// Package stores persists the results of build tree walks. It keeps a
// catalog of walks, the frozen contexts each walk yielded and the
// diagnostics raised while reading, in SQLite with WAL mode and embedded
// schema migrations.
package stores
