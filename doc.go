// Package fastbit implements the bitmap-index and backing-storage core of
// a column-oriented, read-mostly analytical engine: a reference-counted
// file/memory manager, a contiguous typed array built on top of it, a
// dual-direction string dictionary, several bitmap-index encodings over a
// sorted value domain, and the post-query bundling (group-by) layer.
//
// The query parser, predicate objects, and the compressed row-bitmap type
// itself are treated as external collaborators; this package exposes
// small interfaces for the first two (see external.go) and wraps a real
// compressed-bitmap library for the third (see bitvector.go).
package fastbit

import "sync"

var (
	initOnce sync.Once
	finiOnce sync.Once
)

// Init prepares process-wide state: the file manager singleton and the
// default logger. It is idempotent; calling it more than once has no
// additional effect. Most callers never need it explicitly since the
// file manager initializes itself lazily, but long-running servers that
// want deterministic startup behavior (and a chance to observe Init
// errors) can call it up front.
func Init() {
	initOnce.Do(func() {
		_ = defaultFileManager()
		defaultLogger()
	})
}

// Fini releases process-wide state: flushes all file manager tables and
// closes the log file if one was opened. After Fini, a fresh Init starts
// clean state again (mainly useful in tests).
func Fini() {
	finiOnce.Do(func() {
		fm := defaultFileManager()
		fm.clear()
		closeLogger()
	})
	initOnce = sync.Once{}
	finiOnce = sync.Once{}
}
