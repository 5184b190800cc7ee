package fastbit

import "errors"

// Error taxonomy (spec §7). Callers should use errors.Is against these
// sentinels; call sites wrap them with fmt.Errorf("%w: ...", Err...) to
// add context the way the teacher wraps os/io errors in qcow2.go.
var (
	// ErrNotFound means a named file does not exist.
	ErrNotFound = errors.New("fastbit: not found")
	// ErrIOError means a stat/seek/read/write/map call failed, or a
	// size-known region was short-read.
	ErrIOError = errors.New("fastbit: I/O error")
	// ErrOutOfMemory means the allocator refused and eviction could not
	// free enough to satisfy the request.
	ErrOutOfMemory = errors.New("fastbit: out of memory")
	// ErrOutOfBudget means inUse+request exceeds maxBytes even after
	// eviction and/or waiting.
	ErrOutOfBudget = errors.New("fastbit: out of budget")
	// ErrBusy means another goroutine is reading the same named file and
	// a blocking GetFile gave up after waiting a full unload timeout for
	// it to finish.
	ErrBusy = errors.New("fastbit: busy")
	// ErrWouldBlock is returned by the non-waiting variants of getFile.
	ErrWouldBlock = errors.New("fastbit: would block")
	// ErrBadFormat means a file's magic, version byte, or internal size
	// fields were inconsistent.
	ErrBadFormat = errors.New("fastbit: bad format")
	// ErrArgument means a required argument was nil/empty or a range was
	// nonsensical (e.g. lo > hi).
	ErrArgument = errors.New("fastbit: invalid argument")
	// ErrOverflow means a length or offset exceeds the addressable range
	// of the format in use (e.g. a v0 dictionary beyond 4GiB of string
	// data).
	ErrOverflow = errors.New("fastbit: overflow")
)
