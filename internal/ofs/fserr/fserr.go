// Package fserr defines the error kinds shared by every layer of ofs.
//
// Every fallible internal call returns a plain error, wrapped with
// github.com/pkg/errors for context the way the original's anyhow-based
// .context() chains did. The five sentinel kinds below let callers
// distinguish the cases spec.md §7 calls out; anything else is the
// catch-all "Other" kind, surfaced by the bridge as EIO.
package fserr

import "errors"

// ReadOnly is returned when a mutation is attempted against a non-writable
// origin (the main tree mounted read-only, or a read-only clone).
var ErrReadOnly = errors.New("ofs: read-only file system")

// NotFound is returned when a requested inode or directory entry does not
// exist.
var ErrNotFound = errors.New("ofs: not found")

// NotImplemented is returned for operations this filesystem deliberately
// does not support: a nonzero-size truncate, or a cross-directory rename.
var ErrNotImplemented = errors.New("ofs: not implemented")

// OutOfSpace is returned when appending to a fixed-size (non-growable)
// store would be required.
var ErrOutOfSpace = errors.New("ofs: out of space")

// Corrupt is returned when the on-disk structure violates an invariant:
// an unknown object tag, an unexpected type at an oid, a reachable
// Empty/Dead object, a second Header, a duplicate clone name, and so on.
// It is always surfaced to the user and never recovered from.
var ErrCorrupt = errors.New("ofs: corrupt filesystem")
