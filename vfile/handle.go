// Package vfile provides a uniform read/append file handle over several
// concrete backings (sequential channel I/O, memory-mapped, and pure
// in-memory), used by the segment package to read and write segment files
// without caring which backing is in play.
package vfile

import (
	"sync/atomic"

	"github.com/hollowtree/segmentdb/errs"
)

// Handle is a uniform file handle: append-only writes, random-access reads,
// and the bookkeeping operations a Segment needs (size, delete, copy).
type Handle interface {
	// Append writes the full contents of p. Returns
	// *errs.FailedToWriteAllBytesError if the backing only accepted a
	// prefix of p (a genuine short write), or *errs.IoError (NotWritable)
	// on a read-only backing.
	Append(p []byte) error
	// Read returns exactly size bytes starting at position. Negative
	// position is relative to the end of the file.
	Read(position int, size int) ([]byte, error)
	// Get returns the single byte at position.
	Get(position int) (byte, error)
	// ReadAll returns the entire contents of the file.
	ReadAll() ([]byte, error)
	// FileSize returns the current size in bytes.
	FileSize() int
	// IsOpen reports whether Close has not yet been called.
	IsOpen() bool
	// Close releases any OS resources. Idempotent.
	Close() error
	// Delete removes the underlying file. The handle must be closed first.
	Delete() error
	// CopyTo duplicates the file's bytes to a new path in the same
	// backing, returning a fresh handle open for reading.
	CopyTo(path string) (Handle, error)
}

// openFlag is a compare-and-set-once-false flag shared by every backing, so
// Close is idempotent and concurrent readers observe a consistent
// open/closed transition (spec's "atomic with respect to the handle's open
// flag" requirement).
type openFlag struct {
	open atomic.Bool
}

func newOpenFlag() *openFlag {
	f := &openFlag{}
	f.open.Store(true)
	return f
}

func (f *openFlag) IsOpen() bool { return f.open.Load() }

// closeOnce transitions open -> false exactly once, reporting whether this
// call performed the transition.
func (f *openFlag) closeOnce() bool {
	return f.open.CompareAndSwap(true, false)
}

func (f *openFlag) requireOpen(path string) error {
	if !f.IsOpen() {
		return errs.NewIoError(errs.Other, path, errs.ErrNotOpen)
	}
	return nil
}
