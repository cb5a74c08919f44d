//go:build !unix

package vfile

import (
	"github.com/hollowtree/segmentdb/errs"
	"github.com/hollowtree/segmentdb/fs"
)

// NewMapped is unavailable on non-unix platforms and always returns an
// error. Nothing in this module calls NewMapped; segments are written and
// read through NewChannelWrite/NewChannelRead on every platform.
func NewMapped(filesys fs.Filesys, path string, initialSize int, readOnly bool, cleaner *Cleaner, onOpen func(Handle)) (Handle, error) {
	return nil, errs.NewIoError(errs.Other, path, errs.ErrNotOpen)
}
