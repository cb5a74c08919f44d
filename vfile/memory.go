package vfile

import (
	"github.com/hollowtree/segmentdb/errs"
)

// memoryHandle is bytes-only, never touching a Filesys. append is only
// legal while building (before the first read); once a read has occurred,
// the handle is frozen, matching the spec's "append after construction
// fails with Unsupported" rule trimmed to "append after first read fails".
type memoryHandle struct {
	*openFlag
	path   string
	data   []byte
	frozen bool
}

// NewMemory creates an in-RAM handle seeded with data (possibly empty).
func NewMemory(path string, data []byte) Handle {
	return &memoryHandle{openFlag: newOpenFlag(), path: path, data: data}
}

func (h *memoryHandle) Append(p []byte) error {
	if err := h.requireOpen(h.path); err != nil {
		return err
	}
	if h.frozen {
		return errs.NewIoError(errs.NotWritable, h.path, nil)
	}
	h.data = append(h.data, p...)
	return nil
}

func (h *memoryHandle) Read(position int, size int) ([]byte, error) {
	if err := h.requireOpen(h.path); err != nil {
		return nil, err
	}
	h.frozen = true
	if position < 0 {
		position += len(h.data)
	}
	if position < 0 || position+size > len(h.data) {
		return nil, errs.NewFormatError("read out of bounds for in-memory handle %s: position=%d size=%d len=%d", h.path, position, size, len(h.data))
	}
	out := make([]byte, size)
	copy(out, h.data[position:position+size])
	return out, nil
}

func (h *memoryHandle) Get(position int) (byte, error) {
	b, err := h.Read(position, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (h *memoryHandle) ReadAll() ([]byte, error) {
	return h.Read(0, len(h.data))
}

func (h *memoryHandle) FileSize() int { return len(h.data) }

func (h *memoryHandle) Close() error {
	h.closeOnce()
	return nil
}

func (h *memoryHandle) Delete() error {
	if h.IsOpen() {
		return errs.NewIoError(errs.Other, h.path, errs.ErrNotOpen)
	}
	h.data = nil
	return nil
}

func (h *memoryHandle) CopyTo(path string) (Handle, error) {
	return nil, errs.NewCannotCopyInMemoryError(h.path)
}
