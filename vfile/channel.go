package vfile

import (
	"github.com/hollowtree/segmentdb/errs"
	"github.com/hollowtree/segmentdb/fs"
)

// channelHandle is a sequential, OS-buffered handle: a NewChannelWrite
// handle appends to a freshly created file, and reads open an fs.ReadFile
// lazily on first use. Close ends the handle for good: a closed write
// handle does not turn into a read handle, and every later Read or Append
// fails with ErrNotOpen, so reading a finished file takes a new
// NewChannelRead handle.
type channelHandle struct {
	*openFlag
	filesys fs.Filesys
	path    string
	writer  bool // true for a NewChannelWrite handle until Close

	wf   fs.File     // non-nil only while writer == true and opened
	rf   fs.ReadFile // non-nil only once a read has happened
	size int
	onOpen func(Handle)
}

// NewChannelWrite opens path for sequential append writes, creating it.
func NewChannelWrite(filesys fs.Filesys, path string, onOpen func(Handle)) Handle {
	h := &channelHandle{openFlag: newOpenFlag(), filesys: filesys, path: path, writer: true, onOpen: onOpen}
	h.wf = filesys.Create(path)
	if onOpen != nil {
		onOpen(h)
	}
	return h
}

// NewChannelRead opens path for random-access reads, lazily: the
// underlying fs.ReadFile is not materialized until the first Read/Get call.
func NewChannelRead(filesys fs.Filesys, path string, onOpen func(Handle)) Handle {
	return &channelHandle{openFlag: newOpenFlag(), filesys: filesys, path: path, writer: false, onOpen: onOpen}
}

func (h *channelHandle) ensureRead() error {
	if err := h.requireOpen(h.path); err != nil {
		return err
	}
	if h.rf != nil {
		return nil
	}
	h.rf = h.filesys.Open(h.path)
	h.size = h.rf.Size()
	if h.onOpen != nil {
		h.onOpen(h)
	}
	return nil
}

func (h *channelHandle) Append(p []byte) error {
	if err := h.requireOpen(h.path); err != nil {
		return err
	}
	if !h.writer || h.wf == nil {
		return errs.NewIoError(errs.NotWritable, h.path, nil)
	}
	n, err := h.wf.Write(p)
	if err != nil {
		return errs.NewIoError(errs.Other, h.path, err)
	}
	if n != len(p) {
		return &errs.FailedToWriteAllBytesError{Expected: len(p), Actual: n, SliceSize: len(p)}
	}
	h.size += n
	return h.wf.Sync()
}

func (h *channelHandle) Read(position int, size int) ([]byte, error) {
	if err := h.ensureRead(); err != nil {
		return nil, err
	}
	return h.rf.ReadAt(position, size), nil
}

func (h *channelHandle) Get(position int) (byte, error) {
	b, err := h.Read(position, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (h *channelHandle) ReadAll() ([]byte, error) {
	return h.Read(0, h.FileSize())
}

func (h *channelHandle) FileSize() int {
	if h.writer && h.wf != nil {
		return h.size
	}
	if h.rf != nil {
		return h.size
	}
	// not yet opened for read: peek without disturbing writer state
	rf := h.filesys.Open(h.path)
	defer rf.Close()
	return rf.Size()
}

func (h *channelHandle) Close() error {
	if !h.closeOnce() {
		return nil
	}
	if h.wf != nil {
		err := h.wf.Close()
		h.wf = nil
		h.writer = false
		if err != nil {
			return errs.NewIoError(errs.Other, h.path, err)
		}
		return nil
	}
	if h.rf != nil {
		err := h.rf.Close()
		h.rf = nil
		if err != nil {
			return errs.NewIoError(errs.Other, h.path, err)
		}
	}
	return nil
}

func (h *channelHandle) Delete() error {
	if h.IsOpen() {
		return errs.NewIoError(errs.Other, h.path, errs.ErrNotOpen)
	}
	h.filesys.Delete(h.path)
	return nil
}

func (h *channelHandle) CopyTo(path string) (Handle, error) {
	data, err := h.ReadAll()
	if err != nil {
		return nil, err
	}
	h.filesys.AtomicCreateWith(path, data)
	return NewChannelRead(h.filesys, path, h.onOpen), nil
}
