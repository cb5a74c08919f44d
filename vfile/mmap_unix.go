//go:build unix

package vfile

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/hollowtree/segmentdb/errs"
	"github.com/hollowtree/segmentdb/fs"
)

// mappedHandle is a read_write mmap of bufferSize bytes over an OS file.
// append writes through the map and advances position; on overflow it
// forces the map, releases it to the cleaner, extends the file, and remaps
// from 0 to the new required size.
type mappedHandle struct {
	*openFlag
	filesys  fs.Filesys
	path     string
	file     *os.File
	region   []byte
	position int
	readOnly bool
	cleaner  *Cleaner
	onOpen   func(Handle)
}

// NewMapped opens path as a read-write memory map sized to at least
// initialSize bytes (rounded up to fit the file as it currently stands).
func NewMapped(filesys fs.Filesys, path string, initialSize int, readOnly bool, cleaner *Cleaner, onOpen func(Handle)) (Handle, error) {
	osFile, err := openOSFile(filesys, path, initialSize, readOnly)
	if err != nil {
		return nil, err
	}
	size := initialSize
	if st, statErr := osFile.Stat(); statErr == nil && int(st.Size()) > size {
		size = int(st.Size())
	}
	prot := unix.PROT_READ
	if !readOnly {
		prot |= unix.PROT_WRITE
	}
	region, err := unix.Mmap(int(osFile.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		osFile.Close()
		return nil, errs.NewIoError(errs.Other, path, err)
	}
	h := &mappedHandle{
		openFlag: newOpenFlag(), filesys: filesys, path: path, file: osFile,
		region: region, readOnly: readOnly, cleaner: cleaner, onOpen: onOpen,
	}
	if onOpen != nil {
		onOpen(h)
	}
	return h, nil
}

func openOSFile(filesys fs.Filesys, path string, size int, readOnly bool) (*os.File, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil && !readOnly && os.IsNotExist(err) {
		f, err = os.Create(path)
		if err == nil && size > 0 {
			err = f.Truncate(int64(size))
		}
	}
	if err != nil {
		return nil, errs.NewIoError(errs.NotFound, path, err)
	}
	return f, nil
}

func (h *mappedHandle) Append(p []byte) error {
	if err := h.requireOpen(h.path); err != nil {
		return err
	}
	if h.readOnly {
		return errs.NewIoError(errs.ReadOnlyMap, h.path, nil)
	}
	if h.position+len(p) > len(h.region) {
		if err := h.grow(h.position + len(p)); err != nil {
			return err
		}
	}
	copy(h.region[h.position:], p)
	h.position += len(p)
	return nil
}

// grow forces the current mapping, releases it to the cleaner, extends the
// file, and remaps from 0 to required bytes, restoring position.
func (h *mappedHandle) grow(required int) error {
	if err := unix.Msync(h.region, unix.MS_SYNC); err != nil {
		return errs.NewIoError(errs.Other, h.path, err)
	}
	old := h.region
	h.cleaner.Release(h.path, old, func(b []byte) error { return unix.Munmap(b) })
	if err := h.file.Truncate(int64(required)); err != nil {
		return errs.NewIoError(errs.BufferOverflow, h.path, err)
	}
	region, err := unix.Mmap(int(h.file.Fd()), 0, required, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errs.NewIoError(errs.BufferOverflow, h.path, err)
	}
	h.region = region
	return nil
}

func (h *mappedHandle) Read(position int, size int) ([]byte, error) {
	if err := h.requireOpen(h.path); err != nil {
		return nil, err
	}
	if position < 0 {
		position += len(h.region)
	}
	if position < 0 || position+size > len(h.region) {
		return nil, errs.NewFormatError("mmap read out of bounds for %s: position=%d size=%d len=%d", h.path, position, size, len(h.region))
	}
	out := make([]byte, size)
	copy(out, h.region[position:position+size])
	return out, nil
}

func (h *mappedHandle) Get(position int) (byte, error) {
	b, err := h.Read(position, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (h *mappedHandle) ReadAll() ([]byte, error) { return h.Read(0, h.FileSize()) }

func (h *mappedHandle) FileSize() int { return h.position }

func (h *mappedHandle) Close() error {
	if !h.closeOnce() {
		return nil
	}
	if !h.readOnly {
		if err := unix.Msync(h.region, unix.MS_SYNC); err != nil {
			return errs.NewIoError(errs.Other, h.path, err)
		}
	}
	region := h.region
	h.region = nil
	h.cleaner.Release(h.path, region, func(b []byte) error { return unix.Munmap(b) })
	return h.file.Close()
}

func (h *mappedHandle) Delete() error {
	if h.IsOpen() {
		return errs.NewIoError(errs.Other, h.path, errs.ErrNotOpen)
	}
	return os.Remove(h.path)
}

func (h *mappedHandle) CopyTo(path string) (Handle, error) {
	data, err := h.ReadAll()
	if err != nil {
		return nil, err
	}
	h.filesys.AtomicCreateWith(path, data)
	return NewChannelRead(h.filesys, path, h.onOpen), nil
}
