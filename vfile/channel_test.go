package vfile

import (
	"testing"

	"github.com/hollowtree/segmentdb/fs"
	"github.com/stretchr/testify/suite"
)

type ChannelSuite struct {
	suite.Suite
	fs fs.Filesys
}

func TestChannel(t *testing.T) {
	suite.Run(t, new(ChannelSuite))
}

func (s *ChannelSuite) SetupTest() {
	s.fs = fs.MemFs()
}

func (s *ChannelSuite) TestWriteThenRead() {
	w := NewChannelWrite(s.fs, "seg-0", nil)
	s.NoError(w.Append([]byte{1, 2, 3}))
	s.NoError(w.Append([]byte{4, 5}))
	s.Equal(5, w.FileSize())
	s.NoError(w.Close())

	r := NewChannelRead(s.fs, "seg-0", nil)
	all, err := r.ReadAll()
	s.NoError(err)
	s.Equal([]byte{1, 2, 3, 4, 5}, all)
	s.Equal(5, r.FileSize())

	got, err := r.Read(1, 3)
	s.NoError(err)
	s.Equal([]byte{2, 3, 4}, got)

	b, err := r.Get(0)
	s.NoError(err)
	s.Equal(byte(1), b)
	s.NoError(r.Close())
}

func (s *ChannelSuite) TestReadHandleRejectsAppend() {
	w := NewChannelWrite(s.fs, "seg-1", nil)
	s.NoError(w.Append([]byte{9}))
	s.NoError(w.Close())

	r := NewChannelRead(s.fs, "seg-1", nil)
	s.Error(r.Append([]byte{1}))
}

func (s *ChannelSuite) TestCloseIsIdempotent() {
	w := NewChannelWrite(s.fs, "seg-2", nil)
	s.NoError(w.Append([]byte{1}))
	s.NoError(w.Close())
	s.NoError(w.Close())
	s.False(w.IsOpen())
}

func (s *ChannelSuite) TestOperationsAfterCloseFail() {
	w := NewChannelWrite(s.fs, "seg-3", nil)
	s.NoError(w.Close())
	s.Error(w.Append([]byte{1}))
}

func (s *ChannelSuite) TestOnOpenCallback() {
	var opened int
	onOpen := func(Handle) { opened++ }
	w := NewChannelWrite(s.fs, "seg-4", onOpen)
	s.Equal(1, opened) // write opens eagerly
	s.NoError(w.Append([]byte{1, 2}))
	s.NoError(w.Close())

	r := NewChannelRead(s.fs, "seg-4", onOpen)
	s.Equal(1, opened) // lazy: not yet materialized
	_, err := r.Read(0, 1)
	s.NoError(err)
	s.Equal(2, opened) // materialized on first read
}

func (s *ChannelSuite) TestCopyTo() {
	w := NewChannelWrite(s.fs, "seg-5", nil)
	s.NoError(w.Append([]byte{7, 8, 9}))
	s.NoError(w.Close())

	r := NewChannelRead(s.fs, "seg-5", nil)
	copied, err := r.CopyTo("seg-5-copy")
	s.NoError(err)
	all, err := copied.ReadAll()
	s.NoError(err)
	s.Equal([]byte{7, 8, 9}, all)
}
