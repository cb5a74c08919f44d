package segment

import (
	"testing"

	"github.com/hollowtree/segmentdb/fs"
	"github.com/hollowtree/segmentdb/kv"
	"github.com/hollowtree/segmentdb/vfile"
	"github.com/stretchr/testify/suite"
)

type SegmentSuite struct {
	suite.Suite
	fs fs.Filesys
}

func TestSegment(t *testing.T) {
	suite.Run(t, new(SegmentSuite))
}

func (s *SegmentSuite) SetupTest() {
	s.fs = fs.MemFs()
}

func (s *SegmentSuite) writeSegment(path string, entries []kv.Entry, bloomFPR float64) *Segment {
	w := NewWriter(vfile.NewChannelWrite(s.fs, path, nil), kv.Lexicographic(), bloomFPR)
	for _, e := range entries {
		s.Require().NoError(w.Add(e))
	}
	_, err := w.Finish()
	s.Require().NoError(err)
	return Open(path, vfile.NewChannelRead(s.fs, path, nil), Options{})
}

func (s *SegmentSuite) TestPutThenGet() {
	entries := []kv.Entry{
		kv.NewPut([]byte{1, 2, 3}, kv.MemValue(kv.SomeValue([]byte{9})), kv.NoDeadline()),
	}
	seg := s.writeSegment("seg-a", entries, 0.01)

	got, ok, err := seg.Get([]byte{1, 2, 3})
	s.NoError(err)
	s.True(ok)
	v, err := got.GetValue()
	s.NoError(err)
	s.Equal([]byte{9}, v.Value)

	_, ok, err = seg.Get([]byte{1, 2, 4})
	s.NoError(err)
	s.False(ok)
}

func (s *SegmentSuite) TestMultipleKeysOrderedTraversal() {
	entries := []kv.Entry{
		kv.NewPut([]byte("a"), kv.MemValue(kv.SomeValue([]byte("1"))), kv.NoDeadline()),
		kv.NewPut([]byte("b"), kv.MemValue(kv.SomeValue([]byte("2"))), kv.NoDeadline()),
		kv.NewPut([]byte("c"), kv.MemValue(kv.SomeValue([]byte("3"))), kv.NoDeadline()),
	}
	seg := s.writeSegment("seg-b", entries, 0)

	lower, ok, err := seg.Lower([]byte("c"))
	s.NoError(err)
	s.True(ok)
	s.Equal([]byte("b"), lower.Key)

	higher, ok, err := seg.Higher([]byte("a"))
	s.NoError(err)
	s.True(ok)
	s.Equal([]byte("b"), higher.Key)

	head, ok, err := seg.Head()
	s.NoError(err)
	s.True(ok)
	s.Equal([]byte("a"), head.Key)

	last, ok, err := seg.Last()
	s.NoError(err)
	s.True(ok)
	s.Equal([]byte("c"), last.Key)
}

func (s *SegmentSuite) TestGetAllRoundTrips() {
	entries := []kv.Entry{
		kv.NewPut([]byte("k1"), kv.MemValue(kv.SomeValue([]byte("v1"))), kv.NoDeadline()),
		kv.NewRemove([]byte("k2"), kv.NoDeadline()),
	}
	seg := s.writeSegment("seg-c", entries, 0)
	all, err := seg.GetAll()
	s.NoError(err)
	s.Len(all, 2)
	s.Equal([]byte("k1"), all[0].Key)
	s.Equal([]byte("k2"), all[1].Key)
	s.Equal(kv.KindRemove, all[1].Kind)
}

func (s *SegmentSuite) TestRangeEntryGet() {
	fromValue := kv.FixedValue{Kind: kv.KindPut, Value: kv.MemValue(kv.SomeValue([]byte("from")))}
	rangeValue := kv.FixedValue{Kind: kv.KindUpdate, Value: kv.MemValue(kv.SomeValue([]byte("range")))}
	entries := []kv.Entry{
		kv.NewRange([]byte("m"), []byte("p"), &fromValue, rangeValue),
	}
	seg := s.writeSegment("seg-d", entries, 0)

	got, ok, err := seg.Get([]byte("n"))
	s.NoError(err)
	s.True(ok)
	s.True(got.IsRange())
	s.Equal([]byte("m"), got.Key)
	s.Equal([]byte("p"), got.ToKey)

	_, ok, err = seg.Get([]byte("z"))
	s.NoError(err)
	s.False(ok)
}

func (s *SegmentSuite) TestMightContainAndBloomFilter() {
	entries := []kv.Entry{
		kv.NewPut([]byte("x"), nil, kv.NoDeadline()),
	}
	seg := s.writeSegment("seg-e", entries, 0.01)
	s.NotNil(seg.GetBloomFilter())
	s.True(seg.MightContain([]byte("x")))
}

func (s *SegmentSuite) TestGetKeyValueCountAndHasRange() {
	entries := []kv.Entry{
		kv.NewPut([]byte("x"), nil, kv.NoDeadline()),
	}
	seg := s.writeSegment("seg-f", entries, 0)
	count, err := seg.GetKeyValueCount()
	s.NoError(err)
	s.Equal(1, count)
	hasRange, err := seg.HasRange()
	s.NoError(err)
	s.False(hasRange)
}

func (s *SegmentSuite) TestCloseClearsFooterCache() {
	entries := []kv.Entry{kv.NewPut([]byte("x"), nil, kv.NoDeadline())}
	seg := s.writeSegment("seg-g", entries, 0)
	_, err := seg.GetKeyValueCount()
	s.NoError(err)
	s.True(seg.IsFooterDefined())
	s.NoError(seg.Close())
	s.False(seg.IsFooterDefined())
}
