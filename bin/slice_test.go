package bin

import (
	"testing"

	"github.com/hollowtree/segmentdb/errs"
	"github.com/stretchr/testify/assert"
)

func TestBuildSliceAdd(t *testing.T) {
	s := NewBuildSlice(8)
	assert.NoError(t, s.Add([]byte{1, 2, 3}))
	assert.NoError(t, s.Add([]byte{4, 5}))
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, s.Bytes())
	assert.Equal(t, 5, s.Len())
	assert.Equal(t, 8, s.Cap())
}

func TestBuildSliceInsufficientCapacity(t *testing.T) {
	s := NewBuildSlice(2)
	assert.NoError(t, s.Add([]byte{1, 2}))
	assert.ErrorIs(t, s.Add([]byte{3}), errs.InsufficientCapacity)
}

func TestViewSliceIsImmutable(t *testing.T) {
	v := NewViewSlice([]byte{1, 2, 3})
	assert.Equal(t, 3, v.Len())
	assert.Equal(t, 3, v.Cap())
	assert.Panics(t, func() { _ = v.Add([]byte{4}) })
}

func TestSliceView(t *testing.T) {
	s := NewBuildSlice(8)
	assert.NoError(t, s.Add([]byte{1, 2, 3, 4, 5}))
	sub := s.View(1, 3)
	assert.Equal(t, []byte{2, 3, 4}, sub.Bytes())
	assert.False(t, sub.IsBuild())
}

func TestAddUnsignedVarint(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 40} {
		s := NewBuildSlice(10)
		assert.NoError(t, s.AddUnsigned(v))
		d := NewDecoder(s.Bytes())
		assert.Equal(t, v, d.VarInt())
	}
}
