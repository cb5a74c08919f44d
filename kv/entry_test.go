package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPutGetValue(t *testing.T) {
	e := NewPut([]byte("k"), MemValue(SomeValue([]byte("v"))), NoDeadline())
	v, err := e.GetValue()
	assert.NoError(t, err)
	assert.True(t, v.Present)
	assert.Equal(t, []byte("v"), v.Value)
	assert.True(t, e.IsFixed())
	assert.False(t, e.IsRange())
}

func TestNewRemoveHasNoValue(t *testing.T) {
	e := NewRemove([]byte("k"), NoDeadline())
	v, err := e.GetValue()
	assert.NoError(t, err)
	assert.False(t, v.Present)
}

func TestGetValuePanicsOnRange(t *testing.T) {
	e := NewRange([]byte("a"), []byte("z"), nil, FixedValue{Kind: KindRemove})
	assert.Panics(t, func() { _, _ = e.GetValue() })
}

func TestRangeCovers(t *testing.T) {
	e := NewRange([]byte("a"), []byte("m"), nil, FixedValue{Kind: KindRemove})
	ord := Lexicographic()
	assert.True(t, e.Covers([]byte("a"), ord))
	assert.True(t, e.Covers([]byte("f"), ord))
	assert.False(t, e.Covers([]byte("m"), ord))
	assert.False(t, e.Covers([]byte("0"), ord))
}

func TestCoversPanicsOnFixed(t *testing.T) {
	e := NewPut([]byte("k"), nil, NoDeadline())
	assert.Panics(t, func() { e.Covers([]byte("k"), Lexicographic()) })
}

func TestEffectiveDeadlineFixed(t *testing.T) {
	d := AtMillis(100)
	e := NewPut([]byte("k"), nil, d)
	assert.Equal(t, d, e.EffectiveDeadline())
}

func TestEffectiveDeadlineRangeTakesEarlier(t *testing.T) {
	from := FixedValue{Kind: KindPut, Deadline: AtMillis(200)}
	rangeVal := FixedValue{Kind: KindRemove, Deadline: AtMillis(100)}
	e := NewRange([]byte("a"), []byte("z"), &from, rangeVal)
	assert.Equal(t, int64(100), e.EffectiveDeadline().Millis())
}

func TestEffectiveDeadlineRangeNoFromValue(t *testing.T) {
	rangeVal := FixedValue{Kind: KindRemove, Deadline: AtMillis(50)}
	e := NewRange([]byte("a"), []byte("z"), nil, rangeVal)
	assert.Equal(t, int64(50), e.EffectiveDeadline().Millis())
}

func TestAsFixedValueRoundTrip(t *testing.T) {
	v := MemValue(SomeValue([]byte("x")))
	e := NewUpdate([]byte("k"), v, AtMillis(10))
	fv := e.AsFixedValue()
	assert.Equal(t, KindUpdate, fv.Kind)
	assert.Equal(t, int64(10), fv.Deadline.Millis())

	back := WithFixedValue([]byte("k2"), fv)
	assert.Equal(t, []byte("k2"), back.Key)
	assert.Equal(t, KindUpdate, back.Kind)
	got, err := back.GetValue()
	assert.NoError(t, err)
	assert.Equal(t, []byte("x"), got.Value)
}

func TestFixedValueGetAbsent(t *testing.T) {
	fv := FixedValue{Kind: KindRemove}
	v, err := fv.Get()
	assert.NoError(t, err)
	assert.False(t, v.Present)
	assert.False(t, fv.HasValue())
}
