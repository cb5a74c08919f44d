package merge

import (
	"testing"
	"time"

	"github.com/hollowtree/segmentdb/kv"
	"github.com/stretchr/testify/assert"
)

func alwaysTimeLeft(kv.Deadline) bool { return true }
func neverTimeLeft(kv.Deadline) bool  { return false }

func TestUpdateOverPutFillsValue(t *testing.T) {
	newVal := kv.FixedValue{Kind: kv.KindUpdate, Value: kv.MemValue(kv.SomeValue([]byte("9")))}
	oldVal := kv.FixedValue{Kind: kv.KindPut, Deadline: kv.AtMillis(100), Value: kv.MemValue(kv.SomeValue([]byte("1")))}
	got := ResolveFixed(newVal, oldVal, alwaysTimeLeft)
	assert.Equal(t, kv.KindPut, got.Kind)
	assert.Equal(t, int64(100), got.Deadline.Millis())
	v, _ := got.Get()
	assert.Equal(t, []byte("9"), v.Value)
}

func TestRemoveWithFutureDeadlineAcceleratesExpiry(t *testing.T) {
	newVal := kv.FixedValue{Kind: kv.KindRemove, Deadline: kv.AtMillis(5000)}
	oldVal := kv.FixedValue{Kind: kv.KindPut, Deadline: kv.AtMillis(20000), Value: kv.MemValue(kv.SomeValue([]byte("1")))}
	got := ResolveFixed(newVal, oldVal, alwaysTimeLeft)
	assert.Equal(t, kv.KindPut, got.Kind)
	assert.Equal(t, int64(5000), got.Deadline.Millis())
}

func TestRemoveWithNoDeadlineIsImmediateDelete(t *testing.T) {
	newVal := kv.FixedValue{Kind: kv.KindRemove}
	oldVal := kv.FixedValue{Kind: kv.KindPut, Value: kv.MemValue(kv.SomeValue([]byte("1")))}
	got := ResolveFixed(newVal, oldVal, alwaysTimeLeft)
	assert.Equal(t, kv.KindRemove, got.Kind)
	assert.False(t, got.Deadline.Valid)
}

func TestRemoveAlreadyExpiredWinsOutright(t *testing.T) {
	newVal := kv.FixedValue{Kind: kv.KindRemove, Deadline: kv.AtMillis(1)}
	oldVal := kv.FixedValue{Kind: kv.KindPut, Deadline: kv.AtMillis(999999), Value: kv.MemValue(kv.SomeValue([]byte("1")))}
	got := ResolveFixed(newVal, oldVal, neverTimeLeft)
	assert.Equal(t, kv.KindRemove, got.Kind)
	assert.Equal(t, int64(1), got.Deadline.Millis())
}

func TestPutAlwaysWinsOutright(t *testing.T) {
	newVal := kv.FixedValue{Kind: kv.KindPut, Value: kv.MemValue(kv.SomeValue([]byte("new")))}
	for _, oldKind := range []kv.Kind{kv.KindPut, kv.KindUpdate, kv.KindRemove} {
		got := ResolveFixed(newVal, kv.FixedValue{Kind: oldKind}, alwaysTimeLeft)
		assert.Equal(t, kv.KindPut, got.Kind)
	}
}

func TestRemoveOverRemoveTakesSoonerDeadline(t *testing.T) {
	newVal := kv.FixedValue{Kind: kv.KindRemove, Deadline: kv.AtMillis(50)}
	oldVal := kv.FixedValue{Kind: kv.KindRemove, Deadline: kv.AtMillis(10)}
	got := ResolveFixed(newVal, oldVal, alwaysTimeLeft)
	assert.Equal(t, int64(10), got.Deadline.Millis())
}

func TestDropOnLastLevel(t *testing.T) {
	assert.True(t, DropOnLastLevel(kv.FixedValue{Kind: kv.KindRemove}, alwaysTimeLeft))
	assert.True(t, DropOnLastLevel(kv.FixedValue{Kind: kv.KindUpdate}, alwaysTimeLeft))
	assert.False(t, DropOnLastLevel(kv.FixedValue{Kind: kv.KindPut}, alwaysTimeLeft))
	expired := kv.NewDeadline(time.Now().Add(-time.Hour))
	assert.True(t, DropOnLastLevel(kv.FixedValue{Kind: kv.KindPut, Deadline: expired}, kv.RealClock(time.Now())))
}

func TestResolveAtKeyRangeDominatesFixed(t *testing.T) {
	rangeVal := kv.FixedValue{Kind: kv.KindUpdate, Value: kv.MemValue(kv.SomeValue([]byte("7")))}
	rangeEntry := kv.NewRange([]byte("5"), []byte("9"), nil, rangeVal)
	oldEntry := kv.NewPut([]byte("5"), kv.MemValue(kv.SomeValue([]byte("orig"))), kv.NoDeadline())

	got := ResolveAtKey([]byte("5"), rangeEntry, oldEntry, kv.Lexicographic(), alwaysTimeLeft)
	assert.Equal(t, kv.KindPut, got.Kind)
	v, _ := got.GetValue()
	assert.Equal(t, []byte("7"), v.Value)
}

func TestResolveAtKeyFromValueOverridesAtFromKey(t *testing.T) {
	fromVal := kv.FixedValue{Kind: kv.KindPut, Value: kv.MemValue(kv.SomeValue([]byte("from")))}
	rangeVal := kv.FixedValue{Kind: kv.KindPut, Value: kv.MemValue(kv.SomeValue([]byte("range")))}
	rangeEntry := kv.NewRange([]byte("5"), []byte("9"), &fromVal, rangeVal)
	oldEntry := kv.NewRemove([]byte("5"), kv.NoDeadline())

	got := ResolveAtKey([]byte("5"), rangeEntry, oldEntry, kv.Lexicographic(), alwaysTimeLeft)
	v, _ := got.GetValue()
	assert.Equal(t, []byte("from"), v.Value)
}
