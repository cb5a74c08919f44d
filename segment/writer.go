package segment

import (
	"bytes"

	"github.com/hollowtree/segmentdb/bin"
	"github.com/hollowtree/segmentdb/kv"
	"github.com/hollowtree/segmentdb/vfile"
)

// Stats accumulates size projections as entries are added to an
// in-progress output segment, so the merger can decide when to close it
// and start a fresh one.
type Stats struct {
	KeyValueCount     int
	ValuesBytes       int
	IndexBytes        int
	segmentSize       int // persistent projection: values + index records with their 12-byte chain pointers; the footer is not counted
	memorySegmentSize int // in-memory projection: just the logical payload size
}

func (s *Stats) add(valueLen, indexBodyLen int) {
	s.KeyValueCount++
	s.ValuesBytes += valueLen
	s.IndexBytes += indexBodyLen
	s.segmentSize += valueLen + indexBodyLen + 12 // + fixed-width chain pointer
	s.memorySegmentSize += valueLen + indexBodyLen
}

// SegmentSize returns the current persistent-size projection.
func (s *Stats) SegmentSize() int { return s.segmentSize }

// MemorySegmentSize returns the current in-memory-size projection.
func (s *Stats) MemorySegmentSize() int { return s.memorySegmentSize }

// Writer accumulates entries in key order and, on Finish, writes the
// values block, index block, and footer through a vfile.Handle.
type Writer struct {
	handle   vfile.Handle
	ord      kv.Ordering
	bloomFPR float64

	values      bytes.Buffer
	indexBodies [][]byte
	keys        [][]byte
	hasRange    bool
	stats       Stats
	prevKey     []byte

	minKey          []byte
	maxKey          []byte
	nearestExpiryMs uint64 // 0 means none seen yet
}

// NewWriter begins writing a new output segment to handle.
func NewWriter(handle vfile.Handle, ord kv.Ordering, bloomFPR float64) *Writer {
	return &Writer{handle: handle, ord: ord, bloomFPR: bloomFPR}
}

// Stats returns the accumulator's current state, for the merger's
// size-threshold decision.
func (w *Writer) Stats() *Stats { return &w.stats }

// Add appends one entry in key order. Values are materialized into the
// values block immediately; callers are responsible for only calling Add
// in strictly increasing key order (a programming invariant, not an
// environment-dependent failure, so violating it panics).
func (w *Writer) Add(e kv.Entry) error {
	if len(w.keys) > 0 && w.ord.Compare(w.keys[len(w.keys)-1], e.Key) >= 0 {
		panic("segment: Add called out of key order")
	}

	rec := indexRecord{Key: e.Key, DeadlineMs: uint64(e.Deadline.Millis())}
	valueLen := 0

	if e.IsRange() {
		w.hasRange = true
		rec.Tag = TagRange
		rec.ToKey = e.ToKey
		if e.FromValue != nil {
			fv, n, err := w.writeFixedValue(*e.FromValue)
			if err != nil {
				return err
			}
			rec.HasFrom = true
			rec.FromValue = fv
			valueLen += n
		}
		rv, n, err := w.writeFixedValue(e.RangeValue)
		if err != nil {
			return err
		}
		rec.RangeValue = rv
		valueLen += n
	} else {
		v, err := e.GetValue()
		if err != nil {
			return err
		}
		rec.Tag = tagFor(e.Kind, v.Present)
		if v.Present {
			rec.ValueOffset = uint64(w.values.Len())
			rec.ValueLength = uint32(len(v.Value))
			w.values.Write(v.Value)
			valueLen = len(v.Value)
		}
	}

	body := encodeIndexRecordBody(w.prevKey, rec)
	w.indexBodies = append(w.indexBodies, body)
	w.keys = append(w.keys, e.Key)
	w.stats.add(valueLen, len(body))
	w.prevKey = e.Key

	if w.minKey == nil {
		w.minKey = e.Key
	}
	upper := e.Key
	if e.IsRange() {
		upper = e.ToKey
	}
	if w.maxKey == nil || w.ord.Compare(upper, w.maxKey) > 0 {
		w.maxKey = upper
	}
	if dl := e.EffectiveDeadline(); dl.Valid {
		ms := uint64(dl.Millis())
		if w.nearestExpiryMs == 0 || ms < w.nearestExpiryMs {
			w.nearestExpiryMs = ms
		}
	}
	return nil
}

func (w *Writer) writeFixedValue(fv kv.FixedValue) (fixedValueRecord, int, error) {
	rec := fixedValueRecord{Tag: tagFor(fv.Kind, false), DeadlineMs: uint64(fv.Deadline.Millis())}
	v, err := fv.Get()
	if err != nil {
		return rec, 0, err
	}
	if v.Present {
		rec.Tag = tagFor(fv.Kind, true)
		rec.HasValue = true
		rec.ValueOffset = uint64(w.values.Len())
		rec.ValueLength = uint32(len(v.Value))
		w.values.Write(v.Value)
		return rec, len(v.Value), nil
	}
	return rec, 0, nil
}

// Finish writes the values block, index block (with chaining pointers
// resolved now that every body's length is known), and footer, then
// closes the handle and returns its final size.
func (w *Writer) Finish() (int, error) {
	if err := w.handle.Append(w.values.Bytes()); err != nil {
		return 0, err
	}
	indexOffset := w.values.Len()

	var indexBuf bytes.Buffer
	enc := bin.NewEncoder(&indexBuf)
	offset := 0
	sizes := make([]int, len(w.indexBodies))
	for i, b := range w.indexBodies {
		sizes[i] = len(b) + 12
	}
	for i, b := range w.indexBodies {
		enc.Bytes(b)
		var nextOffset uint64
		var nextSize uint32
		if i+1 < len(w.indexBodies) {
			nextOffset = uint64(offset + sizes[i])
			nextSize = uint32(sizes[i+1])
		}
		enc.Uint64(nextOffset)
		enc.Uint32(nextSize)
		offset += sizes[i]
	}
	if err := w.handle.Append(indexBuf.Bytes()); err != nil {
		return 0, err
	}
	indexLength := indexBuf.Len()

	f := footer{
		KVCount:         uint64(len(w.keys)),
		HasRange:        w.hasRange,
		MinKey:          w.minKey,
		MaxKey:          w.maxKey,
		NearestExpiryMs: w.nearestExpiryMs,
		IndexOffset:     uint64(indexOffset),
		IndexLength:     uint64(indexLength),
	}
	if w.bloomFPR > 0 && len(w.keys) > 0 {
		bf := NewFilter(len(w.keys), w.bloomFPR)
		for _, k := range w.keys {
			bf.Add(k)
		}
		f.Bloom = bf.Serialize()
	}

	// SegmentSize describes the file's own total length, so it can't be
	// known until the footer that carries it is itself encoded. Encode
	// once to learn that length (the field is fixed-width, so its value
	// doesn't affect the length of this pass), then encode again with the
	// true total.
	probe := encodeFooter(f)
	f.SegmentSize = uint64(indexOffset) + uint64(indexLength) + uint64(len(probe))
	footerBytes := encodeFooter(f)
	if err := w.handle.Append(footerBytes); err != nil {
		return 0, err
	}
	size := w.handle.FileSize()
	return size, w.handle.Close()
}

// Abort discards this writer's output: closes and deletes the handle.
// Cleanup errors are swallowed, matching the merger's best-effort policy.
func (w *Writer) Abort() {
	_ = w.handle.Close()
	_ = w.handle.Delete()
}

// Empty reports whether any entry has been added yet.
func (w *Writer) Empty() bool { return len(w.keys) == 0 }

// Keys exposes the keys written so far, in the order they were added.
func (w *Writer) Keys() [][]byte { return w.keys }
