// Package segment implements the on-disk sorted-run format: index entry
// and footer encoding/decoding, the bloom filter, the in-memory cache, the
// key matcher, and the Segment type itself.
package segment

import (
	"bytes"
	"hash/crc32"

	"github.com/hollowtree/segmentdb/bin"
	"github.com/hollowtree/segmentdb/errs"
	"github.com/hollowtree/segmentdb/kv"
)

// Tag is the on-disk variant discriminator for an index entry.
type Tag uint8

const (
	TagPutV      Tag = 1
	TagPutNoV    Tag = 2
	TagUpdateV   Tag = 3
	TagUpdateNoV Tag = 4
	TagRemove    Tag = 5
	TagRange     Tag = 6
)

func tagFor(kind kv.Kind, hasValue bool) Tag {
	switch kind {
	case kv.KindPut:
		if hasValue {
			return TagPutV
		}
		return TagPutNoV
	case kv.KindUpdate:
		if hasValue {
			return TagUpdateV
		}
		return TagUpdateNoV
	case kv.KindRemove:
		return TagRemove
	case kv.KindRange:
		return TagRange
	default:
		panic("segment: unknown kind")
	}
}

func fixedKindFor(tag Tag) (kv.Kind, bool) {
	switch tag {
	case TagPutV:
		return kv.KindPut, true
	case TagPutNoV:
		return kv.KindPut, false
	case TagUpdateV:
		return kv.KindUpdate, true
	case TagUpdateNoV:
		return kv.KindUpdate, false
	case TagRemove:
		return kv.KindRemove, false
	default:
		panic("segment: not a fixed tag")
	}
}

const magic = uint32(0x53444253) // "SBDS" little-endian
const formatVersion = 1

// footer is the fixed-shape trailer of a segment file.
type footer struct {
	KVCount     uint64
	HasRange    bool
	Bloom       []byte // nil if absent
	MinKey      []byte
	MaxKey      []byte // for a segment holding a Range, covers its ToKey too
	IndexOffset uint64
	IndexLength uint64

	// NearestExpiryMs is the smallest EffectiveDeadline (in epoch millis)
	// carried by any entry in the segment, or 0 if none has a deadline.
	NearestExpiryMs uint64

	// SegmentSize is the total on-disk size of the finished file,
	// including this footer. It is written as a fixed-width field rather
	// than a varint: a varint whose own value depends on the encoded
	// footer's length (which depends on the varint's width) is
	// self-referential, the same problem the index block's chaining
	// pointers solve for an analogous reason. The writer resolves this by
	// encoding the footer once with a placeholder to learn its length,
	// then again with the true value at the same fixed width.
	SegmentSize uint64
}

func encodeFooter(f footer) []byte {
	var buf bytes.Buffer
	enc := bin.NewEncoder(&buf)
	enc.Uint32(magic)
	enc.VarInt(formatVersion)
	enc.VarInt(f.KVCount)
	if f.HasRange {
		enc.Uint8(1)
	} else {
		enc.Uint8(0)
	}
	enc.VarInt(uint64(len(f.Bloom)))
	enc.Bytes(f.Bloom)
	enc.Array(f.MinKey)
	enc.Array(f.MaxKey)
	enc.VarInt(f.NearestExpiryMs)
	enc.VarInt(f.IndexOffset)
	enc.VarInt(f.IndexLength)
	enc.Uint64(f.SegmentSize)
	crc := crc32.ChecksumIEEE(buf.Bytes())
	enc.Uint32(crc)
	return buf.Bytes()
}

func decodeFooter(b []byte) (footer, error) {
	if len(b) < 4 {
		return footer{}, errs.NewFormatError("footer too short: %d bytes", len(b))
	}
	body, wantCRC := b[:len(b)-4], b[len(b)-4:]
	gotCRC := crc32.ChecksumIEEE(body)
	dec := bin.NewDecoder(append([]byte{}, body...))
	m := dec.Uint32()
	if m != magic {
		return footer{}, errs.NewFormatError("bad footer magic %x", m)
	}
	version := dec.VarInt()
	if version != formatVersion {
		return footer{}, errs.NewFormatError("unsupported segment format version %d", version)
	}
	var f footer
	f.KVCount = dec.VarInt()
	f.HasRange = dec.Uint8() == 1
	bloomLen := dec.VarInt()
	if bloomLen > 0 {
		f.Bloom = dec.Bytes(int(bloomLen))
	}
	f.MinKey = dec.Array()
	f.MaxKey = dec.Array()
	f.NearestExpiryMs = dec.VarInt()
	f.IndexOffset = dec.VarInt()
	f.IndexLength = dec.VarInt()
	f.SegmentSize = dec.Uint64()
	want := bin.NewDecoder(wantCRC).Uint32()
	if want != gotCRC {
		return footer{}, errs.NewFormatError("footer crc mismatch: want %x got %x", want, gotCRC)
	}
	return f, nil
}

// fixedValueRecord is the wire shape shared by a Fixed entry's own payload
// and a Range entry's fromValue/rangeValue payloads.
type fixedValueRecord struct {
	Tag         Tag
	DeadlineMs  uint64
	HasValue    bool
	ValueOffset uint64
	ValueLength uint32
}

func encodeFixedValue(enc *bin.Encoder, r fixedValueRecord) {
	enc.Uint8(uint8(r.Tag))
	enc.VarInt(r.DeadlineMs)
	if r.HasValue {
		enc.Uint8(1)
		enc.VarInt(r.ValueOffset)
		enc.VarInt(uint64(r.ValueLength))
	} else {
		enc.Uint8(0)
	}
}

func decodeFixedValue(dec *bin.Decoder) fixedValueRecord {
	var r fixedValueRecord
	r.Tag = Tag(dec.Uint8())
	r.DeadlineMs = dec.VarInt()
	if dec.Uint8() == 1 {
		r.HasValue = true
		r.ValueOffset = dec.VarInt()
		r.ValueLength = uint32(dec.VarInt())
	}
	return r
}

// indexRecord is a fully decoded index-block entry, independent of the
// kv.Entry it represents; the Segment layer maps between the two.
type indexRecord struct {
	Tag        Tag
	Key        []byte
	DeadlineMs uint64

	// Fixed-with-value tags only.
	ValueOffset uint64
	ValueLength uint32

	// Range only.
	ToKey      []byte
	HasFrom    bool
	FromValue  fixedValueRecord
	RangeValue fixedValueRecord

	NextIndexOffset uint64
	NextIndexSize   uint32
}

// encodeIndexRecordBody writes rec's body (everything except the trailing
// chaining pointer) and returns it, so the writer can learn its length
// before emitting the pointer fields that follow it on disk.
func encodeIndexRecordBody(prevKey []byte, rec indexRecord) []byte {
	var buf bytes.Buffer
	enc := bin.NewEncoder(&buf)
	enc.Uint8(uint8(rec.Tag))

	common := commonPrefixLen(prevKey, rec.Key)
	enc.VarInt(uint64(common))
	enc.Array(rec.Key[common:])

	enc.VarInt(rec.DeadlineMs)

	switch rec.Tag {
	case TagPutV, TagUpdateV:
		enc.VarInt(rec.ValueOffset)
		enc.VarInt(uint64(rec.ValueLength))
	case TagRange:
		enc.Array(rec.ToKey)
		if rec.HasFrom {
			enc.Uint8(1)
			encodeFixedValue(enc, rec.FromValue)
		} else {
			enc.Uint8(0)
		}
		encodeFixedValue(enc, rec.RangeValue)
	}
	return buf.Bytes()
}

// decodeIndexRecord decodes one record starting at dec's current position,
// given the preceding record's key for prefix expansion. Also consumes the
// trailing nextIndexOffset/nextIndexSize fields, which this codec encodes
// as fixed-width fields (see the writer for why: they would otherwise be
// self-referential with a true varint encoding).
func decodeIndexRecord(dec *bin.Decoder, prevKey []byte) indexRecord {
	var rec indexRecord
	rec.Tag = Tag(dec.Uint8())

	common := int(dec.VarInt())
	tail := dec.Array()
	key := make([]byte, common+len(tail))
	copy(key, prevKey[:common])
	copy(key[common:], tail)
	rec.Key = key

	rec.DeadlineMs = dec.VarInt()

	switch rec.Tag {
	case TagPutV, TagUpdateV:
		rec.ValueOffset = dec.VarInt()
		rec.ValueLength = uint32(dec.VarInt())
	case TagRange:
		rec.ToKey = dec.Array()
		if dec.Uint8() == 1 {
			rec.HasFrom = true
			rec.FromValue = decodeFixedValue(dec)
		}
		rec.RangeValue = decodeFixedValue(dec)
	}

	rec.NextIndexOffset = dec.Uint64()
	rec.NextIndexSize = dec.Uint32()
	return rec
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
