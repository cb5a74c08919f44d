package kv

// MaybeValue is a poor man's option(Value): Present distinguishes a real,
// possibly-empty value from no value at all (the reference codebase's
// MaybeValue/MaybeMaybeValue pattern, generalized to byte values).
type MaybeValue struct {
	Present bool
	Value   []byte
}

// NoValue is the absent value.
var NoValue = MaybeValue{}

// SomeValue wraps v as a present value.
func SomeValue(v []byte) MaybeValue { return MaybeValue{Present: true, Value: v} }

// ValueSource is the one polymorphic leaf in the Entry sum type: a memory
// entry's value is already materialized, a persistent entry's value is a
// lazy (offset, length) read against its segment's file handle. Both are
// captured behind this single-method interface so Entry itself stays a
// plain struct.
type ValueSource interface {
	Fetch() (MaybeValue, error)
}

type memValue struct {
	present bool
	bytes   []byte
}

func (m memValue) Fetch() (MaybeValue, error) {
	if !m.present {
		return NoValue, nil
	}
	return SomeValue(m.bytes), nil
}

// MemValue wraps an already-materialized, possibly-absent value.
func MemValue(v MaybeValue) ValueSource {
	return memValue{present: v.Present, bytes: v.Value}
}

// ValueReader fetches length bytes starting at offset from a segment's
// values block. Segment supplies this, bound to its open file handle.
type ValueReader func(offset uint64, length uint32) ([]byte, error)

type fileValue struct {
	present bool
	offset  uint64
	length  uint32
	read    ValueReader
}

func (f fileValue) Fetch() (MaybeValue, error) {
	if !f.present {
		return NoValue, nil
	}
	b, err := f.read(f.offset, f.length)
	if err != nil {
		return NoValue, err
	}
	return SomeValue(b), nil
}

// FileValue wraps a lazy (offset, length) read into a segment's values
// block. present must be false for variants that carry no value (PutNoV,
// UpdateNoV, Remove).
func FileValue(present bool, offset uint64, length uint32, read ValueReader) ValueSource {
	return fileValue{present: present, offset: offset, length: length, read: read}
}
