package segment

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"

	"github.com/hollowtree/segmentdb/errs"
)

// Filter is a probabilistic set-membership structure: false positives are
// allowed, false negatives are not. Sized up front from an expected element
// count and a target false-positive rate.
type Filter struct {
	m, k uint32
	seed uint32
	bits []byte
	mu   sync.RWMutex
}

// NewFilter sizes a filter for expectedElements entries at the given false
// positive rate (e.g. 0.01 for 1%).
func NewFilter(expectedElements int, falsePositiveRate float64) *Filter {
	if expectedElements <= 0 {
		expectedElements = 1
	}
	m := calculateM(expectedElements, falsePositiveRate)
	k := calculateK(expectedElements, m)
	return &Filter{m: m, k: k, seed: 0x5bd1e995, bits: make([]byte, (m+7)/8)}
}

func calculateM(n int, fpr float64) uint32 {
	if fpr <= 0 {
		fpr = 0.01
	}
	m := -float64(n) * math.Log(fpr) / (math.Ln2 * math.Ln2)
	if m < 8 {
		m = 8
	}
	return uint32(math.Ceil(m))
}

func calculateK(n int, m uint32) uint32 {
	k := (float64(m) / float64(n)) * math.Ln2
	if k < 1 {
		k = 1
	}
	return uint32(math.Round(k))
}

// doubleHash derives the k probe positions from two independent FNV hashes
// of data, combined per Kirsch-Mitzenmacher double hashing: h_i = h1 + i*h2.
func (f *Filter) doubleHash(data []byte) (h1, h2 uint64) {
	a := fnv.New64a()
	a.Write(data)
	seedBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(seedBuf, f.seed)
	a.Write(seedBuf)
	h1 = a.Sum64()

	b := fnv.New64()
	b.Write(data)
	b.Write(seedBuf)
	h2 = b.Sum64()
	return h1, h2
}

// Add inserts data into the filter.
func (f *Filter) Add(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h1, h2 := f.doubleHash(data)
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % uint64(f.m)
		f.bits[idx/8] |= 1 << (idx % 8)
	}
}

// MightContain reports whether data may be in the set; false means
// definitely absent.
func (f *Filter) MightContain(data []byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h1, h2 := f.doubleHash(data)
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % uint64(f.m)
		if f.bits[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}

// Serialize encodes the filter as [m(4B)][k(4B)][seed(4B)][bitset], all
// big-endian, for embedding in the segment footer.
func (f *Filter) Serialize() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	buf := make([]byte, 12+len(f.bits))
	binary.BigEndian.PutUint32(buf[0:4], f.m)
	binary.BigEndian.PutUint32(buf[4:8], f.k)
	binary.BigEndian.PutUint32(buf[8:12], f.seed)
	copy(buf[12:], f.bits)
	return buf
}

// DeserializeFilter reconstructs a filter written by Serialize.
func DeserializeFilter(data []byte) (*Filter, error) {
	if len(data) < 12 {
		return nil, errs.NewFormatError("bloom filter data too short: %d bytes", len(data))
	}
	m := binary.BigEndian.Uint32(data[0:4])
	k := binary.BigEndian.Uint32(data[4:8])
	seed := binary.BigEndian.Uint32(data[8:12])
	if m == 0 || k == 0 {
		return nil, errs.NewFormatError("bloom filter has zero m or k")
	}
	want := int((m + 7) / 8)
	if len(data[12:]) != want {
		return nil, errs.NewFormatError("bloom filter bitset length mismatch: want %d got %d", want, len(data[12:]))
	}
	bits := make([]byte, want)
	copy(bits, data[12:])
	return &Filter{m: m, k: k, seed: seed, bits: bits}, nil
}
