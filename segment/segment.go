package segment

import (
	"log"
	"sync/atomic"

	"github.com/hollowtree/segmentdb/bin"
	"github.com/hollowtree/segmentdb/errs"
	"github.com/hollowtree/segmentdb/kv"
	"github.com/hollowtree/segmentdb/vfile"
)

// Segment is a read-only sorted run identified by a file path. Writing new
// segments from a merge lives in the merge package (Merge and Split) rather
// than in methods here, so this package never imports merge: merge depends
// on segment, not the reverse.
type Segment struct {
	Path string

	handle vfile.Handle
	ord    kv.Ordering
	logger *log.Logger

	footer    atomic.Pointer[footer]
	bloom     atomic.Pointer[Filter]
	cache     *cache
	onCache   func(kv.Entry, *Segment)
	removeDeletes bool

	indexBlock atomic.Pointer[[]byte]
}

// Options configures a Segment at open time.
type Options struct {
	Ordering      kv.Ordering
	Logger        *log.Logger
	OnCache       func(kv.Entry, *Segment)
	RemoveDeletes bool // this segment resides in the last level
}

// Open wraps an already-written segment file's handle for reading.
func Open(path string, handle vfile.Handle, opts Options) *Segment {
	ord := opts.Ordering
	if ord == nil {
		ord = kv.Lexicographic()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Segment{Path: path, handle: handle, ord: ord, logger: logger, onCache: opts.OnCache, removeDeletes: opts.RemoveDeletes}
	s.cache = newCache(ord, func(e kv.Entry) {
		if s.onCache != nil {
			s.onCache(e, s)
		}
	})
	return s
}

func (s *Segment) loadFooter() (*footer, error) {
	if f := s.footer.Load(); f != nil {
		return f, nil
	}
	// The footer is variable length (optional bloom block), so it carries
	// no fixed-size length prefix; reading the whole file once and probing
	// tail windows is cheap for this component's expected output sizes and
	// avoids needing a second footer-length field on disk.
	all, err := s.handle.ReadAll()
	if err != nil {
		return nil, err
	}
	f, err := parseFooterFromTail(all)
	if err != nil {
		return nil, err
	}
	s.footer.CompareAndSwap(nil, &f)
	ib := all[f.IndexOffset : f.IndexOffset+f.IndexLength]
	s.indexBlock.CompareAndSwap(nil, &ib)
	if len(f.Bloom) > 0 {
		bf, err := DeserializeFilter(f.Bloom)
		if err == nil {
			s.bloom.CompareAndSwap(nil, bf)
		}
	}
	return s.footer.Load(), nil
}

// parseFooterFromTail scans backward from the end of the file trying
// successively larger tail windows until decodeFooter accepts one.
func parseFooterFromTail(all []byte) (footer, error) {
	maxTail := len(all)
	if maxTail > 1<<20 {
		maxTail = 1 << 20
	}
	for tailLen := 16; tailLen <= maxTail; tailLen++ {
		if f, ok := safeDecodeFooter(all[len(all)-tailLen:]); ok {
			return f, nil
		}
	}
	return footer{}, errs.NewFormatError("no valid footer found in segment file")
}

// safeDecodeFooter wraps decodeFooter so that a malformed candidate tail
// window (one that trips the decoder's internal slice-bounds panics rather
// than returning a clean error) is treated as "not this window" instead of
// crashing the probe loop.
func safeDecodeFooter(b []byte) (f footer, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	got, err := decodeFooter(b)
	if err != nil {
		return footer{}, false
	}
	return got, true
}

// MightContain is true iff the segment has no bloom filter or the bloom
// filter admits the key.
func (s *Segment) MightContain(key []byte) bool {
	if _, err := s.loadFooter(); err != nil {
		return true
	}
	bf := s.bloom.Load()
	if bf == nil {
		return true
	}
	return bf.MightContain(key)
}

func (s *Segment) toEntry(rec indexRecord) kv.Entry {
	read := func(offset uint64, length uint32) ([]byte, error) {
		return s.handle.Read(int(offset), int(length))
	}
	if rec.Tag == TagRange {
		var from *kv.FixedValue
		if rec.HasFrom {
			fk, _ := fixedKindFor(rec.FromValue.Tag)
			fv := kv.FixedValue{Kind: fk, Deadline: kv.AtMillis(int64(rec.FromValue.DeadlineMs))}
			if rec.FromValue.HasValue {
				fv.Value = kv.FileValue(true, rec.FromValue.ValueOffset, rec.FromValue.ValueLength, read)
			}
			from = &fv
		}
		rk, _ := fixedKindFor(rec.RangeValue.Tag)
		rv := kv.FixedValue{Kind: rk, Deadline: kv.AtMillis(int64(rec.RangeValue.DeadlineMs))}
		if rec.RangeValue.HasValue {
			rv.Value = kv.FileValue(true, rec.RangeValue.ValueOffset, rec.RangeValue.ValueLength, read)
		}
		return kv.NewRange(rec.Key, rec.ToKey, from, rv)
	}

	kind, hasValue := fixedKindFor(rec.Tag)
	deadline := kv.AtMillis(int64(rec.DeadlineMs))
	var vs kv.ValueSource
	if hasValue {
		vs = kv.FileValue(true, rec.ValueOffset, rec.ValueLength, read)
	}
	switch kind {
	case kv.KindPut:
		return kv.NewPut(rec.Key, vs, deadline)
	case kv.KindUpdate:
		return kv.NewUpdate(rec.Key, vs, deadline)
	default:
		return kv.NewRemove(rec.Key, deadline)
	}
}

// Get performs a point lookup, consulting the maxKey bound, then the
// bloom filter, then the cache, then falling back to an index walk.
func (s *Segment) Get(key []byte) (kv.Entry, bool, error) {
	f, err := s.loadFooter()
	if err != nil {
		return kv.Entry{}, false, err
	}
	if len(f.MaxKey) > 0 && s.ord.Compare(key, f.MaxKey) > 0 {
		return kv.Entry{}, false, nil
	}
	if len(f.MinKey) > 0 && s.ord.Compare(key, f.MinKey) < 0 {
		return kv.Entry{}, false, nil
	}
	if !s.MightContain(key) {
		return kv.Entry{}, false, nil
	}
	if item, ok := s.cache.Get(key); ok {
		return item.entry, true, nil
	}
	if item, ok := s.cache.Floor(key); ok && item.entry.IsRange() && item.entry.Covers(key, s.ord) {
		return item.entry, true, nil
	}

	ib := *s.indexBlock.Load()
	start, prevKey := s.walkStartFor(key)
	res := walk(ib, start, prevKey, key, s.ord, matchGet)
	if !res.found {
		return kv.Entry{}, false, nil
	}
	entry := s.toEntry(res.record)
	s.cache.Put(cacheItem{
		entry:           entry,
		indexOffset:     res.offset,
		nextIndexOffset: res.record.NextIndexOffset,
		nextIndexSize:   res.record.NextIndexSize,
	})
	return entry, true, nil
}

// walkStartFor returns the best cached starting point at or before key, or
// the beginning of the index block if nothing cached qualifies.
func (s *Segment) walkStartFor(key []byte) (uint64, []byte) {
	if item, ok := s.cache.Floor(key); ok {
		return item.indexOffset, item.entry.Key
	}
	return 0, nil
}

// Lower returns the entry with the greatest key strictly less than key.
func (s *Segment) Lower(key []byte) (kv.Entry, bool, error) {
	if _, err := s.loadFooter(); err != nil {
		return kv.Entry{}, false, err
	}
	if item, ok := s.cache.Lower(key); ok {
		return item.entry, true, nil
	}
	ib := *s.indexBlock.Load()
	res := walk(ib, 0, nil, key, s.ord, matchLower)
	if !res.found {
		return kv.Entry{}, false, nil
	}
	entry := s.toEntry(res.record)
	s.cache.Put(cacheItem{
		entry:           entry,
		indexOffset:     res.offset,
		nextIndexOffset: res.record.NextIndexOffset,
		nextIndexSize:   res.record.NextIndexSize,
	})
	return entry, true, nil
}

// Higher returns the entry with the smallest key strictly greater than key.
func (s *Segment) Higher(key []byte) (kv.Entry, bool, error) {
	if _, err := s.loadFooter(); err != nil {
		return kv.Entry{}, false, err
	}
	ib := *s.indexBlock.Load()
	res := walk(ib, 0, nil, key, s.ord, matchHigher)
	if !res.found {
		return kv.Entry{}, false, nil
	}
	entry := s.toEntry(res.record)
	s.cache.Put(cacheItem{
		entry:           entry,
		indexOffset:     res.offset,
		nextIndexOffset: res.record.NextIndexOffset,
		nextIndexSize:   res.record.NextIndexSize,
	})
	return entry, true, nil
}

// GetAll stream-decodes the entire index and materializes every entry.
func (s *Segment) GetAll() ([]kv.Entry, error) {
	if _, err := s.loadFooter(); err != nil {
		return nil, err
	}
	ib := *s.indexBlock.Load()
	var out []kv.Entry
	offset := uint64(0)
	var prevKey []byte
	for int(offset) < len(ib) {
		dec := bin.NewDecoder(ib[offset:])
		rec := decodeIndexRecord(dec, prevKey)
		out = append(out, s.toEntry(rec))
		prevKey = rec.Key
		if rec.NextIndexOffset == 0 && rec.NextIndexSize == 0 {
			break
		}
		offset = rec.NextIndexOffset
	}
	return out, nil
}

// Head returns the lowest entry in the segment.
func (s *Segment) Head() (kv.Entry, bool, error) {
	if _, err := s.loadFooter(); err != nil {
		return kv.Entry{}, false, err
	}
	ib := *s.indexBlock.Load()
	if len(ib) == 0 {
		return kv.Entry{}, false, nil
	}
	dec := bin.NewDecoder(ib)
	rec := decodeIndexRecord(dec, nil)
	return s.toEntry(rec), true, nil
}

// Last returns the highest entry in the segment.
func (s *Segment) Last() (kv.Entry, bool, error) {
	all, err := s.GetAll()
	if err != nil || len(all) == 0 {
		return kv.Entry{}, false, err
	}
	return all[len(all)-1], true, nil
}

func (s *Segment) GetBloomFilter() *Filter {
	_, _ = s.loadFooter()
	return s.bloom.Load()
}

func (s *Segment) GetKeyValueCount() (int, error) {
	f, err := s.loadFooter()
	if err != nil {
		return 0, err
	}
	return int(f.KVCount), nil
}

func (s *Segment) HasRange() (bool, error) {
	f, err := s.loadFooter()
	if err != nil {
		return false, err
	}
	return f.HasRange, nil
}

// MinKey returns the segment's lowest key, for a level orchestrator's cheap
// range rejection.
func (s *Segment) MinKey() ([]byte, error) {
	f, err := s.loadFooter()
	if err != nil {
		return nil, err
	}
	return f.MinKey, nil
}

// MaxKey returns the segment's highest key (or, for a segment holding a
// Range entry, its highest ToKey), for a level orchestrator's cheap range
// rejection.
func (s *Segment) MaxKey() ([]byte, error) {
	f, err := s.loadFooter()
	if err != nil {
		return nil, err
	}
	return f.MaxKey, nil
}

// SegmentSize returns the total on-disk size of the segment file.
func (s *Segment) SegmentSize() (int, error) {
	f, err := s.loadFooter()
	if err != nil {
		return 0, err
	}
	return int(f.SegmentSize), nil
}

// NearestExpiryDeadline returns the soonest deadline carried by any entry
// in the segment, for scheduling TTL-driven cleanup. The zero Deadline
// means no entry in the segment carries one.
func (s *Segment) NearestExpiryDeadline() (kv.Deadline, error) {
	f, err := s.loadFooter()
	if err != nil {
		return kv.Deadline{}, err
	}
	return kv.AtMillis(int64(f.NearestExpiryMs)), nil
}

func (s *Segment) IsFooterDefined() bool { return s.footer.Load() != nil }

func (s *Segment) IsOpen() bool { return s.handle.IsOpen() }

func (s *Segment) RemoveDeletes() bool { return s.removeDeletes }

func (s *Segment) Close() error {
	s.footer.Store(nil)
	return s.handle.Close()
}

func (s *Segment) Delete() error {
	return s.handle.Delete()
}

func (s *Segment) CopyTo(path string) (*Segment, error) {
	h, err := s.handle.CopyTo(path)
	if err != nil {
		return nil, err
	}
	return Open(path, h, Options{Ordering: s.ord, Logger: s.logger, OnCache: s.onCache, RemoveDeletes: s.removeDeletes}), nil
}
