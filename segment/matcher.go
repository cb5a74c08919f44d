package segment

import (
	"github.com/hollowtree/segmentdb/bin"
	"github.com/hollowtree/segmentdb/kv"
)

// matchMode selects which of Get/Lower/Higher the walk is answering.
type matchMode int

const (
	matchGet matchMode = iota
	matchLower
	matchHigher
)

// matchResult is what a matcher walk produces: the matched record together
// with the absolute index-block offset it was decoded from (the offset the
// cache needs to remember for its adjacency check).
type matchResult struct {
	found  bool
	record indexRecord
	offset uint64
}

// walk scans the index block forward from (startOffset, startPrevKey),
// never rewinding, until it can answer mode against target under ord. It
// never buffers more than the current and previous decoded records.
func walk(indexBlock []byte, startOffset uint64, startPrevKey []byte, target []byte, ord kv.Ordering, mode matchMode) matchResult {
	offset := startOffset
	prevKey := startPrevKey
	var previous matchResult

	for int(offset) < len(indexBlock) {
		dec := bin.NewDecoder(indexBlock[offset:])
		rec := decodeIndexRecord(dec, prevKey)
		consumed := len(indexBlock[offset:]) - dec.RemainingBytes()
		_ = consumed
		cur := matchResult{found: true, record: rec, offset: offset}

		switch mode {
		case matchGet:
			if rec.Tag == TagRange {
				if ord.Compare(rec.Key, target) <= 0 && ord.Compare(target, rec.ToKey) < 0 {
					return cur
				}
			} else if ord.Compare(rec.Key, target) == 0 {
				return cur
			}
			if ord.Compare(rec.Key, target) > 0 {
				return matchResult{}
			}

		case matchLower:
			if rec.Tag == TagRange && ord.Compare(rec.Key, target) <= 0 && ord.Compare(target, rec.ToKey) < 0 {
				return cur
			}
			if rec.Tag == TagRange && ord.Compare(rec.ToKey, target) == 0 {
				return cur
			}
			if ord.Compare(rec.Key, target) >= 0 {
				return previous
			}
			previous = cur

		case matchHigher:
			if rec.Tag == TagRange && ord.Compare(rec.Key, target) <= 0 && ord.Compare(target, rec.ToKey) < 0 {
				return cur
			}
			if ord.Compare(rec.Key, target) > 0 {
				return cur
			}
		}

		if rec.NextIndexOffset == 0 && rec.NextIndexSize == 0 {
			break
		}
		offset = rec.NextIndexOffset
		prevKey = rec.Key
	}

	if mode == matchLower {
		return previous
	}
	return matchResult{}
}
