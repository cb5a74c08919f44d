package merge

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"math"

	"github.com/hollowtree/segmentdb/journal"
	"github.com/hollowtree/segmentdb/kv"
	"github.com/hollowtree/segmentdb/segment"
	"github.com/hollowtree/segmentdb/vfile"
)

// Options configures one merge or split call.
type Options struct {
	MinSegmentSize int
	ForInMemory    bool // decide the size threshold from MemorySegmentSize instead of SegmentSize
	IsLastLevel    bool
	BloomFPR       float64
	HasTimeLeft    kv.HasTimeLeftAtLeast
	Ordering       kv.Ordering
	Logger         *log.Logger
	// DeleteOutput removes an already-closed output file by path, used to
	// clean up partial results after a mid-merge failure. Optional; if
	// nil, already-closed partial outputs are left on disk and only
	// logged (the caller's level orchestrator is then responsible).
	DeleteOutput func(path string) error
	// Reopen opens an already-written output path for reading, used only
	// by the fold-back step when the final output is below
	// MinSegmentSize. Required whenever MinSegmentSize > 0 is used with
	// more than one expected output.
	Reopen func(path string) (vfile.Handle, error)
	// Journal, if set, records this merge's output paths as each is opened,
	// before anything is written to it, and a completion record once the
	// merge finishes (or cleans
	// up after itself on failure), so a crash mid-merge leaves a trail a
	// level orchestrator can replay via journal.Recover to find and
	// delete orphaned partial segment files. Optional.
	Journal *journal.Writer
	// MergeID identifies this merge's journal records. Only meaningful
	// when Journal is set; if left blank in that case, one is generated.
	MergeID string
}

func (o Options) ordering() kv.Ordering {
	if o.Ordering != nil {
		return o.Ordering
	}
	return kv.Lexicographic()
}

func (o Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

func (o Options) hasTimeLeft() kv.HasTimeLeftAtLeast {
	if o.HasTimeLeft != nil {
		return o.HasTimeLeft
	}
	return func(kv.Deadline) bool { return true }
}

// NewOutputFunc creates a fresh output handle for the merger's next
// segment; the Id generator and paths distributor the spec lists as
// injected interfaces are folded into this single factory.
type NewOutputFunc func() (vfile.Handle, string, error)

// Result is one completed output segment from a merge or split call.
type Result struct {
	Path string
	Size int
}

// merger runs one merge or split call, accumulating output segments.
type merger struct {
	opts      Options
	newOutput NewOutputFunc

	results      []Result
	cur          *segment.Writer
	curPath      string
	journalPaths []string // every path opened so far, for repeated journal.Start calls
}

func newMerger(opts Options, newOutput NewOutputFunc) *merger {
	return &merger{opts: opts, newOutput: newOutput}
}

// newMergeID generates a random identifier for a merge with no caller-
// supplied MergeID, so journal records from independent concurrent merges
// never collide.
func newMergeID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

func (m *merger) openOutput() error {
	h, path, err := m.newOutput()
	if err != nil {
		return err
	}
	m.cur = segment.NewWriter(h, m.opts.ordering(), m.opts.BloomFPR)
	m.curPath = path

	// The full set of output paths isn't known until the merge finishes
	// (later outputs are only opened once an earlier one crosses the size
	// threshold), so Start is called again each time a new output opens,
	// with the paths accumulated so far. journal.Recover only looks at
	// the last Start record for a given MergeID, so this converges on the
	// complete set by the time the merge finishes.
	if m.opts.Journal != nil {
		m.journalPaths = append(m.journalPaths, path)
		if err := m.opts.Journal.Start(m.opts.MergeID, m.journalPaths); err != nil {
			return err
		}
	}
	return nil
}

// addKeyValue appends e to the current open output, opening one first if
// necessary, and closes the output once its size projection crosses
// MinSegmentSize.
func (m *merger) addKeyValue(e kv.Entry) error {
	if m.cur == nil {
		if err := m.openOutput(); err != nil {
			return err
		}
	}
	if err := m.cur.Add(e); err != nil {
		m.abortAll()
		return err
	}
	size := m.cur.Stats().SegmentSize()
	if m.opts.ForInMemory {
		size = m.cur.Stats().MemorySegmentSize()
	}
	if size >= m.opts.MinSegmentSize {
		if err := m.closeCurrent(); err != nil {
			return err
		}
	}
	return nil
}

func (m *merger) closeCurrent() error {
	size, err := m.cur.Finish()
	if err != nil {
		m.abortAll()
		return err
	}
	m.results = append(m.results, Result{Path: m.curPath, Size: size})
	m.cur = nil
	m.curPath = ""
	return nil
}

// abortAll discards the in-progress output and every already-closed
// output from this merge, best-effort; cleanup failures never override the
// original error, they are just logged by the caller's logger.
func (m *merger) abortAll() {
	if m.cur != nil {
		m.cur.Abort()
		m.cur = nil
	}
	for _, r := range m.results {
		if m.opts.DeleteOutput != nil {
			if err := m.opts.DeleteOutput(r.Path); err != nil {
				m.opts.logger().Printf("merge: failed to clean up partial output %s: %v", r.Path, err)
				continue
			}
		}
		m.opts.logger().Printf("merge: discarded partial output %s after failure", r.Path)
	}
	m.results = nil

	if m.opts.Journal != nil {
		if err := m.opts.Journal.Complete(m.opts.MergeID); err != nil {
			m.opts.logger().Printf("merge: failed to record journal completion for %s: %v", m.opts.MergeID, err)
		}
	}
}

// finish closes any still-open output and folds a too-small final output
// back into its predecessor.
func (m *merger) finish() ([]Result, error) {
	if m.cur != nil && !m.cur.Empty() {
		if err := m.closeCurrent(); err != nil {
			return nil, err
		}
	} else if m.cur != nil {
		m.cur.Abort()
		m.cur = nil
	}
	if m.opts.Journal != nil {
		if err := m.opts.Journal.Complete(m.opts.MergeID); err != nil {
			return nil, err
		}
	}
	return m.results, nil
}

// Merge stream-merges newEntries and oldEntries (each already in key
// order) via the key-value merger, writing results through newOutput.
// Deterministic for a fixed hasTimeLeft: identical inputs always produce
// byte-identical output segments.
func Merge(newEntries, oldEntries []kv.Entry, opts Options, newOutput NewOutputFunc) ([]Result, error) {
	if opts.Journal != nil && opts.MergeID == "" {
		opts.MergeID = newMergeID()
	}
	ord := opts.ordering()
	hasTimeLeft := opts.hasTimeLeft()
	m := newMerger(opts, newOutput)

	i, j := 0, 0
	for i < len(newEntries) && j < len(oldEntries) {
		n, o := newEntries[i], oldEntries[j]

		// A Range on one side dominates every Fixed entry on the other
		// side that falls inside [fromKey, toKey): keep resolving and
		// consuming the Fixed side, one key at a time, without advancing
		// past the Range until its coverage is exhausted. The Range
		// entry itself is advanced past, and not emitted, once the next
		// entry on the other side is not a Fixed entry inside its span:
		// its effect now lives in the resolved entries, and emitting it
		// after them would break key order.
		if n.IsRange() && o.IsFixed() && n.Covers(o.Key, ord) {
			resolved := ResolveAtKey(o.Key, n, o, ord, hasTimeLeft)
			if err := emit(m, resolved, opts, hasTimeLeft); err != nil {
				return nil, err
			}
			j++
			if j == len(oldEntries) || !oldEntries[j].IsFixed() || !n.Covers(oldEntries[j].Key, ord) {
				i++
			}
			continue
		}
		if o.IsRange() && n.IsFixed() && o.Covers(n.Key, ord) {
			resolved := ResolveAtKey(n.Key, n, o, ord, hasTimeLeft)
			if err := emit(m, resolved, opts, hasTimeLeft); err != nil {
				return nil, err
			}
			i++
			if i == len(newEntries) || !newEntries[i].IsFixed() || !o.Covers(newEntries[i].Key, ord) {
				j++
			}
			continue
		}

		nKey, oKey := sortKey(n), sortKey(o)
		cmp := ord.Compare(nKey, oKey)

		switch {
		case cmp == 0:
			resolved := ResolveAtKey(nKey, n, o, ord, hasTimeLeft)
			if err := emit(m, resolved, opts, hasTimeLeft); err != nil {
				return nil, err
			}
			i++
			j++
		case cmp < 0:
			if err := emit(m, n, opts, hasTimeLeft); err != nil {
				return nil, err
			}
			i++
		default:
			if err := emit(m, o, opts, hasTimeLeft); err != nil {
				return nil, err
			}
			j++
		}
	}
	for ; i < len(newEntries); i++ {
		if err := emit(m, newEntries[i], opts, hasTimeLeft); err != nil {
			return nil, err
		}
	}
	for ; j < len(oldEntries); j++ {
		if err := emit(m, oldEntries[j], opts, hasTimeLeft); err != nil {
			return nil, err
		}
	}

	results, err := m.finish()
	if err != nil {
		return nil, err
	}
	return mergeSmallerSegmentWithPrevious(results, opts, newOutput)
}

// Split re-partitions a single already-sorted entry sequence into fresh
// output segments bounded by MinSegmentSize, used for re-compaction after
// a format or TTL-policy change and by the fold-back step.
func Split(entries []kv.Entry, opts Options, newOutput NewOutputFunc) ([]Result, error) {
	if opts.Journal != nil && opts.MergeID == "" {
		opts.MergeID = newMergeID()
	}
	hasTimeLeft := opts.hasTimeLeft()
	m := newMerger(opts, newOutput)
	for _, e := range entries {
		if err := emit(m, e, opts, hasTimeLeft); err != nil {
			return nil, err
		}
	}
	results, err := m.finish()
	if err != nil {
		return nil, err
	}
	return mergeSmallerSegmentWithPrevious(results, opts, newOutput)
}

// emit applies the last-level tombstone/expiry policy before handing e to
// the merger; a dropped entry never reaches addKeyValue.
func emit(m *merger, e kv.Entry, opts Options, hasTimeLeft kv.HasTimeLeftAtLeast) error {
	if opts.IsLastLevel && e.IsFixed() && DropOnLastLevel(e.AsFixedValue(), hasTimeLeft) {
		return nil
	}
	return m.addKeyValue(e)
}

func sortKey(e kv.Entry) []byte { return e.Key }

// mergeSmallerSegmentWithPrevious folds the last output back into its
// predecessor when the last is smaller than MinSegmentSize, so the only
// way to observe a below-threshold output is a single total output. It
// re-reads both outputs' entries and re-runs Split over their
// concatenation, replacing both paths with one fresh one.
func mergeSmallerSegmentWithPrevious(results []Result, opts Options, newOutput NewOutputFunc) ([]Result, error) {
	if len(results) < 2 {
		return results, nil
	}
	last := results[len(results)-1]
	if last.Size >= opts.MinSegmentSize {
		return results, nil
	}
	prev := results[len(results)-2]

	entries, err := readBackEntries(prev.Path, opts)
	if err != nil {
		return nil, err
	}
	lastEntries, err := readBackEntries(last.Path, opts)
	if err != nil {
		return nil, err
	}
	entries = append(entries, lastEntries...)

	if opts.DeleteOutput != nil {
		_ = opts.DeleteOutput(prev.Path)
		_ = opts.DeleteOutput(last.Path)
	}

	folded := Options{
		MinSegmentSize: math.MaxInt, // never split; force exactly one output for the fold
		ForInMemory:    opts.ForInMemory,
		IsLastLevel:    false, // entries already passed the last-level filter once
		BloomFPR:       opts.BloomFPR,
		HasTimeLeft:    opts.HasTimeLeft,
		Ordering:       opts.Ordering,
		Logger:         opts.Logger,
		DeleteOutput:   opts.DeleteOutput,
		Journal:        opts.Journal,
	}
	if opts.Journal != nil {
		folded.MergeID = opts.MergeID + "-fold"
	}
	out, err := Split(entries, folded, newOutput)
	if err != nil {
		return nil, err
	}
	return append(results[:len(results)-2], out...), nil
}

// readBackEntries opens path for reading, copies the file into memory and
// decodes every entry, so a folded output can be rebuilt from two
// already-written segments.
func readBackEntries(path string, opts Options) ([]kv.Entry, error) {
	if opts.Reopen == nil {
		panic("merge: Options.Reopen is required when a fold-back can occur")
	}
	h, err := opts.Reopen(path)
	if err != nil {
		return nil, err
	}
	// Decoded entries fetch their values lazily, after this returns, so
	// they are served from an in-memory copy rather than from h, which is
	// closed here.
	data, err := h.ReadAll()
	_ = h.Close()
	if err != nil {
		return nil, err
	}
	seg := segment.Open(path, vfile.NewMemory(path, data), segment.Options{Ordering: opts.ordering(), Logger: opts.logger()})
	return seg.GetAll()
}
