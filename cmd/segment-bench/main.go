// Command segment-bench measures put/compact/get throughput for the
// segment store: build a batch of entries, split them into on-disk
// segments, merge successive batches together, then read them back.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/hollowtree/segmentdb/fs"
	"github.com/hollowtree/segmentdb/journal"
	"github.com/hollowtree/segmentdb/kv"
	"github.com/hollowtree/segmentdb/leveldb"
	"github.com/hollowtree/segmentdb/merge"
	"github.com/hollowtree/segmentdb/segment"
	"github.com/hollowtree/segmentdb/vfile"
)

type generator struct {
	*rand.Rand
	seq uint64
}

func newGenerator() *generator {
	return &generator{Rand: rand.New(rand.NewSource(0))}
}

func (g *generator) NextKey() []byte {
	k := g.seq
	g.seq++
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(k >> (8 * i))
	}
	return b
}

func (g *generator) Value() []byte {
	b := make([]byte, *valueSize)
	g.Read(b)
	return b
}

type stats struct {
	Ops   int
	Bytes int
	Start time.Time
}

func newStats() *stats {
	return &stats{Start: time.Now()}
}

func (s *stats) finishOp(bytes int) {
	s.Ops++
	s.Bytes += bytes
}

func (s stats) Report(label string) {
	micros := time.Since(s.Start).Seconds() * 1e6
	fmt.Printf("%-12s %6.3f micros/op; %6.1f MB/s\n",
		label, micros/float64(s.Ops),
		float64(s.Bytes)/(1024*1024)/(micros/1e6))
}

var numEntries = flag.Int("entries", 200000, "number of entries to put")
var batchSize = flag.Int("batch", 5000, "entries per batch, flushed as one split and merged into the running segment")
var valueSize = flag.Int("value-size", 100, "value size in bytes")
var minSegmentSize = flag.Int("min-segment-size", 4<<20, "MinSegmentSize passed to the segment merger")
var fsType = flag.String("fs", "mem", "filesystem to use (dir|mem)")
var compareLeveldb = flag.Bool("compare-leveldb", false, "also run the same workload against a LevelDB instance for comparison")
var dbPath = "segment-bench.db"

func initFs() fs.Filesys {
	switch *fsType {
	case "dir":
		filesys := fs.DirFs(dbPath)
		fs.DeleteAll(filesys)
		return filesys
	case "mem":
		return fs.MemFs()
	}
	panic(fmt.Errorf("unknown fs type %s", *fsType))
}

func segmentPath(n int) string { return fmt.Sprintf("segment-%06d", n) }

func runSegmentBench(filesys fs.Filesys) {
	g := newGenerator()
	nextID := 0
	newOutput := func() (vfile.Handle, string, error) {
		path := segmentPath(nextID)
		nextID++
		return vfile.NewChannelWrite(filesys, path, nil), path, nil
	}

	j := journal.New(filesys.Create("merge.journal"))
	defer j.Close()

	opts := merge.Options{
		MinSegmentSize: *minSegmentSize,
		Ordering:       kv.Lexicographic(),
		DeleteOutput:   func(path string) error { filesys.Delete(path); return nil },
		Reopen:         func(path string) (vfile.Handle, error) { return vfile.NewChannelRead(filesys, path, nil), nil },
		Journal:        &j,
	}

	var currentPaths []string

	putStats := newStats()
	for i := 0; i < *numEntries; i += *batchSize {
		n := *batchSize
		if i+n > *numEntries {
			n = *numEntries - i
		}
		batch := make([]kv.Entry, n)
		for k := 0; k < n; k++ {
			key, value := g.NextKey(), g.Value()
			batch[k] = kv.NewPut(key, kv.MemValue(kv.SomeValue(value)), kv.NoDeadline())
			putStats.finishOp(len(key) + len(value))
		}

		var old []kv.Entry
		if len(currentPaths) > 0 {
			for _, p := range currentPaths {
				h := vfile.NewChannelRead(filesys, p, nil)
				seg := segment.Open(p, h, segment.Options{Ordering: kv.Lexicographic()})
				entries, err := seg.GetAll()
				if err != nil {
					panic(err)
				}
				old = append(old, entries...)
				_ = seg.Close()
			}
			for _, p := range currentPaths {
				filesys.Delete(p)
			}
		}

		results, err := merge.Merge(batch, old, opts, newOutput)
		if err != nil {
			panic(err)
		}
		currentPaths = currentPaths[:0]
		for _, r := range results {
			currentPaths = append(currentPaths, r.Path)
		}
	}
	putStats.Report("put")

	getStats := newStats()
	g2 := newGenerator()
	var openSegs []*segment.Segment
	for _, p := range currentPaths {
		h := vfile.NewChannelRead(filesys, p, nil)
		openSegs = append(openSegs, segment.Open(p, h, segment.Options{Ordering: kv.Lexicographic()}))
	}
	for i := 0; i < *numEntries; i++ {
		key := g2.NextKey()
		for _, seg := range openSegs {
			entry, ok, err := seg.Get(key)
			if err != nil {
				panic(err)
			}
			if ok {
				v, _ := entry.GetValue()
				getStats.finishOp(len(key) + len(v.Value))
				break
			}
		}
	}
	getStats.Report("get")
	for _, seg := range openSegs {
		_ = seg.Close()
	}
}

func runLeveldbBench() {
	os.RemoveAll(dbPath + ".leveldb")
	db, err := leveldb.New(dbPath + ".leveldb")
	if err != nil {
		panic(err)
	}
	defer db.Close()

	g := newGenerator()
	putStats := newStats()
	for i := 0; i < *numEntries; i++ {
		key, value := g.NextKey(), g.Value()
		if err := db.Put(key, value); err != nil {
			panic(err)
		}
		putStats.finishOp(len(key) + len(value))
	}
	putStats.Report("ldb-put")

	g2 := newGenerator()
	getStats := newStats()
	for i := 0; i < *numEntries; i++ {
		key := g2.NextKey()
		value, ok, err := db.Get(key)
		if err != nil {
			panic(err)
		}
		if ok {
			getStats.finishOp(len(key) + len(value))
		}
	}
	getStats.Report("ldb-get")
}

func main() {
	flag.Parse()
	filesys := initFs()
	runSegmentBench(filesys)
	if *compareLeveldb {
		runLeveldbBench()
	}
}
