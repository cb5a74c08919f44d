// Package journal is an append-only ledger of in-flight Segment merger
// output paths, used to recover from a crash mid-merge: a process that
// died between opening an output file and the merger's own best-effort
// cleanup leaves orphaned partial segment files on disk with nothing else
// recording that they were never finished. The journal closes that gap.
//
// API:
//   - Start: records the output paths a merge is about to write, before the
//     first byte of any of them is written
//   - Complete: records that a started merge finished (successfully or via
//     its own cleanup), so its paths are no longer considered orphaned
//   - Recover: replays the journal and reports every started merge with no
//     matching completion record, along with its output paths
//
// Records are gob-encoded transactions, recovered by decoding until the
// first failure, the same discipline the reference write-ahead log uses
// for its own data/commit record pairs.
package journal

import (
	"encoding/gob"
	"io"
)

type recordType uint8

const (
	invalidRecord recordType = iota
	startRecord
	completeRecord
)

type record struct {
	Type    recordType
	MergeID string
	Paths   []string
}

// LogFile is the subset of a file handle the journal writes through.
type LogFile interface {
	io.WriteCloser
	Sync() error
}

// Writer appends start/complete records for in-flight merges.
type Writer struct {
	log LogFile
	enc *gob.Encoder
}

// New wraps an already-open, append-positioned file as a journal writer.
func New(f LogFile) Writer {
	return Writer{f, gob.NewEncoder(f)}
}

// Start records that mergeID is about to write to every path in paths. Must
// be called before any bytes are written to those paths.
func (w Writer) Start(mergeID string, paths []string) error {
	if err := w.enc.Encode(record{Type: startRecord, MergeID: mergeID, Paths: paths}); err != nil {
		return err
	}
	return w.log.Sync()
}

// Complete records that mergeID finished, successfully or by its own
// cleanup; its paths are no longer orphan candidates.
func (w Writer) Complete(mergeID string) error {
	if err := w.enc.Encode(record{Type: completeRecord, MergeID: mergeID}); err != nil {
		return err
	}
	return w.log.Sync()
}

// Close closes the underlying log file.
func (w Writer) Close() error {
	return w.log.Close()
}

// OrphanedMerge is one started-but-never-completed merge and the output
// paths it may have left behind.
type OrphanedMerge struct {
	MergeID string
	Paths   []string
}

// Recover replays log and returns every merge with a start record but no
// matching complete record. A trailing partial record (the journal itself
// crashed mid-write) is treated the same as a normal end of journal.
func Recover(log io.Reader) []OrphanedMerge {
	started := make(map[string][]string)
	var order []string
	completed := make(map[string]bool)

	dec := gob.NewDecoder(log)
	for {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			break
		}
		switch rec.Type {
		case startRecord:
			if _, seen := started[rec.MergeID]; !seen {
				order = append(order, rec.MergeID)
			}
			started[rec.MergeID] = rec.Paths
		case completeRecord:
			completed[rec.MergeID] = true
		default:
			panic("journal: unrecognized record type")
		}
	}

	var orphans []OrphanedMerge
	for _, id := range order {
		if completed[id] {
			continue
		}
		orphans = append(orphans, OrphanedMerge{MergeID: id, Paths: started[id]})
	}
	return orphans
}

// RecoverAndClean replays log via Recover and deletes every orphaned
// merge's output paths through deletePath, which should tolerate a path
// that does not exist (a merge can crash before a given output was ever
// created). Every path is attempted; returns the set of orphans found,
// regardless of any deletePath error, together with the first such error.
func RecoverAndClean(log io.Reader, deletePath func(path string) error) ([]OrphanedMerge, error) {
	orphans := Recover(log)
	var firstErr error
	for _, orphan := range orphans {
		for _, path := range orphan.Paths {
			if err := deletePath(path); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return orphans, firstErr
}
