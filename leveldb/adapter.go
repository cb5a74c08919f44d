// Package leveldb wraps a LevelDB instance behind a byte-keyed get/put/
// delete surface matching the segment store's, so the benchmark harness
// can run identical workloads against both and compare.
package leveldb

import (
	"github.com/jmhodges/levigo"
)

// Database is a wrapper around a LevelDB database.
type Database struct {
	db *levigo.DB
	ro *levigo.ReadOptions
	wo *levigo.WriteOptions
}

func levelDbOpts() *levigo.Options {
	opts := levigo.NewOptions()
	opts.SetCreateIfMissing(true)
	opts.SetCompression(levigo.NoCompression)

	// performance-related configuration
	cache := levigo.NewLRUCache(8 << 20)
	opts.SetCache(cache)
	// 4MB is the default
	opts.SetWriteBufferSize(4 * 1024 * 1024)

	return opts
}

// New creates a LevelDB instance at path.
//
// Creates the path if it does not exist.
func New(path string) (*Database, error) {
	db, err := levigo.Open(path, levelDbOpts())
	if err != nil {
		return nil, err
	}
	return &Database{db: db, ro: levigo.NewReadOptions(), wo: levigo.NewWriteOptions()}, nil
}

// Get retrieves a key from the database, reporting whether it was present.
func (d *Database) Get(key []byte) ([]byte, bool, error) {
	data, err := d.db.Get(d.ro, key)
	if err != nil {
		return nil, false, err
	}
	if data == nil {
		return nil, false, nil
	}
	return data, true, nil
}

// Put inserts a key into the database.
func (d *Database) Put(key, value []byte) error {
	return d.db.Put(d.wo, key, value)
}

// Delete deletes a key from the database.
func (d *Database) Delete(key []byte) error {
	return d.db.Delete(d.wo, key)
}

// Compact runs log and sstable compaction.
func (d *Database) Compact() {
	d.db.CompactRange(levigo.Range{})
}

// Close shuts down the database.
func (d *Database) Close() {
	d.ro.Close()
	d.wo.Close()
	d.db.Close()
}
