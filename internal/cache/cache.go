// Package cache decides whether compiled script units can be reused.
//
// Each script has a unit directory under the cache root, named by a hash of
// the directory that contains the script. The unit directory holds the
// compiled executable and a manifest stamp listing every dependency (the
// script, its imports, referenced libraries and package directories) with
// the last write time observed when compilation started:
//
//  1. A unit is valid only if every dependency of the current parse is in
//     the manifest and every recorded dependency is unchanged
//  2. Stale units are deleted before recompiling, never patched
//  3. The manifest is written only after the unit is published
//
// A bbolt index beside the unit directories keeps build/hit statistics for
// the cache commands. The index is advisory; validity never depends on it.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// IndexFile is the bbolt database under the cache root
	IndexFile = "index.db"

	// bucketName is the BoltDB bucket name for unit entries
	bucketName = "units"

	// DefaultOpenTimeout bounds the wait for another process holding the index
	DefaultOpenTimeout = 1 * time.Second
)

// Index records compiled units using BoltDB
type Index struct {
	db   *bbolt.DB
	root string // Root directory of the cache
}

// OpenIndex opens (creating if needed) the index under root
func OpenIndex(root string, timeout time.Duration) (*Index, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	if timeout <= 0 {
		timeout = DefaultOpenTimeout
	}

	dbPath := filepath.Join(root, IndexFile)
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &Index{
		db:   db,
		root: root,
	}, nil
}

// Close closes the index database
func (x *Index) Close() error {
	if x.db != nil {
		return x.db.Close()
	}

	return nil
}

// Get retrieves the entry for an identity hash. Returns nil if absent.
func (x *Index) Get(hash string) (*Entry, error) {
	var entry *Entry

	err := x.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(hash))
		if data == nil {
			return nil
		}

		entry = &Entry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// RecordBuild stores a fresh build, carrying over the counters of any previous entry
func (x *Index) RecordBuild(u *Unit, compilerID string, m *Manifest) error {
	sum, err := HashFile(u.Path)
	if err != nil {
		return fmt.Errorf("failed to hash unit: %w", err)
	}

	return x.update(u, func(e *Entry) {
		e.Checksum = sum
		e.Compiler = compilerID
		e.Dependencies = len(m.Dependencies)
		e.Builds++
		e.LastBuild = time.Now().UTC()
	})
}

// RecordHit counts an invocation served from the cache
func (x *Index) RecordHit(u *Unit) error {
	return x.update(u, func(e *Entry) {
		e.Hits++
		e.LastHit = time.Now().UTC()
	})
}

func (x *Index) update(u *Unit, mutate func(*Entry)) error {
	hash := u.Identity.Hash

	err := x.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		entry := Entry{Hash: hash}
		if data := b.Get([]byte(hash)); data != nil {
			if err := json.Unmarshal(data, &entry); err != nil {
				return err
			}
		}

		entry.Script = u.Identity.Script
		entry.UnitPath = u.Path
		mutate(&entry)

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		return b.Put([]byte(hash), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store index entry: %w", err)
	}

	return nil
}

// List returns every entry ordered by script path
func (x *Index) List() ([]Entry, error) {
	var entries []Entry

	err := x.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}

			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Script < entries[j].Script
	})

	return entries, nil
}

// Remove deletes the entry for an identity hash
func (x *Index) Remove(hash string) error {
	return x.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(hash))
	})
}

// Clear removes all entries and compiled units
func (x *Index) Clear() error {
	err := x.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucketName)) != nil {
			if err := tx.DeleteBucket([]byte(bucketName)); err != nil {
				return err
			}
		}

		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
	if err != nil {
		return err
	}

	if err := os.RemoveAll(filepath.Join(x.root, UnitsDir)); err != nil {
		return fmt.Errorf("failed to remove units: %w", err)
	}

	return nil
}

// Stats returns the number of indexed units and the size of the units directory
func (x *Index) Stats() (int, int64, error) {
	var count int
	var totalSize int64

	err := x.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	err = filepath.Walk(filepath.Join(x.root, UnitsDir), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if !info.IsDir() {
			totalSize += info.Size()
		}

		return nil
	})

	return count, totalSize, err
}
