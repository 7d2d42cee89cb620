// Package idmap implements the external-string to internal-integer ID
// mapper with WAL-backed durability and a reusable deleted-ID pool.
package idmap

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/ndxdb/engine/internal/engineerr"
)

var (
	mappingBucket    = []byte("mapping")
	reverseBucket    = []byte("reverse")
	countersBucket   = []byte("counters")
	deletedIDsBucket = []byte("deleted_ids")

	nextIDKey = []byte("next_id")
)

// Mapper owns the ext→int mapping, its int→ext reverse index, the NEXT_ID
// counter, the FIFO DELETED_IDS pool, and the WAL, all scoped to one index.
type Mapper struct {
	mu  sync.Mutex
	db  *bbolt.DB
	wal *WAL
}

// Open opens (creating if absent) the ID mapper environment under dir,
// backed by "mapping.db" and "wal.bin".
func Open(dir string) (*Mapper, error) {
	db, err := bbolt.Open(filepath.Join(dir, "mapping.db"), 0o600, nil)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindStorageError, "open id mapper", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{mappingBucket, reverseBucket, countersBucket, deletedIDsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, engineerr.Wrap(engineerr.KindStorageError, "init id mapper buckets", err)
	}

	wal, err := OpenWAL(filepath.Join(dir, "wal.bin"))
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Mapper{db: db, wal: wal}, nil
}

// Close releases the mapper's bbolt handle and WAL file.
func (m *Mapper) Close() error {
	err1 := m.wal.Close()
	err2 := m.db.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// HasPendingRecovery reports whether the WAL has entries that predate a
// clean shutdown, per this package's crash-recovery contract.
func (m *Mapper) HasPendingRecovery() bool { return m.wal.HasEntries() }

// Recover reconciles any WAL entries left by an unclean shutdown. Because
// the ext→int mapping commit always happens after the WAL write for the
// same batch, and that commit is atomic in bbolt, every logged id is either
// fully visible in the mapping (crash happened after commit) or not visible
// at all (crash happened before commit, so the reservation was never handed
// to a caller and is safe to drop). Recovery therefore only needs to clear
// the stale log once the mapping db itself has opened cleanly.
func (m *Mapper) Recover() error {
	if !m.wal.HasEntries() {
		return nil
	}
	if _, err := m.wal.ReadEntries(); err != nil {
		return engineerr.Wrap(engineerr.KindStorageError, "wal recovery read failed", err)
	}
	return m.wal.Clear()
}

// Result is one (IntId, is_new_to_graph) pair returned by CreateIDsBatch,
// in input order.
type Result struct {
	ID          uint64
	IsNewToHNSW bool
}

// CreateIDsBatch allocates or reuses internal ids for a batch: existing external ids
// return their mapping unchanged; missing ones are served first from the
// DELETED_IDS pool (if reuseDeleted) and then from a fresh NEXT_ID advance;
// every allocated-or-reused id is WAL-logged before the ext→int commit.
func (m *Mapper) CreateIDsBatch(strIDs []string, reuseDeleted bool) ([]Result, error) {
	if len(strIDs) == 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]Result, len(strIDs))
	missing := make([]int, 0, len(strIDs))

	if err := m.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(mappingBucket)
		for i, s := range strIDs {
			if v := b.Get([]byte(s)); v != nil {
				results[i] = Result{ID: binary.BigEndian.Uint64(v), IsNewToHNSW: false}
			} else {
				missing = append(missing, i)
			}
		}
		return nil
	}); err != nil {
		return nil, engineerr.Wrap(engineerr.KindStorageError, "id mapper lookup failed", err)
	}

	if len(missing) == 0 {
		return results, nil
	}

	var reused []uint64
	if reuseDeleted {
		var err error
		reused, err = m.popDeletedIDs(len(missing))
		if err != nil {
			return nil, err
		}
	}

	freshCount := len(missing) - len(reused)
	var fresh []uint64
	if freshCount > 0 {
		var err error
		fresh, err = m.advanceNextID(freshCount)
		if err != nil {
			return nil, err
		}
	}

	walEntries := make([]Entry, 0, len(reused)+len(fresh))
	for _, id := range reused {
		walEntries = append(walEntries, Entry{Op: OpAdd, ID: id})
	}
	for _, id := range fresh {
		walEntries = append(walEntries, Entry{Op: OpAdd, ID: id})
	}
	if err := m.wal.Log(walEntries); err != nil {
		// WAL must be durable before the mapping commit; reserved ids are
		// not yet visible anywhere else, so the caller can simply retry.
		return nil, engineerr.Wrap(engineerr.KindStorageError, "wal append failed, aborting batch", err)
	}

	err := m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(mappingBucket)
		ri, fi := 0, 0
		for _, idx := range missing {
			var id uint64
			isNew := true
			if ri < len(reused) {
				id = reused[ri]
				ri++
				isNew = false
			} else {
				id = fresh[fi]
				fi++
				isNew = true
			}
			results[idx] = Result{ID: id, IsNewToHNSW: isNew}
			var v [8]byte
			binary.BigEndian.PutUint64(v[:], id)
			if err := b.Put([]byte(strIDs[idx]), v[:]); err != nil {
				return err
			}
			if err := tx.Bucket(reverseBucket).Put(v[:], []byte(strIDs[idx])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindStorageError, "id mapper commit failed", err)
	}
	return results, nil
}

// GetID returns the IntId mapped to extID, or (0, false) if absent.
func (m *Mapper) GetID(extID string) (uint64, bool) {
	var id uint64
	var ok bool
	m.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(mappingBucket).Get([]byte(extID))
		if v != nil {
			id = binary.BigEndian.Uint64(v)
			ok = true
		}
		return nil
	})
	return id, ok
}

// GetExternalID returns the external string mapped to an internal id, or
// ("", false) if the id is unmapped (never assigned, or since deleted).
func (m *Mapper) GetExternalID(id uint64) (string, bool) {
	var extID string
	var ok bool
	m.db.View(func(tx *bbolt.Tx) error {
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], id)
		v := tx.Bucket(reverseBucket).Get(key[:])
		if v != nil {
			extID = string(v)
			ok = true
		}
		return nil
	})
	return extID, ok
}

// DeletePoints erases each present mapping, pushing its IntId to the
// DELETED_IDS pool, WAL-logging {DELETE, id} first. Missing entries yield 0
// in the corresponding output slot.
func (m *Mapper) DeletePoints(extIDs []string) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uint64, len(extIDs))
	var toDelete []uint64

	if err := m.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(mappingBucket)
		for i, s := range extIDs {
			if v := b.Get([]byte(s)); v != nil {
				id := binary.BigEndian.Uint64(v)
				ids[i] = id
				toDelete = append(toDelete, id)
			}
		}
		return nil
	}); err != nil {
		return nil, engineerr.Wrap(engineerr.KindStorageError, "id mapper lookup failed", err)
	}

	if len(toDelete) == 0 {
		return ids, nil
	}

	walEntries := make([]Entry, len(toDelete))
	for i, id := range toDelete {
		walEntries[i] = Entry{Op: OpDelete, ID: id}
	}
	if err := m.wal.Log(walEntries); err != nil {
		return nil, engineerr.Wrap(engineerr.KindStorageError, "wal append failed, aborting delete", err)
	}

	err := m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(mappingBucket)
		rb := tx.Bucket(reverseBucket)
		for i, s := range extIDs {
			if err := b.Delete([]byte(s)); err != nil {
				return err
			}
			if ids[i] != 0 {
				var key [8]byte
				binary.BigEndian.PutUint64(key[:], ids[i])
				if err := rb.Delete(key[:]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindStorageError, "id mapper delete commit failed", err)
	}

	if err := m.pushDeletedIDs(toDelete); err != nil {
		return nil, err
	}
	return ids, nil
}

// ReclaimFailedIDs pushes ids back onto the DELETED_IDS pool after a failed
// graph insert, making them available for reuse again.
func (m *Mapper) ReclaimFailedIDs(ids []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushDeletedIDs(ids)
}

// pushDeletedIDs appends ids to the back of the FIFO pool using bbolt's
// per-bucket monotonic sequence as the ordering key.
func (m *Mapper) pushDeletedIDs(ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	err := m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(deletedIDsBucket)
		for _, id := range ids {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, seq)
			var v [8]byte
			binary.BigEndian.PutUint64(v[:], id)
			if err := b.Put(key, v[:]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return engineerr.Wrap(engineerr.KindStorageError, "deleted-id pool push failed", err)
	}
	return nil
}

// popDeletedIDs pops up to n ids from the front of the FIFO pool (oldest
// deleted first).
func (m *Mapper) popDeletedIDs(n int) ([]uint64, error) {
	var popped []uint64
	err := m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(deletedIDsBucket)
		c := b.Cursor()
		var keysToDelete [][]byte
		for k, v := c.First(); k != nil && len(popped) < n; k, v = c.Next() {
			popped = append(popped, binary.BigEndian.Uint64(v))
			keysToDelete = append(keysToDelete, append([]byte(nil), k...))
		}
		for _, k := range keysToDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindStorageError, "deleted-id pool pop failed", err)
	}
	return popped, nil
}

// advanceNextID atomically reserves n fresh ids starting from the current
// NEXT_ID counter value, advancing it by n.
func (m *Mapper) advanceNextID(n int) ([]uint64, error) {
	var ids []uint64
	err := m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(countersBucket)
		var current uint64 = 1
		if v := b.Get(nextIDKey); v != nil {
			current = binary.BigEndian.Uint64(v)
		}
		ids = make([]uint64, n)
		for i := 0; i < n; i++ {
			ids[i] = current + uint64(i)
		}
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], current+uint64(n))
		return b.Put(nextIDKey, v[:])
	})
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindStorageError, "next-id advance failed", err)
	}
	return ids, nil
}

// Count returns the number of live ext→int mappings.
func (m *Mapper) Count() (int, error) {
	var n int
	err := m.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(mappingBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("idmap: count failed: %w", err)
	}
	return n, nil
}
