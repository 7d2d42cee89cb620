package sparsestore

import (
	"sync"
	"sync/atomic"

	"go.etcd.io/bbolt"

	"github.com/ndxdb/engine/internal/bmw"
	"github.com/ndxdb/engine/internal/engineerr"
)

var docsBucket = []byte("docs")

// Store owns the docs table (IntId -> packed SparseVector) plus the BMW
// index. A write commits the docs-table transaction first and then applies
// the BMW update in the BMW index's own transaction; the two are not one
// atomic transaction.
type Store struct {
	mu    sync.RWMutex
	db    *bbolt.DB
	bmw   *bmw.Index
	count int64
}

// Open opens the docs table at docsPath and the BMW index at bmwPath,
// reconciling the tracked vector count from the docs-table entry count.
func Open(docsPath, bmwPath string) (*Store, error) {
	db, err := bbolt.Open(docsPath, 0o600, nil)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindStorageError, "open docs store", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(docsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, engineerr.Wrap(engineerr.KindStorageError, "init docs bucket", err)
	}

	bmwIdx, err := bmw.Open(bmwPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, bmw: bmwIdx}
	if err := s.reconcileCount(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases both underlying store handles.
func (s *Store) Close() error {
	err1 := s.bmw.Close()
	err2 := s.db.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *Store) reconcileCount() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		n := tx.Bucket(docsBucket).Stats().KeyN
		atomic.StoreInt64(&s.count, int64(n))
		return nil
	})
}

// Count returns the tracked vector count.
func (s *Store) Count() int64 { return atomic.LoadInt64(&s.count) }

func docKey(id uint64) []byte {
	key := make([]byte, 8)
	for i := 0; i < 8; i++ {
		key[7-i] = byte(id >> (8 * i))
	}
	return key
}

// StoreVector writes id's sparse vector to the docs table and then ingests
// its postings into the BMW index, via BatchStore. A BMW failure is
// returned as StorageError and leaves the committed docs-table write in
// place.
func (s *Store) StoreVector(id uint64, sv SparseVector) error {
	return s.BatchStore(map[uint64]SparseVector{id: sv})
}

// BatchStore writes multiple documents to the docs table in one
// transaction, then ingests their postings into the BMW index in a
// separate one; a BMW failure leaves the docs-table writes committed.
func (s *Store) BatchStore(docs map[uint64]SparseVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	postings := make(map[uint64][]bmw.Posting, len(docs))
	packed := make(map[uint64][]byte, len(docs))
	for id, sv := range docs {
		p, err := Pack(sv)
		if err != nil {
			return engineerr.Wrap(engineerr.KindInvalidArgument, "pack sparse vector", err)
		}
		packed[id] = p
		ps := make([]bmw.Posting, len(sv.TermIDs))
		for i, t := range sv.TermIDs {
			ps[i] = bmw.Posting{TermID: t, Value: sv.Values[i]}
		}
		postings[id] = ps
	}

	var delta int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(docsBucket)
		for id, data := range packed {
			if bucket.Get(docKey(id)) == nil {
				delta++
			}
			if err := bucket.Put(docKey(id), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return engineerr.Wrap(engineerr.KindStorageError, "docs-table write failed", err)
	}

	if err := s.bmw.AddDocumentsBatch(postings); err != nil {
		// The docs-table write already committed; since bbolt has no
		// cross-file 2PC, a BMW failure here is surfaced as StorageError
		// and callers must retry the whole BatchStore rather than assume
		// partial application.
		return engineerr.Wrap(engineerr.KindStorageError, "BMW ingest failed after docs-table commit", err)
	}
	atomic.AddInt64(&s.count, delta)
	return nil
}

// Get returns the unpacked sparse vector for id.
func (s *Store) Get(id uint64) (SparseVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(docsBucket).Get(docKey(id))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return SparseVector{}, engineerr.Wrap(engineerr.KindStorageError, "docs-table read failed", err)
	}
	if data == nil {
		return SparseVector{}, engineerr.ErrNotFound
	}
	return Unpack(data)
}

// Delete removes id from the docs table and tombstones its postings in the
// BMW index. termIDs must name every term this document's sparse vector
// touched (the caller obtains them via Get before deleting).
func (s *Store) Delete(id uint64, termIDs []uint32) error {
	return s.BatchDelete(map[uint64][]uint32{id: termIDs})
}

// BatchDelete removes multiple documents in one transaction.
func (s *Store) BatchDelete(byID map[uint64][]uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var delta int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(docsBucket)
		for id := range byID {
			if bucket.Get(docKey(id)) != nil {
				delta--
			}
			if err := bucket.Delete(docKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return engineerr.Wrap(engineerr.KindStorageError, "docs-table delete failed", err)
	}

	for id, termIDs := range byID {
		if err := s.bmw.RemoveDocument(id, termIDs); err != nil {
			return engineerr.Wrap(engineerr.KindStorageError, "BMW tombstone failed after docs-table commit", err)
		}
	}
	atomic.AddInt64(&s.count, delta)
	return nil
}

// Update replaces id's sparse vector, tombstoning the old postings (on
// oldTermIDs) and ingesting the new ones.
func (s *Store) Update(id uint64, oldTermIDs []uint32, sv SparseVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := Pack(sv)
	if err != nil {
		return engineerr.Wrap(engineerr.KindInvalidArgument, "pack sparse vector", err)
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(docsBucket).Put(docKey(id), p)
	}); err != nil {
		return engineerr.Wrap(engineerr.KindStorageError, "docs-table update failed", err)
	}

	ps := make([]bmw.Posting, len(sv.TermIDs))
	for i, t := range sv.TermIDs {
		ps[i] = bmw.Posting{TermID: t, Value: sv.Values[i]}
	}
	if err := s.bmw.UpdateDocument(id, oldTermIDs, ps); err != nil {
		return engineerr.Wrap(engineerr.KindStorageError, "BMW update failed after docs-table commit", err)
	}
	return nil
}

// Search runs a BMW top-k search over the given query sparse vector.
func (s *Store) Search(query SparseVector, k int) ([]bmw.ScoredDoc, error) {
	if err := query.Validate(); err != nil {
		return nil, engineerr.Wrap(engineerr.KindInvalidArgument, "invalid query sparse vector", err)
	}
	ps := make([]bmw.Posting, len(query.TermIDs))
	for i, t := range query.TermIDs {
		ps[i] = bmw.Posting{TermID: t, Value: query.Values[i]}
	}
	results, err := s.bmw.Search(ps, k)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindInternal, "BMW search failed", err)
	}
	return results, nil
}
