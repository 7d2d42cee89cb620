package bmw

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"go.etcd.io/bbolt"
)

var (
	termBlocksBucket      = []byte("term_blocks")
	termBlocksIndexBucket = []byte("term_blocks_index")
)

// Posting is one (term, doc, value) triple from a document's sparse vector.
type Posting struct {
	TermID uint32
	DocID  uint64
	Value  float32
}

// Index is the BMW posting store: blocks persisted at (term_id,
// start_doc_id) keys in bbolt's "term_blocks" bucket, mirrored in memory per
// term for hot-path WAND search, with the term-level BlockIdx[] snapshot
// also persisted in "term_blocks_index" for crash recovery.
type Index struct {
	mu  sync.RWMutex
	db  *bbolt.DB
	hot map[uint32]*termBlocks
}

// Open opens (creating if absent) the BMW store at path.
func Open(path string) (*Index, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("bmw: open store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(termBlocksBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(termBlocksIndexBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bmw: init buckets: %w", err)
	}
	return &Index{db: db, hot: make(map[uint32]*termBlocks)}, nil
}

// Close releases the underlying bbolt handle.
func (idx *Index) Close() error { return idx.db.Close() }

func blockKey(termID uint32, startDocID uint64) []byte {
	key := make([]byte, 12)
	binary.BigEndian.PutUint32(key, termID)
	binary.BigEndian.PutUint64(key[4:], startDocID)
	return key
}

func termIndexKey(termID uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, termID)
	return key
}

// loadTerm returns the in-memory termBlocks for termID, loading it from
// bbolt on first access. Caller must hold idx.mu (write lock, since loading
// mutates the hot cache).
func (idx *Index) loadTerm(tx *bbolt.Tx, termID uint32) (*termBlocks, error) {
	if tb, ok := idx.hot[termID]; ok {
		return tb, nil
	}
	tb := &termBlocks{}
	bucket := tx.Bucket(termBlocksIndexBucket)
	raw := bucket.Get(termIndexKey(termID))
	if raw == nil {
		idx.hot[termID] = tb
		return tb, nil
	}
	entries, err := decodeBlockIdx(raw)
	if err != nil {
		return nil, err
	}
	blocksBucket := tx.Bucket(termBlocksBucket)
	for _, e := range entries {
		data := blocksBucket.Get(blockKey(termID, e.StartDocID))
		if data == nil {
			return nil, fmt.Errorf("bmw: missing block term=%d start=%d", termID, e.StartDocID)
		}
		b, err := Decode(data)
		if err != nil {
			return nil, err
		}
		tb.blocks = append(tb.blocks, fromBlock(e.StartDocID, b))
	}
	idx.hot[termID] = tb
	return tb, nil
}

// persistTerm writes every block of tb plus the term's BlockIdx[] snapshot.
// It deletes any on-disk block whose start-doc-id (from priorStarts) is no
// longer present in tb, covering blocks that CompactTerm dropped or merged.
func (idx *Index) persistTerm(tx *bbolt.Tx, termID uint32, tb *termBlocks, priorStarts []uint64) error {
	blocksBucket := tx.Bucket(termBlocksBucket)
	live := make(map[uint64]bool, len(tb.blocks))
	for _, wb := range tb.blocks {
		live[wb.startDocID] = true
		if err := blocksBucket.Put(blockKey(termID, wb.startDocID), Encode(wb.toBlock())); err != nil {
			return err
		}
	}
	for _, start := range priorStarts {
		if !live[start] {
			if err := blocksBucket.Delete(blockKey(termID, start)); err != nil {
				return err
			}
		}
	}
	idxBucket := tx.Bucket(termBlocksIndexBucket)
	return idxBucket.Put(termIndexKey(termID), encodeBlockIdx(tb.index()))
}

func encodeBlockIdx(entries []BlockIdx) []byte {
	buf := make([]byte, 4+len(entries)*12)
	binary.BigEndian.PutUint32(buf, uint32(len(entries)))
	off := 4
	for _, e := range entries {
		binary.BigEndian.PutUint64(buf[off:], e.StartDocID)
		binary.BigEndian.PutUint32(buf[off+8:], math.Float32bits(e.BlockMaxValue))
		off += 12
	}
	return buf
}

func decodeBlockIdx(data []byte) ([]BlockIdx, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("bmw: truncated term index")
	}
	n := binary.BigEndian.Uint32(data)
	out := make([]BlockIdx, n)
	off := 4
	for i := uint32(0); i < n; i++ {
		if off+12 > len(data) {
			return nil, fmt.Errorf("bmw: truncated term index entry %d", i)
		}
		out[i] = BlockIdx{
			StartDocID:    binary.BigEndian.Uint64(data[off:]),
			BlockMaxValue: math.Float32frombits(binary.BigEndian.Uint32(data[off+8:])),
		}
		off += 12
	}
	return out, nil
}

// AddDocument ingests every posting of one document's sparse vector,
// grouped by term and applied in a single bbolt transaction, atomically
// per batch.
func (idx *Index) AddDocument(docID uint64, postings []Posting) error {
	return idx.AddDocumentsBatch(map[uint64][]Posting{docID: postings})
}

// AddDocumentsBatch ingests multiple documents' postings in one transaction,
// grouping updates by term_id and sorting each group by doc id ascending.
func (idx *Index) AddDocumentsBatch(byDoc map[uint64][]Posting) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	byTerm := make(map[uint32][]Posting)
	for docID, postings := range byDoc {
		for _, p := range postings {
			p.DocID = docID
			byTerm[p.TermID] = append(byTerm[p.TermID], p)
		}
	}

	return idx.db.Update(func(tx *bbolt.Tx) error {
		for termID, postings := range byTerm {
			tb, err := idx.loadTerm(tx, termID)
			if err != nil {
				return err
			}
			priorStarts := startsOf(tb)
			sortPostingsByDoc(postings)
			for _, p := range postings {
				tb.insert(p.DocID, p.Value)
			}
			if err := idx.persistTerm(tx, termID, tb, priorStarts); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveDocument tombstones docID's value (in-place, value→0) across every
// term listed.
func (idx *Index) RemoveDocument(docID uint64, termIDs []uint32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.db.Update(func(tx *bbolt.Tx) error {
		for _, termID := range termIDs {
			tb, err := idx.loadTerm(tx, termID)
			if err != nil {
				return err
			}
			priorStarts := startsOf(tb)
			tb.tombstone(docID)
			if err := idx.persistTerm(tx, termID, tb, priorStarts); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateDocument is a tombstone of the old postings followed by an insert
// of the new ones: update-as-delete-then-add semantics for sparse vectors.
func (idx *Index) UpdateDocument(docID uint64, oldTermIDs []uint32, newPostings []Posting) error {
	if err := idx.RemoveDocument(docID, oldTermIDs); err != nil {
		return err
	}
	return idx.AddDocument(docID, newPostings)
}

func startsOf(tb *termBlocks) []uint64 {
	out := make([]uint64, len(tb.blocks))
	for i, wb := range tb.blocks {
		out[i] = wb.startDocID
	}
	return out
}

func sortPostingsByDoc(postings []Posting) {
	for i := 1; i < len(postings); i++ {
		for j := i; j > 0 && postings[j].DocID < postings[j-1].DocID; j-- {
			postings[j], postings[j-1] = postings[j-1], postings[j]
		}
	}
}
