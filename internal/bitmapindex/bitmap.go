// Package bitmapindex implements the roaring-bitmap-per-(field,value)
// categorical/boolean equality index.
package bitmapindex

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/cespare/xxhash/v2"
)

// Key builds the "{field}:{value}" posting key used both in memory and on
// disk.
func Key(field, value string) string {
	return field + ":" + value
}

// posting pairs a posting key with its bitmap; the key is kept alongside
// the hash-keyed map entry so AllForField/Snapshot can recover it.
type posting struct {
	key string
	bm  *roaring.Bitmap
}

// Index is a mutable map of posting key → roaring bitmap of IntIds, guarded
// by a single RWMutex (the on-disk store relies on its underlying MVCC for
// concurrent reads; here the store is an in-process map, so a RWMutex plays
// that role directly). Postings are interned under an
// xxhash of the "{field}:{value}" key rather than the string itself, since
// this map is on the hot ingest/query path.
type Index struct {
	mu       sync.RWMutex
	postings map[uint64]*posting
}

// New creates an empty bitmap index.
func New() *Index {
	return &Index{postings: make(map[uint64]*posting)}
}

func postingKey(key string) uint64 { return xxhash.Sum64String(key) }

// Add adds id to the posting for (field,value).
func (idx *Index) Add(field, value string, id uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.bitmapLocked(Key(field, value)).Add(uint32(id))
}

// Remove removes id from the posting for (field,value).
func (idx *Index) Remove(field, value string, id uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key := Key(field, value)
	hk := postingKey(key)
	p, ok := idx.postings[hk]
	if !ok {
		return
	}
	p.bm.Remove(uint32(id))
	if p.bm.IsEmpty() {
		delete(idx.postings, hk)
	}
}

// Contains reports whether id is present in the posting for (field,value).
func (idx *Index) Contains(field, value string, id uint64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	p, ok := idx.postings[postingKey(Key(field, value))]
	if !ok {
		return false
	}
	return p.bm.Contains(uint32(id))
}

// AddBatchByKey adds every id in ids to the posting identified by the raw
// "{field}:{value}" key, for bulk ingest.
func (idx *Index) AddBatchByKey(key string, ids []uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bm := idx.bitmapLocked(key)
	for _, id := range ids {
		bm.Add(uint32(id))
	}
}

func (idx *Index) bitmapLocked(key string) *roaring.Bitmap {
	hk := postingKey(key)
	p, ok := idx.postings[hk]
	if !ok {
		p = &posting{key: key, bm: roaring.NewBitmap()}
		idx.postings[hk] = p
	}
	return p.bm
}

// Get returns a clone of the bitmap for (field,value), or an empty bitmap if
// unposted.
func (idx *Index) Get(field, value string) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	p, ok := idx.postings[postingKey(Key(field, value))]
	if !ok {
		return roaring.NewBitmap()
	}
	return p.bm.Clone()
}

// AllForField unions every posting for field into one bitmap — the "field
// universe" needed to compute $ne as universe-minus-eq.
func (idx *Index) AllForField(field string) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	prefix := field + ":"
	out := roaring.NewBitmap()
	for _, p := range idx.postings {
		if len(p.key) >= len(prefix) && p.key[:len(prefix)] == prefix {
			out.Or(p.bm)
		}
	}
	return out
}

// Snapshot serializes the entire index into the portable roaring-bitmap
// encoding, one entry per posting key, for persistence into the embedded KV
// environment.
func (idx *Index) Snapshot() (map[string][]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	keys := make([]string, 0, len(idx.postings))
	byKey := make(map[string]*roaring.Bitmap, len(idx.postings))
	for _, p := range idx.postings {
		keys = append(keys, p.key)
		byKey[p.key] = p.bm
	}
	sort.Strings(keys)

	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		var buf bytes.Buffer
		if _, err := byKey[k].WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("bitmapindex: serialize %q: %w", k, err)
		}
		out[k] = buf.Bytes()
	}
	return out, nil
}

// Restore replaces the index contents from a snapshot produced by Snapshot.
func Restore(data map[string][]byte) (*Index, error) {
	idx := New()
	for k, v := range data {
		bm := roaring.NewBitmap()
		if _, err := bm.FromBuffer(v); err != nil {
			return nil, fmt.Errorf("bitmapindex: restore %q: %w", k, err)
		}
		idx.postings[postingKey(k)] = &posting{key: k, bm: bm}
	}
	return idx, nil
}
