package numindex

import (
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// forwardKey identifies one (field, id) forward-store entry.
type forwardKey struct {
	field string
	id    uint64
}

// Index is the numeric bucket index for one or more fields: a forward store
// for point lookups and an inverted store of ordered buckets for range
// scans, guarded by a single RWMutex.
type Index struct {
	mu      sync.RWMutex
	forward map[forwardKey]float64
	// buckets maps field -> ordered slice of *Bucket, kept sorted by
	// StartKey. This stands in for the bbolt "{field}:" keyspace described
	// in the component design: the on-disk inverted store is an ordered
	// byte-keyed table; in process the same ordering is maintained
	// explicitly so Cursor.Seek-equivalent range scans are a binary search.
	buckets map[string][]*Bucket
}

// New creates an empty numeric index.
func New() *Index {
	return &Index{
		forward: make(map[forwardKey]float64),
		buckets: make(map[string][]*Bucket),
	}
}

// Insert adds (value,id) on field F: record the forward entry, locate (or create) the covering bucket, insert in
// sorted order, and split if the bucket has grown past
// MaxBucketSize.
func (idx *Index) Insert(field string, value float64, id uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.forward[forwardKey{field, id}] = value

	buckets := idx.buckets[field]
	pos := idx.bucketForValue(buckets, value)
	if pos == -1 {
		// No bucket yet, or value precedes the first bucket's start: open
		// a fresh bucket at this value.
		nb := &Bucket{Entries: []Entry{{Value: value, ID: id}}}
		buckets = insertBucketSorted(buckets, nb)
		idx.buckets[field] = buckets
		return
	}

	buckets[pos].Insert(value, id)
	if len(buckets[pos].Entries) > MaxBucketSize {
		upper := buckets[pos].Split()
		buckets = append(buckets, nil)
		copy(buckets[pos+2:], buckets[pos+1:])
		buckets[pos+1] = upper
	}
	idx.buckets[field] = buckets
}

// Remove deletes (value,id) from field F's forward and inverted stores.
func (idx *Index) Remove(field string, id uint64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := forwardKey{field, id}
	value, ok := idx.forward[key]
	if !ok {
		return false
	}
	delete(idx.forward, key)

	buckets := idx.buckets[field]
	pos := idx.bucketForValue(buckets, value)
	if pos == -1 {
		return false
	}
	buckets[pos].Remove(value, id)
	if len(buckets[pos].Entries) == 0 {
		idx.buckets[field] = append(buckets[:pos], buckets[pos+1:]...)
	}
	return true
}

// Value returns the forward-store value recorded for (field,id).
func (idx *Index) Value(field string, id uint64) (float64, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	v, ok := idx.forward[forwardKey{field, id}]
	return v, ok
}

// Range returns the bitmap of IntIds whose field F value falls in [lo,hi].
func (idx *Index) Range(field string, lo, hi float64) (*roaring.Bitmap, error) {
	if lo > hi {
		return nil, fmt.Errorf("numindex: invalid range [%v,%v]: lo > hi", lo, hi)
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := roaring.NewBitmap()
	buckets := idx.buckets[field]
	start := idx.floorBucket(buckets, lo)
	if start < 0 {
		start = 0
	}
	for i := start; i < len(buckets); i++ {
		b := buckets[i]
		if len(b.Entries) > 0 && b.Entries[0].Value > hi {
			break
		}
		for _, e := range b.Entries {
			if e.Value >= lo && e.Value <= hi {
				out.Add(uint32(e.ID))
			}
		}
	}
	return out, nil
}

// bucketForValue returns the index of the bucket that should contain value,
// i.e. the last bucket whose StartKey's value is <= value, or -1 if value
// precedes every bucket (or there are none).
func (idx *Index) bucketForValue(buckets []*Bucket, value float64) int {
	return idx.floorBucket(buckets, value)
}

// floorBucket returns the last bucket index whose start value is <= value
// (the SET_RANGE-equivalent seek-then-step-back position), or -1 if value
// precedes every bucket (or there are none).
func (idx *Index) floorBucket(buckets []*Bucket, value float64) int {
	i := sort.Search(len(buckets), func(i int) bool {
		return buckets[i].Entries[0].Value > value
	})
	return i - 1
}

func insertBucketSorted(buckets []*Bucket, nb *Bucket) []*Bucket {
	start := nb.Entries[0].Value
	i := sort.Search(len(buckets), func(i int) bool {
		if len(buckets[i].Entries) == 0 {
			return true
		}
		return buckets[i].Entries[0].Value >= start
	})
	buckets = append(buckets, nil)
	copy(buckets[i+1:], buckets[i:])
	buckets[i] = nb
	return buckets
}
