package numindex

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// MaxBucketSize bounds the number of entries an inverted bucket may hold
// before it is split at the midpoint.
const MaxBucketSize = 512

// Entry is one (value, doc id) pair kept inside a bucket, sorted by value.
type Entry struct {
	Value float64
	ID    uint64
}

// Bucket is the inverted-store unit for one field: an ordered run of
// entries, addressed by StartKey, its first entry's sortable-encoded
// value. Index keeps its buckets in memory.
type Bucket struct {
	Entries []Entry
}

// StartKey returns the sortable key a bucket is addressed by: the smallest
// value it currently holds.
func (b *Bucket) StartKey() uint32 {
	if len(b.Entries) == 0 {
		return 0
	}
	return EncodeSortable(b.Entries[0].Value)
}

// Insert adds (value,id) keeping Entries sorted by value, then by id for
// stability among equal values.
func (b *Bucket) Insert(value float64, id uint64) {
	i := sort.Search(len(b.Entries), func(i int) bool {
		if b.Entries[i].Value != value {
			return b.Entries[i].Value > value
		}
		return b.Entries[i].ID >= id
	})
	b.Entries = append(b.Entries, Entry{})
	copy(b.Entries[i+1:], b.Entries[i:])
	b.Entries[i] = Entry{Value: value, ID: id}
}

// Remove deletes the (value,id) entry if present, reporting whether it was
// found.
func (b *Bucket) Remove(value float64, id uint64) bool {
	for i, e := range b.Entries {
		if e.Value == value && e.ID == id {
			b.Entries = append(b.Entries[:i], b.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Split divides the bucket at its midpoint, returning the new bucket holding
// the upper half; b retains the lower half. The caller is responsible for
// re-keying both halves in the inverted store under their respective
// StartKey.
func (b *Bucket) Split() *Bucket {
	mid := len(b.Entries) / 2
	upper := &Bucket{Entries: append([]Entry(nil), b.Entries[mid:]...)}
	b.Entries = b.Entries[:mid]
	return upper
}

// Encode serializes a bucket as a length-prefixed sequence of
// (float64 value, uint64 id) pairs, big-endian. Index does not call it;
// its buckets are not written to a key-value store.
func Encode(b *Bucket) []byte {
	buf := make([]byte, 4+len(b.Entries)*16)
	binary.BigEndian.PutUint32(buf, uint32(len(b.Entries)))
	off := 4
	for _, e := range b.Entries {
		binary.BigEndian.PutUint64(buf[off:], math.Float64bits(e.Value))
		binary.BigEndian.PutUint64(buf[off+8:], e.ID)
		off += 16
	}
	return buf
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*Bucket, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("numindex: truncated bucket header")
	}
	n := binary.BigEndian.Uint32(data)
	b := &Bucket{Entries: make([]Entry, n)}
	off := 4
	for i := uint32(0); i < n; i++ {
		if off+16 > len(data) {
			return nil, fmt.Errorf("numindex: truncated bucket entry %d", i)
		}
		raw := binary.BigEndian.Uint64(data[off:])
		id := binary.BigEndian.Uint64(data[off+8:])
		b.Entries[i] = Entry{Value: math.Float64frombits(raw), ID: id}
		off += 16
	}
	return b, nil
}
