// Package numindex implements the ordered numeric bucket index:
// a forward store mapping (field,IntId) to its float64 value, and an
// inverted store of ordered buckets (split past MaxBucketSize entries)
// supporting range scans. Both stores are held in memory.
package numindex

import "math"

// EncodeSortable maps a float64 numeric value onto a u32 such that
// byte-lexicographic order on the result matches numeric order on the
// input. Values are first narrowed to float32 (the storage precision used
// throughout this index), then encoded following the IEEE-754 sign/magnitude
// flip: reinterpret to u32, then XOR with ((bits>>31) | 0x80000000), which
// flips the sign bit always and the magnitude bits only when negative.
func EncodeSortable(v float64) uint32 {
	bits := math.Float32bits(float32(v))
	mask := uint32(int32(bits)>>31) | 0x80000000
	return bits ^ mask
}

// DecodeSortable is the inverse of EncodeSortable, recovering the float32
// value (as a float64) that produced the sortable key.
func DecodeSortable(key uint32) float64 {
	mask := uint32(int32(key^0x80000000)>>31) | 0x80000000
	bits := key ^ mask
	return float64(math.Float32frombits(bits))
}
