// Package sparsestore implements the packed sparse-vector wire format and
// the docs table + BMW glue.
package sparsestore

import (
	"encoding/binary"
	"fmt"

	"github.com/ndxdb/engine/internal/vector"
)

// SparseVector is a sorted-by-index set of (term_id, value) pairs.
// Invariant: TermIDs strictly ascending, len(TermIDs) == len(Values).
type SparseVector struct {
	TermIDs []uint32
	Values  []float32
}

// Validate checks the strictly-ascending term-id invariant.
func (sv SparseVector) Validate() error {
	if len(sv.TermIDs) != len(sv.Values) {
		return fmt.Errorf("sparsestore: term_ids/values length mismatch")
	}
	for i := 1; i < len(sv.TermIDs); i++ {
		if sv.TermIDs[i] <= sv.TermIDs[i-1] {
			return fmt.Errorf("sparsestore: term_ids not strictly ascending at index %d", i)
		}
	}
	return nil
}

// Pack serializes sv as nnz:u16 || term_ids:u32[nnz] || values:f16[nnz],
// little-endian, per the data model's packed SparseVector wire format.
func Pack(sv SparseVector) ([]byte, error) {
	if err := sv.Validate(); err != nil {
		return nil, err
	}
	nnz := len(sv.TermIDs)
	buf := make([]byte, 2+nnz*4+nnz*2)
	binary.LittleEndian.PutUint16(buf, uint16(nnz))
	off := 2
	for _, t := range sv.TermIDs {
		binary.LittleEndian.PutUint32(buf[off:], t)
		off += 4
	}
	for _, v := range sv.Values {
		binary.LittleEndian.PutUint16(buf[off:], vector.Float32ToFloat16(v))
		off += 2
	}
	return buf, nil
}

// Unpack is the inverse of Pack.
func Unpack(data []byte) (SparseVector, error) {
	if len(data) < 2 {
		return SparseVector{}, fmt.Errorf("sparsestore: truncated sparse vector")
	}
	nnz := int(binary.LittleEndian.Uint16(data))
	want := 2 + nnz*4 + nnz*2
	if len(data) < want {
		return SparseVector{}, fmt.Errorf("sparsestore: truncated sparse vector body")
	}
	sv := SparseVector{TermIDs: make([]uint32, nnz), Values: make([]float32, nnz)}
	off := 2
	for i := 0; i < nnz; i++ {
		sv.TermIDs[i] = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}
	for i := 0; i < nnz; i++ {
		sv.Values[i] = vector.Float16ToFloat32(binary.LittleEndian.Uint16(data[off:]))
		off += 2
	}
	return sv, nil
}
