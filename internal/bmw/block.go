// Package bmw implements the Block-Max WAND sparse posting index:
// SoA posting blocks per term, block-max metadata, and WAND top-k search.
package bmw

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MaxBlockSize is the nominal block size; blocks are allowed to grow past it
// transiently, up to SplitThreshold, before a split is forced.
const MaxBlockSize = 128

// SplitThreshold is the entry count above which a block is split at its
// midpoint.
const SplitThreshold = 160

// headerVersion is the on-disk BlockHeader format version.
const headerVersion = 3

// BlockHeader is the 16-byte packed header preceding every block's
// diff/value arrays on disk.
type BlockHeader struct {
	Version       uint8
	DiffBits      uint8 // one of 16, 32, 64
	N             uint16
	LiveCount     uint16
	Padding       uint16
	BlockMaxValue float32
	AlignmentPad  uint32
}

// BlockIdx is one entry of a term's in-memory/on-disk index: the starting
// doc id and block-max value of one block, used for WAND upper-bound pruning
// without loading the block body.
type BlockIdx struct {
	StartDocID    uint64
	BlockMaxValue float32
}

// Block is one posting fragment for a term: a header plus parallel
// doc-diff and quantized-value arrays, both length Header.N.
type Block struct {
	Header  BlockHeader
	Diffs   []uint64
	Values  []uint8 // quantized: 0 means tombstoned
}

// diffBitsFor returns the smallest of {16,32,64} that can represent maxDiff.
func diffBitsFor(maxDiff uint64) uint8 {
	switch {
	case maxDiff < 1<<16:
		return 16
	case maxDiff < 1<<32:
		return 32
	default:
		return 64
	}
}

// quantize maps value into [0,255] relative to blockMax for on-disk
// storage.
func quantize(value, blockMax float32) uint8 {
	if blockMax <= 0 {
		return 0
	}
	q := value / blockMax * 255
	if q < 0 {
		return 0
	}
	if q > 255 {
		return 255
	}
	return uint8(q + 0.5)
}

// dequantize inverts quantize.
func dequantize(q uint8, blockMax float32) float32 {
	return float32(q) / 255 * blockMax
}

// rebuildHeader recomputes Header.N/LiveCount/DiffBits (and sets Version)
// from the current Diffs/Values contents; BlockMaxValue is set separately
// by setBlockMax. Called after any structural mutation
// (insert, split, tombstone).
func (b *Block) rebuildHeader(startDocID uint64) {
	b.Header.Version = headerVersion
	b.Header.N = uint16(len(b.Diffs))

	var maxDiff uint64
	var live uint16
	for i, d := range b.Diffs {
		if d > maxDiff {
			maxDiff = d
		}
		if b.Values[i] > 0 {
			live++
		}
	}
	b.Header.DiffBits = diffBitsFor(maxDiff)
	b.Header.LiveCount = live
	// BlockMaxValue recomputation needs the dequantized values, which the
	// caller already has before quantizing; callers must pass the true max
	// through setBlockMax before or in place of this call when values
	// change. rebuildHeader alone only refreshes N/LiveCount/DiffBits.
}

// setBlockMax sets Header.BlockMaxValue, the dequantization scale for the
// whole block. Must be called with the true maximum of this block's
// (not-yet-quantized) values whenever that maximum changes.
func (b *Block) setBlockMax(max float32) {
	b.Header.BlockMaxValue = max
}

// Encode serializes a block as BlockHeader (16 bytes) || diff_array
// (n*diffBits/8 bytes) || value_array (n bytes), little-endian.
func Encode(b *Block) []byte {
	bodySize := int(b.Header.N) * int(b.Header.DiffBits) / 8
	buf := make([]byte, 16+bodySize+int(b.Header.N))

	buf[0] = b.Header.Version
	buf[1] = b.Header.DiffBits
	binary.LittleEndian.PutUint16(buf[2:], b.Header.N)
	binary.LittleEndian.PutUint16(buf[4:], b.Header.LiveCount)
	binary.LittleEndian.PutUint16(buf[6:], b.Header.Padding)
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(b.Header.BlockMaxValue))
	binary.LittleEndian.PutUint32(buf[12:], b.Header.AlignmentPad)

	off := 16
	switch b.Header.DiffBits {
	case 16:
		for _, d := range b.Diffs {
			binary.LittleEndian.PutUint16(buf[off:], uint16(d))
			off += 2
		}
	case 32:
		for _, d := range b.Diffs {
			binary.LittleEndian.PutUint32(buf[off:], uint32(d))
			off += 4
		}
	case 64:
		for _, d := range b.Diffs {
			binary.LittleEndian.PutUint64(buf[off:], d)
			off += 8
		}
	}
	copy(buf[off:], b.Values)
	return buf
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*Block, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("bmw: truncated block header")
	}
	h := BlockHeader{
		Version:       data[0],
		DiffBits:      data[1],
		N:             binary.LittleEndian.Uint16(data[2:]),
		LiveCount:     binary.LittleEndian.Uint16(data[4:]),
		Padding:       binary.LittleEndian.Uint16(data[6:]),
		BlockMaxValue: math.Float32frombits(binary.LittleEndian.Uint32(data[8:])),
		AlignmentPad:  binary.LittleEndian.Uint32(data[12:]),
	}
	if h.Version != headerVersion {
		return nil, fmt.Errorf("bmw: unsupported block version %d", h.Version)
	}

	off := 16
	diffs := make([]uint64, h.N)
	switch h.DiffBits {
	case 16:
		for i := range diffs {
			diffs[i] = uint64(binary.LittleEndian.Uint16(data[off:]))
			off += 2
		}
	case 32:
		for i := range diffs {
			diffs[i] = uint64(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
	case 64:
		for i := range diffs {
			diffs[i] = binary.LittleEndian.Uint64(data[off:])
			off += 8
		}
	default:
		return nil, fmt.Errorf("bmw: invalid diff_bits %d", h.DiffBits)
	}
	if off+int(h.N) > len(data) {
		return nil, fmt.Errorf("bmw: truncated value array")
	}
	values := make([]uint8, h.N)
	copy(values, data[off:off+int(h.N)])

	return &Block{Header: h, Diffs: diffs, Values: values}, nil
}
