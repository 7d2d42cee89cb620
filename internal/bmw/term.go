package bmw

import "sort"

// termBlocks is the in-memory working set for one term: its blocks in
// start-doc-id order, each carrying its own decoded (docID, value)
// entries so block-max is recomputed on every block write.
type termBlocks struct {
	blocks []*workingBlock
}

// workingBlock pairs a persisted Block with the float values backing its
// current quantized Values: the value as written for entries added since
// the term was loaded, and the dequantized value for entries read from
// disk by fromBlock. Mutation re-derives the block max from these before
// re-quantizing.
type workingBlock struct {
	startDocID uint64
	docIDs     []uint64 // absolute doc ids, ascending
	values     []float32
}

func newWorkingBlock(startDocID uint64) *workingBlock {
	return &workingBlock{startDocID: startDocID}
}

// insert places (docID, value) into the block in ascending-docID order,
// replacing an existing entry for the same docID if present.
func (wb *workingBlock) insert(docID uint64, value float32) {
	i := sort.Search(len(wb.docIDs), func(i int) bool { return wb.docIDs[i] >= docID })
	if i < len(wb.docIDs) && wb.docIDs[i] == docID {
		wb.values[i] = value
		return
	}
	wb.docIDs = append(wb.docIDs, 0)
	wb.values = append(wb.values, 0)
	copy(wb.docIDs[i+1:], wb.docIDs[i:])
	copy(wb.values[i+1:], wb.values[i:])
	wb.docIDs[i] = docID
	wb.values[i] = value
}

// tombstone zeroes the value for docID if present, reporting whether found.
func (wb *workingBlock) tombstone(docID uint64) bool {
	i := sort.Search(len(wb.docIDs), func(i int) bool { return wb.docIDs[i] >= docID })
	if i < len(wb.docIDs) && wb.docIDs[i] == docID {
		wb.values[i] = 0
		return true
	}
	return false
}

// blockMax returns the maximum of this block's current values.
func (wb *workingBlock) blockMax() float32 {
	var max float32
	for _, v := range wb.values {
		if v > max {
			max = v
		}
	}
	return max
}

// split divides wb at its midpoint, returning the new upper-half block,
// whose startDocID is its first doc id; doc ids stay absolute and values
// are copied unchanged. wb keeps the lower half.
func (wb *workingBlock) split() *workingBlock {
	mid := len(wb.docIDs) / 2
	upper := &workingBlock{
		startDocID: wb.docIDs[mid],
		docIDs:     append([]uint64(nil), wb.docIDs[mid:]...),
		values:     append([]float32(nil), wb.values[mid:]...),
	}
	wb.docIDs = wb.docIDs[:mid]
	wb.values = wb.values[:mid]
	return upper
}

// toBlock quantizes wb into an on-disk Block, recomputing header stats.
func (wb *workingBlock) toBlock() *Block {
	blockMax := wb.blockMax()
	b := &Block{
		Diffs:  make([]uint64, len(wb.docIDs)),
		Values: make([]uint8, len(wb.docIDs)),
	}
	for i, id := range wb.docIDs {
		b.Diffs[i] = id - wb.startDocID
		b.Values[i] = quantize(wb.values[i], blockMax)
	}
	b.setBlockMax(blockMax)
	b.rebuildHeader(wb.startDocID)
	return b
}

// fromBlock reconstructs a workingBlock's dequantized values from a
// persisted Block.
func fromBlock(startDocID uint64, b *Block) *workingBlock {
	wb := &workingBlock{
		startDocID: startDocID,
		docIDs:     make([]uint64, len(b.Diffs)),
		values:     make([]float32, len(b.Diffs)),
	}
	for i, d := range b.Diffs {
		wb.docIDs[i] = startDocID + d
		wb.values[i] = dequantize(b.Values[i], b.Header.BlockMaxValue)
	}
	return wb
}

// maxDiffWindow is the 16-bit doc-diff window preferred for new blocks:
// once doc_id - start reaches 2^16, a new block must start.
const maxDiffWindow = 1 << 16

// blockIndexFor locates, by upper-bound on start-doc-id, the block that
// should own docID, or -1 if docID precedes every block or there are none.
func (tb *termBlocks) blockIndexFor(docID uint64) int {
	i := sort.Search(len(tb.blocks), func(i int) bool { return tb.blocks[i].startDocID > docID })
	return i - 1
}

// insert applies the ingest algorithm for one (docID, value) pair on
// this term, splitting the target block when it crosses SplitThreshold.
func (tb *termBlocks) insert(docID uint64, value float32) {
	pos := tb.blockIndexFor(docID)
	if pos == -1 {
		wb := newWorkingBlock(docID)
		wb.insert(docID, value)
		tb.insertBlockAt(0, wb)
		return
	}

	wb := tb.blocks[pos]
	if docID-wb.startDocID >= maxDiffWindow {
		nb := newWorkingBlock(docID)
		nb.insert(docID, value)
		tb.insertBlockAt(pos+1, nb)
		return
	}

	wb.insert(docID, value)
	if len(wb.docIDs) > SplitThreshold {
		upper := wb.split()
		tb.insertBlockAt(pos+1, upper)
	}
}

// tombstone zeroes docID's value wherever it lives among this term's
// blocks, reporting whether an entry was found.
func (tb *termBlocks) tombstone(docID uint64) bool {
	pos := tb.blockIndexFor(docID)
	if pos == -1 {
		return false
	}
	return tb.blocks[pos].tombstone(docID)
}

func (tb *termBlocks) insertBlockAt(pos int, wb *workingBlock) {
	tb.blocks = append(tb.blocks, nil)
	copy(tb.blocks[pos+1:], tb.blocks[pos:])
	tb.blocks[pos] = wb
}

// index materializes the BlockIdx[] view used for WAND pruning without
// loading block bodies.
func (tb *termBlocks) index() []BlockIdx {
	out := make([]BlockIdx, len(tb.blocks))
	for i, wb := range tb.blocks {
		out[i] = BlockIdx{StartDocID: wb.startDocID, BlockMaxValue: wb.blockMax()}
	}
	return out
}
