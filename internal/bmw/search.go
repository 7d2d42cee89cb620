package bmw

import (
	"container/heap"

	"go.etcd.io/bbolt"
)

// ScoredDoc is one ranked BMW search result.
type ScoredDoc struct {
	DocID uint64
	Score float32
}

// iterator walks one query term's postings in ascending doc-id order,
// skipping tombstones, lazily loading blocks from the term's BlockIdx[]
// within a single read transaction's lifetime.
type iterator struct {
	tx         *bbolt.Tx
	termID     uint32
	termWeight float32
	blockIdx   []BlockIdx
	blockPos   int
	body       *workingBlock
	pos        int
	done       bool
}

func newIterator(tx *bbolt.Tx, termID uint32, weight float32, blockIdx []BlockIdx) *iterator {
	it := &iterator{tx: tx, termID: termID, termWeight: weight, blockIdx: blockIdx}
	it.loadBlock(0)
	it.skipToLive()
	return it
}

func (it *iterator) loadBlock(pos int) {
	it.blockPos = pos
	it.pos = 0
	if pos >= len(it.blockIdx) {
		it.body = nil
		it.done = true
		return
	}
	start := it.blockIdx[pos].StartDocID
	data := it.tx.Bucket(termBlocksBucket).Get(blockKey(it.termID, start))
	if data == nil {
		it.body = nil
		it.done = true
		return
	}
	b, err := Decode(data)
	if err != nil {
		it.body = nil
		it.done = true
		return
	}
	it.body = fromBlock(start, b)
}

// skipToLive advances past tombstoned (value == 0) entries, moving to the
// next block when the current one is exhausted — the scalar equivalent of
// findNextLiveSIMD.
func (it *iterator) skipToLive() {
	for !it.done {
		if it.body == nil || it.pos >= len(it.body.docIDs) {
			it.loadBlock(it.blockPos + 1)
			continue
		}
		if it.body.values[it.pos] > 0 {
			return
		}
		it.pos++
	}
}

// next advances past the current posting to the next live one.
func (it *iterator) next() {
	if it.done {
		return
	}
	it.pos++
	it.skipToLive()
}

// advance moves the iterator to the first live posting with doc id >=
// target, skipping whole blocks whose range ends before target via the
// BlockIdx[] upper bound before descending into the target block.
func (it *iterator) advance(target uint64) {
	if it.done {
		return
	}
	for it.blockPos+1 < len(it.blockIdx) && it.blockIdx[it.blockPos+1].StartDocID <= target {
		it.loadBlock(it.blockPos + 1)
	}
	if it.body == nil {
		it.skipToLive()
		return
	}
	for it.pos < len(it.body.docIDs) && it.body.docIDs[it.pos] < target {
		it.pos++
	}
	it.skipToLive()
}

func (it *iterator) currentDocID() (uint64, bool) {
	if it.done || it.body == nil || it.pos >= len(it.body.docIDs) {
		return 0, false
	}
	return it.body.docIDs[it.pos], true
}

func (it *iterator) currentScore() float32 {
	if it.done || it.body == nil || it.pos >= len(it.body.docIDs) {
		return 0
	}
	return it.termWeight * it.body.values[it.pos]
}

func (it *iterator) upperBound() float32 {
	if it.done || it.blockPos >= len(it.blockIdx) {
		return 0
	}
	return it.termWeight * it.blockIdx[it.blockPos].BlockMaxValue
}

// resultHeap is a min-heap of the current top-k candidates, ordered by
// ascending score so the minimum (the one to evict) is always at the root.
type resultHeap []ScoredDoc

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)         { *h = append(*h, x.(ScoredDoc)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Search runs Block-Max WAND for the given query postings, returning the
// top-k documents by score descending via a pivot-finding main loop.
func (idx *Index) Search(query []Posting, k int) ([]ScoredDoc, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var results []ScoredDoc
	err := idx.db.View(func(tx *bbolt.Tx) error {
		iters := make([]*iterator, 0, len(query))
		for _, p := range query {
			tb, err := idx.loadTerm(tx, p.TermID)
			if err != nil {
				return err
			}
			if len(tb.blocks) == 0 {
				continue
			}
			iters = append(iters, newIterator(tx, p.TermID, p.Value, tb.index()))
		}

		h := &resultHeap{}
		var threshold float32

		for {
			iters = compactDone(iters)
			if len(iters) == 0 {
				break
			}
			sortByDocID(iters)

			var sum float32
			pivot := -1
			for i, it := range iters {
				sum += it.upperBound()
				if sum > threshold {
					pivot = i
					break
				}
			}
			if pivot == -1 {
				break
			}
			pivotDoc, _ := iters[pivot].currentDocID()

			if d, ok := iters[0].currentDocID(); ok && d == pivotDoc {
				var score float32
				for _, it := range iters {
					if cd, ok := it.currentDocID(); ok && cd == pivotDoc {
						score += it.currentScore()
						it.next()
					}
				}
				heap.Push(h, ScoredDoc{DocID: pivotDoc, Score: score})
				if h.Len() > k {
					heap.Pop(h)
				}
				if h.Len() == k {
					threshold = (*h)[0].Score
				}
			} else {
				for i := 0; i < pivot; i++ {
					iters[i].advance(pivotDoc)
				}
			}
		}

		results = make([]ScoredDoc, h.Len())
		for i := len(results) - 1; i >= 0; i-- {
			results[i] = heap.Pop(h).(ScoredDoc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func compactDone(iters []*iterator) []*iterator {
	out := iters[:0]
	for _, it := range iters {
		if !it.done {
			out = append(out, it)
		}
	}
	return out
}

func sortByDocID(iters []*iterator) {
	for i := 1; i < len(iters); i++ {
		for j := i; j > 0; j-- {
			a, _ := iters[j].currentDocID()
			b, _ := iters[j-1].currentDocID()
			if a >= b {
				break
			}
			iters[j], iters[j-1] = iters[j-1], iters[j]
		}
	}
}
