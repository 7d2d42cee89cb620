package hnsw

import "github.com/ndxdb/engine/internal/space"

// Item is one (IntId, bytes) pair for exact subset search.
type Item struct {
	ID     IntId
	Vector []byte
}

// BruteForceSearch returns the exact top-k items by sp's distance function,
// closest first. It is the exact sibling used for small/filtered subsets
// where the approximate graph would be overkill or under-recall.
func BruteForceSearch(sp *space.Space, items []Item, query []byte, k int) []ScoredID {
	scored := make([]ScoredID, 0, len(items))
	for _, it := range items {
		scored = append(scored, ScoredID{Dist: sp.Distance(query, it.Vector), ID: it.ID})
	}
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Dist < scored[j-1].Dist; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
