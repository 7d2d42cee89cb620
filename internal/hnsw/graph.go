// Package hnsw implements the layered proximity graph contract the rest of
// the engine treats as an external collaborator: only add_point, remove_point,
// search_knn, and the byte-vector-only integration surface are load-bearing —
// the graph never sees floats, external IDs, or filter JSON.
package hnsw

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/ndxdb/engine/internal/space"
)

// IntId is the internal integer identifier minted by the ID mapper.
type IntId uint64

const (
	defaultM              = 16
	defaultEfConstruction = 200
)

type node struct {
	id        IntId
	vector    []byte
	level     int
	neighbors [][]IntId // neighbors[l] for l in [0, level]
	deleted   bool
}

// Graph is a modest, real multi-layer HNSW index over quantized byte vectors.
type Graph struct {
	mu             sync.RWMutex
	space          *space.Space
	maxElements    int
	m              int
	efConstruction int
	mL             float64

	nodes      map[IntId]*node
	entryPoint IntId
	hasEntry   bool
	rng        *rand.Rand
}

// New creates a graph bound to space with room for maxElements live points.
func New(sp *space.Space, maxElements int) *Graph {
	return &Graph{
		space:          sp,
		maxElements:    maxElements,
		m:              defaultM,
		efConstruction: defaultEfConstruction,
		mL:             1 / math.Log(float64(defaultM)),
		nodes:          make(map[IntId]*node, maxElements),
		rng:            rand.New(rand.NewSource(1)),
	}
}

// Space returns the bound space.
func (g *Graph) Space() *space.Space { return g.space }

// Len returns the number of live (non-deleted) points.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, nd := range g.nodes {
		if !nd.deleted {
			n++
		}
	}
	return n
}

func (g *Graph) randomLevel() int {
	return int(math.Floor(-math.Log(g.rng.Float64()) * g.mL))
}

// AddPoint inserts datum under id. If replaceDeleted is true and id already
// exists as a tombstoned node, its graph slot is reused in place (overwriting
// the vector and re-linking) rather than allocating a fresh node.
func (g *Graph) AddPoint(datum []byte, id IntId, replaceDeleted bool) error {
	if len(datum) != g.space.Params().DataSize {
		return fmt.Errorf("hnsw: datum size %d does not match space data size %d", len(datum), g.space.Params().DataSize)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.nodes) >= g.maxElements {
		if existing, ok := g.nodes[id]; !ok || !existing.deleted {
			return fmt.Errorf("hnsw: capacity exhausted (max_elements=%d)", g.maxElements)
		}
	}

	if existing, ok := g.nodes[id]; ok && replaceDeleted {
		existing.vector = datum
		existing.deleted = false
		g.linkNode(existing)
		return nil
	}

	level := g.randomLevel()
	nd := &node{
		id:        id,
		vector:    datum,
		level:     level,
		neighbors: make([][]IntId, level+1),
	}
	g.nodes[id] = nd
	g.linkNode(nd)
	return nil
}

// linkNode wires nd into every layer from 0 up to its level, assuming g.mu is
// held for writing. If nd is the very first node, it becomes the entry point.
func (g *Graph) linkNode(nd *node) {
	if !g.hasEntry {
		g.entryPoint = nd.id
		g.hasEntry = true
		return
	}

	entry := g.nodes[g.entryPoint]
	curDist := g.space.Distance(nd.vector, entry.vector)
	cur := entry

	for l := entry.level; l > nd.level; l-- {
		cur, curDist = g.greedyDescend(cur, curDist, nd.vector, l)
	}

	for l := min(entry.level, nd.level); l >= 0; l-- {
		candidates := g.searchLayer(nd.vector, cur.id, g.efConstruction, l)
		selected := g.selectNeighbors(candidates, g.m)
		nd.neighbors[l] = selected
		for _, nb := range selected {
			g.addBacklink(nb, nd.id, l)
		}
		if len(selected) > 0 {
			cur = g.nodes[selected[0]]
		}
	}

	if nd.level > entry.level {
		g.entryPoint = nd.id
	}
}

func (g *Graph) addBacklink(id IntId, newNeighbor IntId, layer int) {
	nb := g.nodes[id]
	if nb == nil || layer > nb.level {
		return
	}
	nb.neighbors[layer] = append(nb.neighbors[layer], newNeighbor)
	if len(nb.neighbors[layer]) > g.m*2 {
		cands := make([]IntId, 0, len(nb.neighbors[layer]))
		cands = append(cands, nb.neighbors[layer]...)
		nb.neighbors[layer] = g.selectNeighbors(cands, g.m)
	}
}

func (g *Graph) greedyDescend(from *node, fromDist float32, target []byte, layer int) (*node, float32) {
	cur, curDist := from, fromDist
	for {
		if layer > cur.level {
			return cur, curDist
		}
		improved := false
		for _, nbID := range cur.neighbors[layer] {
			nb := g.nodes[nbID]
			if nb == nil {
				continue
			}
			d := g.space.Distance(target, nb.vector)
			if d < curDist {
				curDist = d
				cur = nb
				improved = true
			}
		}
		if !improved {
			return cur, curDist
		}
	}
}

// selectNeighbors keeps the first m of cands in the order given, without
// re-ranking. Candidates from searchLayer are distance-sorted, so there the
// closest m are kept; addBacklink passes an existing neighbor list with the
// new neighbor appended, so there the first m in list order are kept.
func (g *Graph) selectNeighbors(cands []IntId, m int) []IntId {
	if len(cands) <= m {
		return cands
	}
	return cands[:m]
}

// RemovePoint tombstones id. Physical reclamation is deferred to compaction.
func (g *Graph) RemovePoint(id IntId) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	nd, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("hnsw: point %d not found", id)
	}
	nd.deleted = true
	return nil
}

// ScoredID is a (distance, IntId) search result.
type ScoredID struct {
	Dist float32
	ID   IntId
}

// sortedInsert inserts s into items (ascending by Dist) via insertion sort,
// capping the slice at limit entries. Layer candidate sets are small
// (≈ efConstruction), so this outperforms heap bookkeeping in practice and
// keeps the algorithm easy to follow.
func sortedInsert(items []ScoredID, s ScoredID, limit int) []ScoredID {
	items = append(items, s)
	for i := len(items) - 1; i > 0 && items[i].Dist < items[i-1].Dist; i-- {
		items[i], items[i-1] = items[i-1], items[i]
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// searchLayer performs the classic HNSW layer search from entryID, returning
// up to ef candidate IDs ordered closest-first.
func (g *Graph) searchLayer(query []byte, entryID IntId, ef int, layer int) []IntId {
	entry := g.nodes[entryID]
	if entry == nil {
		return nil
	}
	visited := map[IntId]bool{entry.id: true}
	entryDist := g.space.Distance(query, entry.vector)

	frontier := []ScoredID{{Dist: entryDist, ID: entry.id}}
	results := []ScoredID{{Dist: entryDist, ID: entry.id}}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if len(results) >= ef && cur.Dist > results[len(results)-1].Dist {
			break
		}
		curNode := g.nodes[cur.ID]
		if curNode == nil || layer > curNode.level {
			continue
		}
		for _, nbID := range curNode.neighbors[layer] {
			if visited[nbID] {
				continue
			}
			visited[nbID] = true
			nb := g.nodes[nbID]
			if nb == nil {
				continue
			}
			d := g.space.Distance(query, nb.vector)
			if len(results) < ef || d < results[len(results)-1].Dist {
				frontier = sortedInsert(frontier, ScoredID{Dist: d, ID: nbID}, ef)
				results = sortedInsert(results, ScoredID{Dist: d, ID: nbID}, ef)
			}
		}
	}

	ids := make([]IntId, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

// SearchKNN returns up to k nearest live points to query that satisfy filter
// (nil filter accepts everything), at the given ef.
func (g *Graph) SearchKNN(query []byte, k int, ef int, filter func(IntId) bool) []ScoredID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.hasEntry {
		return nil
	}
	if ef < k {
		ef = k
	}

	entry := g.nodes[g.entryPoint]
	curDist := g.space.Distance(query, entry.vector)
	cur := entry
	for l := entry.level; l > 0; l-- {
		cur, curDist = g.greedyDescend(cur, curDist, query, l)
	}

	candidateIDs := g.searchLayer(query, cur.id, ef, 0)

	out := make([]ScoredID, 0, k)
	for _, id := range candidateIDs {
		nd := g.nodes[id]
		if nd == nil || nd.deleted {
			continue
		}
		if filter != nil && !filter(id) {
			continue
		}
		out = append(out, ScoredID{Dist: g.space.Distance(query, nd.vector), ID: id})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Dist < out[j-1].Dist; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
