package hnsw

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ndxdb/engine/internal/quant"
	"github.com/ndxdb/engine/internal/space"
)

func mustSpace(t *testing.T) *space.Space {
	sp, err := space.New(quant.MetricL2, 4, quant.LevelInt8)
	if err != nil {
		t.Fatal(err)
	}
	return sp
}

func TestDenseANNRecallEndToEnd(t *testing.T) {
	sp := mustSpace(t)
	g := New(sp, 16)

	encode := func(v []float32) []byte {
		b, err := sp.Quantize(v)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}

	if err := g.AddPoint(encode([]float32{1, 0, 0, 0}), 1, false); err != nil {
		t.Fatal(err)
	}
	if err := g.AddPoint(encode([]float32{0, 1, 0, 0}), 2, false); err != nil {
		t.Fatal(err)
	}
	if err := g.AddPoint(encode([]float32{0, 0, 1, 0}), 3, false); err != nil {
		t.Fatal(err)
	}

	results := g.SearchKNN(encode([]float32{1, 0, 0, 0}), 2, 50, nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 1 {
		t.Fatalf("expected top result id 1, got %d", results[0].ID)
	}
}

func TestRemovePointHidesFromSearch(t *testing.T) {
	sp := mustSpace(t)
	g := New(sp, 16)
	encode := func(v []float32) []byte { b, _ := sp.Quantize(v); return b }

	_ = g.AddPoint(encode([]float32{1, 0, 0, 0}), 1, false)
	_ = g.AddPoint(encode([]float32{0, 1, 0, 0}), 2, false)

	if err := g.RemovePoint(1); err != nil {
		t.Fatal(err)
	}
	results := g.SearchKNN(encode([]float32{1, 0, 0, 0}), 2, 50, nil)
	for _, r := range results {
		if r.ID == 1 {
			t.Fatalf("deleted point 1 should not be returned")
		}
	}
}

func TestAddPointReplaceDeletedReusesSlot(t *testing.T) {
	sp := mustSpace(t)
	g := New(sp, 16)
	encode := func(v []float32) []byte { b, _ := sp.Quantize(v); return b }

	_ = g.AddPoint(encode([]float32{1, 0, 0, 0}), 1, false)
	_ = g.RemovePoint(1)
	if err := g.AddPoint(encode([]float32{0, 0, 0, 1}), 1, true); err != nil {
		t.Fatal(err)
	}
	results := g.SearchKNN(encode([]float32{0, 0, 0, 1}), 1, 50, nil)
	if len(results) != 1 || results[0].ID != 1 {
		t.Fatalf("expected reused id 1 to be searchable with its new vector")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	sp := mustSpace(t)
	g := New(sp, 16)
	encode := func(v []float32) []byte { b, _ := sp.Quantize(v); return b }
	_ = g.AddPoint(encode([]float32{1, 0, 0, 0}), 1, false)
	_ = g.AddPoint(encode([]float32{0, 1, 0, 0}), 2, false)

	path := filepath.Join(t.TempDir(), "snapshot.bin")
	if err := g.Save(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path, sp)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != g.Len() {
		t.Fatalf("expected %d live points, got %d", g.Len(), loaded.Len())
	}
	results := loaded.SearchKNN(encode([]float32{1, 0, 0, 0}), 1, 50, nil)
	if len(results) != 1 || results[0].ID != 1 {
		t.Fatalf("expected loaded graph to answer search correctly")
	}
}

func TestBruteForceSearchExact(t *testing.T) {
	sp := mustSpace(t)
	encode := func(v []float32) []byte { b, _ := sp.Quantize(v); return b }
	items := []Item{
		{ID: 1, Vector: encode([]float32{1, 0, 0, 0})},
		{ID: 2, Vector: encode([]float32{0, 1, 0, 0})},
	}
	results := BruteForceSearch(sp, items, encode([]float32{1, 0, 0, 0}), 1)
	if len(results) != 1 || results[0].ID != 1 {
		t.Fatalf("expected exact top-1 to be id 1")
	}
}
