package filterfacade

import (
	"encoding/json"
	"testing"

	"github.com/ndxdb/engine/internal/bitmapindex"
	"github.com/ndxdb/engine/internal/engineerr"
	"github.com/ndxdb/engine/internal/numindex"
	"github.com/ndxdb/engine/internal/schema"
)

func newFacade() *Facade {
	return New(bitmapindex.New(), numindex.New(), schema.NewCache())
}

func mustIngest(t *testing.T, f *Facade, field string, value any, id uint64) {
	t.Helper()
	raw, err := json.Marshal(value)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Ingest(field, raw, id); err != nil {
		t.Fatal(err)
	}
}

func TestEqStringAndNumberDispatch(t *testing.T) {
	f := newFacade()
	mustIngest(t, f, "color", "red", 1)
	mustIngest(t, f, "color", "blue", 2)
	mustIngest(t, f, "price", 10.0, 1)
	mustIngest(t, f, "price", 20.0, 2)

	bm, err := f.Eval([]byte(`[{"color":{"$eq":"red"}}]`))
	if err != nil {
		t.Fatal(err)
	}
	if bm.GetCardinality() != 1 || !bm.Contains(1) {
		t.Fatalf("expected {1}, got %v", bm.ToArray())
	}

	bm, err = f.Eval([]byte(`[{"price":{"$eq":20}}]`))
	if err != nil {
		t.Fatal(err)
	}
	if bm.GetCardinality() != 1 || !bm.Contains(2) {
		t.Fatalf("expected {2}, got %v", bm.ToArray())
	}
}

func TestAndAcrossConjuncts(t *testing.T) {
	f := newFacade()
	mustIngest(t, f, "color", "red", 1)
	mustIngest(t, f, "color", "red", 2)
	mustIngest(t, f, "price", 10.0, 1)
	mustIngest(t, f, "price", 20.0, 2)

	bm, err := f.Eval([]byte(`[{"color":{"$eq":"red"}},{"price":{"$range":[0,15]}}]`))
	if err != nil {
		t.Fatal(err)
	}
	if bm.GetCardinality() != 1 || !bm.Contains(1) {
		t.Fatalf("expected {1}, got %v", bm.ToArray())
	}
}

func TestEmptyConjunctsYieldsEmptySet(t *testing.T) {
	f := newFacade()
	bm, err := f.Eval([]byte(`[]`))
	if err != nil {
		t.Fatal(err)
	}
	if !bm.IsEmpty() {
		t.Fatal("expected empty result for empty conjunct array")
	}
}

func TestInOperator(t *testing.T) {
	f := newFacade()
	mustIngest(t, f, "color", "red", 1)
	mustIngest(t, f, "color", "blue", 2)
	mustIngest(t, f, "color", "green", 3)

	bm, err := f.Eval([]byte(`[{"color":{"$in":["red","green"]}}]`))
	if err != nil {
		t.Fatal(err)
	}
	if bm.GetCardinality() != 2 || !bm.Contains(1) || !bm.Contains(3) {
		t.Fatalf("expected {1,3}, got %v", bm.ToArray())
	}
}

func TestNeOperator(t *testing.T) {
	f := newFacade()
	mustIngest(t, f, "color", "red", 1)
	mustIngest(t, f, "color", "blue", 2)

	bm, err := f.Eval([]byte(`[{"color":{"$ne":"red"}}]`))
	if err != nil {
		t.Fatal(err)
	}
	if bm.GetCardinality() != 1 || !bm.Contains(2) {
		t.Fatalf("expected {2}, got %v", bm.ToArray())
	}
}

func TestArrayFieldMembership(t *testing.T) {
	f := newFacade()
	mustIngest(t, f, "tags", []any{"a", "b"}, 1)
	mustIngest(t, f, "tags", []any{"b", "c"}, 2)

	bm, err := f.Eval([]byte(`[{"tags":{"$eq":"b"}}]`))
	if err != nil {
		t.Fatal(err)
	}
	if bm.GetCardinality() != 2 {
		t.Fatalf("expected both docs to match tag b, got %v", bm.ToArray())
	}
}

func TestRangeRejectsInvertedBounds(t *testing.T) {
	f := newFacade()
	mustIngest(t, f, "price", 10.0, 1)
	_, err := f.Eval([]byte(`[{"price":{"$range":[10,5]}}]`))
	if err == nil {
		t.Fatal("expected error for lo > hi")
	}
}

func TestTypeMismatchFails(t *testing.T) {
	f := newFacade()
	mustIngest(t, f, "price", 10.0, 1)
	_, err := f.Eval([]byte(`[{"price":{"$eq":"ten"}}]`))
	if err == nil {
		t.Fatal("expected type mismatch error")
	}
	if !engineerr.Is(err, engineerr.KindTypeMismatch) {
		t.Fatalf("expected KindTypeMismatch, got %v", err)
	}
}

func TestUnknownOperatorFails(t *testing.T) {
	f := newFacade()
	_, err := f.Eval([]byte(`[{"color":{"$bogus":"red"}}]`))
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
	if !engineerr.Is(err, engineerr.KindInvalidArgument) {
		t.Fatalf("expected KindInvalidArgument, got %v", err)
	}
}
