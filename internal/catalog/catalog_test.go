package catalog

import (
	"path/filepath"
	"testing"

	"github.com/ndxdb/engine/internal/engineerr"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStoreGetRoundTrip(t *testing.T) {
	c := openTest(t)
	meta := IndexMetadata{
		Owner: "acme", Name: "products", Dim: 768, SparseDim: 30000,
		Metric: "cosine", QuantLevel: "int8", M: 16, EfCon: 200,
	}
	if err := c.Store(meta); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get("acme", "products")
	if err != nil {
		t.Fatal(err)
	}
	if got.Dim != 768 || got.Metric != "cosine" {
		t.Fatalf("unexpected metadata: %+v", got)
	}
	if got.Checksum == 0 {
		t.Fatal("expected checksum to be computed")
	}
	if got.InstanceID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatal("expected instance id to be assigned")
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be assigned")
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	c := openTest(t)
	_, err := c.Get("acme", "missing")
	if !engineerr.Is(err, engineerr.KindNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestUpdateElementCountPreservesOtherFields(t *testing.T) {
	c := openTest(t)
	meta := IndexMetadata{Owner: "acme", Name: "products", Dim: 128, Metric: "dot"}
	if err := c.Store(meta); err != nil {
		t.Fatal(err)
	}
	if err := c.UpdateElementCount("acme", "products", 1234); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get("acme", "products")
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalElements != 1234 {
		t.Fatalf("expected updated element count, got %d", got.TotalElements)
	}
	if got.Dim != 128 {
		t.Fatal("expected other fields to survive element-count update")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := openTest(t)
	meta := IndexMetadata{Owner: "acme", Name: "products"}
	if err := c.Store(meta); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete("acme", "products"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get("acme", "products"); !engineerr.Is(err, engineerr.KindNotFound) {
		t.Fatal("expected not-found after delete")
	}
}

func TestListByOwnerScopesToPrefix(t *testing.T) {
	c := openTest(t)
	for _, name := range []string{"a", "b"} {
		if err := c.Store(IndexMetadata{Owner: "acme", Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Store(IndexMetadata{Owner: "other", Name: "c"}); err != nil {
		t.Fatal(err)
	}
	got, err := c.ListByOwner("acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for acme, got %d", len(got))
	}
}

func TestListByOwnerDoesNotLeakSimilarPrefix(t *testing.T) {
	c := openTest(t)
	if err := c.Store(IndexMetadata{Owner: "acme", Name: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Store(IndexMetadata{Owner: "acmecorp", Name: "y"}); err != nil {
		t.Fatal(err)
	}
	got, err := c.ListByOwner("acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected owner prefix match to exclude \"acmecorp\", got %d entries", len(got))
	}
}

func TestListAllReturnsEveryEntry(t *testing.T) {
	c := openTest(t)
	if err := c.Store(IndexMetadata{Owner: "acme", Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Store(IndexMetadata{Owner: "other", Name: "b"}); err != nil {
		t.Fatal(err)
	}
	got, err := c.ListAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 total entries, got %d", len(got))
	}
}

func TestChecksumDependsOnIdentifyingFields(t *testing.T) {
	a := Checksum("products", 768, 0, "cosine", "int8")
	b := Checksum("products", 768, 0, "cosine", "fp16")
	if a == b {
		t.Fatal("expected checksum to change when quant_level changes")
	}
}
