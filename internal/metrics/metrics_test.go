package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveIngestSuccessAndError(t *testing.T) {
	IngestTotal.Reset()

	ObserveIngest(0.01, nil)
	if v := testutil.ToFloat64(IngestTotal.WithLabelValues("success")); v != 1 {
		t.Errorf("expected 1 success ingest, got %f", v)
	}

	ObserveIngest(0.02, errors.New("boom"))
	if v := testutil.ToFloat64(IngestTotal.WithLabelValues("error")); v != 1 {
		t.Errorf("expected 1 error ingest, got %f", v)
	}
}

func TestObserveSearchByKind(t *testing.T) {
	SearchTotal.Reset()

	ObserveSearch("dense", 0.001, nil)
	ObserveSearch("sparse", 0.002, nil)
	ObserveSearch("dense", 0.003, errors.New("fail"))

	if v := testutil.ToFloat64(SearchTotal.WithLabelValues("dense", "success")); v != 1 {
		t.Errorf("expected 1 successful dense search, got %f", v)
	}
	if v := testutil.ToFloat64(SearchTotal.WithLabelValues("dense", "error")); v != 1 {
		t.Errorf("expected 1 failed dense search, got %f", v)
	}
	if v := testutil.ToFloat64(SearchTotal.WithLabelValues("sparse", "success")); v != 1 {
		t.Errorf("expected 1 successful sparse search, got %f", v)
	}
}

func TestSetElementCount(t *testing.T) {
	ElementCount.Reset()
	SetElementCount("acme", "products", 42)
	if v := testutil.ToFloat64(ElementCount.WithLabelValues("acme", "products")); v != 42 {
		t.Errorf("expected element count 42, got %f", v)
	}
}

func TestSetWALBacklog(t *testing.T) {
	WALBacklog.Reset()
	SetWALBacklog("acme", "products", 7)
	if v := testutil.ToFloat64(WALBacklog.WithLabelValues("acme", "products")); v != 7 {
		t.Errorf("expected wal backlog 7, got %f", v)
	}
}

func TestSetDeletedIDPoolSize(t *testing.T) {
	DeletedIDPoolSize.Reset()
	SetDeletedIDPoolSize("acme", "products", 3)
	if v := testutil.ToFloat64(DeletedIDPoolSize.WithLabelValues("acme", "products")); v != 3 {
		t.Errorf("expected deleted id pool size 3, got %f", v)
	}
}
