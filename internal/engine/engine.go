// Package engine orchestrates every storage and retrieval component into the write and read data-flow
// contract described by the system overview: batch write allocates
// internal ids via the id mapper, quantizes and inserts dense vectors into
// the HNSW graph, packs and ingests sparse vectors into the BMW index,
// ingests filter fields into the bitmap/numeric indices through the filter
// facade, and keeps the metadata catalog's element count current. Read is
// the mirror: the filter facade narrows the candidate set, the graph and
// BMW index produce ranked internal ids, and the id mapper resolves them
// back to external strings.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ndxdb/engine/internal/bitmapindex"
	"github.com/ndxdb/engine/internal/catalog"
	"github.com/ndxdb/engine/internal/config"
	"github.com/ndxdb/engine/internal/engineerr"
	"github.com/ndxdb/engine/internal/filterfacade"
	"github.com/ndxdb/engine/internal/hnsw"
	"github.com/ndxdb/engine/internal/idmap"
	"github.com/ndxdb/engine/internal/ingest"
	"github.com/ndxdb/engine/internal/logging"
	"github.com/ndxdb/engine/internal/metrics"
	"github.com/ndxdb/engine/internal/numindex"
	"github.com/ndxdb/engine/internal/quant"
	"github.com/ndxdb/engine/internal/schema"
	"github.com/ndxdb/engine/internal/space"
	"github.com/ndxdb/engine/internal/sparsestore"
)

// Index is one open index: every storage and retrieval component scoped to
// a single {owner, name}, plus the space/graph pair bound to its dimension,
// metric, and quantization level.
type Index struct {
	owner string
	name  string

	cat    *catalog.Catalog
	ids    *idmap.Mapper
	graph  *hnsw.Graph
	space  *space.Space
	sparse *sparsestore.Store
	schema *schema.Cache
	filter *filterfacade.Facade
	log    *logging.Logger
}

// Open opens (creating if absent) every on-disk environment for
// {owner,name} under cfg.DataDir, and registers/loads its catalog entry.
func Open(cfg *config.Config, owner, name string, dim, sparseDim int, metric quant.Metric, level quant.Level, maxElements int, log *logging.Logger) (*Index, error) {
	dir := filepath.Join(cfg.DataDir, owner, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, engineerr.Wrap(engineerr.KindStorageError, "create index dir", err)
	}

	cat, err := catalog.Open(filepath.Join(cfg.DataDir, "catalog.db"))
	if err != nil {
		return nil, err
	}

	meta, err := cat.Get(owner, name)
	if engineerr.Is(err, engineerr.KindNotFound) {
		meta = catalog.IndexMetadata{
			Owner: owner, Name: name, Dim: dim, SparseDim: sparseDim,
			Metric: metric.String(), QuantLevel: level.String(),
			M: cfg.HNSW.M, EfCon: cfg.HNSW.EfCon,
		}
		if err := cat.Store(meta); err != nil {
			cat.Close()
			return nil, err
		}
	} else if err != nil {
		cat.Close()
		return nil, err
	}

	sp, err := space.New(metric, dim, level)
	if err != nil {
		cat.Close()
		return nil, err
	}
	graph := hnsw.New(sp, maxElements)

	ids, err := idmap.Open(dir)
	if err != nil {
		cat.Close()
		return nil, err
	}
	if ids.HasPendingRecovery() {
		if err := ids.Recover(); err != nil {
			ids.Close()
			cat.Close()
			return nil, err
		}
	}

	sparse, err := sparsestore.Open(filepath.Join(dir, "docs.db"), filepath.Join(dir, "bmw.db"))
	if err != nil {
		ids.Close()
		cat.Close()
		return nil, err
	}

	sc := schema.NewCache()
	ff := filterfacade.New(bitmapindex.New(), numindex.New(), sc)

	if log == nil {
		log = logging.New()
	}

	return &Index{
		owner: owner, name: name,
		cat: cat, ids: ids, graph: graph, space: sp,
		sparse: sparse, schema: sc, filter: ff, log: log,
	}, nil
}

// Close releases every environment this index owns.
func (idx *Index) Close() error {
	err1 := idx.sparse.Close()
	err2 := idx.ids.Close()
	err3 := idx.cat.Close()
	for _, err := range []error{err1, err2, err3} {
		if err != nil {
			return err
		}
	}
	return nil
}

// BatchWrite runs the write data-flow for a batch of protobuf-encoded
// write requests: allocate ids, quantize and insert dense vectors, pack
// and ingest sparse vectors, ingest filter fields, and refresh the
// catalog's element count.
func (idx *Index) BatchWrite(ctx context.Context, encoded [][]byte) error {
	start := time.Now()
	err := idx.batchWrite(ctx, encoded)
	metrics.ObserveIngest(time.Since(start).Seconds(), err)
	logger := idx.log.WithContext(ctx)
	if err != nil {
		logger.Error("batch write failed", "owner", idx.owner, "index", idx.name, "error", err)
	} else {
		logger.Info("batch write committed", "owner", idx.owner, "index", idx.name, "count", len(encoded))
	}
	return err
}

func (idx *Index) batchWrite(ctx context.Context, encoded [][]byte) error {
	reqs := make([]ingest.WriteRequest, len(encoded))
	extIDs := make([]string, len(encoded))
	for i, data := range encoded {
		r, err := ingest.Decode(data)
		if err != nil {
			return err
		}
		reqs[i] = r
		extIDs[i] = r.ExternalID
	}

	results, err := idx.ids.CreateIDsBatch(extIDs, true)
	if err != nil {
		return err
	}

	sparseDocs := make(map[uint64]sparsestore.SparseVector)
	var failedIDs []uint64
	for i, r := range reqs {
		id := results[i].ID

		if len(r.DenseVector) > 0 {
			datum, err := idx.space.Quantize(r.DenseVector)
			if err != nil {
				failedIDs = append(failedIDs, id)
				continue
			}
			if err := idx.graph.AddPoint(datum, hnsw.IntId(id), !results[i].IsNewToHNSW); err != nil {
				failedIDs = append(failedIDs, id)
				continue
			}
		}

		if len(r.SparseTermIDs) > 0 {
			sparseDocs[id] = sparsestore.SparseVector{TermIDs: r.SparseTermIDs, Values: r.SparseValues}
		}

		if len(r.Meta) > 0 {
			for field, val := range r.Meta {
				raw, err := marshalMetaValue(val)
				if err != nil {
					failedIDs = append(failedIDs, id)
					continue
				}
				if err := idx.filter.Ingest(field, raw, id); err != nil {
					failedIDs = append(failedIDs, id)
					continue
				}
			}
		}
	}

	if len(sparseDocs) > 0 {
		if err := idx.sparse.BatchStore(sparseDocs); err != nil {
			return err
		}
	}

	if len(failedIDs) > 0 {
		if err := idx.ids.ReclaimFailedIDs(failedIDs); err != nil {
			return err
		}
	}

	count, err := idx.ids.Count()
	if err != nil {
		return err
	}
	metrics.SetElementCount(idx.owner, idx.name, uint64(count))
	if err := idx.cat.UpdateElementCount(idx.owner, idx.name, uint64(count)); err != nil {
		return err
	}
	return nil
}

func marshalMetaValue(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return []byte(`"` + t + `"`), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case float64:
		return []byte(fmt.Sprintf("%v", t)), nil
	default:
		return nil, engineerr.New(engineerr.KindInvalidArgument, fmt.Sprintf("unsupported meta value type %T", v))
	}
}

// SearchResult is one ranked hit with its external id resolved back.
type SearchResult struct {
	ExternalID string
	Score      float32
}

// DenseSearch runs a filtered dense ANN search: the filter facade narrows
// the candidate set via filterJSON, then the graph searches within it.
func (idx *Index) DenseSearch(ctx context.Context, query []float32, k, ef int, filterJSON []byte) ([]SearchResult, error) {
	start := time.Now()
	results, err := idx.denseSearch(query, k, ef, filterJSON)
	metrics.ObserveSearch("dense", time.Since(start).Seconds(), err)
	return results, err
}

func (idx *Index) denseSearch(query []float32, k, ef int, filterJSON []byte) ([]SearchResult, error) {
	var allowed interface{ Contains(uint32) bool }
	if len(filterJSON) > 0 {
		bm, err := idx.filter.Eval(filterJSON)
		if err != nil {
			return nil, err
		}
		allowed = bm
	}

	datum, err := idx.space.Quantize(query)
	if err != nil {
		return nil, err
	}

	var filterFn func(hnsw.IntId) bool
	if allowed != nil {
		filterFn = func(id hnsw.IntId) bool { return allowed.Contains(uint32(id)) }
	}
	scored := idx.graph.SearchKNN(datum, k, ef, filterFn)

	out := make([]SearchResult, 0, len(scored))
	for _, s := range scored {
		extID, ok := idx.externalIDFor(uint64(s.ID))
		if !ok {
			continue
		}
		out = append(out, SearchResult{ExternalID: extID, Score: s.Dist})
	}
	return out, nil
}

// SparseSearch runs a BMW top-k search over a sparse query vector.
func (idx *Index) SparseSearch(ctx context.Context, termIDs []uint32, values []float32, k int) ([]SearchResult, error) {
	start := time.Now()
	results, err := idx.sparseSearch(termIDs, values, k)
	metrics.ObserveSearch("sparse", time.Since(start).Seconds(), err)
	return results, err
}

func (idx *Index) sparseSearch(termIDs []uint32, values []float32, k int) ([]SearchResult, error) {
	scored, err := idx.sparse.Search(sparsestore.SparseVector{TermIDs: termIDs, Values: values}, k)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(scored))
	for _, s := range scored {
		extID, ok := idx.externalIDFor(s.DocID)
		if !ok {
			continue
		}
		out = append(out, SearchResult{ExternalID: extID, Score: s.Score})
	}
	return out, nil
}

func (idx *Index) externalIDFor(id uint64) (string, bool) {
	return idx.ids.GetExternalID(id)
}
