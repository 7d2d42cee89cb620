// Package ingest defines the wire envelope for the engine's batch write
// entry point: {external_id, meta, dense_vector?, sparse_term_ids?,
// sparse_values?}, encoded as a protobuf structpb.Struct so the envelope
// has a schema-typed wire format without requiring a hand-maintained
// generated message type. The envelope has no separate filter_json field;
// FilterJSON derives $eq conjuncts from meta.
package ingest

import (
	"encoding/json"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ndxdb/engine/internal/engineerr"
)

// WriteRequest is one document in a batch write: its external id, scalar
// metadata destined for the filter indices, and its dense and/or sparse
// vector payloads.
type WriteRequest struct {
	ExternalID    string
	Meta          map[string]any
	DenseVector   []float32
	SparseTermIDs []uint32
	SparseValues  []float32
}

// Encode marshals r as a protobuf-wire structpb.Struct.
func (r WriteRequest) Encode() ([]byte, error) {
	fields := map[string]any{
		"external_id": r.ExternalID,
	}
	if r.Meta != nil {
		fields["meta"] = r.Meta
	}
	if r.DenseVector != nil {
		dv := make([]any, len(r.DenseVector))
		for i, v := range r.DenseVector {
			dv[i] = float64(v)
		}
		fields["dense_vector"] = dv
	}
	if r.SparseTermIDs != nil {
		ids := make([]any, len(r.SparseTermIDs))
		vals := make([]any, len(r.SparseValues))
		for i, t := range r.SparseTermIDs {
			ids[i] = float64(t)
		}
		for i, v := range r.SparseValues {
			vals[i] = float64(v)
		}
		fields["sparse_term_ids"] = ids
		fields["sparse_values"] = vals
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindInvalidArgument, "build write request struct", err)
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindInvalidArgument, "marshal write request", err)
	}
	return data, nil
}

// Decode unmarshals a protobuf-wire structpb.Struct back into a
// WriteRequest.
func Decode(data []byte) (WriteRequest, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return WriteRequest{}, engineerr.Wrap(engineerr.KindCorruption, "unmarshal write request", err)
	}
	m := s.AsMap()

	var r WriteRequest
	if v, ok := m["external_id"].(string); ok {
		r.ExternalID = v
	} else {
		return WriteRequest{}, engineerr.New(engineerr.KindInvalidArgument, "write request missing external_id")
	}
	if v, ok := m["meta"].(map[string]any); ok {
		r.Meta = v
	}
	if v, ok := m["dense_vector"].([]any); ok {
		r.DenseVector = make([]float32, len(v))
		for i, x := range v {
			f, ok := x.(float64)
			if !ok {
				return WriteRequest{}, engineerr.New(engineerr.KindInvalidArgument, "dense_vector element not numeric")
			}
			r.DenseVector[i] = float32(f)
		}
	}
	ids, idsOK := m["sparse_term_ids"].([]any)
	vals, valsOK := m["sparse_values"].([]any)
	if idsOK && valsOK {
		if len(ids) != len(vals) {
			return WriteRequest{}, engineerr.New(engineerr.KindInvalidArgument, "sparse_term_ids/sparse_values length mismatch")
		}
		r.SparseTermIDs = make([]uint32, len(ids))
		r.SparseValues = make([]float32, len(vals))
		for i := range ids {
			f, ok := ids[i].(float64)
			if !ok {
				return WriteRequest{}, engineerr.New(engineerr.KindInvalidArgument, "sparse_term_ids element not numeric")
			}
			r.SparseTermIDs[i] = uint32(f)
			v, ok := vals[i].(float64)
			if !ok {
				return WriteRequest{}, engineerr.New(engineerr.KindInvalidArgument, "sparse_values element not numeric")
			}
			r.SparseValues[i] = float32(v)
		}
	}
	return r, nil
}

// FilterJSON re-serializes r.Meta as a JSON array of $eq conjuncts, one per
// field, in the array-of-conjuncts shape the filter facade evaluates as a
// query.
func (r WriteRequest) FilterJSON() (json.RawMessage, error) {
	if len(r.Meta) == 0 {
		return json.RawMessage("[]"), nil
	}
	var conjuncts []map[string]map[string]any
	for field, val := range r.Meta {
		conjuncts = append(conjuncts, map[string]map[string]any{
			field: {"$eq": val},
		})
	}
	data, err := json.Marshal(conjuncts)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindInvalidArgument, "marshal meta as filter json", err)
	}
	return data, nil
}
