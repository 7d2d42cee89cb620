// Package filterfacade parses the JSON filter AST and dispatches each
// conjunct to the bitmap index or numeric index, combining results
// with AND into a single doc-ID bitmap.
package filterfacade

import (
	"encoding/json"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/ndxdb/engine/internal/bitmapindex"
	"github.com/ndxdb/engine/internal/engineerr"
	"github.com/ndxdb/engine/internal/numindex"
	"github.com/ndxdb/engine/internal/schema"
)

// Facade evaluates filter conjuncts against a bitmap index, a numeric index,
// and a field-type schema cache.
type Facade struct {
	bitmaps *bitmapindex.Index
	numbers *numindex.Index
	types   *schema.Cache
}

// New creates a facade over the given indices and schema cache.
func New(bitmaps *bitmapindex.Index, numbers *numindex.Index, types *schema.Cache) *Facade {
	return &Facade{bitmaps: bitmaps, numbers: numbers, types: types}
}

// conjunct is one `{field: {op: value}}` object from the filter array.
type conjunct map[string]map[string]json.RawMessage

// Eval parses filterJSON (an array of conjuncts) and returns the AND of
// every conjunct's matching bitmap. An empty array yields the empty set, per
// the empty-array-means-no-match rule.
func (f *Facade) Eval(filterJSON []byte) (*roaring.Bitmap, error) {
	var conjuncts []conjunct
	if err := json.Unmarshal(filterJSON, &conjuncts); err != nil {
		return nil, engineerr.Wrap(engineerr.KindInvalidArgument, "malformed filter JSON", err)
	}
	if len(conjuncts) == 0 {
		return roaring.NewBitmap(), nil
	}

	result, err := f.evalConjunct(conjuncts[0])
	if err != nil {
		return nil, err
	}
	for _, c := range conjuncts[1:] {
		bm, err := f.evalConjunct(c)
		if err != nil {
			return nil, err
		}
		result.And(bm)
	}
	return result, nil
}

func (f *Facade) evalConjunct(c conjunct) (*roaring.Bitmap, error) {
	if len(c) != 1 {
		return nil, engineerr.New(engineerr.KindInvalidArgument, "conjunct must have exactly one field")
	}
	for field, ops := range c {
		if len(ops) != 1 {
			return nil, engineerr.New(engineerr.KindInvalidArgument, "field clause must have exactly one operator")
		}
		for op, raw := range ops {
			return f.evalOp(field, op, raw)
		}
	}
	return nil, engineerr.New(engineerr.KindInvalidArgument, "empty conjunct")
}

func (f *Facade) evalOp(field, op string, raw json.RawMessage) (*roaring.Bitmap, error) {
	switch op {
	case "$eq":
		return f.evalEq(field, raw)
	case "$ne":
		return f.evalNe(field, raw)
	case "$in":
		return f.evalIn(field, raw)
	case "$range":
		return f.evalRange(field, raw)
	default:
		return nil, engineerr.New(engineerr.KindInvalidArgument, fmt.Sprintf("unknown operator %q", op))
	}
}

func (f *Facade) evalEq(field string, raw json.RawMessage) (*roaring.Bitmap, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, engineerr.Wrap(engineerr.KindInvalidArgument, "malformed $eq value", err)
	}
	return f.dispatchEq(field, v)
}

// evalNe computes the supplemented $ne as the field's full posting universe
// minus the $eq bitmap; numeric fields are handled by scanning the full
// numeric range and subtracting, since the numeric index has no standing
// "universe" bitmap of its own.
func (f *Facade) evalNe(field string, raw json.RawMessage) (*roaring.Bitmap, error) {
	t, err := f.resolveType(field, raw)
	if err != nil {
		return nil, err
	}
	eq, err := f.evalEq(field, raw)
	if err != nil {
		return nil, err
	}
	if t == schema.Number {
		universe, err := f.numbers.Range(field, negInf, posInf)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.KindInternal, "numeric universe scan failed", err)
		}
		universe.AndNot(eq)
		return universe, nil
	}
	universe := f.bitmaps.AllForField(field)
	universe.AndNot(eq)
	return universe, nil
}

func (f *Facade) evalIn(field string, raw json.RawMessage) (*roaring.Bitmap, error) {
	var values []any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, engineerr.Wrap(engineerr.KindInvalidArgument, "malformed $in value", err)
	}
	out := roaring.NewBitmap()
	for _, v := range values {
		bm, err := f.dispatchEq(field, v)
		if err != nil {
			return nil, err
		}
		out.Or(bm)
	}
	return out, nil
}

func (f *Facade) evalRange(field string, raw json.RawMessage) (*roaring.Bitmap, error) {
	var bounds [2]float64
	if err := json.Unmarshal(raw, &bounds); err != nil {
		return nil, engineerr.Wrap(engineerr.KindInvalidArgument, "malformed $range value, expected [lo,hi]", err)
	}
	if err := f.types.Register(field, schema.Number); err != nil {
		return nil, typeMismatch(err)
	}
	if bounds[0] > bounds[1] {
		return nil, engineerr.New(engineerr.KindInvalidArgument, "$range: lo > hi")
	}
	bm, err := f.numbers.Range(field, bounds[0], bounds[1])
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindInternal, "range scan failed", err)
	}
	return bm, nil
}

// Ingest registers one field value for id into the bitmap or numeric index,
// validating against the schema cache. A JSON array value is treated as
// array-field membership: each element is ingested
// independently under the same field and id.
func (f *Facade) Ingest(field string, raw json.RawMessage, id uint64) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return engineerr.Wrap(engineerr.KindInvalidArgument, "malformed filter field value", err)
	}
	if arr, ok := v.([]any); ok {
		for _, elem := range arr {
			if err := f.ingestScalar(field, elem, id); err != nil {
				return err
			}
		}
		return nil
	}
	return f.ingestScalar(field, v, id)
}

func (f *Facade) ingestScalar(field string, v any, id uint64) error {
	t, err := schema.InferType(v)
	if err != nil {
		return engineerr.Wrap(engineerr.KindInvalidArgument, "unsupported field value type", err)
	}
	if err := f.types.Register(field, t); err != nil {
		return typeMismatch(err)
	}
	if t == schema.Number {
		num, _ := v.(float64)
		f.numbers.Insert(field, num, id)
		return nil
	}
	f.bitmaps.Add(field, stringifyScalar(v), id)
	return nil
}

// dispatchEq routes a single equality value to the bitmap index (strings,
// bools, and array-membership values) or the numeric index (numbers),
// validating against the schema cache first.
func (f *Facade) dispatchEq(field string, v any) (*roaring.Bitmap, error) {
	t, err := schema.InferType(v)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindInvalidArgument, "unsupported filter value type", err)
	}
	if err := f.types.Register(field, t); err != nil {
		return nil, typeMismatch(err)
	}
	if t == schema.Number {
		num, _ := v.(float64)
		bm, err := f.numbers.Range(field, num, num)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.KindInternal, "equality range scan failed", err)
		}
		return bm, nil
	}
	return f.bitmaps.Get(field, stringifyScalar(v)), nil
}

func (f *Facade) resolveType(field string, raw json.RawMessage) (schema.FieldType, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", engineerr.Wrap(engineerr.KindInvalidArgument, "malformed $ne value", err)
	}
	t, err := schema.InferType(v)
	if err != nil {
		return "", engineerr.Wrap(engineerr.KindInvalidArgument, "unsupported filter value type", err)
	}
	return t, nil
}

func typeMismatch(err error) error {
	return engineerr.Wrap(engineerr.KindTypeMismatch, "field type mismatch", err)
}

func stringifyScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}

const (
	negInf = -1.0e308
	posInf = 1.0e308
)
