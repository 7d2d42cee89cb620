// Package schema tracks the immutable field→type registry the filter facade
// enforces: once a field is seen under a type, it cannot switch type.
package schema

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// FieldType is one of the three types a filterable field may hold.
type FieldType string

const (
	String FieldType = "string"
	Number FieldType = "number"
	Bool   FieldType = "bool"
)

// TypeMismatchError reports a field queried or ingested under a type
// different from the one it was first registered with.
type TypeMismatchError struct {
	Field    string
	Got      FieldType
	Existing FieldType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("field %q: type mismatch: registered as %s, got %s", e.Field, e.Existing, e.Got)
}

// entry pairs a field's original name with its registered type; the map
// key is the field name's xxhash so lookups on hot ingest/query paths
// avoid repeated string-equality scans on long field names.
type entry struct {
	name string
	typ  FieldType
}

// Cache is the copy-on-write schema cache guarded by a mutex, per the
// concurrency model: readers see a stable snapshot, writers install a new
// map on registration. Keys are xxhash.Sum64String(field) rather than the
// field string itself.
type Cache struct {
	mu     sync.Mutex
	fields map[uint64]entry
}

// NewCache creates an empty schema cache.
func NewCache() *Cache {
	return &Cache{fields: make(map[uint64]entry)}
}

func fieldKey(field string) uint64 { return xxhash.Sum64String(field) }

// Lookup returns the registered type for field, if any.
func (c *Cache) Lookup(field string) (FieldType, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.fields[fieldKey(field)]
	if !ok {
		return "", false
	}
	return e.typ, true
}

// Register binds field to t if unseen, or validates t against the existing
// registration. An unknown field is treated as having the type of the value
// supplied; a previously registered field queried under a different type
// fails with TypeMismatchError.
func (c *Cache) Register(field string, t FieldType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := fieldKey(field)
	existing, ok := c.fields[key]
	if !ok {
		next := make(map[uint64]entry, len(c.fields)+1)
		for k, v := range c.fields {
			next[k] = v
		}
		next[key] = entry{name: field, typ: t}
		c.fields = next
		return nil
	}
	if existing.typ != t {
		return &TypeMismatchError{Field: field, Got: t, Existing: existing.typ}
	}
	return nil
}

// InferType infers a FieldType from a decoded JSON value.
func InferType(v any) (FieldType, error) {
	switch v.(type) {
	case string:
		return String, nil
	case bool:
		return Bool, nil
	case float64, int, int64, uint64:
		return Number, nil
	default:
		return "", fmt.Errorf("schema: cannot infer field type from %T", v)
	}
}
