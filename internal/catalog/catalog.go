// Package catalog implements the per-server metadata catalog:
// a bbolt-backed store mapping "{owner}/{index_name}" to an
// IndexMetadata descriptor, shared by every index the server hosts.
package catalog

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/ndxdb/engine/internal/engineerr"
)

var indexesBucket = []byte("indexes")

// IndexMetadata is one index's durable descriptor.
type IndexMetadata struct {
	InstanceID    uuid.UUID `json:"instance_id"`
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	Dim           int       `json:"dim"`
	SparseDim     int       `json:"sparse_dim"`
	Metric        string    `json:"metric"`
	QuantLevel    string    `json:"quant_level"`
	M             int       `json:"m"`
	EfCon         int       `json:"ef_con"`
	TotalElements uint64    `json:"total_elements"`
	CreatedAt     time.Time `json:"created_at"`
	Checksum      uint32    `json:"checksum"`
}

// Checksum computes the CRC32 (IEEE) of the concatenation of the fields
// identified by original_source's index_meta.hpp as checksum inputs.
func Checksum(name string, dim, sparseDim int, metric, quantLevel string) uint32 {
	buf := make([]byte, 0, len(name)+len(metric)+len(quantLevel)+16)
	buf = append(buf, name...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(dim))
	buf = binary.BigEndian.AppendUint64(buf, uint64(sparseDim))
	buf = append(buf, metric...)
	buf = append(buf, quantLevel...)
	return crc32.ChecksumIEEE(buf)
}

// Catalog is the per-server metadata store, shared by every index.
type Catalog struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the catalog database at path.
func Open(path string) (*Catalog, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindStorageError, "open catalog", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexesBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, engineerr.Wrap(engineerr.KindStorageError, "init catalog bucket", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the catalog's bbolt handle.
func (c *Catalog) Close() error { return c.db.Close() }

func catalogKey(owner, name string) []byte {
	return []byte(owner + "/" + name)
}

// Store persists meta under "{owner}/{name}", computing InstanceID and
// CreatedAt if unset and recomputing Checksum, per index_meta.hpp.
func (c *Catalog) Store(meta IndexMetadata) error {
	if meta.InstanceID == uuid.Nil {
		meta.InstanceID = uuid.New()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	meta.Checksum = Checksum(meta.Name, meta.Dim, meta.SparseDim, meta.Metric, meta.QuantLevel)

	data, err := json.Marshal(meta)
	if err != nil {
		return engineerr.Wrap(engineerr.KindInvalidArgument, "marshal index metadata", err)
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(indexesBucket).Put(catalogKey(meta.Owner, meta.Name), data)
	})
	if err != nil {
		return engineerr.Wrap(engineerr.KindStorageError, "catalog store failed", err)
	}
	return nil
}

// Get retrieves meta for "{owner}/{name}", validating JSON shape on read
// per the catalog's "no cross-index invariants; only validates JSON shape
// on read" contract.
func (c *Catalog) Get(owner, name string) (IndexMetadata, error) {
	var meta IndexMetadata
	var data []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(indexesBucket).Get(catalogKey(owner, name))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return meta, engineerr.Wrap(engineerr.KindStorageError, "catalog read failed", err)
	}
	if data == nil {
		return meta, engineerr.ErrNotFound
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, engineerr.Wrap(engineerr.KindCorruption, "malformed index metadata blob", err)
	}
	return meta, nil
}

// UpdateElementCount rewrites just the TotalElements field for an existing
// entry, leaving everything else (including Checksum, which does not cover
// element count) unchanged.
func (c *Catalog) UpdateElementCount(owner, name string, count uint64) error {
	meta, err := c.Get(owner, name)
	if err != nil {
		return err
	}
	meta.TotalElements = count
	data, err := json.Marshal(meta)
	if err != nil {
		return engineerr.Wrap(engineerr.KindInvalidArgument, "marshal index metadata", err)
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(indexesBucket).Put(catalogKey(owner, name), data)
	})
	if err != nil {
		return engineerr.Wrap(engineerr.KindStorageError, "catalog element-count update failed", err)
	}
	return nil
}

// Delete removes the "{owner}/{name}" entry. Deleting a missing entry is a
// no-op, matching bbolt's own Delete semantics.
func (c *Catalog) Delete(owner, name string) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(indexesBucket).Delete(catalogKey(owner, name))
	})
	if err != nil {
		return engineerr.Wrap(engineerr.KindStorageError, "catalog delete failed", err)
	}
	return nil
}

// ListByOwner returns every entry belonging to owner.
func (c *Catalog) ListByOwner(owner string) ([]IndexMetadata, error) {
	prefix := []byte(owner + "/")
	var out []IndexMetadata
	err := c.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(indexesBucket).Cursor()
		for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
			var meta IndexMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			out = append(out, meta)
		}
		return nil
	})
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindCorruption, "catalog list-by-owner failed", err)
	}
	return out, nil
}

// ListAll returns every entry in the catalog.
func (c *Catalog) ListAll() ([]IndexMetadata, error) {
	var out []IndexMetadata
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(indexesBucket).ForEach(func(_, v []byte) error {
			var meta IndexMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			out = append(out, meta)
			return nil
		})
	})
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindCorruption, "catalog list-all failed", err)
	}
	return out, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
