// Package config defines the engine's typed configuration surface,
// populated from an optional JSON file and then overridden by environment
// variables, layered the same way the rest of the engine's config loading works.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// MapSizeConfig holds the embedded key-value environment size knobs for
// each subsystem that owns its own bbolt file, mirroring the original's
// per-subsystem MDBX map-size settings (e.g. ID_MAPPER_MAP_SIZE_BITS,
// FILTER_MAP_SIZE_BITS, INDEX_META_MAP_SIZE_BITS). The values are loaded,
// overridden from the environment and defaulted, but no store applies
// them: every bbolt.Open in the engine passes nil options.
type MapSizeConfig struct {
	// NumericIndexMB is the size knob for internal/numindex, which is held
	// in memory.
	NumericIndexMB int `json:"numeric_index_mb"`
	// BMWIndexMB is the size knob for internal/bmw's term_blocks file.
	BMWIndexMB int `json:"bmw_index_mb"`
	// SparseStoreMB is the size knob for internal/sparsestore's docs file.
	SparseStoreMB int `json:"sparse_store_mb"`
	// IDMapperMB is the size knob for internal/idmap's mapping file.
	IDMapperMB int `json:"id_mapper_mb"`
	// CatalogMB is the size knob for internal/catalog's shared file.
	CatalogMB int `json:"catalog_mb"`
}

func (m MapSizeConfig) withDefaults() MapSizeConfig {
	if m.NumericIndexMB <= 0 {
		m.NumericIndexMB = 256
	}
	if m.BMWIndexMB <= 0 {
		m.BMWIndexMB = 512
	}
	if m.SparseStoreMB <= 0 {
		m.SparseStoreMB = 512
	}
	if m.IDMapperMB <= 0 {
		m.IDMapperMB = 128
	}
	if m.CatalogMB <= 0 {
		m.CatalogMB = 32
	}
	return m
}

// HNSWConfig holds the default graph construction parameters handed to the graph
// when an index's IndexMetadata doesn't override them.
type HNSWConfig struct {
	M     int `json:"m"`
	EfCon int `json:"ef_con"`
}

func (h HNSWConfig) withDefaults() HNSWConfig {
	if h.M <= 0 {
		h.M = 16
	}
	if h.EfCon <= 0 {
		h.EfCon = 200
	}
	return h
}

// Config is the engine's full runtime configuration.
type Config struct {
	DataDir string `json:"data_dir"`

	// AuthToken is passed through untouched to the external server layer;
	// the core engine never reads or enforces it, matching NDD_AUTH_TOKEN's
	// "set it or don't, the storage/retrieval core doesn't care" contract.
	AuthToken string `json:"auth_token"`

	MapSize MapSizeConfig `json:"map_size"`
	HNSW    HNSWConfig    `json:"hnsw"`
}

// Use64BitIDs is the Go analog of the original's NDD_USE_64BIT_IDS build
// switch: the original compiles IntId as either uint32 or uint64 depending
// on a preprocessor define, but this engine always represents IntId as
// uint64 (internal/idmap, internal/bmw, internal/numindex, internal/
// bitmapindex all use uint64 directly) — there is no narrower code path to
// switch to, so the knob collapses to this constant rather than a runtime
// flag or build tag.
const Use64BitIDs = true

// Default returns a Config with every knob at its production default.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		MapSize: MapSizeConfig{}.withDefaults(),
		HNSW:    HNSWConfig{}.withDefaults(),
	}
}

// Load reads path (or $VEX_ENGINE_CONFIG if path is empty) as JSON over the
// defaults, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("VEX_ENGINE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.MapSize = cfg.MapSize.withDefaults()
	cfg.HNSW = cfg.HNSW.withDefaults()

	if env := os.Getenv("VEX_ENGINE_DATA_DIR"); env != "" {
		cfg.DataDir = env
	}
	if env := os.Getenv("NDD_AUTH_TOKEN"); env != "" {
		cfg.AuthToken = env
	}
	if env := os.Getenv("VEX_ENGINE_HNSW_M"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.HNSW.M = n
		}
	}
	if env := os.Getenv("VEX_ENGINE_HNSW_EF_CON"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.HNSW.EfCon = n
		}
	}
	if env := os.Getenv("VEX_ENGINE_MAP_SIZE_NUMERIC_MB"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.MapSize.NumericIndexMB = n
		}
	}
	if env := os.Getenv("VEX_ENGINE_MAP_SIZE_BMW_MB"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.MapSize.BMWIndexMB = n
		}
	}
	if env := os.Getenv("VEX_ENGINE_MAP_SIZE_SPARSE_MB"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.MapSize.SparseStoreMB = n
		}
	}
	if env := os.Getenv("VEX_ENGINE_MAP_SIZE_ID_MAPPER_MB"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.MapSize.IDMapperMB = n
		}
	}
	if env := os.Getenv("VEX_ENGINE_MAP_SIZE_CATALOG_MB"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.MapSize.CatalogMB = n
		}
	}

	return cfg, nil
}

func parseIntEnv(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
