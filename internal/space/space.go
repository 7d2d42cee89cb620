// Package space binds a metric, a dimensionality, and a quantization level
// into the immutable parameter block the graph and brute-force layers need.
package space

import (
	"fmt"

	"github.com/ndxdb/engine/internal/quant"
)

// Params is the small, stable parameter block handed to the graph layer.
// It never mutates after New returns.
type Params struct {
	Dim        int
	QuantLevel quant.Level
	Metric     quant.Metric
	DataSize   int
}

// Space glues a metric to a quantization level: it exposes the resolved
// distance function, similarity function, and a stable *Params pointer.
// No mutable state after construction.
type Space struct {
	params  *Params
	kernels quant.KernelSet
}

// New binds (metric, dim, quantLevel) using the process-wide quantizer
// dispatcher. Unsupported (metric, level) pairs fail here, before any insert,
// per the quantization contract.
func New(metric quant.Metric, dim int, level quant.Level) (*Space, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("space: dim must be positive, got %d", dim)
	}
	size, err := quant.StorageSize(level, dim)
	if err != nil {
		return nil, err
	}
	kernels, err := quant.Default().KernelsFor(level, metric)
	if err != nil {
		return nil, err
	}
	return &Space{
		params: &Params{
			Dim:        dim,
			QuantLevel: level,
			Metric:     metric,
			DataSize:   size,
		},
		kernels: kernels,
	}, nil
}

// Params returns the stable parameter block for the graph layer.
func (s *Space) Params() *Params { return s.params }

// Distance computes the configured distance kernel between two encoded byte
// vectors of length s.Params().DataSize.
func (s *Space) Distance(a, b []byte) float32 {
	return s.kernels.Dist(a, b, s.params.Dim)
}

// Similarity computes the configured similarity kernel.
func (s *Space) Similarity(a, b []byte) float32 {
	return s.kernels.Sim(a, b, s.params.Dim)
}

// Quantize encodes a float32 vector into the space's byte representation.
func (s *Space) Quantize(vec []float32) ([]byte, error) {
	if len(vec) != s.params.Dim {
		return nil, fmt.Errorf("space: expected %d dims, got %d", s.params.Dim, len(vec))
	}
	switch s.params.QuantLevel {
	case quant.LevelInt8:
		return quant.QuantizeInt8(vec), nil
	default:
		return nil, fmt.Errorf("space: unsupported quant level %v", s.params.QuantLevel)
	}
}
