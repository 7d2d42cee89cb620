package quant

import (
	"encoding/binary"
	"fmt"
	"math"
)

// int8StorageSize returns storage_size(dim) for LevelInt8: one signed byte
// per component plus a little-endian float32 scale factor used to recover
// approximate magnitudes on decode.
func int8StorageSize(dim int) int {
	return dim + 4
}

// StorageSize returns the byte footprint S(dim) for a quantization level.
func StorageSize(level Level, dim int) (int, error) {
	switch level {
	case LevelInt8:
		return int8StorageSize(dim), nil
	default:
		return 0, fmt.Errorf("unsupported quant level %v", level)
	}
}

// QuantizeInt8 is the pure, deterministic quantize(float[dim]) function for
// LevelInt8. The scale is the maximum absolute component value; components
// are rounded to the nearest representable int8 after scaling into [-127,127].
func QuantizeInt8(vec []float32) []byte {
	var maxAbs float32
	for _, v := range vec {
		a := v
		if a < 0 {
			a = -a
		}
		if a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		maxAbs = 1
	}

	out := make([]byte, int8StorageSize(len(vec)))
	scale := maxAbs / 127.0
	inv := float32(1)
	if scale != 0 {
		inv = 1 / scale
	}
	for i, v := range vec {
		scaled := v * inv
		if scaled > 127 {
			scaled = 127
		} else if scaled < -127 {
			scaled = -127
		}
		out[i] = byte(int8(math.Round(float64(scaled))))
	}
	binary.LittleEndian.PutUint32(out[len(vec):], math.Float32bits(scale))
	return out
}

// DequantizeInt8 recovers an approximate float32 vector from its int8 packing.
func DequantizeInt8(b []byte, dim int) []float32 {
	scale := math.Float32frombits(binary.LittleEndian.Uint32(b[dim:]))
	out := make([]float32, dim)
	for i := 0; i < dim; i++ {
		out[i] = float32(int8(b[i])) * scale
	}
	return out
}

func int8Component(b []byte, i int) float32 {
	scale := math.Float32frombits(binary.LittleEndian.Uint32(b[len(b)-4:]))
	return float32(int8(b[i])) * scale
}

func l2Int8Scalar(a, b []byte, dim int) float32 {
	var sum float32
	for i := 0; i < dim; i++ {
		d := int8Component(a, i) - int8Component(b, i)
		sum += d * d
	}
	return sum
}

func l2Int8Unrolled8(a, b []byte, dim int) float32 {
	var sum float32
	i := 0
	for ; i+8 <= dim; i += 8 {
		for j := 0; j < 8; j++ {
			d := int8Component(a, i+j) - int8Component(b, i+j)
			sum += d * d
		}
	}
	for ; i < dim; i++ {
		d := int8Component(a, i) - int8Component(b, i)
		sum += d * d
	}
	return sum
}

func ipInt8Scalar(a, b []byte, dim int) float32 {
	var sum float32
	for i := 0; i < dim; i++ {
		sum += int8Component(a, i) * int8Component(b, i)
	}
	return sum
}

func ipInt8Unrolled8(a, b []byte, dim int) float32 {
	var sum float32
	i := 0
	for ; i+8 <= dim; i += 8 {
		for j := 0; j < 8; j++ {
			sum += int8Component(a, i+j) * int8Component(b, i+j)
		}
	}
	for ; i < dim; i++ {
		sum += int8Component(a, i) * int8Component(b, i)
	}
	return sum
}

func normInt8(a []byte, dim int) float32 {
	var sum float32
	for i := 0; i < dim; i++ {
		c := int8Component(a, i)
		sum += c * c
	}
	return float32(math.Sqrt(float64(sum)))
}

func cosineInt8(a, b []byte, dim int, ip func(a, b []byte, dim int) float32) float32 {
	na, nb := normInt8(a, dim), normInt8(b, dim)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - ip(a, b, dim)/(na*nb)
}

// kernelsFor resolves the Level/Metric/tier combination to concrete kernel
// functions. This is the only place that branches on tier; everything above
// it captures the resolved closures once.
func kernelsFor(level Level, metric Metric, tier FeatureTier) (KernelSet, error) {
	if level != LevelInt8 {
		return KernelSet{}, fmt.Errorf("unsupported quant level %v", level)
	}

	l2 := l2Int8Scalar
	ip := ipInt8Scalar
	if tier == TierUnrolled8 {
		l2 = l2Int8Unrolled8
		ip = ipInt8Unrolled8
	}

	switch metric {
	case MetricL2:
		return KernelSet{
			Dist: l2,
			Sim:  func(a, b []byte, dim int) float32 { return -l2(a, b, dim) },
		}, nil
	case MetricIP:
		return KernelSet{
			Dist: func(a, b []byte, dim int) float32 { return -ip(a, b, dim) },
			Sim:  ip,
		}, nil
	case MetricCosine:
		dist := func(a, b []byte, dim int) float32 { return cosineInt8(a, b, dim, ip) }
		return KernelSet{
			Dist: dist,
			Sim:  func(a, b []byte, dim int) float32 { return 1 - dist(a, b, dim) },
		}, nil
	default:
		return KernelSet{}, fmt.Errorf("unsupported metric %v for level %v", metric, level)
	}
}
