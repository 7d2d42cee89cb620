package quant

import (
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// FeatureTier names the CPU capability tier a kernel implementation was
// chosen for. Go has no portable access to hand-written AVX2/AVX-512/NEON
// intrinsics without cgo or assembly, so a "tier" here selects among
// algorithmically distinct Go implementations (unrolled vs. scalar) rather
// than literal SIMD instruction sequences — the dispatch *shape* mirrors a
// native capability table even though the payload is pure Go.
type FeatureTier uint8

const (
	TierScalar FeatureTier = iota
	TierUnrolled8
)

// KernelSet bundles the distance kernel and its similarity counterpart for
// one (Level, Metric) pair.
type KernelSet struct {
	Dist func(a, b []byte, dim int) float32
	Sim  func(a, b []byte, dim int) float32
}

// Dispatcher holds the capability table filled once at startup. Dynamic
// dispatch happens only here — a Space captures the
// resolved KernelSet once and never re-probes the CPU in its hot path.
type Dispatcher struct {
	tier FeatureTier
}

var (
	defaultDispatcher     *Dispatcher
	defaultDispatcherOnce sync.Once
)

// Default returns the process-wide Dispatcher, probing CPU features exactly
// once.
func Default() *Dispatcher {
	defaultDispatcherOnce.Do(func() {
		tier := TierScalar
		if cpuid.CPU.Supports(cpuid.AVX2) || cpuid.CPU.Supports(cpuid.ASIMD) {
			tier = TierUnrolled8
		}
		defaultDispatcher = &Dispatcher{tier: tier}
	})
	return defaultDispatcher
}

// Tier reports the capability tier this dispatcher resolved to.
func (d *Dispatcher) Tier() FeatureTier { return d.tier }

// KernelsFor resolves the concrete KernelSet for (level, metric) at the
// dispatcher's tier. Unsupported pairs are reported before any insert,
// rather than failing lazily mid-kernel.
func (d *Dispatcher) KernelsFor(level Level, metric Metric) (KernelSet, error) {
	return kernelsFor(level, metric, d.tier)
}
