// Package decay maps an edge's hop count to an edge weight in [0,1],
// grounded on the kernel table in the specification's decay functions
// section and implemented with the same plain-function style as the
// teacher's internal/sefii scoring helpers.
package decay

import "math"

// Kernel is the decay shape selected per direction.
type Kernel string

const (
	KernelLinear        Kernel = "linear"
	KernelExponential   Kernel = "exponential"
	KernelDelayedLinear Kernel = "delayed-linear"
	KernelMultiTier     Kernel = "multi-tier"
)

// Tier is one contribution of a multi-tier kernel: it behaves like a
// delayed-linear kernel of its own (init, hold, rate) and its outputs sum.
type Tier struct {
	Init float64
	Hold int
	Rate float64
}

// Config parameterizes a decay kernel for one edge direction.
type Config struct {
	Kernel Kernel

	// Linear, Delayed-linear.
	Rate float64
	// Exponential: weight-per-hop, in (0,1).
	WeightPerHop float64
	// Delayed-linear: hops held at full weight before decaying.
	Hold int
	// Multi-tier.
	Tiers []Tier

	// MinWeight floors the result to 0 below this threshold.
	MinWeight float64
}

// BackwardDefault is the recall/explain direction's default kernel: linear
// decay that reaches zero at 10 hops.
func BackwardDefault() Config {
	return Config{Kernel: KernelLinear, Rate: 1.0 / 10.0}
}

// ForwardDefault is the prediction direction's default kernel:
// delayed-linear with a 5-hop hold, so recent edits remain maximally
// relevant until the working set moves on.
func ForwardDefault() Config {
	return Config{Kernel: KernelDelayedLinear, Hold: 5, Rate: 1.0 / 10.0}
}

// Weight evaluates the configured kernel at hop count h, clamped to [0,1]
// and floored to 0 below MinWeight.
func Weight(cfg Config, h int) float64 {
	if h < 0 {
		h = 0
	}
	var w float64
	switch cfg.Kernel {
	case KernelLinear:
		w = linear(cfg.Rate, h)
	case KernelExponential:
		w = math.Pow(cfg.WeightPerHop, float64(h))
	case KernelDelayedLinear:
		w = delayedLinear(cfg.Hold, cfg.Rate, h)
	case KernelMultiTier:
		for _, tier := range cfg.Tiers {
			w += tier.Init * delayedLinear(tier.Hold, tier.Rate, h)
		}
	default:
		w = linear(cfg.Rate, h)
	}
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	if w < cfg.MinWeight {
		w = 0
	}
	return w
}

func linear(rate float64, h int) float64 {
	return math.Max(0, 1-rate*float64(h))
}

func delayedLinear(hold int, rate float64, h int) float64 {
	if h <= hold {
		return 1
	}
	return math.Max(0, 1-rate*float64(h-hold))
}

// LinkBoost scales a base weight by an edge's observation multiplicity:
// 1 + ln(link_count)*0.1. linkCount <= 1 contributes no boost.
func LinkBoost(linkCount int) float64 {
	if linkCount <= 1 {
		return 1
	}
	return 1 + math.Log(float64(linkCount))*0.1
}

// EdgeWeight is the full per-edge weight used by traversal and chain
// walking: the edge's initial weight, scaled by the kernel's decay at h
// hops and boosted by the edge's link count, then floored again by
// MinWeight (the boost must not resurrect an edge the kernel already
// zeroed, nor should flooring ignore a boost that pushes a borderline
// weight back above the floor).
func EdgeWeight(cfg Config, initialWeight float64, h, linkCount int) float64 {
	w := initialWeight * Weight(cfg, h) * LinkBoost(linkCount)
	if w < cfg.MinWeight {
		return 0
	}
	if w > 1 {
		// Boost can push a weight above 1; traversal treats weight as a
		// per-hop attenuation factor in (0,1] so callers expecting
		// geometric attenuation on cycles still converge.
		return 1
	}
	return w
}
