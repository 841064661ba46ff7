package decay

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestLinearDecay(t *testing.T) {
	cfg := Config{Kernel: KernelLinear, Rate: 0.1}
	if got := Weight(cfg, 0); !almostEqual(got, 1) {
		t.Fatalf("Weight(0) = %v, want 1", got)
	}
	if got := Weight(cfg, 5); !almostEqual(got, 0.5) {
		t.Fatalf("Weight(5) = %v, want 0.5", got)
	}
	if got := Weight(cfg, 20); got != 0 {
		t.Fatalf("Weight(20) = %v, want 0 (floored at zero past full decay)", got)
	}
}

func TestBackwardDefaultDiesAtTenHops(t *testing.T) {
	cfg := BackwardDefault()
	if got := Weight(cfg, 10); got != 0 {
		t.Fatalf("backward default at 10 hops = %v, want 0", got)
	}
	if got := Weight(cfg, 9); got <= 0 {
		t.Fatalf("backward default at 9 hops = %v, want > 0", got)
	}
}

func TestForwardDefaultHoldsThenDecays(t *testing.T) {
	cfg := ForwardDefault()
	for h := 0; h <= 5; h++ {
		if got := Weight(cfg, h); !almostEqual(got, 1) {
			t.Fatalf("forward default at hop %d = %v, want held at 1", h, got)
		}
	}
	if got := Weight(cfg, 6); got >= 1 {
		t.Fatalf("forward default at hop 6 = %v, want decayed below 1", got)
	}
}

func TestExponentialDecay(t *testing.T) {
	cfg := Config{Kernel: KernelExponential, WeightPerHop: 0.5}
	if got := Weight(cfg, 0); !almostEqual(got, 1) {
		t.Fatalf("Weight(0) = %v, want 1", got)
	}
	if got := Weight(cfg, 3); !almostEqual(got, 0.125) {
		t.Fatalf("Weight(3) = %v, want 0.125", got)
	}
}

func TestMultiTierSumsContributions(t *testing.T) {
	cfg := Config{
		Kernel: KernelMultiTier,
		Tiers: []Tier{
			{Init: 0.6, Hold: 2, Rate: 0.3},
			{Init: 0.4, Hold: 0, Rate: 0.05},
		},
	}
	got := Weight(cfg, 2)
	want := 0.6*1 + 0.4*math.Max(0, 1-0.05*2)
	if !almostEqual(got, want) {
		t.Fatalf("multi-tier Weight(2) = %v, want %v", got, want)
	}
}

func TestMinWeightFloors(t *testing.T) {
	cfg := Config{Kernel: KernelLinear, Rate: 0.1, MinWeight: 0.3}
	if got := Weight(cfg, 8); got != 0 {
		t.Fatalf("Weight(8) = %v, want 0 (0.2 is below the 0.3 floor)", got)
	}
	if got := Weight(cfg, 5); got == 0 {
		t.Fatalf("Weight(5) = %v, want nonzero (0.5 clears the 0.3 floor)", got)
	}
}

func TestLinkBoost(t *testing.T) {
	if got := LinkBoost(1); got != 1 {
		t.Fatalf("LinkBoost(1) = %v, want 1", got)
	}
	if got := LinkBoost(0); got != 1 {
		t.Fatalf("LinkBoost(0) = %v, want 1 (never observed, no boost)", got)
	}
	want := 1 + math.Log(3)*0.1
	if got := LinkBoost(3); !almostEqual(got, want) {
		t.Fatalf("LinkBoost(3) = %v, want %v", got, want)
	}
}

func TestEdgeWeightAppliesFloorAfterBoost(t *testing.T) {
	cfg := Config{Kernel: KernelLinear, Rate: 0.1, MinWeight: 0.05}
	// A hop count where the raw weight sits just under min_weight; the
	// boost should not resurrect it since floor is applied post-boost.
	cfg.MinWeight = 1.0 // forces floor above any attainable weight
	if got := EdgeWeight(cfg, 1, 3, 10); got != 0 {
		t.Fatalf("EdgeWeight = %v, want 0 when boosted weight still below floor", got)
	}
}

func TestEdgeWeightCapsAtOne(t *testing.T) {
	cfg := Config{Kernel: KernelLinear, Rate: 0} // weight(h) == 1 for all h
	if got := EdgeWeight(cfg, 1, 0, 1000); got != 1 {
		t.Fatalf("EdgeWeight = %v, want capped at 1", got)
	}
}

func TestEdgeWeightScalesByInitialWeight(t *testing.T) {
	cfg := Config{Kernel: KernelLinear, Rate: 0} // weight(h) == 1 for all h
	if got := EdgeWeight(cfg, 0.5, 0, 1); got != 0.5 {
		t.Fatalf("EdgeWeight = %v, want 0.5 scaled by initial weight", got)
	}
}

func TestNegativeHopClampedToZero(t *testing.T) {
	cfg := BackwardDefault()
	if got := Weight(cfg, -3); !almostEqual(got, 1) {
		t.Fatalf("Weight(-3) = %v, want 1 (negative hop treated as zero)", got)
	}
}
