// Package vclock implements the vector-clock algebra used to measure
// logical hop distance between an edge's creation time and a project's
// current reference clock: tick, merge, hop-count and ordering.
package vclock

import (
	"math"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/types"
)

// Tick returns a new clock with agent's tick incremented by one. The input
// clock is not mutated.
func Tick(clock types.VectorClock, agent string) types.VectorClock {
	out := clock.Clone()
	out[agent] = out[agent] + 1
	return out
}

// Merge returns the element-wise max of a and b.
func Merge(a, b types.VectorClock) types.VectorClock {
	out := make(types.VectorClock, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// MergeAll folds Merge over every clock in cs, returning an empty clock for
// an empty input (the reference clock of a project with no agents).
func MergeAll(cs []types.VectorClock) types.VectorClock {
	out := types.VectorClock{}
	for _, c := range cs {
		out = Merge(out, c)
	}
	return out
}

// HopCount returns the sum over agent ids present in edgeClock of
// max(0, refClock[id] - edgeClock[id]). Agents present only in refClock
// don't contribute (they didn't exist at edge time); agents missing from
// refClock contribute 0 (a terminated stream never "catches up" to create
// a hop debt).
func HopCount(edgeClock, refClock types.VectorClock) int {
	total := 0
	for agent, edgeTick := range edgeClock {
		refTick, ok := refClock[agent]
		if !ok {
			continue
		}
		if d := refTick - edgeTick; d > 0 {
			total += int(d)
		}
	}
	return total
}

// HappenedBefore reports whether a <= b component-wise with strict
// inequality on at least one component present in either clock.
func HappenedBefore(a, b types.VectorClock) bool {
	lessOrEqual := true
	strict := false
	agents := unionKeys(a, b)
	for _, agent := range agents {
		av, bv := a[agent], b[agent]
		if av > bv {
			lessOrEqual = false
			break
		}
		if av < bv {
			strict = true
		}
	}
	return lessOrEqual && strict
}

// Concurrent reports whether neither clock happened before the other and
// they are not equal.
func Concurrent(a, b types.VectorClock) bool {
	if Equal(a, b) {
		return false
	}
	return !HappenedBefore(a, b) && !HappenedBefore(b, a)
}

// Equal reports whether a and b assign the same tick to every agent present
// in either (missing agents default to zero).
func Equal(a, b types.VectorClock) bool {
	for _, agent := range unionKeys(a, b) {
		if a[agent] != b[agent] {
			return false
		}
	}
	return true
}

func unionKeys(a, b types.VectorClock) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for k := range a {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	for k := range b {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// FromJSON validates a raw decoded clock mapping (JSON numbers land as
// float64 via encoding/json's default unmarshal into interface{}): negative,
// non-finite or non-integral ticks are rejected, and a nil map deserializes
// to an empty clock.
func FromJSON(m map[string]float64) (types.VectorClock, error) {
	if m == nil {
		return types.VectorClock{}, nil
	}
	out := make(types.VectorClock, len(m))
	for k, v := range m {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return nil, causalerr.New(causalerr.KindValidation, "vclock.FromJSON", causalerr.ErrNegativeClockTick)
		}
		out[k] = int64(v)
	}
	return out, nil
}

// ToJSON returns the canonical mapping for serialisation.
func ToJSON(c types.VectorClock) map[string]int64 {
	out := make(map[string]int64, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
