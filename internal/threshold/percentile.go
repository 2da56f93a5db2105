package threshold

import (
	"math"
	"slices"
)

// Percentile returns the p-th percentile (p in [0, 100]) of values using
// linear interpolation between closest ranks. The input slice is not modified.
// Returns NaN for an empty slice.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return percentileSorted(sorted, p)
}

// Percentiles returns one percentile per level, sorting values once.
func Percentiles(values []float64, levels []float64) []float64 {
	out := make([]float64, len(levels))
	if len(values) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	for i, p := range levels {
		out[i] = percentileSorted(sorted, p)
	}
	return out
}

func percentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	p = max(0, min(p, 100))

	idx := p / 100 * float64(n-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper || upper >= n {
		return sorted[lower]
	}
	return lerp(sorted[lower], sorted[upper], idx-float64(lower))
}

// lerp interpolates from the nearer endpoint so that t close to 1 stays exact.
func lerp(a, b, t float64) float64 {
	d := b - a
	if t >= 0.5 {
		return b - d*(1-t)
	}
	return a + d*t
}
