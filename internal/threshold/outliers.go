package threshold

import "fmt"

// Outlier filter defaults.
const (
	DefaultLowerQuantile   = 30.0
	DefaultUpperQuantile   = 70.0
	DefaultFenceFactor     = 1.5
	DefaultOutlierMinCount = 5
)

// FilterOptions configures the interquartile-range outlier filter.
type FilterOptions struct {
	// LowerQuantile and UpperQuantile are the percentile cut points, in [0, 100].
	LowerQuantile float64
	UpperQuantile float64
	// FenceFactor scales the range between the cut points.
	FenceFactor float64
	// MinCount is the smallest input size the filter is applied to.
	MinCount int
}

// DefaultFilterOptions returns 30/70 cut points, a 1.5 fence and a minimum of 5 values.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		LowerQuantile: DefaultLowerQuantile,
		UpperQuantile: DefaultUpperQuantile,
		FenceFactor:   DefaultFenceFactor,
		MinCount:      DefaultOutlierMinCount,
	}
}

// Validate checks the cut points and fence factor.
func (o FilterOptions) Validate() error {
	if o.LowerQuantile < 0 || o.UpperQuantile > 100 || o.LowerQuantile > o.UpperQuantile {
		return fmt.Errorf("outlier quantiles must satisfy 0 <= lower <= upper <= 100, got %v/%v",
			o.LowerQuantile, o.UpperQuantile)
	}
	if o.FenceFactor < 0 {
		return fmt.Errorf("outlier fence factor must be non-negative, got %v", o.FenceFactor)
	}
	return nil
}

// Fences returns the Tukey fences for values. Both bounds are exclusive.
func Fences(values []float64, opts FilterOptions) (lower, upper float64) {
	q := Percentiles(values, []float64{opts.LowerQuantile, opts.UpperQuantile})
	iqr := q[1] - q[0]
	return q[0] - opts.FenceFactor*iqr, q[1] + opts.FenceFactor*iqr
}

// RemoveOutliers returns the values lying strictly inside the Tukey fences, in
// their input order. A bucket whose cut points coincide has an empty interior
// and loses every value. Inputs with fewer than opts.MinCount values are returned
// unfiltered. The input slice is never modified and the result is never longer.
func RemoveOutliers(values []float64, opts FilterOptions) []float64 {
	kept := make([]float64, 0, len(values))
	if len(values) == 0 || len(values) < opts.MinCount {
		return append(kept, values...)
	}

	lower, upper := Fences(values, opts)
	for _, v := range values {
		if v > lower && v < upper {
			kept = append(kept, v)
		}
	}
	return kept
}
