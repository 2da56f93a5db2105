// Package threshold turns different-author distance samples into log-linear
// threshold curves, one per percentile level.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"jsdbase/internal/curve"
)

// ErrInsufficientData is returned when fewer than two length buckets survive
// filtering, which leaves a line fit undetermined.
var ErrInsufficientData = errors.New("insufficient data for threshold fit")

// Fitting defaults.
const (
	DefaultMinBucketSamples = 2
	DefaultMinBucketLength  = 2048
)

// DefaultPercentiles are the ε levels reported by the baseline study.
var DefaultPercentiles = []float64{0, 50, 70, 99}

// Bucket holds every different-author distance sampled at one prefix length.
type Bucket struct {
	Length int
	Values []float64
}

// Buckets are ordered by increasing length.
type Buckets []Bucket

// Total returns the number of values across all buckets.
func (bs Buckets) Total() int {
	n := 0
	for _, b := range bs {
		n += len(b.Values)
	}
	return n
}

// Collect groups the measured different-author samples of curves by prefix
// length, skipping lengths below minLength. Same-author curves are ignored.
func Collect(curves []curve.Curve, minLength int) Buckets {
	byLength := make(map[int][]float64)
	for _, c := range curves {
		if c.Label != curve.DifferentAuthor {
			continue
		}
		for _, s := range c.Samples() {
			if s.Length < minLength {
				continue
			}
			byLength[s.Length] = append(byLength[s.Length], s.Distance)
		}
	}

	buckets := make(Buckets, 0, len(byLength))
	for length, values := range byLength {
		buckets = append(buckets, Bucket{Length: length, Values: values})
	}
	slices.SortFunc(buckets, func(a, b Bucket) int { return a.Length - b.Length })
	return buckets
}

// Options configures the fitting stage.
type Options struct {
	Filter FilterOptions
	// MinBucketSamples is the number of values a bucket needs after filtering.
	MinBucketSamples int
	// MinBucketLength excludes shorter buckets from the fit.
	MinBucketLength int
	// Percentiles are the levels to fit, in [0, 100].
	Percentiles []float64
}

// DefaultOptions returns the fitting parameters of the baseline study.
func DefaultOptions() Options {
	return Options{
		Filter:           DefaultFilterOptions(),
		MinBucketSamples: DefaultMinBucketSamples,
		MinBucketLength:  DefaultMinBucketLength,
		Percentiles:      slices.Clone(DefaultPercentiles),
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if err := o.Filter.Validate(); err != nil {
		return err
	}
	if len(o.Percentiles) == 0 {
		return errors.New("at least one percentile level is required")
	}
	for _, p := range o.Percentiles {
		if p < 0 || p > 100 || math.IsNaN(p) {
			return fmt.Errorf("percentile level %v out of [0, 100]", p)
		}
	}
	return nil
}

// Point is one bucket after filtering. Values holds one percentile per
// requested level; it is nil for dropped buckets.
type Point struct {
	Length   int
	Samples  int
	Retained int
	Dropped  bool
	Values   []float64
}

// Summarize filters every bucket and computes its percentiles. Buckets shorter
// than MinBucketLength are left out; buckets with fewer than MinBucketSamples
// retained values are returned with Dropped set.
func Summarize(buckets Buckets, opts Options) []Point {
	points := make([]Point, 0, len(buckets))
	for _, b := range buckets {
		if b.Length < opts.MinBucketLength {
			continue
		}
		kept := RemoveOutliers(b.Values, opts.Filter)
		p := Point{Length: b.Length, Samples: len(b.Values), Retained: len(kept)}
		if len(kept) < opts.MinBucketSamples {
			p.Dropped = true
		} else {
			p.Values = Percentiles(kept, opts.Percentiles)
		}
		points = append(points, p)
	}
	return points
}

// Line is a threshold curve: distance = Slope*log2(length) + Intercept.
type Line struct {
	Percentile float64 `json:"percentile" yaml:"percentile"`
	Slope      float64 `json:"slope" yaml:"slope"`
	Intercept  float64 `json:"intercept" yaml:"intercept"`
}

// Eval returns the threshold at a text length.
func (l Line) Eval(length float64) float64 {
	return l.Slope*math.Log2(length) + l.Intercept
}

// Level returns the percentile as a fraction, e.g. "0.99" for the 99th.
func (l Line) Level() string {
	return strconv.FormatFloat(l.Percentile/100, 'g', -1, 64)
}

// Lines holds one Line per percentile level, in request order.
type Lines []Line

// Get returns the line for percentile p.
func (ls Lines) Get(p float64) (Line, bool) {
	for _, l := range ls {
		if l.Percentile == p {
			return l, true
		}
	}
	return Line{}, false
}

// FitSummary fits one line per percentile level over the retained points.
func FitSummary(points []Point, percentiles []float64) (Lines, error) {
	var xs []float64
	ys := make([][]float64, len(percentiles))
	for _, p := range points {
		if p.Dropped {
			continue
		}
		xs = append(xs, math.Log2(float64(p.Length)))
		for i, v := range p.Values {
			ys[i] = append(ys[i], v)
		}
	}
	if len(xs) < 2 {
		return nil, fmt.Errorf("%w: %d usable buckets", ErrInsufficientData, len(xs))
	}

	lines := make(Lines, len(percentiles))
	for i, level := range percentiles {
		slope, intercept, err := FitPoints(xs, ys[i])
		if err != nil {
			return nil, fmt.Errorf("fit percentile %v: %w", level, err)
		}
		lines[i] = Line{Percentile: level, Slope: slope, Intercept: intercept}
	}
	return lines, nil
}

// Fit filters the buckets and fits one line per percentile level.
func Fit(buckets Buckets, opts Options) (Lines, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return FitSummary(Summarize(buckets, opts), opts.Percentiles)
}

// FitPoints returns the ordinary least-squares line through (xs, ys).
func FitPoints(xs, ys []float64) (slope, intercept float64, err error) {
	if len(xs) != len(ys) {
		return 0, 0, fmt.Errorf("mismatched lengths: %d xs, %d ys", len(xs), len(ys))
	}
	if len(xs) < 2 {
		return 0, 0, ErrInsufficientData
	}
	if stat.Variance(xs, nil) == 0 {
		return 0, 0, fmt.Errorf("%w: all x values are equal", ErrInsufficientData)
	}

	intercept, slope = stat.LinearRegression(xs, ys, nil, false)
	return slope, intercept, nil
}
