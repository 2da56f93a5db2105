// Package distance measures how far apart two n-gram frequency distributions are.
package distance

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"jsdbase/internal/ngram"
)

// ErrEmptyDistribution is returned when either side has no observed windows,
// which leaves relative frequencies undefined.
var ErrEmptyDistribution = errors.New("distribution has zero total count")

// MaxJensenShannon is the distance between distributions with disjoint support.
const MaxJensenShannon = math.Sqrt2

// Metric names a distance function.
type Metric string

const (
	// MetricJensenShannon is the square-rooted Jensen-Shannon divergence in bits.
	MetricJensenShannon Metric = "jsd"
	// MetricHellinger is the unscaled Hellinger distance.
	MetricHellinger Metric = "hellinger"
)

// Func computes a distance between two distributions.
type Func func(a, b *ngram.Distribution) (float64, error)

// ParseMetric parses a configuration value into a Metric.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jsd", "js", "jensen-shannon":
		return MetricJensenShannon, nil
	case "hellinger":
		return MetricHellinger, nil
	default:
		return "", fmt.Errorf("unknown distance metric: %q", s)
	}
}

// Func returns the distance function for m.
func (m Metric) Func() (Func, error) {
	switch m {
	case MetricJensenShannon:
		return JensenShannon, nil
	case MetricHellinger:
		return Hellinger, nil
	default:
		return nil, fmt.Errorf("unknown distance metric: %q", string(m))
	}
}

// JensenShannon returns sqrt(KL(P||M) + KL(Q||M)) with M = (P+Q)/2 and log base 2,
// over the union of both supports. The result lies in [0, sqrt(2)].
func JensenShannon(a, b *ngram.Distribution) (float64, error) {
	if a.Empty() || b.Empty() {
		return 0, ErrEmptyDistribution
	}

	var sum Sum
	eachInUnion(a, b, func(p, q float64) {
		m := 0.5 * (p + q)
		sum.Add(klTerm(p, m))
		sum.Add(klTerm(q, m))
	})
	return math.Sqrt(math.Max(0, sum.Value())), nil
}

// Hellinger returns sqrt(sum((sqrt(p) - sqrt(q))^2)) over the union of both
// supports. The result lies in [0, sqrt(2)].
func Hellinger(a, b *ngram.Distribution) (float64, error) {
	if a.Empty() || b.Empty() {
		return 0, ErrEmptyDistribution
	}

	var sum Sum
	eachInUnion(a, b, func(p, q float64) {
		d := math.Sqrt(p) - math.Sqrt(q)
		sum.Add(d * d)
	})
	return math.Sqrt(sum.Value()), nil
}

// klTerm is a single Kullback-Leibler summand, zero when p is zero.
func klTerm(p, m float64) float64 {
	if p == 0 {
		return 0
	}
	return p * math.Log2(p/m)
}

// eachInUnion calls fn with the relative frequencies of every n-gram present
// in a or b. Absent n-grams contribute probability zero on their side.
func eachInUnion(a, b *ngram.Distribution, fn func(p, q float64)) {
	na, nb := float64(a.Total()), float64(b.Total())
	a.Each(func(g string, ca int) {
		fn(float64(ca)/na, float64(b.Count(g))/nb)
	})
	b.Each(func(g string, cb int) {
		if a.Count(g) == 0 {
			fn(0, float64(cb)/nb)
		}
	})
}
