// Package ngram builds n-gram frequency distributions over bytes or part-of-speech tags.
package ngram

import (
	"errors"
	"sort"
)

// DefaultOrder is the n-gram order used when none is configured.
const DefaultOrder = 3

// ErrInvalidOrder is returned for n-gram orders below 1.
var ErrInvalidOrder = errors.New("n-gram order must be at least 1")

// Distribution maps n-grams to occurrence counts.
// It is built once and never mutated afterwards.
type Distribution struct {
	order  int
	counts map[string]int
	total  int
}

// FromCounts builds a distribution from explicit counts. Non-positive counts
// are dropped. The input map is copied.
func FromCounts(order int, counts map[string]int) *Distribution {
	d := &Distribution{order: order, counts: make(map[string]int, len(counts))}
	for g, c := range counts {
		if c <= 0 {
			continue
		}
		d.counts[g] = c
		d.total += c
	}
	return d
}

// Order returns the n-gram order the distribution was built with.
func (d *Distribution) Order() int {
	return d.order
}

// Total returns the number of observed n-gram windows.
func (d *Distribution) Total() int {
	return d.total
}

// Size returns the number of distinct n-grams.
func (d *Distribution) Size() int {
	return len(d.counts)
}

// Empty reports whether no windows were observed.
func (d *Distribution) Empty() bool {
	return d.total == 0
}

// Count returns the absolute frequency of g, zero when absent.
func (d *Distribution) Count(g string) int {
	return d.counts[g]
}

// Prob returns the relative frequency of g. It returns 0 for an empty distribution.
func (d *Distribution) Prob(g string) float64 {
	if d.total == 0 {
		return 0
	}
	return float64(d.counts[g]) / float64(d.total)
}

// Each calls fn for every n-gram in unspecified order.
func (d *Distribution) Each(fn func(g string, count int)) {
	for g, c := range d.counts {
		fn(g, c)
	}
}

// Grams returns the distinct n-grams in sorted order.
func (d *Distribution) Grams() []string {
	grams := make([]string, 0, len(d.counts))
	for g := range d.counts {
		grams = append(grams, g)
	}
	sort.Strings(grams)
	return grams
}

// Union returns the sorted union of the supports of a and b.
func Union(a, b *Distribution) []string {
	seen := make(map[string]struct{}, a.Size()+b.Size())
	for g := range a.counts {
		seen[g] = struct{}{}
	}
	for g := range b.counts {
		seen[g] = struct{}{}
	}
	grams := make([]string, 0, len(seen))
	for g := range seen {
		grams = append(grams, g)
	}
	sort.Strings(grams)
	return grams
}

// WindowCount returns the number of overlapping windows of the given order in
// a sequence of length n.
func WindowCount(n, order int) int {
	if order < 1 || n < order {
		return 0
	}
	return n - order + 1
}
