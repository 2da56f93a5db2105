package distance

import "math"

// Sum accumulates float64 values without intermediate rounding loss, using
// Shewchuk's non-overlapping partials. The zero value is an empty sum.
//
// Distances are sums over tens of thousands of small terms of mixed sign;
// a naive loop loses digits to cancellation and makes the result depend on
// map iteration order.
type Sum struct {
	partials []float64
}

// Add adds x to the sum.
func (s *Sum) Add(x float64) {
	i := 0
	for _, y := range s.partials {
		if math.Abs(x) < math.Abs(y) {
			x, y = y, x
		}
		hi := x + y
		lo := y - (hi - x)
		if lo != 0 {
			s.partials[i] = lo
			i++
		}
		x = hi
	}
	s.partials = append(s.partials[:i], x)
}

// Value returns the correctly rounded total.
func (s *Sum) Value() float64 {
	p := s.partials
	n := len(p)
	if n == 0 {
		return 0
	}

	n--
	hi := p[n]
	var lo float64
	for n > 0 {
		x := hi
		n--
		y := p[n]
		hi = x + y
		lo = y - (hi - x)
		if lo != 0 {
			break
		}
	}

	// Round half-even across the remaining partials.
	if n > 0 && ((lo < 0 && p[n-1] < 0) || (lo > 0 && p[n-1] > 0)) {
		y := lo * 2
		x := hi + y
		if y == x-hi {
			hi = x
		}
	}
	return hi
}

// Fsum returns the correctly rounded sum of values.
func Fsum(values []float64) float64 {
	var s Sum
	for _, v := range values {
		s.Add(v)
	}
	return s.Value()
}
