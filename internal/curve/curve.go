// Package curve samples the distance between a known and an unknown text at
// growing prefix lengths.
package curve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"jsdbase/internal/distance"
	"jsdbase/internal/ngram"
)

// Default sampling schedule, in characters.
const (
	DefaultMinLength = 100
	DefaultStep      = 100
)

// ErrInvalidSchedule is returned for a non-positive step or minimum length.
var ErrInvalidSchedule = errors.New("sampling step and minimum length must be positive")

// Label is the ground truth for a known/unknown pair.
type Label string

const (
	SameAuthor      Label = "same-author"
	DifferentAuthor Label = "different-author"
)

// ParseLabel accepts the long label names and the corpus truth-file codes Y and N.
func ParseLabel(s string) (Label, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "Y", "SAME-AUTHOR", "SAME":
		return SameAuthor, nil
	case "N", "DIFFERENT-AUTHOR", "DIFFERENT":
		return DifferentAuthor, nil
	default:
		return "", fmt.Errorf("unknown label: %q", s)
	}
}

// Outcome is the result of sampling one prefix length. Err is set when no
// distance could be computed at that length, so a zero Distance with a nil
// Err is a real measurement.
type Outcome struct {
	Length   int
	Distance float64
	Err      error
}

// OK reports whether the outcome carries a distance.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Sample is one measured point of a case's curve.
type Sample struct {
	CaseID   string  `json:"case_id"`
	Length   int     `json:"length"`
	Distance float64 `json:"distance"`
	Label    Label   `json:"label"`
}

// Curve is the full sampling pass over one case.
type Curve struct {
	CaseID   string
	Label    Label
	Outcomes []Outcome
}

// Samples returns the measured points in increasing length order.
func (c Curve) Samples() []Sample {
	samples := make([]Sample, 0, len(c.Outcomes))
	for _, o := range c.Outcomes {
		if !o.OK() {
			continue
		}
		samples = append(samples, Sample{
			CaseID:   c.CaseID,
			Length:   o.Length,
			Distance: o.Distance,
			Label:    c.Label,
		})
	}
	return samples
}

// Skipped returns the number of lengths without a distance.
func (c Curve) Skipped() int {
	n := 0
	for _, o := range c.Outcomes {
		if !o.OK() {
			n++
		}
	}
	return n
}

// MaxLength returns the largest sampled length, or 0 for an empty curve.
func (c Curve) MaxLength() int {
	if len(c.Outcomes) == 0 {
		return 0
	}
	return c.Outcomes[len(c.Outcomes)-1].Length
}

// Options configures the sampling schedule.
type Options struct {
	MinLength int
	Step      int
}

// DefaultOptions returns the 100/100 character schedule.
func DefaultOptions() Options {
	return Options{MinLength: DefaultMinLength, Step: DefaultStep}
}

// Lengths returns minLength, minLength+step, ... up to and including maxLength.
func Lengths(maxLength, minLength, step int) []int {
	if step < 1 || minLength < 1 || maxLength < minLength {
		return nil
	}
	lengths := make([]int, 0, (maxLength-minLength)/step+1)
	for x := minLength; x <= maxLength; x += step {
		lengths = append(lengths, x)
	}
	return lengths
}

// Sampler measures distance curves with a fixed builder and metric.
type Sampler struct {
	builder  ngram.Builder
	distance distance.Func
	opts     Options
}

// NewSampler creates a Sampler.
func NewSampler(b ngram.Builder, fn distance.Func, opts Options) (*Sampler, error) {
	if opts.Step < 1 || opts.MinLength < 1 {
		return nil, ErrInvalidSchedule
	}
	if b == nil || fn == nil {
		return nil, errors.New("sampler requires a builder and a distance function")
	}
	return &Sampler{builder: b, distance: fn, opts: opts}, nil
}

// SampleCurve truncates both texts to each scheduled prefix length, counted in
// characters, and measures their distance. Lengths whose prefixes yield an
// empty distribution produce an Outcome with Err set. It returns early with
// ctx.Err() when the context is done; a partial curve is never returned.
func (s *Sampler) SampleCurve(ctx context.Context, known, unknown string) ([]Outcome, error) {
	maxLength := min(utf8.RuneCountInString(known), utf8.RuneCountInString(unknown))
	lengths := Lengths(maxLength, s.opts.MinLength, s.opts.Step)
	if len(lengths) == 0 {
		return nil, nil
	}

	knownEnds := prefixOffsets(known, lengths)
	unknownEnds := prefixOffsets(unknown, lengths)

	outcomes := make([]Outcome, len(lengths))
	for i, x := range lengths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcomes[i] = s.measure(x, known[:knownEnds[i]], unknown[:unknownEnds[i]])
	}
	return outcomes, nil
}

// Curve samples one case.
func (s *Sampler) Curve(ctx context.Context, caseID string, label Label, known, unknown string) (Curve, error) {
	outcomes, err := s.SampleCurve(ctx, known, unknown)
	if err != nil {
		return Curve{}, err
	}
	return Curve{CaseID: caseID, Label: label, Outcomes: outcomes}, nil
}

func (s *Sampler) measure(length int, known, unknown string) Outcome {
	a, err := s.builder.Build(known)
	if err != nil {
		return Outcome{Length: length, Err: fmt.Errorf("build known distribution: %w", err)}
	}
	b, err := s.builder.Build(unknown)
	if err != nil {
		return Outcome{Length: length, Err: fmt.Errorf("build unknown distribution: %w", err)}
	}

	d, err := s.distance(a, b)
	if err != nil {
		return Outcome{Length: length, Err: err}
	}
	return Outcome{Length: length, Distance: d}
}

// prefixOffsets returns, for each rune count in lengths (ascending), the byte
// offset where a prefix of that many runes ends.
func prefixOffsets(text string, lengths []int) []int {
	offsets := make([]int, len(lengths))
	next, runes := 0, 0
	for i := range text {
		for next < len(lengths) && runes == lengths[next] {
			offsets[next] = i
			next++
		}
		if next == len(lengths) {
			return offsets
		}
		runes++
	}
	for ; next < len(lengths); next++ {
		offsets[next] = len(text)
	}
	return offsets
}
