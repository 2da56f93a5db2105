// Package pipeline computes obfuscation baselines for a labeled corpus: every
// case is sampled independently, then different-author samples are reduced
// into per-length buckets and fitted to threshold curves.
package pipeline

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"jsdbase/internal/curve"
	"jsdbase/internal/distance"
	"jsdbase/internal/metrics"
	"jsdbase/internal/ngram"
	"jsdbase/internal/textnorm"
	"jsdbase/internal/threshold"
)

// ErrNoDifferentAuthorData is returned when no different-author case yields a
// sample long enough to enter the fit.
var ErrNoDifferentAuthorData = errors.New("no usable different-author samples")

// Case is one raw corpus entry.
type Case struct {
	ID      string
	Label   curve.Label
	Known   []string
	Unknown string
}

// Document is a normalized case. Known holds the concatenation of every
// normalized known text.
type Document struct {
	CaseID  string
	Label   curve.Label
	Known   string
	Unknown string
}

// NewDocument normalizes each known text, concatenates them in order, and
// normalizes the unknown text.
func NewDocument(c Case, n textnorm.Normalizer) Document {
	var known strings.Builder
	for _, k := range c.Known {
		known.WriteString(n.Normalize(k))
	}
	return Document{
		CaseID:  c.ID,
		Label:   c.Label,
		Known:   known.String(),
		Unknown: n.Normalize(c.Unknown),
	}
}

// Options configures a run.
type Options struct {
	Sampling   curve.Options
	Order      int
	Mode       ngram.Mode
	Tagger     ngram.Tagger
	Metric     distance.Metric
	Normalizer textnorm.Normalizer
	Fit        threshold.Options
	// Workers bounds the number of cases sampled concurrently.
	Workers int

	Logger  *slog.Logger
	Metrics *metrics.PipelineMetrics
}

// DefaultOptions returns byte trigrams, Jensen-Shannon distance and the
// default sampling and fitting parameters.
func DefaultOptions() Options {
	return Options{
		Sampling: curve.DefaultOptions(),
		Order:    ngram.DefaultOrder,
		Mode:     ngram.ModeByte,
		Metric:   distance.MetricJensenShannon,
		Fit:      threshold.DefaultOptions(),
		Workers:  runtime.NumCPU(),
	}
}

// Result is the output of a run.
type Result struct {
	// Curves holds one curve per case, in input order.
	Curves  []curve.Curve
	Buckets threshold.Buckets
	Points  []threshold.Point
	Lines   threshold.Lines

	Samples        int
	SkippedSamples int
	// MaxLength is the longest prefix length sampled in any case.
	MaxLength int
	// Digest fingerprints the raw corpus.
	Digest   string
	Duration time.Duration
}

// CurvesFor returns the curves carrying label.
func (r *Result) CurvesFor(label curve.Label) []curve.Curve {
	var out []curve.Curve
	for _, c := range r.Curves {
		if c.Label == label {
			out = append(out, c)
		}
	}
	return out
}

// Run samples every case concurrently and fits threshold lines over the
// different-author samples. Cancelling ctx abandons the cases still in
// flight and returns the context error.
//
// Fit failures are returned together with a Result that carries the curves
// and buckets, so callers can still persist or report them.
func Run(ctx context.Context, cases []Case, opts Options) (*Result, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := opts.Fit.Validate(); err != nil {
		return nil, fmt.Errorf("fit options: %w", err)
	}
	sampler, err := newSampler(opts)
	if err != nil {
		return nil, err
	}

	curves := make([]curve.Curve, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opts.Workers))

	for i, c := range cases {
		g.Go(func() error {
			if opts.Metrics != nil {
				opts.Metrics.CaseStarted()
			}
			caseStart := time.Now()

			doc := NewDocument(c, opts.Normalizer)
			cv, err := sampler.Curve(gctx, doc.CaseID, doc.Label, doc.Known, doc.Unknown)
			if err != nil {
				if opts.Metrics != nil {
					opts.Metrics.RecordCaseFailed()
				}
				return fmt.Errorf("case %s: %w", c.ID, err)
			}
			curves[i] = cv

			samples, skipped := len(cv.Outcomes)-cv.Skipped(), cv.Skipped()
			if opts.Metrics != nil {
				opts.Metrics.RecordCase(time.Since(caseStart), samples, skipped)
			}
			logger.DebugContext(gctx, "case sampled",
				"case", c.ID,
				"label", string(c.Label),
				"samples", samples,
				"skipped", skipped)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := reduce(curves, opts.Fit)
	res.Digest = Digest(cases)
	res.Duration = time.Since(start)

	fitted, dropped := 0, 0
	for _, p := range res.Points {
		if p.Dropped {
			dropped++
			logger.DebugContext(ctx, "bucket dropped", "length", p.Length, "samples", p.Samples, "retained", p.Retained)
		} else {
			fitted++
		}
	}
	if opts.Metrics != nil {
		opts.Metrics.RecordFit(fitted, dropped)
		opts.Metrics.RecordRun(res.Duration)
	}

	if res.Buckets.Total() == 0 {
		return res, ErrNoDifferentAuthorData
	}
	res.Lines, err = threshold.FitSummary(res.Points, opts.Fit.Percentiles)
	if err != nil {
		return res, fmt.Errorf("fit thresholds: %w", err)
	}

	logger.InfoContext(ctx, "baseline fitted",
		"cases", len(cases),
		"samples", res.Samples,
		"skipped", res.SkippedSamples,
		"buckets", fitted,
		"dropped_buckets", dropped,
		"duration", res.Duration)
	return res, nil
}

func newSampler(opts Options) (*curve.Sampler, error) {
	builder, err := ngram.NewBuilder(opts.Mode, opts.Order, nil, opts.Tagger)
	if err != nil {
		return nil, fmt.Errorf("n-gram builder: %w", err)
	}
	fn, err := opts.Metric.Func()
	if err != nil {
		return nil, err
	}
	sampler, err := curve.NewSampler(builder, fn, opts.Sampling)
	if err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	return sampler, nil
}

// reduce groups and summarizes the curves. It runs on a single goroutine over
// curves that are no longer written to.
func reduce(curves []curve.Curve, opts threshold.Options) *Result {
	res := &Result{Curves: curves}
	for _, c := range curves {
		res.SkippedSamples += c.Skipped()
		res.Samples += len(c.Outcomes) - c.Skipped()
		res.MaxLength = max(res.MaxLength, c.MaxLength())
	}
	res.Buckets = threshold.Collect(curves, opts.MinBucketLength)
	res.Points = threshold.Summarize(res.Buckets, opts)
	return res
}

// Digest returns a hex BLAKE2b-256 fingerprint of the raw corpus, covering
// case order, labels and every text.
func Digest(cases []Case) string {
	h, _ := blake2b.New256(nil)
	field := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	for _, c := range cases {
		field(c.ID)
		field(string(c.Label))
		field(fmt.Sprint(len(c.Known)))
		for _, k := range c.Known {
			field(k)
		}
		field(c.Unknown)
	}
	return hex.EncodeToString(h.Sum(nil))
}
