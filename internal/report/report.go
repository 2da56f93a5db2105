// Package report renders pipeline results as text, JSON or YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"jsdbase/internal/curve"
	"jsdbase/internal/pipeline"
	"jsdbase/internal/threshold"
)

// Version identifies the report layout.
const Version = "jsdbase-report-v1"

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown report format: %q", s)
	}
}

// Settings records how the samples were produced.
type Settings struct {
	Metric    string `json:"metric" yaml:"metric"`
	Mode      string `json:"mode" yaml:"mode"`
	Order     int    `json:"order" yaml:"order"`
	MinLength int    `json:"min_length" yaml:"min_length"`
	Step      int    `json:"step" yaml:"step"`
}

// SettingsFrom extracts the sampling settings of a pipeline configuration.
func SettingsFrom(opts pipeline.Options) Settings {
	return Settings{
		Metric:    string(opts.Metric),
		Mode:      string(opts.Mode),
		Order:     opts.Order,
		MinLength: opts.Sampling.MinLength,
		Step:      opts.Sampling.Step,
	}
}

// Summary holds run totals.
type Summary struct {
	Cases                int `json:"cases" yaml:"cases"`
	SameAuthorCases      int `json:"same_author_cases" yaml:"same_author_cases"`
	DifferentAuthorCases int `json:"different_author_cases" yaml:"different_author_cases"`
	Samples              int `json:"samples" yaml:"samples"`
	SkippedSamples       int `json:"skipped_samples" yaml:"skipped_samples"`
	MaxLength            int `json:"max_length" yaml:"max_length"`
}

// PlotPoint is a threshold evaluated at one length.
type PlotPoint struct {
	Length   int     `json:"length" yaml:"length"`
	Distance float64 `json:"distance" yaml:"distance"`
}

// Threshold is one fitted ε line.
type Threshold struct {
	Level      string      `json:"level" yaml:"level"`
	Percentile float64     `json:"percentile" yaml:"percentile"`
	Slope      float64     `json:"slope" yaml:"slope"`
	Intercept  float64     `json:"intercept" yaml:"intercept"`
	Plot       []PlotPoint `json:"plot,omitempty" yaml:"plot,omitempty"`
}

// Bucket is the fit summary of one prefix length.
type Bucket struct {
	Length      int       `json:"length" yaml:"length"`
	Samples     int       `json:"samples" yaml:"samples"`
	Retained    int       `json:"retained" yaml:"retained"`
	Dropped     bool      `json:"dropped" yaml:"dropped"`
	Percentiles []float64 `json:"percentiles,omitempty" yaml:"percentiles,omitempty,flow"`
}

// Curve is a case's measured points as [length, distance] pairs.
type Curve struct {
	CaseID string       `json:"case_id" yaml:"case_id"`
	Label  curve.Label  `json:"label" yaml:"label"`
	Points [][2]float64 `json:"points" yaml:"points,flow"`
}

// Report is the serializable form of a run.
type Report struct {
	Version      string      `json:"version" yaml:"version"`
	GeneratedAt  string      `json:"generated_at" yaml:"generated_at"`
	RunID        int64       `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	CorpusDigest string      `json:"corpus_digest" yaml:"corpus_digest"`
	Settings     Settings    `json:"settings" yaml:"settings"`
	Summary      Summary     `json:"summary" yaml:"summary"`
	Thresholds   []Threshold `json:"thresholds" yaml:"thresholds"`
	Buckets      []Bucket    `json:"buckets" yaml:"buckets"`
	Curves       []Curve     `json:"curves,omitempty" yaml:"curves,omitempty"`
}

// Options controls what Build includes.
type Options struct {
	RunID         int64
	Settings      Settings
	IncludeCurves bool
	// PlotPoints is the number of lengths each threshold is evaluated at,
	// spread evenly over [Settings.MinLength, MaxLength]. Zero disables plots.
	PlotPoints int
	Now        func() time.Time
}

// Build converts a pipeline result into a Report.
func Build(res *pipeline.Result, opts Options) *Report {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	r := &Report{
		Version:      Version,
		GeneratedAt:  now().UTC().Format(time.RFC3339),
		RunID:        opts.RunID,
		CorpusDigest: res.Digest,
		Settings:     opts.Settings,
		Summary: Summary{
			Cases:                len(res.Curves),
			SameAuthorCases:      len(res.CurvesFor(curve.SameAuthor)),
			DifferentAuthorCases: len(res.CurvesFor(curve.DifferentAuthor)),
			Samples:              res.Samples,
			SkippedSamples:       res.SkippedSamples,
			MaxLength:            res.MaxLength,
		},
		Thresholds: make([]Threshold, 0, len(res.Lines)),
		Buckets:    make([]Bucket, 0, len(res.Points)),
	}

	lengths := plotLengths(opts.Settings.MinLength, res.MaxLength, opts.PlotPoints)
	for _, l := range res.Lines {
		t := Threshold{Level: l.Level(), Percentile: l.Percentile, Slope: l.Slope, Intercept: l.Intercept}
		for _, x := range lengths {
			t.Plot = append(t.Plot, PlotPoint{Length: x, Distance: l.Eval(float64(x))})
		}
		r.Thresholds = append(r.Thresholds, t)
	}

	for _, p := range res.Points {
		r.Buckets = append(r.Buckets, Bucket{
			Length:      p.Length,
			Samples:     p.Samples,
			Retained:    p.Retained,
			Dropped:     p.Dropped,
			Percentiles: p.Values,
		})
	}

	if opts.IncludeCurves {
		for _, c := range res.Curves {
			rc := Curve{CaseID: c.CaseID, Label: c.Label, Points: [][2]float64{}}
			for _, s := range c.Samples() {
				rc.Points = append(rc.Points, [2]float64{float64(s.Length), s.Distance})
			}
			r.Curves = append(r.Curves, rc)
		}
	}
	return r
}

// plotLengths spreads n lengths evenly over [lo, hi], both inclusive.
func plotLengths(lo, hi, n int) []int {
	if n < 1 || lo < 1 || hi < lo {
		return nil
	}
	if n == 1 || hi == lo {
		return []int{hi}
	}
	out := make([]int, n)
	for i := range out {
		out[i] = lo + (hi-lo)*i/(n-1)
	}
	return out
}

// Write encodes r to w in the given format.
func Write(w io.Writer, r *Report, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		return writeText(w, r)
	default:
		return fmt.Errorf("unknown report format: %q", string(format))
	}
}

func writeText(w io.Writer, r *Report) error {
	var b strings.Builder

	b.WriteString(strings.Repeat("=", 72) + "\n")
	b.WriteString("                    OBFUSCATION BASELINE THRESHOLDS\n")
	b.WriteString(strings.Repeat("=", 72) + "\n\n")

	if r.RunID != 0 {
		fmt.Fprintf(&b, "Run:            %d\n", r.RunID)
	}
	fmt.Fprintf(&b, "Generated:      %s\n", r.GeneratedAt)
	fmt.Fprintf(&b, "Corpus:         %s\n", r.CorpusDigest)
	fmt.Fprintf(&b, "Distance:       %s over %s %d-grams\n", r.Settings.Metric, r.Settings.Mode, r.Settings.Order)
	fmt.Fprintf(&b, "Schedule:       from %d every %d characters\n", r.Settings.MinLength, r.Settings.Step)
	fmt.Fprintf(&b, "Cases:          %d (%d same author, %d different authors)\n",
		r.Summary.Cases, r.Summary.SameAuthorCases, r.Summary.DifferentAuthorCases)
	fmt.Fprintf(&b, "Samples:        %d (%d skipped)\n", r.Summary.Samples, r.Summary.SkippedSamples)
	fmt.Fprintf(&b, "Longest sample: %d characters\n\n", r.Summary.MaxLength)

	b.WriteString(strings.Repeat("-", 72) + "\n")
	b.WriteString("LENGTH BUCKETS\n")
	b.WriteString(strings.Repeat("-", 72) + "\n\n")
	fmt.Fprintf(&b, "%8s  %7s  %8s  %s\n", "length", "samples", "retained", "percentiles")
	for _, bk := range r.Buckets {
		values := "dropped"
		if !bk.Dropped {
			parts := make([]string, len(bk.Percentiles))
			for i, v := range bk.Percentiles {
				parts[i] = strconv.FormatFloat(v, 'f', 4, 64)
			}
			values = strings.Join(parts, " ")
		}
		fmt.Fprintf(&b, "%8d  %7d  %8d  %s\n", bk.Length, bk.Samples, bk.Retained, values)
	}
	b.WriteString("\n")

	b.WriteString(strings.Repeat("=", 72) + "\n")
	if len(r.Thresholds) == 0 {
		b.WriteString("NO THRESHOLDS FITTED\n")
	}
	for _, t := range r.Thresholds {
		fmt.Fprintf(&b, "ε_{%s} coefs: [%s, %s]\n", t.Level, FormatCoef(t.Slope), FormatCoef(t.Intercept))
	}
	b.WriteString(strings.Repeat("=", 72) + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteCoefficients prints one "ε_{level} coefs: [slope, intercept]" line per
// threshold, separated by blank lines.
func WriteCoefficients(w io.Writer, lines threshold.Lines) error {
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "\nε_{%s} coefs: [%s, %s]\n", l.Level(), FormatCoef(l.Slope), FormatCoef(l.Intercept)); err != nil {
			return err
		}
	}
	return nil
}

// FormatCoef formats v with five significant digits, keeping a decimal
// point on whole numbers in fixed notation.
func FormatCoef(v float64) string {
	s := strconv.FormatFloat(v, 'g', 5, 64)
	if strings.ContainsAny(s, ".eEnN") {
		return s
	}
	return s + ".0"
}
