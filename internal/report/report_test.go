package report

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"jsdbase/internal/curve"
	"jsdbase/internal/pipeline"
	"jsdbase/internal/threshold"
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func testResult(t *testing.T) *pipeline.Result {
	t.Helper()

	var curves []curve.Curve
	for i, offset := range []float64{-0.02, 0, 0.01} {
		c := curve.Curve{CaseID: string(rune('A' + i)), Label: curve.DifferentAuthor}
		c.Outcomes = append(c.Outcomes, curve.Outcome{Length: 1000, Err: curve.ErrInvalidSchedule})
		for length := 2000; length <= 2400; length += 100 {
			c.Outcomes = append(c.Outcomes, curve.Outcome{
				Length:   length,
				Distance: 0.03*math.Log2(float64(length)) + 0.2 + offset,
			})
		}
		curves = append(curves, c)
	}
	curves = append(curves, curve.Curve{CaseID: "S", Label: curve.SameAuthor, Outcomes: []curve.Outcome{{Length: 2000, Distance: 0.1}}})

	opts := threshold.DefaultOptions()
	res := &pipeline.Result{
		Curves:    curves,
		MaxLength: 2400,
		Digest:    pipeline.Digest([]pipeline.Case{{ID: "A", Known: []string{"x"}, Unknown: "y"}}),
	}
	for _, c := range curves {
		res.Samples += len(c.Outcomes) - c.Skipped()
		res.SkippedSamples += c.Skipped()
	}
	res.Buckets = threshold.Collect(curves, opts.MinBucketLength)
	res.Points = threshold.Summarize(res.Buckets, opts)
	lines, err := threshold.FitSummary(res.Points, opts.Percentiles)
	require.NoError(t, err)
	res.Lines = lines
	return res
}

func testOptions() Options {
	opts := pipeline.DefaultOptions()
	return Options{
		RunID:         7,
		Settings:      SettingsFrom(opts),
		IncludeCurves: true,
		PlotPoints:    3,
		Now:           fixedNow,
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "json": FormatJSON, " yml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	res := testResult(t)
	r := Build(res, testOptions())

	assert.Equal(t, Version, r.Version)
	assert.Equal(t, "2024-03-01T12:00:00Z", r.GeneratedAt)
	assert.Equal(t, int64(7), r.RunID)
	assert.Equal(t, Settings{Metric: "jsd", Mode: "byte", Order: 3, MinLength: 100, Step: 100}, r.Settings)

	assert.Equal(t, Summary{
		Cases:                4,
		SameAuthorCases:      1,
		DifferentAuthorCases: 3,
		Samples:              16,
		SkippedSamples:       3,
		MaxLength:            2400,
	}, r.Summary)

	require.Len(t, r.Thresholds, 4)
	top := r.Thresholds[3]
	assert.Equal(t, "0.99", top.Level)
	require.Len(t, top.Plot, 3)
	assert.Equal(t, []int{100, 1250, 2400}, []int{top.Plot[0].Length, top.Plot[1].Length, top.Plot[2].Length})
	assert.InDelta(t, top.Slope*math.Log2(2400)+top.Intercept, top.Plot[2].Distance, 1e-12)

	// 2000 is below the minimum bucket length
	require.Len(t, r.Buckets, 4)
	assert.Equal(t, 2100, r.Buckets[0].Length)
	assert.Len(t, r.Buckets[0].Percentiles, 4)

	require.Len(t, r.Curves, 4)
	assert.Len(t, r.Curves[0].Points, 5)
	assert.Equal(t, 2000.0, r.Curves[0].Points[0][0])
	assert.InDelta(t, 0.03*math.Log2(2000)+0.18, r.Curves[0].Points[0][1], 1e-12)
}

func TestBuildWithoutCurvesOrPlots(t *testing.T) {
	opts := testOptions()
	opts.IncludeCurves = false
	opts.PlotPoints = 0

	r := Build(testResult(t), opts)
	assert.Nil(t, r.Curves)
	for _, th := range r.Thresholds {
		assert.Empty(t, th.Plot)
	}
}

func TestPlotLengths(t *testing.T) {
	assert.Nil(t, plotLengths(100, 2000, 0))
	assert.Nil(t, plotLengths(500, 100, 3))
	assert.Equal(t, []int{2000}, plotLengths(100, 2000, 1))
	assert.Equal(t, []int{100, 550, 1000}, plotLengths(100, 1000, 3))
}

func TestWriteJSONValidates(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Build(testResult(t), testOptions()), FormatJSON))
	require.NoError(t, Validate(buf.Bytes()))

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, Version, decoded.Version)
	assert.Len(t, decoded.Thresholds, 4)
}

func TestValidateRejectsBadReports(t *testing.T) {
	r := Build(testResult(t), testOptions())
	r.CorpusDigest = "not-a-digest"
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Error(t, Validate(data))

	r = Build(testResult(t), testOptions())
	r.Settings.Metric = "cosine"
	data, err = json.Marshal(r)
	require.NoError(t, err)
	assert.Error(t, Validate(data))

	assert.Error(t, Validate([]byte("{")))
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Build(testResult(t), testOptions()), FormatYAML))

	var decoded Report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "2024-03-01T12:00:00Z", decoded.GeneratedAt)
	assert.Equal(t, 3, decoded.Summary.DifferentAuthorCases)
	assert.Len(t, decoded.Curves, 4)
}

func TestWriteText(t *testing.T) {
	res := testResult(t)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Build(res, testOptions()), FormatText))

	out := buf.String()
	assert.Contains(t, out, "OBFUSCATION BASELINE THRESHOLDS")
	assert.Contains(t, out, "Run:            7")
	assert.Contains(t, out, "Cases:          4 (1 same author, 3 different authors)")
	assert.Contains(t, out, "ε_{0.99} coefs: [")
	assert.Contains(t, out, "ε_{0} coefs: [")
}

func TestWriteTextNoThresholds(t *testing.T) {
	res := testResult(t)
	res.Lines = nil

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Build(res, testOptions()), FormatText))
	assert.Contains(t, buf.String(), "NO THRESHOLDS FITTED")
}

func TestWriteUnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, &Report{}, Format("xml")))
}

func TestWriteCoefficients(t *testing.T) {
	lines := threshold.Lines{
		{Percentile: 50, Slope: 0.0123456, Intercept: 1},
		{Percentile: 99, Slope: -2.5e-7, Intercept: 0.25},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCoefficients(&buf, lines))
	assert.Equal(t, "\nε_{0.5} coefs: [0.012346, 1.0]\n\nε_{0.99} coefs: [-2.5e-07, 0.25]\n", buf.String())
}

func TestFormatCoef(t *testing.T) {
	tests := map[float64]string{
		0:            "0.0",
		1:            "1.0",
		-3:           "-3.0",
		0.123456789:  "0.12346",
		123456.7:     "1.2346e+05",
		math.Inf(1):  "+Inf",
		math.NaN():   "NaN",
		1e-5:         "1e-05",
		12345:        "12345.0",
		0.0001234567: "0.00012346",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatCoef(in), "FormatCoef(%v)", in)
	}
	assert.False(t, strings.HasSuffix(FormatCoef(1e21), ".0"))
}
