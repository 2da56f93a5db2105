// Package store provides SQLite-based storage for baseline runs.
package store

import (
	"time"

	"jsdbase/internal/curve"
	"jsdbase/internal/threshold"
)

// Run is one stored pipeline run.
type Run struct {
	ID             int64
	CreatedAt      time.Time
	CorpusDigest   string
	Metric         string
	Mode           string
	Order          int
	MinLength      int
	Step           int
	Cases          int
	Samples        int
	SkippedSamples int
	MaxLength      int
	Fitted         bool
	Fit            threshold.Options
	Note           string
}

// RunMeta describes how a run was produced.
type RunMeta struct {
	Metric    string
	Mode      string
	Order     int
	MinLength int
	Step      int
	Fit       threshold.Options
	Note      string
}

// SampleRow is a stored distance sample. Ordinal is the case position in the run.
type SampleRow struct {
	RunID    int64
	Ordinal  int
	CaseID   string
	Label    curve.Label
	Length   int
	Distance float64
}

// BucketRow is a stored length bucket summary.
type BucketRow struct {
	RunID    int64
	Length   int
	Samples  int
	Retained int
	Dropped  bool
}
