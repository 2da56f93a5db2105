package store

import (
	"errors"
	"fmt"
	"math"

	"jsdbase/internal/threshold"
)

// ErrThresholdMismatch is returned when stored thresholds differ from a refit
// of the stored samples.
var ErrThresholdMismatch = errors.New("stored thresholds do not match samples")

// Refit recomputes the thresholds of a run from its stored samples and fit options.
func (s *Store) Refit(runID int64) (threshold.Lines, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %d not found", runID)
	}

	curves, err := s.Curves(runID)
	if err != nil {
		return nil, err
	}
	buckets := threshold.Collect(curves, run.Fit.MinBucketLength)
	return threshold.Fit(buckets, run.Fit)
}

// VerifyRun refits a run and compares every stored line within tol. A run
// without lines matches when the refit has too little data as well.
func (s *Store) VerifyRun(runID int64, tol float64) error {
	stored, err := s.Thresholds(runID)
	if err != nil {
		return err
	}
	refit, err := s.Refit(runID)
	if errors.Is(err, threshold.ErrInsufficientData) {
		// A run stored without thresholds verifies when its samples still
		// cannot support a fit.
		if len(stored) == 0 {
			return nil
		}
		return fmt.Errorf("%w: %d stored lines, refit found none: %v", ErrThresholdMismatch, len(stored), err)
	}
	if err != nil {
		return fmt.Errorf("refit run %d: %w", runID, err)
	}

	if len(stored) != len(refit) {
		return fmt.Errorf("%w: %d stored lines, %d refit", ErrThresholdMismatch, len(stored), len(refit))
	}
	for i, l := range stored {
		r := refit[i]
		if l.Percentile != r.Percentile ||
			math.Abs(l.Slope-r.Slope) > tol ||
			math.Abs(l.Intercept-r.Intercept) > tol {
			return fmt.Errorf("%w: percentile %v stored [%v, %v], refit [%v, %v]",
				ErrThresholdMismatch, l.Percentile, l.Slope, l.Intercept, r.Slope, r.Intercept)
		}
	}
	return nil
}
