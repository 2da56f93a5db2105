package config

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"

	"jsdbase/internal/distance"
	"jsdbase/internal/ngram"
	"jsdbase/internal/textnorm"
)

// ValidationError represents a configuration validation issue.
type ValidationError struct {
	Field   string
	Message string
	// Warning marks issues that do not prevent a run.
	Warning bool
}

func (e *ValidationError) Error() string {
	if e.Warning {
		return fmt.Sprintf("config: warning: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	return e.Warning
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Unwrap() error {
	if e.HasErrors() {
		return ErrInvalidConfig
	}
	return nil
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidateConfig returns every issue found when at least one is an error,
// and nil when the configuration is usable.
func ValidateConfig(c *Config) error {
	errs := CheckConfig(c)
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// CheckConfig collects all errors and warnings in the configuration.
func CheckConfig(c *Config) ValidationErrors {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	if c.Corpus.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "corpus.path",
			Message: "no corpus configured; one must be given on the command line",
			Warning: true,
		})
	}

	errs = append(errs, validateSampling(&c.Sampling)...)
	errs = append(errs, validateOutliers(&c.Outliers)...)
	errs = append(errs, validateFitting(&c.Fitting, &c.Sampling)...)

	if _, err := textnorm.ParseForm(c.Normalization.UnicodeForm); err != nil {
		errs = append(errs, ValidationError{Field: "normalization.unicode_form", Message: err.Error()})
	}

	errs = append(errs, validateWorkers(&c.Workers)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateReport(&c.Report)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	return errs
}

func validateSampling(s *SamplingConfig) ValidationErrors {
	var errs ValidationErrors

	if s.MinLength < 1 {
		errs = append(errs, *RangeError("sampling.min_length", 1, "unbounded"))
	}
	if s.Step < 1 {
		errs = append(errs, *RangeError("sampling.step", 1, "unbounded"))
	}
	if s.Order < 1 {
		errs = append(errs, *RangeError("sampling.order", 1, "unbounded"))
	}
	if _, err := ngram.ParseMode(s.Mode); err != nil {
		errs = append(errs, ValidationError{Field: "sampling.mode", Message: err.Error()})
	}
	if _, err := distance.ParseMetric(s.Metric); err != nil {
		errs = append(errs, ValidationError{Field: "sampling.metric", Message: err.Error()})
	}

	return errs
}

func validateOutliers(o *OutliersConfig) ValidationErrors {
	var errs ValidationErrors

	if o.LowerQuantile < 0 || o.LowerQuantile > 100 {
		errs = append(errs, *RangeError("outliers.lower_quantile", 0, 100))
	}
	if o.UpperQuantile < 0 || o.UpperQuantile > 100 {
		errs = append(errs, *RangeError("outliers.upper_quantile", 0, 100))
	}
	if o.LowerQuantile >= o.UpperQuantile {
		errs = append(errs, ValidationError{
			Field:   "outliers.upper_quantile",
			Message: fmt.Sprintf("must be above lower_quantile (%v)", o.LowerQuantile),
		})
	}
	if o.FenceFactor < 0 {
		errs = append(errs, ValidationError{
			Field:   "outliers.fence_factor",
			Message: "fence factor cannot be negative",
		})
	}
	if o.MinCount < 1 {
		errs = append(errs, *RangeError("outliers.min_count", 1, "unbounded"))
	}

	return errs
}

func validateFitting(f *FittingConfig, s *SamplingConfig) ValidationErrors {
	var errs ValidationErrors

	if f.MinBucketSamples < 1 {
		errs = append(errs, *RangeError("fitting.min_bucket_samples", 1, "unbounded"))
	}
	if f.MinBucketLength < 1 {
		errs = append(errs, *RangeError("fitting.min_bucket_length", 1, "unbounded"))
	} else if s.MinLength > 0 && f.MinBucketLength < s.MinLength {
		errs = append(errs, ValidationError{
			Field:   "fitting.min_bucket_length",
			Message: fmt.Sprintf("below sampling.min_length (%d); every sampled length is fitted", s.MinLength),
			Warning: true,
		})
	}

	if len(f.Percentiles) == 0 {
		errs = append(errs, *RequiredFieldError("fitting.percentiles"))
	}
	for i, p := range f.Percentiles {
		if p < 0 || p > 100 {
			errs = append(errs, *RangeError(fmt.Sprintf("fitting.percentiles[%d]", i), 0, 100))
		}
		if slices.Index(f.Percentiles, p) != i {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("fitting.percentiles[%d]", i),
				Message: fmt.Sprintf("duplicate percentile %v", p),
			})
		}
	}

	return errs
}

func validateWorkers(w *WorkersConfig) ValidationErrors {
	var errs ValidationErrors

	if w.Count < 1 {
		errs = append(errs, *RangeError("workers.count", 1, "unbounded"))
	} else if w.Count > 4*runtime.NumCPU() {
		errs = append(errs, ValidationError{
			Field:   "workers.count",
			Message: fmt.Sprintf("%d workers on %d CPUs", w.Count, runtime.NumCPU()),
			Warning: true,
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Enabled && s.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: "database path is required when storage is enabled",
		})
	}

	return errs
}

func validateReport(r *ReportConfig) ValidationErrors {
	var errs ValidationErrors

	format := strings.ToLower(r.Format)
	switch format {
	case "", "text", "txt", "json", "yaml", "yml":
	default:
		errs = append(errs, ValidationError{
			Field:   "report.format",
			Message: fmt.Sprintf("invalid report format: %s (valid: text, json, yaml)", r.Format),
		})
	}

	if r.PlotPoints < 0 {
		errs = append(errs, ValidationError{
			Field:   "report.plot_points",
			Message: "plot points cannot be negative",
		})
	}

	if r.Validate && r.Path != "" && format != "json" {
		errs = append(errs, ValidationError{
			Field:   "report.validate",
			Message: "schema validation only applies to json reports",
			Warning: true,
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
