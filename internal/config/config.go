// Package config handles configuration loading, validation, and management for jsdbase.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"jsdbase/internal/curve"
	"jsdbase/internal/distance"
	"jsdbase/internal/ngram"
	"jsdbase/internal/pipeline"
	"jsdbase/internal/textnorm"
	"jsdbase/internal/threshold"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete run configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Corpus locates the input corpus.
	Corpus CorpusConfig `toml:"corpus" json:"corpus" yaml:"corpus"`

	// Sampling controls the prefix schedule and the distance measured at each length.
	Sampling SamplingConfig `toml:"sampling" json:"sampling" yaml:"sampling"`

	// Outliers configures the Tukey fence filter applied to each length bucket.
	Outliers OutliersConfig `toml:"outliers" json:"outliers" yaml:"outliers"`

	// Fitting configures bucket admission and the percentile lines.
	Fitting FittingConfig `toml:"fitting" json:"fitting" yaml:"fitting"`

	// Normalization configures text canonicalization.
	Normalization NormalizationConfig `toml:"normalization" json:"normalization" yaml:"normalization"`

	// Workers bounds concurrent case sampling.
	Workers WorkersConfig `toml:"workers" json:"workers" yaml:"workers"`

	// Storage configures the run database.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Report configures the run report.
	Report ReportConfig `toml:"report" json:"report" yaml:"report"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// CorpusConfig holds the corpus location.
type CorpusConfig struct {
	// Path is the corpus root holding truth.txt and one directory per case.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// SamplingConfig holds curve sampling configuration.
type SamplingConfig struct {
	// MinLength is the first prefix length, in characters.
	MinLength int `toml:"min_length" json:"min_length" yaml:"min_length"`

	// Step is the distance between consecutive prefix lengths.
	Step int `toml:"step" json:"step" yaml:"step"`

	// Order is the n-gram order.
	Order int `toml:"order" json:"order" yaml:"order"`

	// Mode is the n-gram unit: "byte" or "pos".
	Mode string `toml:"mode" json:"mode" yaml:"mode"`

	// Metric is the distance: "jsd" or "hellinger".
	Metric string `toml:"metric" json:"metric" yaml:"metric"`
}

// OutliersConfig holds outlier filter configuration.
type OutliersConfig struct {
	// LowerQuantile and UpperQuantile are the percentiles bounding the spread, 0 to 100.
	LowerQuantile float64 `toml:"lower_quantile" json:"lower_quantile" yaml:"lower_quantile"`
	UpperQuantile float64 `toml:"upper_quantile" json:"upper_quantile" yaml:"upper_quantile"`

	// FenceFactor scales the spread to place the fences.
	FenceFactor float64 `toml:"fence_factor" json:"fence_factor" yaml:"fence_factor"`

	// MinCount is the bucket size from which filtering applies.
	MinCount int `toml:"min_count" json:"min_count" yaml:"min_count"`
}

// FittingConfig holds threshold fitting configuration.
type FittingConfig struct {
	// MinBucketSamples is the number of values a bucket must keep after filtering.
	MinBucketSamples int `toml:"min_bucket_samples" json:"min_bucket_samples" yaml:"min_bucket_samples"`

	// MinBucketLength is the shortest prefix length used for fitting.
	MinBucketLength int `toml:"min_bucket_length" json:"min_bucket_length" yaml:"min_bucket_length"`

	// Percentiles are the levels fitted, 0 to 100.
	Percentiles []float64 `toml:"percentiles" json:"percentiles" yaml:"percentiles"`
}

// NormalizationConfig holds text normalization configuration.
type NormalizationConfig struct {
	// UnicodeForm is an optional Unicode normalization form: "", "nfc", "nfkc", "nfd" or "nfkd".
	UnicodeForm string `toml:"unicode_form" json:"unicode_form" yaml:"unicode_form"`
}

// WorkersConfig holds concurrency configuration.
type WorkersConfig struct {
	// Count is the number of cases sampled concurrently.
	Count int `toml:"count" json:"count" yaml:"count"`
}

// StorageConfig holds run database configuration.
type StorageConfig struct {
	// Enabled determines whether runs are persisted.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Note is stored alongside every run.
	Note string `toml:"note" json:"note" yaml:"note"`
}

// ReportConfig holds report configuration.
type ReportConfig struct {
	// Format is "text", "json" or "yaml".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Path is the report file. Empty writes nothing.
	Path string `toml:"path" json:"path" yaml:"path"`

	// IncludeCurves adds every measured curve to the report.
	IncludeCurves bool `toml:"include_curves" json:"include_curves" yaml:"include_curves"`

	// PlotPoints is the number of lengths each threshold is evaluated at.
	PlotPoints int `toml:"plot_points" json:"plot_points" yaml:"plot_points"`

	// Validate checks JSON reports against the report schema before writing.
	Validate bool `toml:"validate" json:"validate" yaml:"validate"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file" or "both").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with the baseline study defaults.
func DefaultConfig() *Config {
	dir := DataDir()
	fit := threshold.DefaultOptions()

	return &Config{
		Version: Version,
		Sampling: SamplingConfig{
			MinLength: curve.DefaultMinLength,
			Step:      curve.DefaultStep,
			Order:     ngram.DefaultOrder,
			Mode:      string(ngram.ModeByte),
			Metric:    string(distance.MetricJensenShannon),
		},
		Outliers: OutliersConfig{
			LowerQuantile: fit.Filter.LowerQuantile,
			UpperQuantile: fit.Filter.UpperQuantile,
			FenceFactor:   fit.Filter.FenceFactor,
			MinCount:      fit.Filter.MinCount,
		},
		Fitting: FittingConfig{
			MinBucketSamples: fit.MinBucketSamples,
			MinBucketLength:  fit.MinBucketLength,
			Percentiles:      slices.Clone(fit.Percentiles),
		},
		Workers: WorkersConfig{
			Count: runtime.NumCPU(),
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "runs.db"),
		},
		Report: ReportConfig{
			Format:     "text",
			PlotPoints: 3,
			Validate:   true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "jsdbase.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the configured outputs write into.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Storage.Enabled {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	if c.Report.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Report.Path))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DataDir returns the base jsdbase data directory.
// Uses platform-specific paths or the JSDBASE_DATA_DIR environment override.
func DataDir() string {
	if envDir := os.Getenv("JSDBASE_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with JSDBASE_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("JSDBASE_CORPUS_PATH"); v != "" {
		c.Corpus.Path = v
	}

	// Storage overrides
	if v := os.Getenv("JSDBASE_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}

	// Sampling overrides
	if v := os.Getenv("JSDBASE_METRIC"); v != "" {
		c.Sampling.Metric = v
	}
	if v := os.Getenv("JSDBASE_MODE"); v != "" {
		c.Sampling.Mode = v
	}

	// Worker overrides; unparseable values are left for validation to report.
	if v := os.Getenv("JSDBASE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers.Count = n
		} else {
			c.Workers.Count = -1
		}
	}

	// Logging overrides
	if v := os.Getenv("JSDBASE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("JSDBASE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:       c.Version,
		Corpus:        c.Corpus,
		Sampling:      c.Sampling,
		Outliers:      c.Outliers,
		Fitting:       c.Fitting,
		Normalization: c.Normalization,
		Workers:       c.Workers,
		Storage:       c.Storage,
		Report:        c.Report,
		Logging:       c.Logging,
	}
	clone.Fitting.Percentiles = slices.Clone(c.Fitting.Percentiles)

	return clone
}

// SamplerOptions returns the prefix schedule.
func (c *Config) SamplerOptions() curve.Options {
	return curve.Options{
		MinLength: c.Sampling.MinLength,
		Step:      c.Sampling.Step,
	}
}

// FitOptions returns the outlier filter and fitting parameters.
func (c *Config) FitOptions() threshold.Options {
	return threshold.Options{
		Filter: threshold.FilterOptions{
			LowerQuantile: c.Outliers.LowerQuantile,
			UpperQuantile: c.Outliers.UpperQuantile,
			FenceFactor:   c.Outliers.FenceFactor,
			MinCount:      c.Outliers.MinCount,
		},
		MinBucketSamples: c.Fitting.MinBucketSamples,
		MinBucketLength:  c.Fitting.MinBucketLength,
		Percentiles:      slices.Clone(c.Fitting.Percentiles),
	}
}

// PipelineOptions translates the configuration into pipeline options. POS mode
// tags words by their shape.
func (c *Config) PipelineOptions() (pipeline.Options, error) {
	mode, err := ngram.ParseMode(c.Sampling.Mode)
	if err != nil {
		return pipeline.Options{}, err
	}
	metric, err := distance.ParseMetric(c.Sampling.Metric)
	if err != nil {
		return pipeline.Options{}, err
	}
	form, err := textnorm.ParseForm(c.Normalization.UnicodeForm)
	if err != nil {
		return pipeline.Options{}, err
	}

	opts := pipeline.DefaultOptions()
	opts.Sampling = c.SamplerOptions()
	opts.Order = c.Sampling.Order
	opts.Mode = mode
	opts.Metric = metric
	opts.Normalizer = textnorm.Normalizer{Form: form}
	opts.Fit = c.FitOptions()
	opts.Workers = c.Workers.Count
	if mode == ngram.ModePOS {
		opts.Tagger = ngram.ShapeTagger{}
	}
	return opts, nil
}

// SaveConfig writes the configuration to path, encoded by its extension.
func SaveConfig(cfg *Config, path string) error {
	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
