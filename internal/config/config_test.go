package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"jsdbase/internal/distance"
	"jsdbase/internal/ngram"
	"jsdbase/internal/textnorm"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Sampling.MinLength != 100 || cfg.Sampling.Step != 100 || cfg.Sampling.Order != 3 {
		t.Errorf("unexpected sampling defaults: %+v", cfg.Sampling)
	}
	if cfg.Sampling.Mode != "byte" || cfg.Sampling.Metric != "jsd" {
		t.Errorf("unexpected mode/metric: %s/%s", cfg.Sampling.Mode, cfg.Sampling.Metric)
	}
	if cfg.Outliers.LowerQuantile != 30 || cfg.Outliers.UpperQuantile != 70 ||
		cfg.Outliers.FenceFactor != 1.5 || cfg.Outliers.MinCount != 5 {
		t.Errorf("unexpected outlier defaults: %+v", cfg.Outliers)
	}
	if cfg.Fitting.MinBucketSamples != 2 || cfg.Fitting.MinBucketLength != 2048 {
		t.Errorf("unexpected fitting defaults: %+v", cfg.Fitting)
	}
	if !reflect.DeepEqual(cfg.Fitting.Percentiles, []float64{0, 50, 70, 99}) {
		t.Errorf("unexpected percentiles: %v", cfg.Fitting.Percentiles)
	}
	if cfg.Workers.Count < 1 {
		t.Errorf("expected at least one worker, got %d", cfg.Workers.Count)
	}
	if !strings.Contains(cfg.Storage.Path, "jsdbase") {
		t.Errorf("storage path should contain jsdbase: %s", cfg.Storage.Path)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "jsdbase") {
		t.Errorf("config path should contain jsdbase: %s", path)
	}
}

func TestDataDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("JSDBASE_DATA_DIR", dir)

	if got := DataDir(); got != dir {
		t.Errorf("DataDir = %s, want %s", got, dir)
	}
	if got := DefaultConfig().Storage.Path; got != filepath.Join(dir, "runs.db") {
		t.Errorf("storage path = %s", got)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sampling.Step != 100 {
		t.Errorf("expected default step, got %d", cfg.Sampling.Step)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"config.toml", `
[corpus]
path = "/data/pan"

[sampling]
step = 50
metric = "hellinger"

[fitting]
percentiles = [50.0, 99.0]
`},
		{"config.json", `{
  "corpus": {"path": "/data/pan"},
  "sampling": {"step": 50, "metric": "hellinger"},
  "fitting": {"percentiles": [50, 99]}
}`},
		{"config.yaml", `
corpus:
  path: /data/pan
sampling:
  step: 50
  metric: hellinger
fitting:
  percentiles: [50, 99]
`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tc.name, tc.content))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Corpus.Path != "/data/pan" {
				t.Errorf("corpus path = %q", cfg.Corpus.Path)
			}
			if cfg.Sampling.Step != 50 || cfg.Sampling.Metric != "hellinger" {
				t.Errorf("sampling = %+v", cfg.Sampling)
			}
			// untouched fields keep their defaults
			if cfg.Sampling.MinLength != 100 || cfg.Fitting.MinBucketLength != 2048 {
				t.Errorf("defaults lost: %+v %+v", cfg.Sampling, cfg.Fitting)
			}
			if !reflect.DeepEqual(cfg.Fitting.Percentiles, []float64{50, 99}) {
				t.Errorf("percentiles = %v", cfg.Fitting.Percentiles)
			}
		})
	}
}

func TestLoadAutoDetect(t *testing.T) {
	cfg, err := Load(writeConfig(t, "jsdbase.conf", `{"workers": {"count": 3}}`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers.Count != 3 {
		t.Errorf("workers = %d, want 3", cfg.Workers.Count)
	}

	if _, err := Load(writeConfig(t, "broken.conf", "{{{ :: not a config")); err == nil {
		t.Error("expected error for unparseable config")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	if _, err := Load(writeConfig(t, "config.toml", "this is not valid toml {{{")); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("JSDBASE_CORPUS_PATH", "/env/corpus")
	t.Setenv("JSDBASE_STORAGE_PATH", "/env/runs.db")
	t.Setenv("JSDBASE_METRIC", "hellinger")
	t.Setenv("JSDBASE_MODE", "pos")
	t.Setenv("JSDBASE_WORKERS", "2")
	t.Setenv("JSDBASE_LOG_LEVEL", "debug")
	t.Setenv("JSDBASE_LOG_PATH", "/env/jsdbase.log")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	if cfg.Corpus.Path != "/env/corpus" || cfg.Storage.Path != "/env/runs.db" {
		t.Errorf("paths not overridden: %+v %+v", cfg.Corpus, cfg.Storage)
	}
	if cfg.Sampling.Metric != "hellinger" || cfg.Sampling.Mode != "pos" {
		t.Errorf("sampling not overridden: %+v", cfg.Sampling)
	}
	if cfg.Workers.Count != 2 {
		t.Errorf("workers = %d, want 2", cfg.Workers.Count)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.FilePath != "/env/jsdbase.log" {
		t.Errorf("logging not overridden: %+v", cfg.Logging)
	}
}

func TestEnvOverrideInvalidWorkers(t *testing.T) {
	t.Setenv("JSDBASE_WORKERS", "many")

	_, err := NewLoader(filepath.Join(t.TempDir(), "config.toml")).Load()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "workers.count") {
		t.Errorf("error should name workers.count: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"version", func(c *Config) { c.Version = 99 }, "version"},
		{"min length", func(c *Config) { c.Sampling.MinLength = 0 }, "sampling.min_length"},
		{"step", func(c *Config) { c.Sampling.Step = -1 }, "sampling.step"},
		{"order", func(c *Config) { c.Sampling.Order = 0 }, "sampling.order"},
		{"mode", func(c *Config) { c.Sampling.Mode = "chars" }, "sampling.mode"},
		{"metric", func(c *Config) { c.Sampling.Metric = "cosine" }, "sampling.metric"},
		{"quantile range", func(c *Config) { c.Outliers.UpperQuantile = 120 }, "outliers.upper_quantile"},
		{"quantile order", func(c *Config) { c.Outliers.LowerQuantile = 80 }, "outliers.upper_quantile"},
		{"fence", func(c *Config) { c.Outliers.FenceFactor = -1 }, "outliers.fence_factor"},
		{"min count", func(c *Config) { c.Outliers.MinCount = 0 }, "outliers.min_count"},
		{"bucket samples", func(c *Config) { c.Fitting.MinBucketSamples = 0 }, "fitting.min_bucket_samples"},
		{"no percentiles", func(c *Config) { c.Fitting.Percentiles = nil }, "fitting.percentiles"},
		{"percentile range", func(c *Config) { c.Fitting.Percentiles = []float64{50, 101} }, "fitting.percentiles[1]"},
		{"duplicate percentile", func(c *Config) { c.Fitting.Percentiles = []float64{50, 50} }, "fitting.percentiles[1]"},
		{"unicode form", func(c *Config) { c.Normalization.UnicodeForm = "nfx" }, "normalization.unicode_form"},
		{"workers", func(c *Config) { c.Workers.Count = 0 }, "workers.count"},
		{"storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"report format", func(c *Config) { c.Report.Format = "xml" }, "report.format"},
		{"plot points", func(c *Config) { c.Report.PlotPoints = -1 }, "report.plot_points"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"log output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
		{"log file", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)

			err := cfg.Validate()
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			found := false
			for _, e := range verrs.Errors() {
				if e.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for %s in %v", tc.field, verrs)
			}
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fitting.MinBucketLength = 50
	cfg.Report.Path = "report.txt"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("warnings must not fail validation: %v", err)
	}

	warnings := CheckConfig(cfg).Warnings()
	fields := make(map[string]bool)
	for _, w := range warnings {
		fields[w.Field] = true
		if !strings.Contains(w.Error(), "warning") {
			t.Errorf("warning text should say so: %s", w.Error())
		}
	}
	for _, f := range []string{"corpus.path", "fitting.min_bucket_length", "report.validate"} {
		if !fields[f] {
			t.Errorf("missing warning for %s in %v", f, warnings)
		}
	}
}

func TestPipelineOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sampling.Mode = "pos"
	cfg.Sampling.Metric = "hellinger"
	cfg.Sampling.Order = 2
	cfg.Normalization.UnicodeForm = "NFKC"
	cfg.Workers.Count = 3
	cfg.Fitting.Percentiles = []float64{99}

	opts, err := cfg.PipelineOptions()
	if err != nil {
		t.Fatalf("PipelineOptions failed: %v", err)
	}
	if opts.Mode != ngram.ModePOS || opts.Metric != distance.MetricHellinger || opts.Order != 2 {
		t.Errorf("unexpected options: mode=%s metric=%s order=%d", opts.Mode, opts.Metric, opts.Order)
	}
	if _, ok := opts.Tagger.(ngram.ShapeTagger); !ok {
		t.Errorf("POS mode should use the shape tagger, got %T", opts.Tagger)
	}
	if opts.Normalizer.Form != textnorm.FormNFKC {
		t.Errorf("form = %q", opts.Normalizer.Form)
	}
	if opts.Workers != 3 || opts.Sampling.MinLength != 100 || opts.Sampling.Step != 100 {
		t.Errorf("unexpected schedule/workers: %+v %d", opts.Sampling, opts.Workers)
	}
	if opts.Fit.Filter.FenceFactor != 1.5 || opts.Fit.MinBucketLength != 2048 ||
		!reflect.DeepEqual(opts.Fit.Percentiles, []float64{99}) {
		t.Errorf("unexpected fit options: %+v", opts.Fit)
	}
	if err := opts.Fit.Validate(); err != nil {
		t.Errorf("fit options should be valid: %v", err)
	}

	cfg.Sampling.Metric = "cosine"
	if _, err := cfg.PipelineOptions(); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, name := range []string{"config.toml", "config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			cfg := DefaultConfig()
			cfg.Corpus.Path = "/data/pan"
			cfg.Sampling.Order = 4
			cfg.Fitting.Percentiles = []float64{25, 75}
			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Corpus.Path != "/data/pan" || loaded.Sampling.Order != 4 {
				t.Errorf("round trip lost values: %+v %+v", loaded.Corpus, loaded.Sampling)
			}
			if !reflect.DeepEqual(loaded.Fitting.Percentiles, []float64{25, 75}) {
				t.Errorf("percentiles = %v", loaded.Fitting.Percentiles)
			}
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	_, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected config to be created")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	_, created, err = LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if created {
		t.Error("existing config should not be recreated")
	}
}

func TestMerge(t *testing.T) {
	dst := DefaultConfig()
	src := &Config{
		Corpus:   CorpusConfig{Path: "/merged"},
		Sampling: SamplingConfig{Step: 25},
		Fitting:  FittingConfig{Percentiles: []float64{90}},
		Logging:  LoggingConfig{Level: "debug"},
	}

	merged := Merge(dst, src)
	if merged.Corpus.Path != "/merged" || merged.Sampling.Step != 25 || merged.Logging.Level != "debug" {
		t.Errorf("merge did not apply overrides: %+v", merged)
	}
	if merged.Sampling.MinLength != 100 || merged.Sampling.Metric != "jsd" {
		t.Errorf("merge lost defaults: %+v", merged.Sampling)
	}
	if !reflect.DeepEqual(merged.Fitting.Percentiles, []float64{90}) {
		t.Errorf("percentiles = %v", merged.Fitting.Percentiles)
	}
	if dst.Sampling.Step != 100 {
		t.Error("merge modified dst")
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Fitting.Percentiles[0] = 42
	clone.Sampling.Step = 7

	if cfg.Fitting.Percentiles[0] != 0 || cfg.Sampling.Step != 100 {
		t.Error("clone shares state with the original")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "db", "runs.db")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(dir, "logs", "jsdbase.log")
	cfg.Report.Path = filepath.Join(dir, "reports", "report.json")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, sub := range []string{"db", "logs", "reports"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created: %v", sub, err)
		}
	}
}

func TestLoaderWatch(t *testing.T) {
	path := writeConfig(t, "config.toml", "[sampling]\nstep = 100\n")

	loader := NewLoader(path)
	loader.Debounce = 10 * time.Millisecond
	defer loader.Close()

	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan int, 1)
	loader.OnChange(func(old, new *Config) {
		// a truncated file can reload as defaults before the write lands
		if new.Sampling.Step != old.Sampling.Step {
			select {
			case changed <- new.Sampling.Step:
			default:
			}
		}
	})
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("[sampling]\nstep = 200\n"), 0600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case step := <-changed:
		if step != 200 {
			t.Errorf("reloaded step = %d, want 200", step)
		}
		if loader.Config().Sampling.Step != 200 {
			t.Errorf("loader config not updated")
		}
	case err := <-loader.Errors():
		t.Fatalf("watch error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestLoaderKeepsConfigOnInvalidReload(t *testing.T) {
	path := writeConfig(t, "config.toml", "[sampling]\nstep = 100\n")

	loader := NewLoader(path)
	loader.Debounce = 10 * time.Millisecond
	defer loader.Close()

	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("[sampling]\nstep = 0\n"), 0600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case err := <-loader.Errors():
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}
	if loader.Config().Sampling.Step != 100 {
		t.Errorf("invalid reload replaced the config")
	}
}
