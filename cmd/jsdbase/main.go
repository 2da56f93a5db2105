// Command jsdbase measures how Jensen-Shannon distance between a known and an
// unknown text shrinks as both grow, over a corpus of authorship cases, and
// fits percentile threshold lines to the different-author distances.
//
// Usage:
//
//	jsdbase [flags] <corpus-dir>
//
// The corpus directory holds truth.txt, with one "<case> <Y|N>" line per case,
// and one directory per case containing known*.txt and unknown.txt.
//
// Examples:
//
//	# Fit thresholds with the default settings
//	jsdbase ./pan14-en
//
//	# POS trigrams, Hellinger distance, JSON report
//	jsdbase -mode pos -metric hellinger -report report.json -format json ./pan14-en
//
//	# Re-check a stored run against its samples
//	jsdbase -verify 12
//
//	# Refit whenever config.toml changes, until interrupted
//	jsdbase -config config.toml -watch ./pan14-en
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"jsdbase/internal/config"
	"jsdbase/internal/corpus"
	"jsdbase/internal/logging"
	"jsdbase/internal/metrics"
	"jsdbase/internal/pipeline"
	"jsdbase/internal/report"
	"jsdbase/internal/store"
	"jsdbase/internal/threshold"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitNoResult = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath    string
	initConfig    bool
	watch         bool
	noStore       bool
	reportPath    string
	format        string
	curves        bool
	metricsPath   string
	metricsFormat string
	listRuns      bool
	verifyRun     int64
	showVersion   bool

	// overrides holds the settings given as flags; zero fields are unset.
	overrides *config.Config
	storeSet  bool
	curvesSet bool
}

// apply layers the flag settings over a loaded configuration.
func (o options) apply(cfg *config.Config) *config.Config {
	out := config.Merge(cfg, o.overrides)
	if o.storeSet {
		out.Storage.Enabled = !o.noStore
	}
	if o.curvesSet {
		out.Report.IncludeCurves = o.curves
	}
	return out
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("jsdbase", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := options{overrides: &config.Config{}}
	var dbPath string
	fs.StringVar(&opts.configPath, "config", "", "config file (default: search ./config.*, then the platform config dir)")
	fs.BoolVar(&opts.initConfig, "init-config", false, "write a default config file if none exists, then exit")
	fs.BoolVar(&opts.watch, "watch", false, "refit whenever the config file changes, until interrupted")
	fs.BoolVar(&opts.noStore, "no-store", false, "do not persist the run")
	fs.StringVar(&dbPath, "db", "", "run database (overrides storage.path)")
	fs.StringVar(&opts.reportPath, "report", "", "write a report to this file (overrides report.path)")
	fs.StringVar(&opts.format, "format", "", "report format: text, json, yaml (overrides report.format)")
	fs.BoolVar(&opts.curves, "curves", false, "include every measured curve in the report")
	fs.StringVar(&opts.metricsPath, "metrics", "", "write metrics to this file, or - for stdout")
	fs.StringVar(&opts.metricsFormat, "metrics-format", "prometheus", "metrics format: prometheus or json")
	fs.BoolVar(&opts.listRuns, "list", false, "list stored runs and exit")
	fs.Int64Var(&opts.verifyRun, "verify", 0, "refit a stored run and compare its thresholds, then exit")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	minLength := fs.Int("min-length", 0, "first prefix length in characters (overrides sampling.min_length)")
	step := fs.Int("step", 0, "prefix length step (overrides sampling.step)")
	order := fs.Int("order", 0, "n-gram order (overrides sampling.order)")
	mode := fs.String("mode", "", "n-gram unit: byte or pos (overrides sampling.mode)")
	metric := fs.String("metric", "", "distance: jsd or hellinger (overrides sampling.metric)")
	workers := fs.Int("workers", 0, "cases sampled concurrently (overrides workers.count)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error (overrides logging.level)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "jsdbase - Fit obfuscation baseline thresholds for text distance\n\n")
		fmt.Fprintf(stderr, "Usage: jsdbase [flags] <corpus-dir>\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nEnvironment:\n")
		fmt.Fprintf(stderr, "  JSDBASE_DATA_DIR, JSDBASE_CORPUS_PATH, JSDBASE_STORAGE_PATH, JSDBASE_METRIC,\n")
		fmt.Fprintf(stderr, "  JSDBASE_MODE, JSDBASE_WORKERS, JSDBASE_LOG_LEVEL, JSDBASE_LOG_PATH\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "jsdbase %s (commit: %s, built: %s)\n", version, commit, buildTime)
		return exitOK
	}

	if opts.configPath == "" {
		opts.configPath = config.FindConfigFile()
	}
	if opts.configPath == "" {
		opts.configPath = config.ConfigPath()
	}

	if opts.initConfig {
		return initConfig(opts.configPath, stdout, stderr)
	}

	if _, err := metrics.ParseFormat(opts.metricsFormat); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	// Flags override the file and the environment.
	ov := opts.overrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "min-length":
			ov.Sampling.MinLength = *minLength
		case "step":
			ov.Sampling.Step = *step
		case "order":
			ov.Sampling.Order = *order
		case "mode":
			ov.Sampling.Mode = *mode
		case "metric":
			ov.Sampling.Metric = *metric
		case "workers":
			ov.Workers.Count = *workers
		case "log-level":
			ov.Logging.Level = *logLevel
		case "db":
			ov.Storage.Path = dbPath
		case "no-store":
			opts.storeSet = true
		case "report":
			ov.Report.Path = opts.reportPath
		case "format":
			ov.Report.Format = opts.format
		case "curves":
			opts.curvesSet = true
		}
	})
	if fs.NArg() > 0 {
		ov.Corpus.Path = fs.Arg(0)
	}

	loader := config.NewLoader(opts.configPath)
	fileCfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitUsage
	}
	cfg := opts.apply(fileCfg)

	issues := config.CheckConfig(cfg)
	if issues.HasErrors() {
		for _, e := range issues.Errors() {
			fmt.Fprintf(stderr, "Error: %s\n", e.Error())
		}
		return exitUsage
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error setting up logging: %v\n", err)
		return exitFailure
	}
	defer logger.Close()
	for _, w := range issues.Warnings() {
		if w.Field == "corpus.path" && (opts.listRuns || opts.verifyRun != 0) {
			continue
		}
		logger.Warn("configuration", "field", w.Field, "issue", w.Message)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Error("prepare directories", "error", err)
		return exitFailure
	}

	switch {
	case opts.listRuns:
		return listRuns(cfg, stdout, logger)
	case opts.verifyRun != 0:
		return verifyRun(cfg, opts.verifyRun, stdout, logger)
	}

	if cfg.Corpus.Path == "" {
		fmt.Fprintf(stderr, "Error: corpus directory required\n\n")
		fs.Usage()
		return exitUsage
	}

	if opts.watch {
		return watch(ctx, loader, cfg, opts, stdout, logger)
	}
	return baseline(ctx, cfg, opts, stdout, logger)
}

// initConfig writes the default configuration to path unless a file is there.
func initConfig(path string, stdout, stderr io.Writer) int {
	_, created, err := config.LoadOrCreate(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	if created {
		fmt.Fprintf(stdout, "created %s\n", path)
	} else {
		fmt.Fprintf(stdout, "config already exists at %s\n", path)
	}
	return exitOK
}

// watch runs the baseline, then again after every valid change to the config
// file, until ctx is done. Flag settings keep precedence over reloaded files.
func watch(ctx context.Context, loader *config.Loader, cfg *config.Config, opts options, stdout io.Writer, logger *logging.Logger) int {
	if _, err := os.Stat(opts.configPath); err != nil {
		logger.Error("watch needs an existing config file", "path", opts.configPath, "error", err)
		return exitUsage
	}

	changed := make(chan struct{}, 1)
	loader.OnChange(func(_, _ *config.Config) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err := loader.Watch(); err != nil {
		logger.Error("watch config", "path", opts.configPath, "error", err)
		return exitFailure
	}
	defer loader.Close()

	for {
		code := baseline(ctx, cfg, opts, stdout, logger)
		logger.Info("waiting for config changes", "path", opts.configPath, "exit_code", code)

		next, ok := nextConfig(ctx, loader, changed, opts, logger)
		if !ok {
			return exitOK
		}
		cfg = next
	}
}

// nextConfig blocks until the loader reports a usable configuration.
func nextConfig(ctx context.Context, loader *config.Loader, changed <-chan struct{}, opts options, logger *logging.Logger) (*config.Config, bool) {
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case err := <-loader.Errors():
			logger.Warn("config reload failed", "error", err)
		case <-changed:
			next := opts.apply(loader.Config())
			if issues := config.CheckConfig(next); issues.HasErrors() {
				logger.Warn("reloaded config rejected", "error", issues.Errors())
				continue
			}
			logger.Info("config reloaded", "path", opts.configPath)
			return next, true
		}
	}
}

// baseline runs the full pipeline over the configured corpus.
func baseline(ctx context.Context, cfg *config.Config, opts options, stdout io.Writer, logger *logging.Logger) int {
	pipeOpts, err := cfg.PipelineOptions()
	if err != nil {
		logger.Error("invalid settings", "error", err)
		return exitUsage
	}

	ctx = logging.ContextWithRunID(ctx, logging.NewRunID())

	registry := metrics.NewRegistry("jsdbase", "")
	pipeOpts.Metrics = metrics.NewPipelineMetrics(registry)
	pipeOpts.Logger = logger.WithComponent("pipeline").Logger

	loader := corpus.NewLoader(afero.NewOsFs(), cfg.Corpus.Path).WithLogger(logger.WithComponent("corpus").Logger)
	cases, skipped, err := loader.Load()
	if err != nil {
		logger.Error("load corpus", "path", cfg.Corpus.Path, "error", err)
		return exitFailure
	}
	for range skipped {
		pipeOpts.Metrics.RecordCaseSkipped()
	}
	logger.InfoContext(ctx, "corpus loaded", "path", cfg.Corpus.Path, "cases", len(cases), "skipped", len(skipped))

	res, runErr := pipeline.Run(ctx, cases, pipeOpts)
	if res == nil {
		logger.Error("pipeline failed", "error", runErr)
		return exitFailure
	}
	if runErr != nil {
		logger.ErrorContext(ctx, "no thresholds fitted", "error", runErr)
	}
	logger.DebugContext(ctx, "pipeline metrics", "snapshot", pipeOpts.Metrics.Snapshot())

	if err := report.WriteCoefficients(stdout, res.Lines); err != nil {
		logger.Error("print coefficients", "error", err)
		return exitFailure
	}

	var runID int64
	if cfg.Storage.Enabled {
		runID, err = saveRun(ctx, cfg, res, logger)
		if err != nil {
			logger.ErrorContext(ctx, "store run", "path", cfg.Storage.Path, "error", err)
			return exitFailure
		}
		logger.InfoContext(ctx, "run stored", "run", runID, "path", cfg.Storage.Path)
	}

	if cfg.Report.Path != "" {
		rep := report.Build(res, report.Options{
			RunID:         runID,
			Settings:      report.SettingsFrom(pipeOpts),
			IncludeCurves: cfg.Report.IncludeCurves,
			PlotPoints:    cfg.Report.PlotPoints,
		})
		if err := writeReport(cfg, rep); err != nil {
			logger.Error("write report", "path", cfg.Report.Path, "error", err)
			return exitFailure
		}
		logger.Info("report written", "path", cfg.Report.Path)
	}

	if opts.metricsPath != "" {
		if err := writeMetrics(registry, opts.metricsPath, opts.metricsFormat, stdout); err != nil {
			logger.Error("write metrics", "error", err)
			return exitFailure
		}
	}

	if errors.Is(runErr, pipeline.ErrNoDifferentAuthorData) || errors.Is(runErr, threshold.ErrInsufficientData) {
		return exitNoResult
	}
	if runErr != nil {
		return exitFailure
	}
	return exitOK
}

func newLogger(cfg *config.Config, stderr io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	lc := &logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxAge:     cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Component:  "jsdbase",
	}
	if cfg.Logging.Output == "stderr" {
		lc.Writer = stderr
	}
	return logging.New(lc)
}

func saveRun(ctx context.Context, cfg *config.Config, res *pipeline.Result, logger *logging.Logger) (int64, error) {
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	prev, err := db.LatestRunForDigest(res.Digest)
	if err != nil {
		return 0, err
	}
	if prev != nil {
		logger.InfoContext(ctx, "corpus seen before", "run", prev.ID, "created", prev.CreatedAt.Format(time.RFC3339))
	}

	return db.SaveRun(res, store.RunMeta{
		Metric:    cfg.Sampling.Metric,
		Mode:      cfg.Sampling.Mode,
		Order:     cfg.Sampling.Order,
		MinLength: cfg.Sampling.MinLength,
		Step:      cfg.Sampling.Step,
		Fit:       cfg.FitOptions(),
		Note:      cfg.Storage.Note,
	})
}

func writeReport(cfg *config.Config, rep *report.Report) error {
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, rep, format); err != nil {
		return err
	}
	if format == report.FormatJSON && cfg.Report.Validate {
		if err := report.Validate(buf.Bytes()); err != nil {
			return err
		}
	}
	return os.WriteFile(cfg.Report.Path, buf.Bytes(), 0644)
}

func writeMetrics(registry *metrics.Registry, path, name string, stdout io.Writer) error {
	format, err := metrics.ParseFormat(name)
	if err != nil {
		return err
	}
	if path == "-" {
		return registry.Write(stdout, format)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := registry.Write(f, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if _, err := os.Stat(cfg.Storage.Path); err != nil {
		return nil, fmt.Errorf("no run database at %s: %w", cfg.Storage.Path, err)
	}
	return store.Open(cfg.Storage.Path)
}

func listRuns(cfg *config.Config, stdout io.Writer, logger *logging.Logger) int {
	db, err := openStore(cfg)
	if err != nil {
		logger.Error("open store", "error", err)
		return exitFailure
	}
	defer db.Close()

	runs, err := db.ListRuns()
	if err != nil {
		logger.Error("list runs", "error", err)
		return exitFailure
	}
	for _, r := range runs {
		fitted := "unfitted"
		if r.Fitted {
			fitted = "fitted"
		}
		fmt.Fprintf(stdout, "%d\t%s\t%s/%s/%d\t%d cases\t%s\t%s\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), r.Metric, r.Mode, r.Order, r.Cases, fitted, shortDigest(r.CorpusDigest))
	}
	return exitOK
}

func verifyRun(cfg *config.Config, id int64, stdout io.Writer, logger *logging.Logger) int {
	db, err := openStore(cfg)
	if err != nil {
		logger.Error("open store", "error", err)
		return exitFailure
	}
	defer db.Close()

	if err := db.VerifyRun(id, 1e-9); err != nil {
		if errors.Is(err, store.ErrThresholdMismatch) {
			fmt.Fprintf(stdout, "run %d: MISMATCH: %v\n", id, err)
			return exitFailure
		}
		logger.Error("verify run", "run", id, "error", err)
		return exitFailure
	}
	fmt.Fprintf(stdout, "run %d: OK\n", id)
	return exitOK
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
