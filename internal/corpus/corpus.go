// Package corpus loads authorship-verification corpora laid out as a
// truth.txt file plus one directory per case.
//
// Layout:
//
//	<root>/truth.txt          one "<case> <Y|N>" line per case
//	<root>/<case>/known*.txt  one or more known texts, read in name order
//	<root>/<case>/unknown.txt the questioned text
package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"jsdbase/internal/curve"
	"jsdbase/internal/pipeline"
)

// File names within a corpus.
const (
	TruthFile    = "truth.txt"
	UnknownFile  = "unknown.txt"
	KnownPattern = "known*.txt"
)

var (
	ErrMissingTruth   = errors.New("corpus has no truth file")
	ErrMissingUnknown = errors.New("case has no unknown text")
	ErrMissingKnown   = errors.New("case has no known text")
)

// Entry is one line of the truth file.
type Entry struct {
	CaseID string
	Label  curve.Label
}

// CaseError records a case that could not be loaded.
type CaseError struct {
	CaseID string
	Err    error
}

func (e *CaseError) Error() string {
	return fmt.Sprintf("case %s: %v", e.CaseID, e.Err)
}

func (e *CaseError) Unwrap() error {
	return e.Err
}

// Loader reads a corpus from a filesystem.
type Loader struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
}

// NewLoader creates a Loader rooted at root on fs. A nil fs means the OS filesystem.
func NewLoader(fs afero.Fs, root string) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Loader{fs: fs, root: root, logger: slog.Default()}
}

// WithLogger sets the logger used for skipped cases.
func (l *Loader) WithLogger(logger *slog.Logger) *Loader {
	l.logger = logger
	return l
}

// Truth parses the truth file. Blank lines are ignored; malformed lines are errors.
func (l *Loader) Truth() ([]Entry, error) {
	f, err := l.fs.Open(filepath.Join(l.root, TruthFile))
	if err != nil {
		if errors.Is(err, afero.ErrFileNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMissingTruth, l.root)
		}
		return nil, fmt.Errorf("open truth file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("truth file line %d: expected \"<case> <Y|N>\", got %q", line, scanner.Text())
		}
		label, err := curve.ParseLabel(fields[1])
		if err != nil {
			return nil, fmt.Errorf("truth file line %d: %w", line, err)
		}
		entries = append(entries, Entry{CaseID: fields[0], Label: label})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read truth file: %w", err)
	}
	return entries, nil
}

// LoadCase reads the texts of one case.
func (l *Loader) LoadCase(e Entry) (pipeline.Case, error) {
	dir := filepath.Join(l.root, e.CaseID)

	names, err := afero.Glob(l.fs, filepath.Join(dir, KnownPattern))
	if err != nil {
		return pipeline.Case{}, fmt.Errorf("glob known texts: %w", err)
	}
	if len(names) == 0 {
		return pipeline.Case{}, ErrMissingKnown
	}
	sort.Strings(names)

	c := pipeline.Case{ID: e.CaseID, Label: e.Label}
	for _, name := range names {
		data, err := afero.ReadFile(l.fs, name)
		if err != nil {
			return pipeline.Case{}, fmt.Errorf("read %s: %w", filepath.Base(name), err)
		}
		c.Known = append(c.Known, string(data))
	}

	data, err := afero.ReadFile(l.fs, filepath.Join(dir, UnknownFile))
	if err != nil {
		if errors.Is(err, afero.ErrFileNotFound) {
			return pipeline.Case{}, ErrMissingUnknown
		}
		return pipeline.Case{}, fmt.Errorf("read unknown text: %w", err)
	}
	c.Unknown = string(data)
	return c, nil
}

// Load reads every case named in the truth file, in truth-file order. Cases
// that cannot be read are skipped and reported in the returned CaseErrors; a
// missing or malformed truth file is a hard error.
func (l *Loader) Load() ([]pipeline.Case, []*CaseError, error) {
	entries, err := l.Truth()
	if err != nil {
		return nil, nil, err
	}

	cases := make([]pipeline.Case, 0, len(entries))
	var skipped []*CaseError
	for _, e := range entries {
		c, err := l.LoadCase(e)
		if err != nil {
			ce := &CaseError{CaseID: e.CaseID, Err: err}
			skipped = append(skipped, ce)
			l.logger.Warn("case skipped", "case", e.CaseID, "error", err)
			continue
		}
		cases = append(cases, c)
	}
	return cases, skipped, nil
}
