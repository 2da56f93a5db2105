package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"jsdbase/internal/curve"
	"jsdbase/internal/pipeline"
	"jsdbase/internal/threshold"
)

// Store represents the SQLite run store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveRun stores a pipeline result with its samples, bucket summaries and
// fitted thresholds in one transaction, and returns the run ID.
func (s *Store) SaveRun(res *pipeline.Result, meta RunMeta) (int64, error) {
	fitJSON, err := json.Marshal(meta.Fit)
	if err != nil {
		return 0, fmt.Errorf("encode fit options: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO runs (created_at, corpus_digest, metric, mode, ngram_order, min_length, step,
			cases, samples, skipped_samples, max_length, fitted, fit_options, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UnixNano(), res.Digest, meta.Metric, meta.Mode, meta.Order, meta.MinLength, meta.Step,
		len(res.Curves), res.Samples, res.SkippedSamples, res.MaxLength, len(res.Lines) > 0, string(fitJSON), meta.Note,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	if err := insertSamples(tx, runID, res.Curves); err != nil {
		return 0, err
	}

	bucketStmt, err := tx.Prepare(`
		INSERT INTO buckets (run_id, length, samples, retained, dropped) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare statement: %w", err)
	}
	defer bucketStmt.Close()
	for _, p := range res.Points {
		if _, err := bucketStmt.Exec(runID, p.Length, p.Samples, p.Retained, p.Dropped); err != nil {
			return 0, fmt.Errorf("insert bucket: %w", err)
		}
	}

	for i, l := range res.Lines {
		if _, err := tx.Exec(`
			INSERT INTO thresholds (run_id, percentile, position, slope, intercept) VALUES (?, ?, ?, ?, ?)`,
			runID, l.Percentile, i, l.Slope, l.Intercept,
		); err != nil {
			return 0, fmt.Errorf("insert threshold: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return runID, nil
}

func insertSamples(tx *sql.Tx, runID int64, curves []curve.Curve) error {
	stmt, err := tx.Prepare(`
		INSERT INTO samples (run_id, ordinal, case_id, label, length, distance) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for ordinal, c := range curves {
		for _, smp := range c.Samples() {
			if _, err := stmt.Exec(runID, ordinal, smp.CaseID, string(smp.Label), smp.Length, smp.Distance); err != nil {
				return fmt.Errorf("insert sample: %w", err)
			}
		}
	}
	return nil
}

const runColumns = `id, created_at, corpus_digest, metric, mode, ngram_order, min_length, step,
	cases, samples, skipped_samples, max_length, fitted, fit_options, note`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var createdAt int64
	var fitJSON string
	var note sql.NullString

	if err := row.Scan(&r.ID, &createdAt, &r.CorpusDigest, &r.Metric, &r.Mode, &r.Order, &r.MinLength, &r.Step,
		&r.Cases, &r.Samples, &r.SkippedSamples, &r.MaxLength, &r.Fitted, &fitJSON, &note); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fitJSON), &r.Fit); err != nil {
		return nil, fmt.Errorf("decode fit options of run %d: %w", r.ID, err)
	}
	r.CreatedAt = time.Unix(0, createdAt)
	r.Note = note.String
	return &r, nil
}

// GetRun retrieves a run by ID. It returns nil, nil when the run does not exist.
func (s *Store) GetRun(id int64) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// LatestRunForDigest returns the newest run over a corpus, or nil, nil.
func (s *Store) LatestRunForDigest(digest string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs
		WHERE corpus_digest = ? ORDER BY created_at DESC, id DESC LIMIT 1`, digest))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest run: %w", err)
	}
	return r, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and everything stored for it.
func (s *Store) DeleteRun(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// Samples returns the samples of a run ordered by case position and length.
func (s *Store) Samples(runID int64) ([]SampleRow, error) {
	rows, err := s.db.Query(`
		SELECT run_id, ordinal, case_id, label, length, distance
		FROM samples WHERE run_id = ? ORDER BY ordinal, length`, runID)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []SampleRow
	for rows.Next() {
		var smp SampleRow
		var label string
		if err := rows.Scan(&smp.RunID, &smp.Ordinal, &smp.CaseID, &label, &smp.Length, &smp.Distance); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		smp.Label = curve.Label(label)
		samples = append(samples, smp)
	}
	return samples, rows.Err()
}

// Buckets returns the bucket summaries of a run ordered by length.
func (s *Store) Buckets(runID int64) ([]BucketRow, error) {
	rows, err := s.db.Query(`
		SELECT run_id, length, samples, retained, dropped
		FROM buckets WHERE run_id = ? ORDER BY length`, runID)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	var buckets []BucketRow
	for rows.Next() {
		var b BucketRow
		if err := rows.Scan(&b.RunID, &b.Length, &b.Samples, &b.Retained, &b.Dropped); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// Thresholds returns the fitted lines of a run in their original order.
func (s *Store) Thresholds(runID int64) (threshold.Lines, error) {
	rows, err := s.db.Query(`
		SELECT percentile, slope, intercept
		FROM thresholds WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query thresholds: %w", err)
	}
	defer rows.Close()

	var lines threshold.Lines
	for rows.Next() {
		var l threshold.Line
		if err := rows.Scan(&l.Percentile, &l.Slope, &l.Intercept); err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Curves rebuilds the measured curves of a run from its samples.
func (s *Store) Curves(runID int64) ([]curve.Curve, error) {
	samples, err := s.Samples(runID)
	if err != nil {
		return nil, err
	}

	var curves []curve.Curve
	last := -1
	for _, smp := range samples {
		if smp.Ordinal != last {
			curves = append(curves, curve.Curve{CaseID: smp.CaseID, Label: smp.Label})
			last = smp.Ordinal
		}
		c := &curves[len(curves)-1]
		c.Outcomes = append(c.Outcomes, curve.Outcome{Length: smp.Length, Distance: smp.Distance})
	}
	return curves, nil
}
