package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openkraft/anvil/internal/domain"
	"go.uber.org/zap"
)

// touched collects the entities a run wrote history for.
type touched map[string]domain.EntityType

// SaveRun persists a run, its results, issues, test cases and per-file
// records, then refreshes entity_statistics for every entity the run touched.
// Everything happens in one transaction.
func (s *Store) SaveRun(ctx context.Context, run domain.ValidationRun, results []domain.ValidationResult) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		seq, err := insertRun(ctx, tx, run)
		if err != nil {
			return err
		}

		entities := touched{}
		for _, r := range results {
			if err := insertResult(ctx, tx, seq, r, entities); err != nil {
				return fmt.Errorf("saving %s result: %w", r.Validator, err)
			}
		}

		ids := make([]string, 0, len(entities))
		for id := range entities {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := s.refreshEntity(ctx, tx, id, entities[id]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	s.logger.Debug("run saved", zap.String("run", run.ID), zap.Int("results", len(results)))
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, run domain.ValidationRun) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO runs
		(id, timestamp, incremental, passed, status, git_commit, git_branch, duration_ms, total_errors, total_warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, millis(run.Timestamp), boolInt(run.Incremental), boolInt(run.Passed), string(run.Status),
		run.GitCommit, run.GitBranch, durationMillis(run.Duration), run.Errors, run.Warnings)
	if err != nil {
		return 0, fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return res.LastInsertId()
}

func insertResult(ctx context.Context, tx *sql.Tx, seq int64, r domain.ValidationResult, entities touched) error {
	var metadata []byte
	if len(r.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(r.Metadata); err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO validator_results
		(run_seq, validator, language, status, passed, error_count, warning_count, files_checked, duration_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seq, r.Validator, r.Language, string(r.Status), boolInt(r.Passed), len(r.Errors), len(r.Warnings),
		r.FilesChecked, durationMillis(r.Duration), nullString(metadata))
	if err != nil {
		return err
	}
	resultID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	entities[domain.ValidatorEntityID(r.Validator)] = domain.EntityValidator

	for _, is := range r.Issues() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO issues
			(result_id, file, line, col, severity, code, message, suggestion)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			resultID, is.File, is.Line, is.Column, is.Severity, is.Code, is.Message, is.Suggestion); err != nil {
			return fmt.Errorf("inserting issue: %w", err)
		}
	}

	for _, tc := range r.Tests {
		if _, err := tx.ExecContext(ctx, `INSERT INTO test_case_records
			(run_seq, validator, test_id, suite, name, status, duration_ms, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			seq, r.Validator, tc.ID, tc.Suite, tc.Name, string(tc.Status), durationMillis(tc.Duration), tc.Message); err != nil {
			return fmt.Errorf("inserting test case %s: %w", tc.ID, err)
		}
		entities[domain.TestEntityID(tc.ID)] = domain.EntityTest
	}

	for _, fr := range fileRecords(r) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO file_validation_records
			(run_seq, validator, file_path, error_count, warning_count)
			VALUES (?, ?, ?, ?, ?)`,
			seq, r.Validator, fr.path, fr.errors, fr.warnings); err != nil {
			return fmt.Errorf("inserting file record %s: %w", fr.path, err)
		}
		entities[domain.FileEntityID(r.Validator, fr.path)] = domain.EntityFile
	}
	return nil
}

type fileRecord struct {
	path     string
	errors   int
	warnings int
}

// fileRecords yields one record per checked file, clean files included.
// Results that did not complete (ERROR, SKIPPED) say nothing about files.
func fileRecords(r domain.ValidationResult) []fileRecord {
	if r.Status != domain.StatusPassed && r.Status != domain.StatusFailed {
		return nil
	}
	byPath := make(map[string]*fileRecord)
	add := func(path string) *fileRecord {
		if fr, ok := byPath[path]; ok {
			return fr
		}
		fr := &fileRecord{path: path}
		byPath[path] = fr
		return fr
	}
	for _, f := range r.Files {
		if f != "" {
			add(f)
		}
	}
	for _, is := range r.Errors {
		if realFile(is.File) {
			add(is.File).errors++
		}
	}
	for _, is := range r.Warnings {
		if realFile(is.File) {
			add(is.File).warnings++
		}
	}

	out := make([]fileRecord, 0, len(byPath))
	for _, fr := range byPath {
		out = append(out, *fr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// realFile excludes the synthetic <system>, <timeout>, ... locations.
func realFile(path string) bool {
	return path != "" && !strings.HasPrefix(path, "<")
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.ValidationRun, error) {
	var (
		where []string
		args  []any
	)
	if filter.Branch != "" {
		where = append(where, "git_branch = ?")
		args = append(args, filter.Branch)
	}
	if filter.Commit != "" {
		where = append(where, "git_commit LIKE ?")
		args = append(args, filter.Commit+"%")
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, millis(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, millis(filter.Until))
	}

	query := `SELECT id, timestamp, incremental, passed, status, git_commit, git_branch, duration_ms, total_errors, total_warnings FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.ValidationRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.ValidationRun, error) {
	var (
		run                 domain.ValidationRun
		ts, dur             int64
		incremental, passed int
		status              string
	)
	if err := row.Scan(&run.ID, &ts, &incremental, &passed, &status, &run.GitCommit, &run.GitBranch, &dur, &run.Errors, &run.Warnings); err != nil {
		return run, err
	}
	run.Timestamp = fromMillis(ts)
	run.Incremental = incremental != 0
	run.Passed = passed != 0
	run.Status = domain.Status(status)
	run.Duration = msDuration(dur)
	return run, nil
}

// RunReport rebuilds the export payload of a stored run. An empty id or
// "latest" selects the newest run.
func (s *Store) RunReport(ctx context.Context, runID string) (*domain.RunReport, error) {
	cols := `SELECT seq, id, timestamp, incremental, passed, status, git_commit, git_branch, duration_ms, total_errors, total_warnings FROM runs`
	var row *sql.Row
	if runID == "" || runID == "latest" {
		row = s.db.QueryRowContext(ctx, cols+" ORDER BY seq DESC LIMIT 1")
	} else {
		row = s.db.QueryRowContext(ctx, cols+" WHERE id = ?", runID)
	}

	var seq int64
	run, err := scanRun(seqScanner{row: row, seq: &seq})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %q: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}

	results, err := s.loadResults(ctx, seq)
	if err != nil {
		return nil, err
	}
	return domain.NewRunReport(run, results), nil
}

// seqScanner prepends the run seq column to scanRun's destinations.
type seqScanner struct {
	row *sql.Row
	seq *int64
}

func (s seqScanner) Scan(dest ...any) error {
	return s.row.Scan(append([]any{s.seq}, dest...)...)
}

func (s *Store) loadResults(ctx context.Context, seq int64) ([]domain.ValidationResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, validator, language, status, passed, files_checked, duration_ms, metadata
		FROM validator_results WHERE run_seq = ? ORDER BY id`, seq)
	if err != nil {
		return nil, fmt.Errorf("loading results: %w", err)
	}
	defer rows.Close()

	var (
		results []domain.ValidationResult
		ids     []int64
	)
	for rows.Next() {
		var (
			r        domain.ValidationResult
			id, dur  int64
			passed   int
			status   string
			metadata sql.NullString
		)
		if err := rows.Scan(&id, &r.Validator, &r.Language, &status, &passed, &r.FilesChecked, &dur, &metadata); err != nil {
			return nil, err
		}
		r.Status = domain.Status(status)
		r.Passed = passed != 0
		r.Duration = msDuration(dur)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decoding %s metadata: %w", r.Validator, err)
			}
		}
		results = append(results, r)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range results {
		if err := s.loadIssues(ctx, ids[i], &results[i]); err != nil {
			return nil, err
		}
	}
	if err := s.loadTests(ctx, seq, results); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) loadIssues(ctx context.Context, resultID int64, r *domain.ValidationResult) error {
	rows, err := s.db.QueryContext(ctx, `SELECT file, line, col, severity, code, message, suggestion
		FROM issues WHERE result_id = ? ORDER BY id`, resultID)
	if err != nil {
		return fmt.Errorf("loading issues: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var is domain.Issue
		if err := rows.Scan(&is.File, &is.Line, &is.Column, &is.Severity, &is.Code, &is.Message, &is.Suggestion); err != nil {
			return err
		}
		r.AddIssue(is)
	}
	return rows.Err()
}

func (s *Store) loadTests(ctx context.Context, seq int64, results []domain.ValidationResult) error {
	rows, err := s.db.QueryContext(ctx, `SELECT validator, test_id, suite, name, status, duration_ms, message
		FROM test_case_records WHERE run_seq = ? ORDER BY id`, seq)
	if err != nil {
		return fmt.Errorf("loading test cases: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int, len(results))
	for i, r := range results {
		index[r.Validator] = i
	}
	for rows.Next() {
		var (
			validator, status string
			dur               int64
			tc                domain.TestCaseResult
		)
		if err := rows.Scan(&validator, &tc.ID, &tc.Suite, &tc.Name, &status, &dur, &tc.Message); err != nil {
			return err
		}
		tc.Status = domain.Status(status)
		tc.Duration = msDuration(dur)
		if i, ok := index[validator]; ok {
			results[i].Tests = append(results[i].Tests, tc)
		}
	}
	return rows.Err()
}

func nullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
