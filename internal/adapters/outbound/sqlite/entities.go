package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/stats"
	"go.uber.org/zap"
)

const historyColumns = `entity_id, entity_type, run_seq, timestamp, status, duration_ms`

// refreshEntity recomputes one entity's statistics from its full history.
func (s *Store) refreshEntity(ctx context.Context, q querier, id string, et domain.EntityType) error {
	history, err := loadHistory(ctx, q, id, et, 0)
	if err != nil {
		return err
	}
	st, ok := stats.Compute(id, et, history, s.window)
	if !ok {
		_, err := q.ExecContext(ctx, `DELETE FROM entity_statistics WHERE entity_id = ?`, id)
		return err
	}
	return s.upsertStatistics(ctx, q, st)
}

func (s *Store) upsertStatistics(ctx context.Context, q querier, st domain.EntityStatistics) error {
	var lastFailure sql.NullInt64
	if st.LastFailure != nil {
		lastFailure = sql.NullInt64{Int64: millis(*st.LastFailure), Valid: true}
	}
	_, err := q.ExecContext(ctx, `INSERT INTO entity_statistics
		(entity_id, entity_type, total_runs, passed, failed, skipped, errored, failure_rate,
		 avg_duration_ms, stats_window, last_run, last_failure, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			total_runs = excluded.total_runs,
			passed = excluded.passed,
			failed = excluded.failed,
			skipped = excluded.skipped,
			errored = excluded.errored,
			failure_rate = excluded.failure_rate,
			avg_duration_ms = excluded.avg_duration_ms,
			stats_window = excluded.stats_window,
			last_run = excluded.last_run,
			last_failure = excluded.last_failure,
			updated_at = excluded.updated_at`,
		st.EntityID, string(st.EntityType), st.TotalRuns, st.Passed, st.Failed, st.Skipped, st.Errored,
		st.FailureRate, durationMillis(st.AvgDuration), st.Window, millis(st.LastRun), lastFailure,
		millis(s.now()))
	if err != nil {
		return fmt.Errorf("updating statistics for %s: %w", st.EntityID, err)
	}
	return nil
}

// loadHistory returns an entity's executions newest first. limit <= 0 loads all.
func loadHistory(ctx context.Context, q querier, id string, et domain.EntityType, limit int) ([]domain.Execution, error) {
	query := `SELECT ` + historyColumns + ` FROM entity_history WHERE entity_id = ?`
	args := []any{id}
	if et != "" {
		query += ` AND entity_type = ?`
		args = append(args, string(et))
	}
	query += ` ORDER BY run_seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading history of %s: %w", id, err)
	}
	defer rows.Close()

	var history []domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, e)
	}
	return history, rows.Err()
}

func scanExecution(row scanner) (domain.Execution, error) {
	var (
		e       domain.Execution
		et, st  string
		ts, dur int64
	)
	if err := row.Scan(&e.EntityID, &et, &e.RunSeq, &ts, &st, &dur); err != nil {
		return e, err
	}
	e.EntityType = domain.EntityType(et)
	e.Timestamp = fromMillis(ts)
	e.Status = domain.Status(st)
	e.Duration = msDuration(dur)
	return e, nil
}

// History returns up to limit executions of an entity, newest first.
func (s *Store) History(ctx context.Context, entityID string, limit int) ([]domain.Execution, error) {
	return loadHistory(ctx, s.db, entityID, "", limit)
}

// RebuildEntityStatistics clears entity_statistics and replays entity_history.
func (s *Store) RebuildEntityStatistics(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.rebuild(ctx, tx)
	})
}

func (s *Store) rebuild(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_statistics`); err != nil {
		return fmt.Errorf("clearing entity statistics: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+historyColumns+` FROM entity_history
		ORDER BY entity_type, entity_id, run_seq DESC`)
	if err != nil {
		return fmt.Errorf("replaying history: %w", err)
	}

	type key struct {
		id string
		et domain.EntityType
	}
	var (
		order   []key
		history = make(map[key][]domain.Execution)
	)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			rows.Close()
			return err
		}
		k := key{e.EntityID, e.EntityType}
		if _, ok := history[k]; !ok {
			order = append(order, k)
		}
		history[k] = append(history[k], e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, k := range order {
		st, ok := stats.Compute(k.id, k.et, history[k], s.window)
		if !ok {
			continue
		}
		if err := s.upsertStatistics(ctx, tx, st); err != nil {
			return err
		}
	}
	s.logger.Info("entity statistics rebuilt", zap.Int("entities", len(order)))
	return nil
}

// DeleteRunsOlderThan removes runs (and, by cascade, their records) older
// than cutoff and rebuilds entity statistics from what remains.
func (s *Store) DeleteRunsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE timestamp < ?`, millis(cutoff))
		if err != nil {
			return fmt.Errorf("deleting runs: %w", err)
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return err
		}
		return s.rebuild(ctx, tx)
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// EntityIDs lists the entities of a type that have statistics, sorted.
func (s *Store) EntityIDs(ctx context.Context, et domain.EntityType) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entity_id FROM entity_statistics WHERE entity_type = ? ORDER BY entity_id`, string(et))
	if err != nil {
		return nil, fmt.Errorf("listing %s entities: %w", et, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const statisticsColumns = `entity_id, entity_type, total_runs, passed, failed, skipped, errored,
	failure_rate, avg_duration_ms, stats_window, last_run, last_failure`

func scanStatistics(row scanner) (domain.EntityStatistics, error) {
	var (
		st          domain.EntityStatistics
		et          string
		avg, last   int64
		lastFailure sql.NullInt64
	)
	if err := row.Scan(&st.EntityID, &et, &st.TotalRuns, &st.Passed, &st.Failed, &st.Skipped, &st.Errored,
		&st.FailureRate, &avg, &st.Window, &last, &lastFailure); err != nil {
		return st, err
	}
	st.EntityType = domain.EntityType(et)
	st.AvgDuration = msDuration(avg)
	st.LastRun = fromMillis(last)
	if lastFailure.Valid {
		t := fromMillis(lastFailure.Int64)
		st.LastFailure = &t
	}
	return st, nil
}

// EntityStatistics returns the statistics rows of a type keyed by entity id.
// An empty type returns every entity.
func (s *Store) EntityStatistics(ctx context.Context, et domain.EntityType) (map[string]domain.EntityStatistics, error) {
	query := `SELECT ` + statisticsColumns + ` FROM entity_statistics`
	var args []any
	if et != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, string(et))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading %s statistics: %w", et, err)
	}
	defer rows.Close()

	out := make(map[string]domain.EntityStatistics)
	for rows.Next() {
		st, err := scanStatistics(rows)
		if err != nil {
			return nil, err
		}
		out[st.EntityID] = st
	}
	return out, rows.Err()
}

// Entity returns one entity's statistics.
func (s *Store) Entity(ctx context.Context, entityID string) (*domain.EntityStatistics, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+statisticsColumns+` FROM entity_statistics WHERE entity_id = ?`, entityID)
	st, err := scanStatistics(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %q: %w", entityID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading entity %s: %w", entityID, err)
	}
	return &st, nil
}

// RecentStatuses returns, per entity of the type, the statuses of its n most
// recent executions, newest first. n <= 0 returns the whole history.
func (s *Store) RecentStatuses(ctx context.Context, et domain.EntityType, n int) (map[string][]domain.Status, error) {
	query := `SELECT entity_id, status FROM (
		SELECT entity_id, status, run_seq,
		       ROW_NUMBER() OVER (PARTITION BY entity_id ORDER BY run_seq DESC) AS rn
		FROM entity_history WHERE entity_type = ?
	)`
	args := []any{string(et)}
	if n > 0 {
		query += ` WHERE rn <= ?`
		args = append(args, n)
	}
	query += ` ORDER BY entity_id, rn`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading recent %s statuses: %w", et, err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Status)
	for rows.Next() {
		var id, st string
		if err := rows.Scan(&id, &st); err != nil {
			return nil, err
		}
		out[id] = append(out[id], domain.Status(st))
	}
	return out, rows.Err()
}
