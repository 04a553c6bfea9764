package sqlite

import (
	"context"
	"fmt"
	"sort"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/stats"
)

var entityTypes = []domain.EntityType{domain.EntityValidator, domain.EntityTest, domain.EntityFile}

// SuccessRate returns the success rate of an entity over its n most recent
// executions, and how many of those were executed (not skipped).
func (s *Store) SuccessRate(ctx context.Context, entityID string, n int) (float64, int, error) {
	history, err := loadHistory(ctx, s.db, entityID, "", n)
	if err != nil {
		return 0, 0, err
	}
	if len(history) == 0 {
		return 0, 0, fmt.Errorf("entity %q: %w", entityID, domain.ErrNotFound)
	}
	statuses := make([]domain.Status, len(history))
	executed := 0
	for i, h := range history {
		statuses[i] = h.Status
		if h.Status != domain.StatusSkipped {
			executed++
		}
	}
	return 1 - stats.FailureRate(statuses), executed, nil
}

// Flaky returns entities that fail sometimes but not always: failure rate in
// [threshold, 1) and above zero. window <= 0 uses the stored statistics window.
func (s *Store) Flaky(ctx context.Context, threshold float64, window int) ([]domain.EntityStatistics, error) {
	all, err := s.EntityStatistics(ctx, "")
	if err != nil {
		return nil, err
	}

	if window > 0 && window != s.window {
		for _, et := range entityTypes {
			recent, err := s.RecentStatuses(ctx, et, window)
			if err != nil {
				return nil, err
			}
			for id, sts := range recent {
				if st, ok := all[id]; ok && st.EntityType == et {
					st.FailureRate = stats.FailureRate(sts)
					st.Window = window
					all[id] = st
				}
			}
		}
	}

	out := []domain.EntityStatistics{}
	for _, st := range all {
		if st.FailureRate > 0 && st.FailureRate >= threshold && st.FailureRate < 1 {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FailureRate != out[j].FailureRate {
			return out[i].FailureRate > out[j].FailureRate
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out, nil
}

// FailedInLast returns every entity with a FAILED or ERROR status among its
// n most recent executions, sorted.
func (s *Store) FailedInLast(ctx context.Context, n int) ([]string, error) {
	ids := []string{}
	for _, et := range entityTypes {
		recent, err := s.RecentStatuses(ctx, et, n)
		if err != nil {
			return nil, err
		}
		for id, sts := range recent {
			if stats.HasFailure(sts) {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// FileErrorFrequency returns, per validator and file, the share of recorded
// runs in which the file had errors. An empty validator covers all validators.
func (s *Store) FileErrorFrequency(ctx context.Context, validator string, minRuns int) ([]domain.FileErrorFrequency, error) {
	if minRuns < 1 {
		minRuns = 1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT validator, file_path, COUNT(*),
			SUM(CASE WHEN error_count > 0 THEN 1 ELSE 0 END), SUM(error_count)
		FROM file_validation_records
		WHERE (? = '' OR validator = ?)
		GROUP BY validator, file_path
		HAVING COUNT(*) >= ?`, validator, validator, minRuns)
	if err != nil {
		return nil, fmt.Errorf("loading file error frequency: %w", err)
	}
	defer rows.Close()

	out := []domain.FileErrorFrequency{}
	for rows.Next() {
		var f domain.FileErrorFrequency
		if err := rows.Scan(&f.Validator, &f.File, &f.Runs, &f.RunsWithError, &f.TotalErrors); err != nil {
			return nil, err
		}
		f.Frequency = float64(f.RunsWithError) / float64(f.Runs)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		if a.Validator != b.Validator {
			return a.Validator < b.Validator
		}
		return a.File < b.File
	})
	return out, nil
}

// ValidatorTrend aggregates a validator's results per UTC day over the last
// days days, oldest first.
func (s *Store) ValidatorTrend(ctx context.Context, validator string, days int) ([]domain.TrendPoint, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := s.now().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `SELECT strftime('%Y-%m-%d', r.timestamp / 1000, 'unixepoch') AS day,
			COUNT(*), SUM(vr.passed), SUM(vr.error_count), SUM(vr.warning_count)
		FROM validator_results vr JOIN runs r ON r.seq = vr.run_seq
		WHERE vr.validator = ? AND r.timestamp >= ?
		GROUP BY day ORDER BY day`, validator, millis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("loading %s trend: %w", validator, err)
	}
	defer rows.Close()

	out := []domain.TrendPoint{}
	for rows.Next() {
		var p domain.TrendPoint
		if err := rows.Scan(&p.Day, &p.Runs, &p.Passed, &p.Errors, &p.Warnings); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
