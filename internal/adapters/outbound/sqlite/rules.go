package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openkraft/anvil/internal/domain"
)

const ruleColumns = `name, criterion, scope, groups, threshold, rule_window, enabled, description, created_at, updated_at`

// SaveRule inserts or replaces a rule, keeping its original creation time.
func (s *Store) SaveRule(ctx context.Context, rule domain.ExecutionRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	groups := rule.Groups
	if groups == nil {
		groups = []string{}
	}
	encoded, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encoding groups: %w", err)
	}
	now := millis(s.now())
	_, err = s.db.ExecContext(ctx, `INSERT INTO execution_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			criterion = excluded.criterion,
			scope = excluded.scope,
			groups = excluded.groups,
			threshold = excluded.threshold,
			rule_window = excluded.rule_window,
			enabled = excluded.enabled,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		rule.Name, string(rule.Criterion), string(rule.EffectiveScope()), string(encoded), nullFloat(rule.Threshold),
		rule.Window, boolInt(rule.IsEnabled()), rule.Description, now, now)
	if err != nil {
		return fmt.Errorf("saving rule %s: %w", rule.Name, err)
	}
	return nil
}

// Rule loads one rule by name.
func (s *Store) Rule(ctx context.Context, name string) (*domain.ExecutionRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM execution_rules WHERE name = ?`, name)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading rule %s: %w", name, err)
	}
	return &r, nil
}

// Rules lists rules sorted by name.
func (s *Store) Rules(ctx context.Context, enabledOnly bool) ([]domain.ExecutionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM execution_rules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer rows.Close()

	out := []domain.ExecutionRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM execution_rules WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting rule %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("rule %q: %w", name, domain.ErrNotFound)
	}
	return nil
}

func scanRule(row scanner) (domain.ExecutionRule, error) {
	var (
		r                domain.ExecutionRule
		criterion, scope string
		groups           string
		threshold        sql.NullFloat64
		enabled          int
		created, updated int64
	)
	if err := row.Scan(&r.Name, &criterion, &scope, &groups, &threshold, &r.Window, &enabled,
		&r.Description, &created, &updated); err != nil {
		return r, err
	}
	r.Criterion = domain.Criterion(criterion)
	if threshold.Valid {
		r.Threshold = &threshold.Float64
	}
	r.Scope = domain.Scope(scope)
	if err := json.Unmarshal([]byte(groups), &r.Groups); err != nil {
		return r, fmt.Errorf("decoding groups of rule %s: %w", r.Name, err)
	}
	if len(r.Groups) == 0 {
		r.Groups = nil
	}
	on := enabled != 0
	r.Enabled = &on
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	return r, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
