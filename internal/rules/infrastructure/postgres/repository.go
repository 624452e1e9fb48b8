package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	conditions "roomwatch/internal/conditions/domain"
	rules "roomwatch/internal/rules/domain"
)

// Repository is a Postgres repository for rules and their fire logs.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const ruleColumns = `id, name, enabled, priority, cooldown_sec, conditions, actions,
	last_fired_at, fire_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// ListRules returns every rule ordered by creation.
func (r *Repository) ListRules(ctx context.Context) ([]rules.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+ruleColumns+`
FROM rules
ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rules.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetRule loads a rule by id; nil when missing.
func (r *Repository) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	if id == "" {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+ruleColumns+`
FROM rules
WHERE id = $1`, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// CreateRule inserts a rule.
func (r *Repository) CreateRule(ctx context.Context, rule *rules.Rule) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if rule == nil {
		return errors.New("rule repo: nil rule")
	}
	conds, actions, err := encodeRule(rule)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO rules (
	id, name, enabled, priority, cooldown_sec, conditions, actions,
	fire_count, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)`, rule.ID, rule.Name, rule.Enabled, rule.Priority, rule.CooldownSec, conds, actions,
		rule.FireCount, rule.CreatedAt, rule.UpdatedAt)
	return err
}

// UpdateRule rewrites the editable fields of a rule.
func (r *Repository) UpdateRule(ctx context.Context, rule *rules.Rule) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if rule == nil {
		return errors.New("rule repo: nil rule")
	}
	conds, actions, err := encodeRule(rule)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE rules
SET name = $2, enabled = $3, priority = $4, cooldown_sec = $5,
	conditions = $6, actions = $7, updated_at = $8
WHERE id = $1`, rule.ID, rule.Name, rule.Enabled, rule.Priority, rule.CooldownSec,
		conds, actions, rule.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteRule removes a rule. Its fire log is kept.
func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateMetadata records fire bookkeeping. The stored fire count never decreases.
func (r *Repository) UpdateMetadata(ctx context.Context, id string, meta rules.Metadata) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE rules
SET last_fired_at = $2, fire_count = GREATEST(fire_count, $3)
WHERE id = $1`, id, meta.LastFiredAt.UTC(), meta.FireCount)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AppendFireLog inserts one fire entry.
func (r *Repository) AppendFireLog(ctx context.Context, ruleID string, log rules.FireLog) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	applied := log.Actions
	if applied == nil {
		applied = []rules.AppliedAction{}
	}
	actions, err := json.Marshal(applied)
	if err != nil {
		return fmt.Errorf("rule repo: encode applied actions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO rule_fire_logs (rule_id, at, summary, actions)
VALUES ($1, $2, $3, $4)`, ruleID, log.At.UTC(), log.Summary, actions)
	return err
}

// ListFireLogs returns the newest limit entries, oldest first.
func (r *Repository) ListFireLogs(ctx context.Context, ruleID string, limit int) ([]rules.FireLog, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT at, summary, actions
FROM (
	SELECT id, at, summary, actions
	FROM rule_fire_logs
	WHERE rule_id = $1
	ORDER BY at DESC, id DESC
	LIMIT $2
) recent
ORDER BY at ASC, id ASC`, ruleID, rules.ClampLogLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]rules.FireLog, 0)
	for rows.Next() {
		var (
			log     rules.FireLog
			actions []byte
		)
		if err := rows.Scan(&log.At, &log.Summary, &actions); err != nil {
			return nil, err
		}
		log.At = log.At.UTC()
		log.Actions = []rules.AppliedAction{}
		if len(actions) > 0 {
			if err := json.Unmarshal(actions, &log.Actions); err != nil {
				return nil, fmt.Errorf("rule repo: decode applied actions: %w", err)
			}
		}
		result = append(result, log)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func encodeRule(rule *rules.Rule) ([]byte, []byte, error) {
	conds, err := conditions.MarshalGroups(rule.Conditions)
	if err != nil {
		return nil, nil, err
	}
	list := rule.Actions
	if list == nil {
		list = rules.ActionList{}
	}
	actions, err := json.Marshal(list)
	if err != nil {
		return nil, nil, fmt.Errorf("rule repo: encode actions: %w", err)
	}
	return conds, actions, nil
}

func scanRule(row rowScanner) (*rules.Rule, error) {
	var (
		rule     rules.Rule
		conds    []byte
		actions  []byte
		lastFire sql.NullTime
	)
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Enabled,
		&rule.Priority,
		&rule.CooldownSec,
		&conds,
		&actions,
		&lastFire,
		&rule.FireCount,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	groups, err := conditions.UnmarshalGroups(conds)
	if err != nil {
		return nil, fmt.Errorf("rule repo: decode conditions of %s: %w", rule.ID, err)
	}
	rule.Conditions = groups
	rule.Actions = rules.ActionList{}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &rule.Actions); err != nil {
			return nil, fmt.Errorf("rule repo: decode actions of %s: %w", rule.ID, err)
		}
	}
	if lastFire.Valid {
		at := lastFire.Time.UTC()
		rule.LastFiredAt = &at
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rules.ErrNotFound
	}
	return nil
}
