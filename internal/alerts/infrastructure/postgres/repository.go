package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	alerts "roomwatch/internal/alerts/domain"
	conditions "roomwatch/internal/conditions/domain"
)

// Repository is a Postgres repository for alerts and alert events.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const alertColumns = `id, name, enabled, severity, scope_mode, scope_room, conditions,
	hold_sec, cooldown_sec, last_fired_at, fire_count, created_at, updated_at`

const eventColumns = `id, alert_id, name, severity, entity, message, "values",
	fired_at, acknowledged, acknowledged_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// ListAlerts returns every alert ordered by creation.
func (r *Repository) ListAlerts(ctx context.Context) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetAlert loads an alert by id; nil when missing.
func (r *Repository) GetAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if id == "" {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE id = $1`, id)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return alert, nil
}

// CreateAlert inserts an alert.
func (r *Repository) CreateAlert(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	conds, err := conditions.MarshalGroups(alert.Conditions)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, name, enabled, severity, scope_mode, scope_room, conditions,
	hold_sec, cooldown_sec, fire_count, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12
)`, alert.ID, alert.Name, alert.Enabled, string(alert.Severity), string(alert.Scope.Mode), alert.Scope.Room,
		conds, alert.HoldSec, alert.CooldownSec, alert.FireCount, alert.CreatedAt, alert.UpdatedAt)
	return err
}

// UpdateAlert rewrites the editable fields of an alert.
func (r *Repository) UpdateAlert(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	conds, err := conditions.MarshalGroups(alert.Conditions)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET name = $2, enabled = $3, severity = $4, scope_mode = $5, scope_room = $6,
	conditions = $7, hold_sec = $8, cooldown_sec = $9, updated_at = $10
WHERE id = $1`, alert.ID, alert.Name, alert.Enabled, string(alert.Severity), string(alert.Scope.Mode),
		alert.Scope.Room, conds, alert.HoldSec, alert.CooldownSec, alert.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteAlert removes an alert. Its events are kept.
func (r *Repository) DeleteAlert(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateMetadata records fire bookkeeping. The stored fire count never decreases.
func (r *Repository) UpdateMetadata(ctx context.Context, id string, meta alerts.Metadata) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET last_fired_at = $2, fire_count = GREATEST(fire_count, $3)
WHERE id = $1`, id, meta.LastFiredAt.UTC(), meta.FireCount)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CreateEvent inserts an alert event.
func (r *Repository) CreateEvent(ctx context.Context, event *alerts.Event) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if event == nil {
		return errors.New("alert repo: nil event")
	}
	values, err := json.Marshal(event.Values)
	if err != nil {
		return fmt.Errorf("alert repo: encode values: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO alert_events (
	id, alert_id, name, severity, entity, message, "values", fired_at, acknowledged
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, FALSE
)`, event.ID, event.AlertID, event.Name, string(event.Severity), event.Entity, event.Message,
		values, event.FiredAt.UTC())
	return err
}

// GetEvent loads an event by id; nil when missing.
func (r *Repository) GetEvent(ctx context.Context, id string) (*alerts.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+eventColumns+`
FROM alert_events
WHERE id = $1`, id)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

// AckEvent acknowledges an event once and returns the stored row.
func (r *Repository) AckEvent(ctx context.Context, id string, at time.Time) (*alerts.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if _, err := r.db.ExecContext(ctx, `
UPDATE alert_events
SET acknowledged = TRUE, acknowledged_at = $2
WHERE id = $1 AND acknowledged = FALSE`, id, at.UTC()); err != nil {
		return nil, err
	}
	return r.GetEvent(ctx, id)
}

// ListEvents returns events newest first.
func (r *Repository) ListEvents(ctx context.Context, filter alerts.EventFilter) ([]alerts.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	filter = filter.Normalize()
	var (
		where []string
		args  []any
	)
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		where = append(where, fmt.Sprintf("severity = $%d", len(args)))
	}
	if filter.OnlyOpen {
		where = append(where, "acknowledged = FALSE")
	}
	query := `
SELECT ` + eventColumns + `
FROM alert_events`
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf("\nORDER BY fired_at DESC\nLIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountOpenEvents counts unacknowledged events.
func (r *Repository) CountOpenEvents(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("alert repo: nil db")
	}
	var count int
	if err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM alert_events WHERE acknowledged = FALSE`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanAlert(row rowScanner) (*alerts.Alert, error) {
	var (
		alert    alerts.Alert
		severity string
		mode     string
		conds    []byte
		lastFire sql.NullTime
	)
	if err := row.Scan(
		&alert.ID,
		&alert.Name,
		&alert.Enabled,
		&severity,
		&mode,
		&alert.Scope.Room,
		&conds,
		&alert.HoldSec,
		&alert.CooldownSec,
		&lastFire,
		&alert.FireCount,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		return nil, err
	}
	groups, err := conditions.UnmarshalGroups(conds)
	if err != nil {
		return nil, fmt.Errorf("alert repo: decode conditions of %s: %w", alert.ID, err)
	}
	alert.Severity = alerts.Severity(severity)
	alert.Scope.Mode = alerts.ScopeMode(mode)
	alert.Conditions = groups
	if lastFire.Valid {
		at := lastFire.Time.UTC()
		alert.LastFiredAt = &at
	}
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	return &alert, nil
}

func scanEvent(row rowScanner) (*alerts.Event, error) {
	var (
		event    alerts.Event
		severity string
		values   []byte
		ackAt    sql.NullTime
	)
	if err := row.Scan(
		&event.ID,
		&event.AlertID,
		&event.Name,
		&severity,
		&event.Entity,
		&event.Message,
		&values,
		&event.FiredAt,
		&event.Acknowledged,
		&ackAt,
	); err != nil {
		return nil, err
	}
	event.Severity = alerts.Severity(severity)
	if len(values) > 0 {
		if err := json.Unmarshal(values, &event.Values); err != nil {
			return nil, fmt.Errorf("alert repo: decode values of %s: %w", event.ID, err)
		}
	}
	event.FiredAt = event.FiredAt.UTC()
	if ackAt.Valid {
		at := ackAt.Time.UTC()
		event.AcknowledgedAt = &at
	}
	return &event, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return alerts.ErrNotFound
	}
	return nil
}
