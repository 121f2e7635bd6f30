package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

const alertColumns = `id, headline, description, severity, channel, status, language_code,
	delivery_status, created_at, updated_at, sent_at, expires_at, created_by, version`

// effectiveStatusExpr mirrors models.EffectiveStatus; its single parameter is "now".
const effectiveStatusExpr = `CASE WHEN status IN ('PendingApproval', 'Approved', 'Delivered') AND expires_at < ?
	THEN 'Expired' ELSE status END`

func (s *SQLiteDB) CreateAlert(ctx context.Context, a *models.Alert) error {
	snap := a.Snapshot()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO alerts (`+alertColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			snap.ID, snap.Headline, snap.Description, snap.Severity, snap.Channel, snap.Status,
			snap.LanguageCode, snap.DeliveryStatus, toNanos(snap.CreatedAt), toNanos(snap.UpdatedAt),
			nullNanos(snap.SentAt), toNanos(snap.ExpiresAt), snap.CreatedBy,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("alert %s: %w", snap.ID, ErrDuplicate)
			}
			return fmt.Errorf("error inserting alert: %w", err)
		}

		for i, area := range snap.Areas {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO areas (id, alert_id, position, description, polygon, region_code)
				VALUES (?, ?, ?, ?, ?, ?)`,
				area.ID, snap.ID, i, area.Description, area.Polygon, nullString(area.RegionCode),
			)
			if err != nil {
				return fmt.Errorf("error inserting area %d: %w", i, err)
			}
		}

		if snap.Approval != nil {
			if err := insertApproval(ctx, tx, snap.Approval); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.SetVersion(1)
	return nil
}

func (s *SQLiteDB) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	snap, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error reading alert: %w", err)
	}

	snaps := []*models.AlertSnapshot{&snap}
	if err := loadDetails(ctx, s.db, snaps); err != nil {
		return nil, err
	}
	return models.RestoreAlert(snap), nil
}

func (s *SQLiteDB) UpdateAlert(ctx context.Context, a *models.Alert) error {
	snap := a.Snapshot()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE alerts SET
				status = ?, delivery_status = ?, updated_at = ?, sent_at = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			snap.Status, snap.DeliveryStatus, toNanos(snap.UpdatedAt), nullNanos(snap.SentAt),
			snap.ID, snap.Version,
		)
		if err != nil {
			return fmt.Errorf("error updating alert: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("error reading rows affected: %w", err)
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM alerts WHERE id = ?`, snap.ID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("error checking alert: %w", err)
			}
			return ErrVersionConflict
		}

		for _, area := range snap.Areas {
			if _, err := tx.ExecContext(ctx, `UPDATE areas SET region_code = ? WHERE id = ? AND alert_id = ?`,
				nullString(area.RegionCode), area.ID, snap.ID); err != nil {
				return fmt.Errorf("error updating area %s: %w", area.ID, err)
			}
		}

		if snap.Approval != nil {
			return insertApproval(ctx, tx, snap.Approval)
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.SetVersion(snap.Version + 1)
	return nil
}

// insertApproval stores rec unless an identical record already exists. Any
// other stored decision is a lost first-wins race.
func insertApproval(ctx context.Context, q querier, rec *models.ApprovalRecord) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO approvals (alert_id, approver_id, decision, reason, decided_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(alert_id) DO NOTHING`,
		rec.AlertID, rec.ApproverID, rec.Decision, nullString(rec.Reason), toNanos(rec.DecidedAt),
	)
	if err != nil {
		return fmt.Errorf("error inserting approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var approver, decision string
	var decidedAt int64
	err = q.QueryRowContext(ctx, `SELECT approver_id, decision, decided_at FROM approvals WHERE alert_id = ?`,
		rec.AlertID).Scan(&approver, &decision, &decidedAt)
	if err != nil {
		return fmt.Errorf("error reading approval: %w", err)
	}
	if approver != rec.ApproverID || decision != string(rec.Decision) || decidedAt != toNanos(rec.DecidedAt) {
		return ErrDecisionExists
	}
	return nil
}

func (s *SQLiteDB) ListAlerts(ctx context.Context, f AlertFilter) ([]*models.Alert, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		where = append(where, effectiveStatusExpr+` = ?`)
		args = append(args, toNanos(f.Now), *f.Status)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		where = append(where, `(lower(headline) LIKE ? ESCAPE '\' OR lower(description) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting alerts: %w", err)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts` + clause + ` ORDER BY created_at DESC, id`
	pageArgs := append([]any{}, args...)
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		pageArgs = append(pageArgs, f.Limit, f.Offset)
	}

	alerts, err := s.queryAlerts(ctx, true, query, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

func (s *SQLiteDB) ListAlertsByStatus(ctx context.Context, statuses ...models.Status) ([]*models.Alert, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	return s.queryAlerts(ctx, true,
		`SELECT `+alertColumns+` FROM alerts WHERE status IN (`+placeholders+`) ORDER BY created_at`, args...)
}

// AllAlerts returns every alert with its approval record but without areas.
func (s *SQLiteDB) AllAlerts(ctx context.Context) ([]*models.Alert, error) {
	return s.queryAlerts(ctx, false, `SELECT `+alertColumns+` FROM alerts ORDER BY created_at DESC`)
}

func (s *SQLiteDB) queryAlerts(ctx context.Context, withAreas bool, query string, args ...any) ([]*models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying alerts: %w", err)
	}

	var snaps []*models.AlertSnapshot
	for rows.Next() {
		snap, err := scanAlert(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning alert: %w", err)
		}
		snaps = append(snaps, &snap)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	rows.Close()

	if withAreas {
		if err := loadDetails(ctx, s.db, snaps); err != nil {
			return nil, err
		}
	} else if err := loadApprovals(ctx, s.db, snaps); err != nil {
		return nil, err
	}

	alerts := make([]*models.Alert, len(snaps))
	for i, snap := range snaps {
		alerts[i] = models.RestoreAlert(*snap)
	}
	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(r rowScanner) (models.AlertSnapshot, error) {
	var (
		snap                           models.AlertSnapshot
		createdAt, updatedAt, expireAt int64
		sentAt                         sql.NullInt64
	)
	err := r.Scan(&snap.ID, &snap.Headline, &snap.Description, &snap.Severity, &snap.Channel, &snap.Status,
		&snap.LanguageCode, &snap.DeliveryStatus, &createdAt, &updatedAt, &sentAt, &expireAt,
		&snap.CreatedBy, &snap.Version)
	if err != nil {
		return snap, err
	}
	snap.CreatedAt = fromNanos(createdAt)
	snap.UpdatedAt = fromNanos(updatedAt)
	snap.ExpiresAt = fromNanos(expireAt)
	snap.SentAt = timePtr(sentAt)
	return snap, nil
}

func loadDetails(ctx context.Context, q querier, snaps []*models.AlertSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	byID, in, args := indexSnapshots(snaps)

	rows, err := q.QueryContext(ctx, `
		SELECT id, alert_id, description, polygon, region_code FROM areas
		WHERE alert_id IN (`+in+`) ORDER BY alert_id, position`, args...)
	if err != nil {
		return fmt.Errorf("error querying areas: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			area   models.Area
			region sql.NullString
		)
		if err := rows.Scan(&area.ID, &area.AlertID, &area.Description, &area.Polygon, &region); err != nil {
			return fmt.Errorf("error scanning area: %w", err)
		}
		area.RegionCode = region.String
		byID[area.AlertID].Areas = append(byID[area.AlertID].Areas, area)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating areas: %w", err)
	}
	rows.Close()

	return loadApprovals(ctx, q, snaps)
}

func loadApprovals(ctx context.Context, q querier, snaps []*models.AlertSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	byID, in, args := indexSnapshots(snaps)

	rows, err := q.QueryContext(ctx, `
		SELECT alert_id, approver_id, decision, reason, decided_at FROM approvals
		WHERE alert_id IN (`+in+`)`, args...)
	if err != nil {
		return fmt.Errorf("error querying approvals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec       models.ApprovalRecord
			reason    sql.NullString
			decidedAt int64
		)
		if err := rows.Scan(&rec.AlertID, &rec.ApproverID, &rec.Decision, &reason, &decidedAt); err != nil {
			return fmt.Errorf("error scanning approval: %w", err)
		}
		rec.Reason = reason.String
		rec.DecidedAt = fromNanos(decidedAt)
		byID[rec.AlertID].Approval = &rec
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating approvals: %w", err)
	}
	return nil
}

func indexSnapshots(snaps []*models.AlertSnapshot) (map[string]*models.AlertSnapshot, string, []any) {
	byID := make(map[string]*models.AlertSnapshot, len(snaps))
	args := make([]any, len(snaps))
	for i, snap := range snaps {
		byID[snap.ID] = snap
		args[i] = snap.ID
	}
	in := strings.TrimSuffix(strings.Repeat("?, ", len(snaps)), ", ")
	return byID, in, args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
