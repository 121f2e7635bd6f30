package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

const attemptColumns = `id, alert_id, recipient_id, attempt_number, status, operation_id, error, attempted_at`

// AppendAttempt is insert-only; attempts are never rewritten.
func (s *SQLiteDB) AppendAttempt(ctx context.Context, d *models.DeliveryAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (`+attemptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AlertID, d.RecipientID, d.AttemptNumber, d.Status,
		nullString(d.OperationID), nullString(d.Error), toNanos(d.AttemptedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("delivery attempt %s: %w", d.ID, ErrDuplicate)
		}
		return fmt.Errorf("error inserting delivery attempt: %w", err)
	}
	return nil
}

func (s *SQLiteDB) AttemptsSince(ctx context.Context, since time.Time) ([]models.DeliveryAttempt, error) {
	return s.queryAttempts(ctx, `
		SELECT `+attemptColumns+` FROM delivery_attempts
		WHERE attempted_at >= ? ORDER BY attempted_at`, toNanos(since))
}

func (s *SQLiteDB) LatestAttempts(ctx context.Context, alertID string) ([]models.DeliveryAttempt, error) {
	return s.queryAttempts(ctx, `
		SELECT `+attemptColumns+` FROM delivery_attempts d
		WHERE alert_id = ? AND attempt_number = (
			SELECT MAX(attempt_number) FROM delivery_attempts
			WHERE alert_id = d.alert_id AND recipient_id = d.recipient_id
		)
		ORDER BY recipient_id`, alertID)
}

func (s *SQLiteDB) queryAttempts(ctx context.Context, query string, args ...any) ([]models.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.DeliveryAttempt
	for rows.Next() {
		var (
			d           models.DeliveryAttempt
			opID, errTx sql.NullString
			at          int64
		)
		if err := rows.Scan(&d.ID, &d.AlertID, &d.RecipientID, &d.AttemptNumber, &d.Status, &opID, &errTx, &at); err != nil {
			return nil, fmt.Errorf("error scanning delivery attempt: %w", err)
		}
		d.OperationID = opID.String
		d.Error = errTx.String
		d.AttemptedAt = fromNanos(at)
		attempts = append(attempts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery attempts: %w", err)
	}
	return attempts, nil
}

func (s *SQLiteDB) AddRecipient(ctx context.Context, r *models.Recipient) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO recipients (id, email, active) VALUES (?, ?, ?)`,
		r.ID, r.Email, r.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("recipient %s: %w", r.Email, ErrDuplicate)
		}
		return fmt.Errorf("error inserting recipient: %w", err)
	}
	return nil
}

func (s *SQLiteDB) ListRecipients(ctx context.Context, activeOnly bool) ([]models.Recipient, error) {
	query := `SELECT id, email, active FROM recipients`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY email`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying recipients: %w", err)
	}
	defer rows.Close()

	var recipients []models.Recipient
	for rows.Next() {
		var r models.Recipient
		if err := rows.Scan(&r.ID, &r.Email, &r.Active); err != nil {
			return nil, fmt.Errorf("error scanning recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recipients: %w", err)
	}
	return recipients, nil
}

func (s *SQLiteDB) SetRecipientActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE recipients SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("error updating recipient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
