package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// UpsertCorrelationEvent inserts e or replaces the stored copy with the same id.
// The engine re-sends events as they evolve, so the latest version wins.
func (s *SQLiteDB) UpsertCorrelationEvent(ctx context.Context, e *models.CorrelationEvent) error {
	ids, err := json.Marshal(e.AlertIDs)
	if err != nil {
		return fmt.Errorf("error encoding alert ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO correlation_events (id, type, alert_ids, severity, detected_at, resolved_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			alert_ids = excluded.alert_ids,
			severity = excluded.severity,
			detected_at = excluded.detected_at,
			resolved_at = excluded.resolved_at,
			metadata = excluded.metadata`,
		e.ID, e.Type, string(ids), nullString(e.Severity), toNanos(e.DetectedAt),
		nullNanos(e.ResolvedAt), nullString(e.Metadata),
	)
	if err != nil {
		return fmt.Errorf("error upserting correlation event: %w", err)
	}
	return nil
}

// ListUnresolvedCorrelationEvents returns active events newest first.
func (s *SQLiteDB) ListUnresolvedCorrelationEvents(ctx context.Context, limit int) ([]models.CorrelationEvent, error) {
	query := `
		SELECT id, type, alert_ids, severity, detected_at, resolved_at, metadata
		FROM correlation_events WHERE resolved_at IS NULL
		ORDER BY detected_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying correlation events: %w", err)
	}
	defer rows.Close()

	var events []models.CorrelationEvent
	for rows.Next() {
		var (
			e                  models.CorrelationEvent
			ids                string
			severity, metadata sql.NullString
			detectedAt         int64
			resolvedAt         sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Type, &ids, &severity, &detectedAt, &resolvedAt, &metadata); err != nil {
			return nil, fmt.Errorf("error scanning correlation event: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &e.AlertIDs); err != nil {
			return nil, fmt.Errorf("error decoding alert ids for %s: %w", e.ID, err)
		}
		e.Severity = severity.String
		e.Metadata = metadata.String
		e.DetectedAt = fromNanos(detectedAt)
		e.ResolvedAt = timePtr(resolvedAt)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating correlation events: %w", err)
	}
	return events, nil
}
