package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict means the alert changed since it was loaded.
	ErrVersionConflict = errors.New("alert version conflict")
	// ErrDecisionExists means a different approval record is already stored.
	ErrDecisionExists = errors.New("approval record already exists")
	ErrDuplicate      = errors.New("duplicate record")
)

type AlertFilter struct {
	// Status matches the effective status as of Now.
	Status *models.Status
	Search string
	Now    time.Time
	Limit  int
	Offset int
}

type AlertRepository interface {
	// CreateAlert stores the alert and its areas atomically.
	CreateAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	// UpdateAlert persists a only if the stored version still equals
	// a.Version(); on success a carries the new version.
	UpdateAlert(ctx context.Context, a *models.Alert) error
	ListAlerts(ctx context.Context, f AlertFilter) ([]*models.Alert, int, error)
	ListAlertsByStatus(ctx context.Context, statuses ...models.Status) ([]*models.Alert, error)
	AllAlerts(ctx context.Context) ([]*models.Alert, error)
}

type DeliveryRepository interface {
	AppendAttempt(ctx context.Context, d *models.DeliveryAttempt) error
	AttemptsSince(ctx context.Context, since time.Time) ([]models.DeliveryAttempt, error)
	// LatestAttempts returns the most recent attempt per recipient for an alert.
	LatestAttempts(ctx context.Context, alertID string) ([]models.DeliveryAttempt, error)
}

type RecipientRepository interface {
	AddRecipient(ctx context.Context, r *models.Recipient) error
	ListRecipients(ctx context.Context, activeOnly bool) ([]models.Recipient, error)
	SetRecipientActive(ctx context.Context, id string, active bool) error
}

type CorrelationRepository interface {
	UpsertCorrelationEvent(ctx context.Context, e *models.CorrelationEvent) error
	ListUnresolvedCorrelationEvents(ctx context.Context, limit int) ([]models.CorrelationEvent, error)
}
