package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/apperr"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

type AreaInput struct {
	Description string
	Polygon     string
}

type CreateAlertInput struct {
	Headline     string
	Description  string
	Severity     string
	Channel      string
	ExpiresAt    time.Time
	LanguageCode string
	Areas        []AreaInput
	CreatedBy    string
}

// CreateAlert stores a new alert awaiting approval. The alert and its areas
// are written together or not at all.
func (s *Service) CreateAlert(ctx context.Context, in CreateAlertInput) (*models.Alert, error) {
	const op = "create alert"

	if err := s.checkEngine(ctx, op); err != nil {
		return nil, err
	}

	severity, err := models.ParseSeverity(in.Severity)
	if err != nil {
		return nil, err
	}
	channel, err := models.ParseChannel(in.Channel)
	if err != nil {
		return nil, err
	}

	// Area errors are reported after the alert's own fields.
	var (
		areas   = make([]models.Area, 0, len(in.Areas))
		areaErr error
	)
	if len(in.Areas) == 0 {
		areaErr = apperr.Field(apperr.KindInvalidArgument, op, "areas", "at least one area is required")
	}
	for i, ai := range in.Areas {
		area, err := models.NewArea(s.ids.NewID(), ai.Description, ai.Polygon, i)
		if err != nil {
			areaErr = err
			break
		}
		areas = append(areas, area)
	}

	now := s.clock.Now()
	a, err := models.NewAlert(models.NewAlertParams{
		ID:           s.ids.NewID(),
		Headline:     in.Headline,
		Description:  in.Description,
		Severity:     severity,
		Channel:      channel,
		ExpiresAt:    in.ExpiresAt,
		CreatedBy:    in.CreatedBy,
		LanguageCode: in.LanguageCode,
		Areas:        areas,
	}, now)
	if err != nil {
		return nil, err
	}
	if areaErr != nil {
		return nil, areaErr
	}

	if err := persistable(ctx, op); err != nil {
		return nil, err
	}
	if err := s.alerts.CreateAlert(ctx, a); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.New(apperr.KindInvalidOperation, op, "alert "+a.ID()+" already exists")
		}
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	logging.FromContext(ctx).Info("alert created",
		"alert_id", a.ID(), "severity", a.Severity(), "channel", a.Channel(), "areas", len(areas), "created_by", a.CreatedBy())
	s.publishStatus(ctx, a)
	return a, nil
}

// CancelAlert withdraws an approved or delivered alert. It does not consult
// the correlation engine.
func (s *Service) CancelAlert(ctx context.Context, id string) (*models.Alert, error) {
	const op = "cancel alert"

	for attempt := 1; ; attempt++ {
		a, err := s.load(ctx, op, id)
		if err != nil {
			return nil, err
		}
		if err := a.Cancel(s.clock.Now()); err != nil {
			return nil, err
		}

		if err := persistable(ctx, op); err != nil {
			return nil, err
		}
		err = s.alerts.UpdateAlert(ctx, a)
		switch {
		case err == nil:
			logging.FromContext(ctx).Info("alert cancelled", "alert_id", a.ID())
			s.publishStatus(ctx, a)
			return a, nil
		case errors.Is(err, repository.ErrVersionConflict) && attempt < maxPersistAttempts:
			continue
		case errors.Is(err, repository.ErrVersionConflict):
			return nil, apperr.New(apperr.KindInvalidOperation, op, "alert "+id+" keeps changing, try again")
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperr.New(apperr.KindNotFound, op, "alert "+id+" not found")
		default:
			return nil, apperr.Wrap(apperr.KindInternal, op, err)
		}
	}
}
