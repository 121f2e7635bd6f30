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

// ApproveAlert records an approval and, when the alert is deliverable,
// delivers it. A failed delivery is recorded on the alert and does not undo
// the approval.
func (s *Service) ApproveAlert(ctx context.Context, id, approverID string) (*models.Alert, error) {
	const op = "approve alert"

	a, err := s.decide(ctx, op, id, func(a *models.Alert, now time.Time) error {
		return a.Approve(approverID, now)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("alert approved", "alert_id", a.ID(), "approver_id", approverID)
	s.publishStatus(ctx, a)

	if s.deliver != nil && a.IsDeliverable(s.clock.Now()) {
		a = s.deliverApproved(ctx, a)
	}
	return a, nil
}

// RejectAlert records a rejection. reason is required.
func (s *Service) RejectAlert(ctx context.Context, id, approverID, reason string) (*models.Alert, error) {
	const op = "reject alert"

	a, err := s.decide(ctx, op, id, func(a *models.Alert, now time.Time) error {
		return a.Reject(approverID, reason, now)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("alert rejected", "alert_id", a.ID(), "approver_id", approverID)
	s.publishStatus(ctx, a)
	return a, nil
}

// decide runs the first-wins protocol: the decision is applied to the
// freshest read and persisted against that read's version. A version
// conflict means someone else wrote first; the alert is reloaded and, if a
// decision is now attached, the caller loses with ConcurrentDecision.
func (s *Service) decide(ctx context.Context, op, id string, apply func(*models.Alert, time.Time) error) (*models.Alert, error) {
	if err := s.checkEngine(ctx, op); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxPersistAttempts; attempt++ {
		a, err := s.load(ctx, op, id)
		if err != nil {
			return nil, err
		}

		now := s.clock.Now()
		if a.Status() == models.StatusPendingApproval && a.HasExpired(now) {
			return nil, apperr.New(apperr.KindInvalidOperation, op, "alert "+id+" has expired and can no longer be decided")
		}
		if rec := a.Approval(); rec != nil {
			return nil, concurrentDecision(op, id, rec)
		}
		if err := apply(a, now); err != nil {
			return nil, err
		}

		if err := persistable(ctx, op); err != nil {
			return nil, err
		}
		err = s.alerts.UpdateAlert(ctx, a)
		switch {
		case err == nil:
			return a, nil
		case errors.Is(err, repository.ErrVersionConflict):
			logging.FromContext(ctx).Info("version conflict while deciding alert, reloading",
				"alert_id", id, "attempt", attempt)
			continue
		case errors.Is(err, repository.ErrDecisionExists):
			return nil, apperr.New(apperr.KindConcurrentDecision, op, "alert "+id+" was already decided")
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperr.New(apperr.KindNotFound, op, "alert "+id+" not found")
		default:
			return nil, apperr.Wrap(apperr.KindInternal, op, err)
		}
	}

	return nil, apperr.New(apperr.KindConcurrentDecision, op, "alert "+id+" is being changed concurrently")
}

func concurrentDecision(op, id string, rec *models.ApprovalRecord) error {
	verb := "approved"
	if rec.Decision == models.DecisionRejected {
		verb = "rejected"
	}
	return apperr.New(apperr.KindConcurrentDecision, op, "alert "+id+" was already "+verb+" by "+rec.ApproverID)
}

// deliverApproved hands the alert to the dispatcher and records the outcome.
// The approval is already durable, so the caller's cancellation is ignored.
func (s *Service) deliverApproved(ctx context.Context, a *models.Alert) *models.Alert {
	log := logging.FromContext(ctx)
	ctx = context.WithoutCancel(ctx)

	res, err := s.deliver.Deliver(ctx, a)
	status := models.DeliveryDelivered
	switch {
	case err != nil:
		status = models.DeliveryFailed
		log.Error("delivery failed", "alert_id", a.ID(), "error", err)
	case !res.Success:
		status = models.DeliveryFailed
		log.Warn("delivery incomplete", "alert_id", a.ID(), "error", res.Error, "attempts", len(res.Attempts))
	default:
		log.Info("alert delivered", "alert_id", a.ID(), "attempts", len(res.Attempts))
	}

	for attempt := 1; attempt <= maxPersistAttempts; attempt++ {
		if err := a.UpdateDeliveryStatus(status, s.clock.Now()); err != nil {
			// The alert moved on (cancelled or expired) while delivering.
			log.Warn("could not record delivery status", "alert_id", a.ID(), "status", status, "error", err)
			return a
		}
		err := s.alerts.UpdateAlert(ctx, a)
		if err == nil {
			s.publishStatus(ctx, a)
			return a
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			log.Error("failed to persist delivery status", "alert_id", a.ID(), "error", err)
			break
		}
		fresh, err := s.alerts.GetAlert(ctx, a.ID())
		if err != nil {
			log.Error("failed to reload alert after conflict", "alert_id", a.ID(), "error", err)
			break
		}
		a = fresh
	}

	// Fall back to whatever is stored.
	if stored, err := s.alerts.GetAlert(ctx, a.ID()); err == nil {
		return stored
	}
	return a
}
