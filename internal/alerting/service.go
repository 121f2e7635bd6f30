// Package alerting runs the alert commands: create, approve, reject, cancel,
// and the matching reads.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mr1hm/go-emergency-alerts/internal/apperr"
	"github.com/mr1hm/go-emergency-alerts/internal/delivery"
	"github.com/mr1hm/go-emergency-alerts/internal/health"
	"github.com/mr1hm/go-emergency-alerts/internal/idgen"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/notify"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

const (
	// maxPersistAttempts bounds the reload-and-retry loop on version conflicts.
	maxPersistAttempts = 3

	defaultEngineRetryAfter = 5 * time.Second
)

// Deliverer is the part of delivery.Dispatcher the service needs.
type Deliverer interface {
	Deliver(ctx context.Context, alert *models.Alert) (delivery.Result, error)
}

type Service struct {
	alerts   repository.AlertRepository
	gate     health.Gate
	deliver  Deliverer
	notifier notify.Notifier
	clock    clock.Clock
	ids      idgen.Generator

	engineRetryAfter time.Duration
}

type Option func(*Service)

// WithEngineRetryAfter sets the wait suggested to callers when the
// correlation engine is unhealthy.
func WithEngineRetryAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.engineRetryAfter = d
		}
	}
}

func NewService(alerts repository.AlertRepository, gate health.Gate, deliverer Deliverer,
	notifier notify.Notifier, clk clock.Clock, ids idgen.Generator, opts ...Option) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clk == nil {
		clk = clock.New()
	}
	if ids == nil {
		ids = idgen.UUID{}
	}
	s := &Service{
		alerts:           alerts,
		gate:             gate,
		deliver:          deliverer,
		notifier:         notifier,
		clock:            clk,
		ids:              ids,
		engineRetryAfter: defaultEngineRetryAfter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// checkEngine refuses the command unless the correlation engine is healthy.
func (s *Service) checkEngine(ctx context.Context, op string) error {
	st := s.gate.IsHealthy(ctx)
	if st.Healthy {
		return nil
	}
	msg := "correlation engine unavailable"
	if st.Reason != "" {
		msg += ": " + st.Reason
	}
	logging.FromContext(ctx).Warn("refusing command while correlation engine is unhealthy", "op", op, "reason", st.Reason)
	return apperr.Unavailable(apperr.KindEngineUnavailable, op, msg, s.engineRetryAfter)
}

func (s *Service) load(ctx context.Context, op, id string) (*models.Alert, error) {
	a, err := s.alerts.GetAlert(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, op, "alert "+id+" not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	return a, nil
}

// persistable returns an error if ctx is done; past this point a write may land.
func persistable(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindInternal, op, fmt.Errorf("command cancelled before persist: %w", err))
	}
	return nil
}

func (s *Service) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return s.load(ctx, "get alert", id)
}

func (s *Service) publishStatus(ctx context.Context, a *models.Alert) {
	s.notifier.Notify(ctx, notify.Event{
		Type:    notify.EventStatusChanged,
		AlertID: a.ID(),
		Status:  string(a.Status()),
		At:      a.UpdatedAt(),
		Data: map[string]any{
			"delivery_status": string(a.DeliveryStatus()),
		},
	})
}
