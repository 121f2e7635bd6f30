// Package monitor runs the periodic upkeep of the alert store: expiring live
// alerts, retrying failed deliveries and announcing overdue alerts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mr1hm/go-emergency-alerts/internal/dashboard"
	"github.com/mr1hm/go-emergency-alerts/internal/delivery"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/notify"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

// Retrier is the part of delivery.Dispatcher the monitor needs.
type Retrier interface {
	Retry(ctx context.Context, alert *models.Alert) (delivery.Result, error)
}

type Config struct {
	Interval        time.Duration
	SLAThreshold    time.Duration
	ApprovalTimeout time.Duration
}

type Monitor struct {
	alerts   repository.AlertRepository
	retrier  Retrier
	notifier notify.Notifier
	clock    clock.Clock
	cfg      Config
	logger   *slog.Logger

	mu        sync.Mutex
	announced map[notify.EventType]map[string]struct{}
}

func New(alerts repository.AlertRepository, retrier Retrier, notifier notify.Notifier, clk clock.Clock, cfg Config) *Monitor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Monitor{
		alerts:   alerts,
		retrier:  retrier,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		logger:   slog.Default().With("component", "monitor"),
		announced: map[notify.EventType]map[string]struct{}{
			notify.EventSLABreach:       {},
			notify.EventApprovalTimeout: {},
		},
	}
}

// Run calls Tick every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("monitor started", "interval", m.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("monitor tick failed", "error", err)
			}
		}
	}
}

// Tick runs one pass. The three steps are independent; a failing step does
// not stop the others.
func (m *Monitor) Tick(ctx context.Context) error {
	return errors.Join(
		m.expire(ctx),
		m.retryDeliveries(ctx),
		m.announceOverdue(ctx),
	)
}

// expire persists the Expired status of live alerts past their expiry.
// Alerts that changed under us are left for the next tick.
func (m *Monitor) expire(ctx context.Context) error {
	alerts, err := m.alerts.ListAlertsByStatus(ctx, models.StatusApproved, models.StatusDelivered)
	if err != nil {
		return fmt.Errorf("error listing live alerts: %w", err)
	}

	now := m.clock.Now()
	var expired int
	for _, a := range alerts {
		if !a.MarkExpiredIfNeeded(now) {
			continue
		}
		if err := m.alerts.UpdateAlert(ctx, a); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, repository.ErrNotFound) {
				m.logger.Debug("skipping expiry of changed alert", "alert_id", a.ID(), "error", err)
				continue
			}
			return fmt.Errorf("error expiring alert %s: %w", a.ID(), err)
		}
		expired++
		m.publishStatus(ctx, a)
	}

	if expired > 0 {
		m.logger.Info("expired alerts", "count", expired)
	}
	return nil
}

// retryDeliveries gives approved alerts whose delivery failed another try,
// as long as they have not expired.
func (m *Monitor) retryDeliveries(ctx context.Context) error {
	if m.retrier == nil {
		return nil
	}
	alerts, err := m.alerts.ListAlertsByStatus(ctx, models.StatusApproved)
	if err != nil {
		return fmt.Errorf("error listing approved alerts: %w", err)
	}

	for _, a := range alerts {
		if a.DeliveryStatus() != models.DeliveryFailed || a.HasExpired(m.clock.Now()) {
			continue
		}

		res, err := m.retrier.Retry(ctx, a)
		if err != nil {
			m.logger.Error("delivery retry failed", "alert_id", a.ID(), "error", err)
			continue
		}
		if !res.Success {
			if len(res.Attempts) > 0 {
				m.logger.Warn("delivery retry incomplete", "alert_id", a.ID(), "attempts", len(res.Attempts), "error", res.Error)
			}
			continue
		}

		if err := a.UpdateDeliveryStatus(models.DeliveryDelivered, m.clock.Now()); err != nil {
			m.logger.Warn("could not record delivery status", "alert_id", a.ID(), "error", err)
			continue
		}
		if err := m.alerts.UpdateAlert(ctx, a); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return fmt.Errorf("error recording delivery of %s: %w", a.ID(), err)
		}
		m.logger.Info("alert delivered on retry", "alert_id", a.ID(), "attempts", len(res.Attempts))
		m.publishStatus(ctx, a)
	}
	return nil
}

// announceOverdue notifies each SLA breach and approval timeout once.
func (m *Monitor) announceOverdue(ctx context.Context) error {
	alerts, err := m.alerts.ListAlertsByStatus(ctx, models.StatusPendingApproval, models.StatusApproved)
	if err != nil {
		return fmt.Errorf("error listing open alerts: %w", err)
	}

	now := m.clock.Now()
	m.announce(ctx, now, notify.EventSLABreach, dashboard.SLABreaches(now, alerts, m.cfg.SLAThreshold))
	m.announce(ctx, now, notify.EventApprovalTimeout, dashboard.ApprovalTimeouts(now, alerts, m.cfg.ApprovalTimeout))
	return nil
}

func (m *Monitor) announce(ctx context.Context, now time.Time, typ notify.EventType, items []dashboard.OverdueAlert) {
	m.mu.Lock()
	seen := m.announced[typ]
	current := make(map[string]struct{}, len(items))
	var fresh []dashboard.OverdueAlert
	for _, it := range items {
		current[it.AlertID] = struct{}{}
		if _, ok := seen[it.AlertID]; !ok {
			fresh = append(fresh, it)
		}
	}
	// Alerts that left the condition are forgotten.
	m.announced[typ] = current
	m.mu.Unlock()

	for _, it := range fresh {
		m.logger.Warn("alert overdue", "type", typ, "alert_id", it.AlertID, "elapsed", it.Elapsed)
		m.notifier.Notify(ctx, notify.Event{
			Type:    typ,
			AlertID: it.AlertID,
			At:      now.UTC(),
			Data: map[string]any{
				"headline":        it.Headline,
				"severity":        string(it.Severity),
				"since":           it.Since,
				"elapsed_seconds": int64(it.Elapsed / time.Second),
			},
		})
	}
}

func (m *Monitor) publishStatus(ctx context.Context, a *models.Alert) {
	m.notifier.Notify(ctx, notify.Event{
		Type:    notify.EventStatusChanged,
		AlertID: a.ID(),
		Status:  string(a.Status()),
		At:      a.UpdatedAt(),
		Data: map[string]any{
			"delivery_status": string(a.DeliveryStatus()),
		},
	})
}
