// Package notify pushes alert lifecycle events to dashboards and other
// subscribers. Delivery is best effort: publishing never fails a command.
package notify

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventStatusChanged   EventType = "status_changed"
	EventSLABreach       EventType = "sla_breach"
	EventApprovalTimeout EventType = "approval_timeout"
	EventCorrelation     EventType = "correlation"
)

type Event struct {
	Type    EventType      `json:"type"`
	AlertID string         `json:"alert_id,omitempty"`
	Status  string         `json:"status,omitempty"`
	At      time.Time      `json:"at"`
	Data    map[string]any `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Notifier is what the rest of the service depends on. Failures are logged,
// never returned.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Fanout sends each event to every publisher in the background.
type Fanout struct {
	publishers []Publisher
	timeout    time.Duration
	logger     *slog.Logger
}

func NewFanout(timeout time.Duration, publishers ...Publisher) *Fanout {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Fanout{
		publishers: publishers,
		timeout:    timeout,
		logger:     slog.Default().With("component", "notify"),
	}
}

func (f *Fanout) Notify(ctx context.Context, e Event) {
	// Detach from the request so a finished request does not cancel the push.
	ctx = context.WithoutCancel(ctx)
	for _, p := range f.publishers {
		go func(p Publisher) {
			pctx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			if err := p.Publish(pctx, e); err != nil {
				f.logger.Warn("failed to publish event", "type", e.Type, "alert_id", e.AlertID, "error", err)
			}
		}(p)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
