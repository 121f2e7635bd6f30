package dashboard

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/go-emergency-alerts/internal/logging"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

// correlationFetchLimit bounds how many unresolved events are read per
// request; the feed only shows the newest few.
const correlationFetchLimit = 100

type Service struct {
	alerts       repository.AlertRepository
	attempts     repository.DeliveryRepository
	correlations repository.CorrelationRepository
	clock        clock.Clock
	thresholds   Thresholds
}

func NewService(alerts repository.AlertRepository, attempts repository.DeliveryRepository,
	correlations repository.CorrelationRepository, clk clock.Clock, th Thresholds) *Service {
	return &Service{
		alerts:       alerts,
		attempts:     attempts,
		correlations: correlations,
		clock:        clk,
		thresholds:   th,
	}
}

// Summary loads a snapshot and summarizes it. The correlation feed is best
// effort: if it cannot be loaded the rest of the dashboard is still returned.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	now := s.clock.Now()
	var snap Snapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		alerts, err := s.alerts.AllAlerts(gctx)
		if err != nil {
			return fmt.Errorf("error loading alerts: %w", err)
		}
		snap.Alerts = alerts
		return nil
	})
	g.Go(func() error {
		attempts, err := s.attempts.AttemptsSince(gctx, now.Add(-s.thresholds.SuccessRateWindow))
		if err != nil {
			return fmt.Errorf("error loading delivery attempts: %w", err)
		}
		snap.Attempts = attempts
		return nil
	})
	g.Go(func() error {
		events, err := s.correlations.ListUnresolvedCorrelationEvents(gctx, correlationFetchLimit)
		if err != nil {
			logging.FromContext(ctx).Warn("correlation feed unavailable", "error", err)
			return nil
		}
		snap.Correlations = events
		return nil
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	return Summarize(now, snap, s.thresholds), nil
}
