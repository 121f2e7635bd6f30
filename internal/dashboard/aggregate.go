// Package dashboard derives the operator dashboard from a snapshot of
// alerts, delivery attempts and correlation events. Nothing here mutates
// state; every figure is recomputed against the time of the request.
package dashboard

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

type Thresholds struct {
	// ApprovalTimeout is how long an alert may wait for a decision.
	ApprovalTimeout time.Duration
	// SLAThreshold is how long an approved alert may wait for delivery.
	SLAThreshold      time.Duration
	SuccessRateWindow time.Duration
	ListLimit         int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ApprovalTimeout:   5 * time.Minute,
		SLAThreshold:      60 * time.Second,
		SuccessRateWindow: time.Hour,
		ListLimit:         10,
	}
}

type Snapshot struct {
	Alerts       []*models.Alert
	Attempts     []models.DeliveryAttempt
	Correlations []models.CorrelationEvent
}

// OverdueAlert is an alert that has waited longer than a threshold.
type OverdueAlert struct {
	AlertID  string
	Headline string
	Severity models.Severity
	Since    time.Time
	Elapsed  time.Duration
}

type CorrelationItem struct {
	ID         string
	Type       string
	Severity   string
	AlertIDs   []string
	DetectedAt time.Time
	// Metadata is nil when the engine sent none or sent something unparsable.
	Metadata map[string]any
}

type Summary struct {
	GeneratedAt      time.Time
	StatusCounts     map[models.Status]int
	Total            int
	ApprovalTimeouts []OverdueAlert
	SLABreaches      []OverdueAlert
	// DeliverySuccessRate is a percentage rounded to two places, nil when
	// there were no attempts in the window.
	DeliverySuccessRate *decimal.Decimal
	DeliveryAttempts    int
	Correlations        []CorrelationItem
}

// Summarize computes the dashboard for now.
func Summarize(now time.Time, snap Snapshot, th Thresholds) Summary {
	s := Summary{
		GeneratedAt:  now,
		StatusCounts: StatusCounts(now, snap.Alerts),
		Total:        len(snap.Alerts),
	}
	s.ApprovalTimeouts = limit(ApprovalTimeouts(now, snap.Alerts, th.ApprovalTimeout), th.ListLimit)
	s.SLABreaches = limit(SLABreaches(now, snap.Alerts, th.SLAThreshold), th.ListLimit)
	s.DeliverySuccessRate, s.DeliveryAttempts = SuccessRate(now, snap.Attempts, th.SuccessRateWindow)
	s.Correlations = CorrelationFeed(snap.Correlations, th.ListLimit)
	return s
}

// StatusCounts tallies effective status. Every status is present, zero or not.
func StatusCounts(now time.Time, alerts []*models.Alert) map[models.Status]int {
	counts := make(map[models.Status]int, len(models.Statuses))
	for _, st := range models.Statuses {
		counts[st] = 0
	}
	for _, a := range alerts {
		counts[a.EffectiveStatus(now)]++
	}
	return counts
}

// ApprovalTimeouts lists undecided, unexpired alerts older than threshold,
// longest waiting first.
func ApprovalTimeouts(now time.Time, alerts []*models.Alert, threshold time.Duration) []OverdueAlert {
	var out []OverdueAlert
	for _, a := range alerts {
		if a.Status() != models.StatusPendingApproval || a.HasExpired(now) {
			continue
		}
		if elapsed := now.Sub(a.CreatedAt()); elapsed > threshold {
			out = append(out, overdue(a, a.CreatedAt(), elapsed))
		}
	}
	sortByElapsed(out)
	return out
}

// SLABreaches lists approved alerts still pending delivery more than
// threshold after they were sent, longest waiting first.
func SLABreaches(now time.Time, alerts []*models.Alert, threshold time.Duration) []OverdueAlert {
	var out []OverdueAlert
	for _, a := range alerts {
		if a.Status() != models.StatusApproved || a.DeliveryStatus() != models.DeliveryPending {
			continue
		}
		sent := a.SentAt()
		if sent == nil {
			continue
		}
		if elapsed := now.Sub(*sent); elapsed > threshold {
			out = append(out, overdue(a, *sent, elapsed))
		}
	}
	sortByElapsed(out)
	return out
}

// SuccessRate is successes over all attempts made in the trailing window,
// as a percentage. It returns nil when there were no attempts.
func SuccessRate(now time.Time, attempts []models.DeliveryAttempt, window time.Duration) (*decimal.Decimal, int) {
	cutoff := now.Add(-window)
	total, success := 0, 0
	for _, a := range attempts {
		if a.AttemptedAt.Before(cutoff) || a.AttemptedAt.After(now) {
			continue
		}
		total++
		if a.Status == models.AttemptSuccess {
			success++
		}
	}
	if total == 0 {
		return nil, 0
	}
	rate := decimal.NewFromInt(int64(success)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(2)
	return &rate, total
}

// CorrelationFeed returns unresolved events newest first.
func CorrelationFeed(events []models.CorrelationEvent, n int) []CorrelationItem {
	active := make([]models.CorrelationEvent, 0, len(events))
	for _, e := range events {
		if e.IsActive() {
			active = append(active, e)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].DetectedAt.After(active[j].DetectedAt)
	})
	if n > 0 && len(active) > n {
		active = active[:n]
	}

	items := make([]CorrelationItem, len(active))
	for i, e := range active {
		items[i] = CorrelationItem{
			ID:         e.ID,
			Type:       e.Type,
			Severity:   e.Severity,
			AlertIDs:   append([]string(nil), e.AlertIDs...),
			DetectedAt: e.DetectedAt,
			Metadata:   e.ParsedMetadata(),
		}
	}
	return items
}

func overdue(a *models.Alert, since time.Time, elapsed time.Duration) OverdueAlert {
	return OverdueAlert{
		AlertID:  a.ID(),
		Headline: a.Headline(),
		Severity: a.Severity(),
		Since:    since,
		Elapsed:  elapsed,
	}
}

func sortByElapsed(items []OverdueAlert) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Elapsed > items[j].Elapsed
	})
}

func limit(items []OverdueAlert, n int) []OverdueAlert {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
