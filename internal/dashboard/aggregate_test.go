package dashboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mr1hm/go-emergency-alerts/internal/logging"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pending(t *testing.T, id string, createdAt time.Time, expiresIn time.Duration) *models.Alert {
	t.Helper()
	area, err := models.NewArea(id+"-area", "Harbor", "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))", 0)
	if err != nil {
		t.Fatalf("NewArea failed: %v", err)
	}
	a, err := models.NewAlert(models.NewAlertParams{
		ID:          id,
		Headline:    "Alert " + id,
		Description: "Details",
		Severity:    models.SeverityModerate,
		Channel:     models.ChannelOperator,
		ExpiresAt:   createdAt.Add(expiresIn),
		CreatedBy:   "operator",
		Areas:       []models.Area{area},
	}, createdAt)
	if err != nil {
		t.Fatalf("NewAlert failed: %v", err)
	}
	return a
}

func approved(t *testing.T, id string, sentAt time.Time) *models.Alert {
	t.Helper()
	a := pending(t, id, sentAt.Add(-time.Minute), 3*time.Hour)
	if err := a.Approve("approver", sentAt); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	return a
}

func TestStatusCounts_EffectiveStatusOverlay(t *testing.T) {
	justExpired := pending(t, "a1", testNow.Add(-time.Hour), time.Hour-time.Second)
	live := pending(t, "a2", testNow, time.Hour)

	counts := StatusCounts(testNow, []*models.Alert{justExpired, live})

	if counts[models.StatusExpired] != 1 || counts[models.StatusPendingApproval] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
	if justExpired.Status() != models.StatusPendingApproval {
		t.Error("overlay must not change the stored status")
	}
	if _, ok := counts[models.StatusCancelled]; !ok {
		t.Error("every status should be present in the tally")
	}
}

func TestApprovalTimeouts(t *testing.T) {
	var alerts []*models.Alert
	for i := 0; i < 12; i++ {
		// Waiting 6..17 minutes.
		alerts = append(alerts, pending(t, fmt.Sprintf("old-%02d", i), testNow.Add(-time.Duration(6+i)*time.Minute), time.Hour))
	}
	alerts = append(alerts,
		pending(t, "fresh", testNow.Add(-5*time.Minute), time.Hour),
		pending(t, "expired", testNow.Add(-30*time.Minute), 10*time.Minute),
		approved(t, "decided", testNow.Add(-time.Hour)),
	)

	all := ApprovalTimeouts(testNow, alerts, 5*time.Minute)
	if len(all) != 12 {
		t.Fatalf("expected 12 timed out alerts, got %d", len(all))
	}
	if all[0].AlertID != "old-11" || all[0].Elapsed != 17*time.Minute {
		t.Errorf("expected longest wait first, got %+v", all[0])
	}

	s := Summarize(testNow, Snapshot{Alerts: alerts}, DefaultThresholds())
	if len(s.ApprovalTimeouts) != 10 {
		t.Errorf("expected top 10, got %d", len(s.ApprovalTimeouts))
	}
}

func TestSLABreaches(t *testing.T) {
	late := approved(t, "late", testNow.Add(-90*time.Second))
	later := approved(t, "later", testNow.Add(-5*time.Minute))
	onTime := approved(t, "on-time", testNow.Add(-60*time.Second))

	delivered := approved(t, "delivered", testNow.Add(-10*time.Minute))
	if err := delivered.UpdateDeliveryStatus(models.DeliveryDelivered, testNow); err != nil {
		t.Fatalf("UpdateDeliveryStatus failed: %v", err)
	}
	failed := approved(t, "failed", testNow.Add(-10*time.Minute))
	if err := failed.UpdateDeliveryStatus(models.DeliveryFailed, testNow); err != nil {
		t.Fatalf("UpdateDeliveryStatus failed: %v", err)
	}

	got := SLABreaches(testNow, []*models.Alert{late, later, onTime, delivered, failed}, 60*time.Second)
	if len(got) != 2 {
		t.Fatalf("expected 2 breaches, got %+v", got)
	}
	if got[0].AlertID != "later" || got[1].AlertID != "late" {
		t.Errorf("expected later then late, got %s then %s", got[0].AlertID, got[1].AlertID)
	}
}

func TestSuccessRate(t *testing.T) {
	if rate, n := SuccessRate(testNow, nil, time.Hour); rate != nil || n != 0 {
		t.Errorf("expected nil rate without attempts, got %v/%d", rate, n)
	}

	attempt := func(status models.AttemptStatus, ago time.Duration) models.DeliveryAttempt {
		return models.DeliveryAttempt{Status: status, AttemptedAt: testNow.Add(-ago)}
	}
	attempts := []models.DeliveryAttempt{
		attempt(models.AttemptSuccess, time.Minute),
		attempt(models.AttemptSuccess, 30*time.Minute),
		attempt(models.AttemptFailed, 59*time.Minute),
		attempt(models.AttemptFailed, 2*time.Hour),
	}

	rate, n := SuccessRate(testNow, attempts, time.Hour)
	if n != 3 {
		t.Fatalf("expected 3 attempts in window, got %d", n)
	}
	if rate == nil || rate.String() != "66.67" {
		t.Errorf("expected 66.67, got %v", rate)
	}

	allFailed := []models.DeliveryAttempt{attempt(models.AttemptFailed, time.Minute)}
	if rate, _ := SuccessRate(testNow, allFailed, time.Hour); rate == nil || !rate.IsZero() {
		t.Errorf("expected 0 (not nil) when all failed, got %v", rate)
	}
}

func TestCorrelationFeed(t *testing.T) {
	resolved := testNow
	events := []models.CorrelationEvent{
		{ID: "old", Type: "cluster", AlertIDs: []string{"a1"}, DetectedAt: testNow.Add(-time.Hour), Metadata: `{"count": 3}`},
		{ID: "new", Type: "hotspot", AlertIDs: []string{"a2", "a3"}, DetectedAt: testNow, Metadata: `{not json`},
		{ID: "done", Type: "escalation", AlertIDs: []string{"a4"}, DetectedAt: testNow, ResolvedAt: &resolved},
	}

	feed := CorrelationFeed(events, 10)
	if len(feed) != 2 {
		t.Fatalf("expected 2 unresolved events, got %d", len(feed))
	}
	if feed[0].ID != "new" || feed[1].ID != "old" {
		t.Errorf("expected newest first, got %s, %s", feed[0].ID, feed[1].ID)
	}
	if feed[0].Metadata != nil {
		t.Error("malformed metadata should be absent")
	}
	if feed[1].Metadata["count"] != float64(3) {
		t.Errorf("expected parsed metadata, got %v", feed[1].Metadata)
	}
}

func TestService_Summary(t *testing.T) {
	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	a := pending(t, "a1", testNow.Add(-10*time.Minute), time.Hour)
	if err := db.CreateAlert(ctx, a); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}
	if err := db.UpsertCorrelationEvent(ctx, &models.CorrelationEvent{
		ID: "c1", Type: "cluster", AlertIDs: []string{"a1"}, DetectedAt: testNow,
	}); err != nil {
		t.Fatalf("UpsertCorrelationEvent failed: %v", err)
	}

	clk := clock.NewMock()
	clk.Set(testNow)
	svc := NewService(db, db, db, clk, DefaultThresholds())

	s, err := svc.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if s.Total != 1 || s.StatusCounts[models.StatusPendingApproval] != 1 {
		t.Errorf("unexpected counts: total=%d %v", s.Total, s.StatusCounts)
	}
	if len(s.ApprovalTimeouts) != 1 {
		t.Errorf("expected 1 approval timeout, got %d", len(s.ApprovalTimeouts))
	}
	if s.DeliverySuccessRate != nil {
		t.Errorf("expected nil success rate, got %v", s.DeliverySuccessRate)
	}
	if len(s.Correlations) != 1 {
		t.Errorf("expected 1 correlation event, got %d", len(s.Correlations))
	}
}

type failingCorrelations struct {
	repository.CorrelationRepository
}

func (failingCorrelations) ListUnresolvedCorrelationEvents(context.Context, int) ([]models.CorrelationEvent, error) {
	return nil, errors.New("no such table: correlation_events")
}

func TestService_SummaryDegradesWithoutCorrelations(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	defer db.Close()

	clk := clock.NewMock()
	clk.Set(testNow)
	svc := NewService(db, db, failingCorrelations{db}, clk, DefaultThresholds())

	ctx := logging.WithCorrelationID(context.Background(), "req-99")
	s, err := svc.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(s.Correlations) != 0 {
		t.Errorf("expected empty correlation feed, got %v", s.Correlations)
	}
	if !strings.Contains(buf.String(), `"correlation_id":"req-99"`) {
		t.Errorf("expected warning tagged with the request's correlation id, got %s", buf.String())
	}
}
