package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-emergency-alerts/internal/delivery"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/notify"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubRetrier struct {
	calls  atomic.Int32
	result delivery.Result
	err    error
}

func (r *stubRetrier) Retry(ctx context.Context, a *models.Alert) (delivery.Result, error) {
	r.calls.Add(1)
	if len(a.Areas()) == 0 {
		return delivery.Result{}, errors.New("retry got an alert without areas")
	}
	return r.result, r.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) ofType(typ notify.EventType) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, e := range n.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	db       *repository.SQLiteDB
	clock    *clock.Mock
	retrier  *stubRetrier
	notifier *recordingNotifier
	mon      *Monitor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.NewMock()
	clk.Set(testNow)
	f := &fixture{
		db:       db,
		clock:    clk,
		retrier:  &stubRetrier{result: delivery.Result{Success: true}},
		notifier: &recordingNotifier{},
	}
	f.mon = New(db, f.retrier, f.notifier, clk, Config{
		Interval:        15 * time.Second,
		SLAThreshold:    time.Minute,
		ApprovalTimeout: 5 * time.Minute,
	})
	return f
}

// store creates an alert at createdAt expiring after ttl, runs mutate on it
// and saves it.
func (f *fixture) store(t *testing.T, id string, createdAt time.Time, ttl time.Duration, mutate func(*models.Alert)) {
	t.Helper()
	area, err := models.NewArea(id+"-area", "Harbor", "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))", 0)
	if err != nil {
		t.Fatalf("NewArea failed: %v", err)
	}
	a, err := models.NewAlert(models.NewAlertParams{
		ID:          id,
		Headline:    "Alert " + id,
		Description: "Details",
		Severity:    models.SeveritySevere,
		Channel:     models.ChannelOperator,
		ExpiresAt:   createdAt.Add(ttl),
		CreatedBy:   "operator",
		Areas:       []models.Area{area},
	}, createdAt)
	if err != nil {
		t.Fatalf("NewAlert failed: %v", err)
	}
	if mutate != nil {
		mutate(a)
	}
	if err := f.db.CreateAlert(context.Background(), a); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}
}

func (f *fixture) get(t *testing.T, id string) *models.Alert {
	t.Helper()
	a, err := f.db.GetAlert(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	return a
}

func approveAt(t *testing.T, at time.Time) func(*models.Alert) {
	return func(a *models.Alert) {
		if err := a.Approve("approver", at); err != nil {
			t.Fatalf("Approve failed: %v", err)
		}
	}
}

func TestTick_ExpiresLiveAlerts(t *testing.T) {
	f := setup(t)
	created := testNow.Add(-2 * time.Hour)
	f.store(t, "past", created, time.Hour, func(a *models.Alert) {
		approveAt(t, created.Add(time.Minute))(a)
		if err := a.UpdateDeliveryStatus(models.DeliveryDelivered, created.Add(2*time.Minute)); err != nil {
			t.Fatalf("UpdateDeliveryStatus failed: %v", err)
		}
	})
	f.store(t, "live", created, 3*time.Hour, approveAt(t, created.Add(time.Minute)))
	f.store(t, "pending", created, time.Hour, nil)

	if err := f.mon.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	if got := f.get(t, "past").Status(); got != models.StatusExpired {
		t.Errorf("expected past to be expired, got %s", got)
	}
	if got := f.get(t, "live").Status(); got != models.StatusApproved {
		t.Errorf("expected live to stay approved, got %s", got)
	}
	// Pending alerts past expiry are only expired on read.
	if got := f.get(t, "pending").Status(); got != models.StatusPendingApproval {
		t.Errorf("expected pending to keep its stored status, got %s", got)
	}

	events := f.notifier.ofType(notify.EventStatusChanged)
	if len(events) != 1 || events[0].AlertID != "past" || events[0].Status != string(models.StatusExpired) {
		t.Errorf("expected one expired event for past, got %+v", events)
	}
}

func TestTick_RetriesFailedDeliveries(t *testing.T) {
	f := setup(t)
	created := testNow.Add(-10 * time.Minute)
	failed := func(a *models.Alert) {
		approveAt(t, created.Add(time.Minute))(a)
		if err := a.UpdateDeliveryStatus(models.DeliveryFailed, created.Add(2*time.Minute)); err != nil {
			t.Fatalf("UpdateDeliveryStatus failed: %v", err)
		}
	}
	f.store(t, "failed", created, time.Hour, failed)
	f.store(t, "pending-delivery", created, time.Hour, approveAt(t, created.Add(time.Minute)))

	if err := f.mon.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	if f.retrier.calls.Load() != 1 {
		t.Fatalf("expected 1 retry, got %d", f.retrier.calls.Load())
	}
	a := f.get(t, "failed")
	if a.Status() != models.StatusDelivered || a.DeliveryStatus() != models.DeliveryDelivered {
		t.Errorf("expected delivered after retry, got %s/%s", a.Status(), a.DeliveryStatus())
	}
}

func TestTick_IncompleteRetryKeepsFailed(t *testing.T) {
	f := setup(t)
	f.retrier.result = delivery.Result{Success: false, Error: "mailbox full"}
	created := testNow.Add(-10 * time.Minute)
	f.store(t, "failed", created, time.Hour, func(a *models.Alert) {
		approveAt(t, created.Add(time.Minute))(a)
		if err := a.UpdateDeliveryStatus(models.DeliveryFailed, created.Add(2*time.Minute)); err != nil {
			t.Fatalf("UpdateDeliveryStatus failed: %v", err)
		}
	})

	if err := f.mon.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	if got := f.get(t, "failed").DeliveryStatus(); got != models.DeliveryFailed {
		t.Errorf("expected delivery to stay failed, got %s", got)
	}
	if n := len(f.notifier.ofType(notify.EventStatusChanged)); n != 0 {
		t.Errorf("expected no status events, got %d", n)
	}
}

func TestTick_AnnouncesOverdueOnce(t *testing.T) {
	f := setup(t)
	f.store(t, "waiting", testNow.Add(-10*time.Minute), time.Hour, nil)
	f.store(t, "fresh", testNow.Add(-time.Minute), time.Hour, nil)
	f.store(t, "undelivered", testNow.Add(-5*time.Minute), time.Hour, approveAt(t, testNow.Add(-2*time.Minute)))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := f.mon.Tick(ctx); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		f.clock.Add(15 * time.Second)
	}

	timeouts := f.notifier.ofType(notify.EventApprovalTimeout)
	if len(timeouts) != 1 || timeouts[0].AlertID != "waiting" {
		t.Errorf("expected one approval timeout for waiting, got %+v", timeouts)
	}
	breaches := f.notifier.ofType(notify.EventSLABreach)
	if len(breaches) != 1 || breaches[0].AlertID != "undelivered" {
		t.Errorf("expected one SLA breach for undelivered, got %+v", breaches)
	}
	if breaches[0].Data["elapsed_seconds"] != int64(120) {
		t.Errorf("expected 120s elapsed, got %v", breaches[0].Data["elapsed_seconds"])
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	f := setup(t)
	f.store(t, "waiting", testNow.Add(-10*time.Minute), time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.mon.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(f.notifier.ofType(notify.EventApprovalTimeout)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a tick")
		}
		f.clock.Add(15 * time.Second)
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
