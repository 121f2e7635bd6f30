package models

import (
	"strings"
	"testing"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/apperr"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAlert(t *testing.T, expiresIn time.Duration) *Alert {
	t.Helper()
	a, err := NewAlert(NewAlertParams{
		ID:          "alert-1",
		Headline:    "Flash flood warning",
		Description: "Move to higher ground immediately.",
		Severity:    SeveritySevere,
		Channel:     ChannelGovernment,
		ExpiresAt:   testNow.Add(expiresIn),
		CreatedBy:   "operator-7",
	}, testNow)
	if err != nil {
		t.Fatalf("NewAlert failed: %v", err)
	}
	return a
}

func TestNewAlert_Defaults(t *testing.T) {
	a := newTestAlert(t, 2*time.Hour)

	if a.Status() != StatusPendingApproval {
		t.Errorf("expected status PendingApproval, got %s", a.Status())
	}
	if a.DeliveryStatus() != DeliveryPending {
		t.Errorf("expected delivery status Pending, got %s", a.DeliveryStatus())
	}
	if !a.CreatedAt().Equal(testNow) || !a.UpdatedAt().Equal(testNow) {
		t.Errorf("expected createdAt=updatedAt=now, got %v / %v", a.CreatedAt(), a.UpdatedAt())
	}
	if a.LanguageCode() != DefaultLanguageCode {
		t.Errorf("expected default language %q, got %q", DefaultLanguageCode, a.LanguageCode())
	}
	if a.SentAt() != nil {
		t.Error("expected sentAt to be unset")
	}
}

func TestNewAlert_Validation(t *testing.T) {
	base := NewAlertParams{
		ID:          "a",
		Headline:    "h",
		Description: "d",
		Severity:    SeverityMinor,
		Channel:     ChannelTest,
		ExpiresAt:   testNow.Add(time.Hour),
		CreatedBy:   "me",
	}

	tests := []struct {
		name   string
		modify func(p *NewAlertParams)
		kind   apperr.Kind
		field  string
	}{
		{"empty headline", func(p *NewAlertParams) { p.Headline = "  " }, apperr.KindInvalidHeadline, "headline"},
		{"long headline", func(p *NewAlertParams) { p.Headline = strings.Repeat("x", 101) }, apperr.KindInvalidHeadline, "headline"},
		{"empty description", func(p *NewAlertParams) { p.Description = "" }, apperr.KindInvalidDescription, "description"},
		{"long description", func(p *NewAlertParams) { p.Description = strings.Repeat("x", 1396) }, apperr.KindInvalidDescription, "description"},
		{"expiry now", func(p *NewAlertParams) { p.ExpiresAt = testNow }, apperr.KindInvalidArgument, "expiresAt"},
		{"expiry past", func(p *NewAlertParams) { p.ExpiresAt = testNow.Add(-time.Second) }, apperr.KindInvalidArgument, "expiresAt"},
		{"no creator", func(p *NewAlertParams) { p.CreatedBy = "" }, apperr.KindInvalidArgument, "createdBy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.modify(&p)
			_, err := NewAlert(p, testNow)
			if !apperr.Is(err, tt.kind) {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
			e := err.(*apperr.Error)
			if e.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, e.Field)
			}
		})
	}

	// Boundary lengths are accepted.
	p := base
	p.Headline = strings.Repeat("h", 100)
	p.Description = strings.Repeat("d", 1395)
	if _, err := NewAlert(p, testNow); err != nil {
		t.Errorf("expected max-length input to be accepted, got %v", err)
	}
}

func TestAlert_Approve(t *testing.T) {
	a := newTestAlert(t, 2*time.Hour)
	later := testNow.Add(time.Minute)

	if err := a.Approve("approver-1", later); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if a.Status() != StatusApproved {
		t.Errorf("expected Approved, got %s", a.Status())
	}
	if a.SentAt() == nil || !a.SentAt().Equal(later) {
		t.Errorf("expected sentAt %v, got %v", later, a.SentAt())
	}
	if !a.UpdatedAt().Equal(later) {
		t.Errorf("expected updatedAt %v, got %v", later, a.UpdatedAt())
	}
	rec := a.Approval()
	if rec == nil || rec.Decision != DecisionApproved || rec.ApproverID != "approver-1" {
		t.Errorf("unexpected approval record: %+v", rec)
	}
	if !a.IsDeliverable(later) {
		t.Error("expected approved alert to be deliverable")
	}
}

func TestAlert_SecondDecisionConflicts(t *testing.T) {
	t.Run("approve after reject", func(t *testing.T) {
		a := newTestAlert(t, time.Hour)
		if err := a.Reject("r1", "duplicate alert", testNow); err != nil {
			t.Fatalf("Reject failed: %v", err)
		}
		if err := a.Approve("r2", testNow); !apperr.Is(err, apperr.KindConcurrentDecision) {
			t.Errorf("expected concurrent_decision, got %v", err)
		}
	})

	t.Run("reject after approve", func(t *testing.T) {
		a := newTestAlert(t, time.Hour)
		if err := a.Approve("r1", testNow); err != nil {
			t.Fatalf("Approve failed: %v", err)
		}
		if err := a.Reject("r2", "too late", testNow); !apperr.Is(err, apperr.KindConcurrentDecision) {
			t.Errorf("expected concurrent_decision, got %v", err)
		}
		if a.Approval().Decision != DecisionApproved {
			t.Error("first decision must not be overwritten")
		}
	})
}

func TestAlert_RejectRequiresReason(t *testing.T) {
	a := newTestAlert(t, time.Hour)
	if err := a.Reject("r1", "   ", testNow); !apperr.Is(err, apperr.KindInvalidArgument) {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
	if a.Status() != StatusPendingApproval || a.HasDecision() {
		t.Error("failed reject must not change the alert")
	}
}

func TestAlert_DecideAfterExpiry(t *testing.T) {
	a := newTestAlert(t, time.Minute)
	past := testNow.Add(2 * time.Minute)

	if a.CanApprove(past) {
		t.Error("expected CanApprove to be false after expiry")
	}
	if err := a.Approve("r1", past); !apperr.Is(err, apperr.KindInvalidOperation) {
		t.Errorf("expected invalid_operation on approve, got %v", err)
	}
	if err := a.Reject("r1", "late", past); !apperr.Is(err, apperr.KindInvalidOperation) {
		t.Errorf("expected invalid_operation on reject, got %v", err)
	}

	// Exactly at expiry is still decidable.
	if !a.CanApprove(testNow.Add(time.Minute)) {
		t.Error("expected CanApprove at expiresAt")
	}
}

func TestAlert_Cancel(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(a *Alert)
		wantErr bool
	}{
		{"pending", func(a *Alert) {}, true},
		{"approved", func(a *Alert) { _ = a.Approve("r", testNow) }, false},
		{"delivered", func(a *Alert) {
			_ = a.Approve("r", testNow)
			_ = a.UpdateDeliveryStatus(DeliveryDelivered, testNow)
		}, false},
		{"rejected", func(a *Alert) { _ = a.Reject("r", "no", testNow) }, true},
		{"cancelled", func(a *Alert) {
			_ = a.Approve("r", testNow)
			_ = a.Cancel(testNow)
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAlert(t, time.Hour)
			tt.prepare(a)
			err := a.Cancel(testNow.Add(time.Second))
			if tt.wantErr {
				if !apperr.Is(err, apperr.KindInvalidOperation) {
					t.Errorf("expected invalid_operation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Cancel failed: %v", err)
			}
			if a.Status() != StatusCancelled {
				t.Errorf("expected Cancelled, got %s", a.Status())
			}
		})
	}
}

func TestAlert_CancelIgnoresExpiry(t *testing.T) {
	a := newTestAlert(t, time.Minute)
	if err := a.Approve("r", testNow); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if err := a.Cancel(testNow.Add(time.Hour)); err != nil {
		t.Errorf("expected cancel of expired approved alert to succeed, got %v", err)
	}
}

func TestAlert_UpdateDeliveryStatus(t *testing.T) {
	a := newTestAlert(t, time.Hour)
	_ = a.Approve("r", testNow)

	if err := a.UpdateDeliveryStatus(DeliveryFailed, testNow); err != nil {
		t.Fatalf("UpdateDeliveryStatus failed: %v", err)
	}
	if a.Status() != StatusApproved || a.DeliveryStatus() != DeliveryFailed {
		t.Errorf("expected Approved/Failed, got %s/%s", a.Status(), a.DeliveryStatus())
	}

	if err := a.UpdateDeliveryStatus(DeliveryDelivered, testNow); err != nil {
		t.Fatalf("UpdateDeliveryStatus failed: %v", err)
	}
	if a.Status() != StatusDelivered || a.DeliveryStatus() != DeliveryDelivered {
		t.Errorf("expected Delivered/Delivered, got %s/%s", a.Status(), a.DeliveryStatus())
	}

	if err := a.UpdateDeliveryStatus("Lost", testNow); !apperr.Is(err, apperr.KindInvalidArgument) {
		t.Errorf("expected invalid_argument for unknown status, got %v", err)
	}
}

func TestAlert_MarkExpiredIfNeeded(t *testing.T) {
	a := newTestAlert(t, time.Minute)
	if a.MarkExpiredIfNeeded(testNow.Add(2 * time.Minute)) {
		t.Error("pending alerts are not demoted by the sweep")
	}

	_ = a.Approve("r", testNow)
	if a.MarkExpiredIfNeeded(testNow.Add(30 * time.Second)) {
		t.Error("alert should not expire before expiresAt")
	}
	if !a.MarkExpiredIfNeeded(testNow.Add(2 * time.Minute)) {
		t.Fatal("expected approved alert to expire")
	}
	if a.Status() != StatusExpired {
		t.Errorf("expected Expired, got %s", a.Status())
	}
	if err := a.Cancel(testNow.Add(3 * time.Minute)); !apperr.Is(err, apperr.KindInvalidOperation) {
		t.Errorf("expired is terminal, got %v", err)
	}
}

func TestAlert_EffectiveStatus(t *testing.T) {
	a := newTestAlert(t, time.Minute)
	justPast := testNow.Add(time.Minute + time.Second)

	if got := a.EffectiveStatus(justPast); got != StatusExpired {
		t.Errorf("expected effective Expired, got %s", got)
	}
	if a.Status() != StatusPendingApproval {
		t.Errorf("stored status must stay PendingApproval, got %s", a.Status())
	}

	_ = a.Reject("r", "no", testNow)
	if got := a.EffectiveStatus(justPast); got != StatusRejected {
		t.Errorf("terminal statuses are not overlaid, got %s", got)
	}
}

func TestCanTransition(t *testing.T) {
	for _, terminal := range []Status{StatusRejected, StatusCancelled, StatusExpired} {
		for _, to := range Statuses {
			if CanTransition(terminal, to) {
				t.Errorf("unexpected transition %s -> %s", terminal, to)
			}
		}
	}
	if !CanTransition(StatusDelivered, StatusExpired) {
		t.Error("expected Delivered -> Expired")
	}
	if CanTransition(StatusPendingApproval, StatusCancelled) {
		t.Error("pending alerts cannot be cancelled")
	}
}

func TestAlert_SnapshotRoundTrip(t *testing.T) {
	area, err := NewArea("area-1", "Downtown", "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))", 0)
	if err != nil {
		t.Fatalf("NewArea failed: %v", err)
	}
	a, err := NewAlert(NewAlertParams{
		ID:          "alert-2",
		Headline:    "h",
		Description: "d",
		Severity:    SeverityExtreme,
		Channel:     ChannelSms,
		ExpiresAt:   testNow.Add(time.Hour),
		CreatedBy:   "me",
		Areas:       []Area{area},
	}, testNow)
	if err != nil {
		t.Fatalf("NewAlert failed: %v", err)
	}
	_ = a.Approve("r", testNow)
	a.SetVersion(4)

	b := RestoreAlert(a.Snapshot())
	if b.Status() != StatusApproved || b.Version() != 4 || b.Approval() == nil {
		t.Errorf("restored alert differs: %+v", b.Snapshot())
	}
	if len(b.Areas()) != 1 || b.Areas()[0].AlertID != "alert-2" {
		t.Errorf("expected area attached to alert-2, got %+v", b.Areas())
	}

	// Mutating the snapshot must not leak into the aggregate.
	s := b.Snapshot()
	s.Areas[0].Description = "changed"
	if b.Areas()[0].Description != "Downtown" {
		t.Error("snapshot shares area storage with aggregate")
	}
}
