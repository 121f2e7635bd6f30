package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mr1hm/go-emergency-alerts/internal/apperr"
)

const (
	MaxHeadlineLength = 100
	// MaxDescriptionLength keeps the body within a concatenated SMS.
	MaxDescriptionLength = 1395
	DefaultLanguageCode  = "en"
)

// transitions is the lifecycle state machine. Rejected, Cancelled and
// Expired are terminal.
var transitions = map[Status][]Status{
	StatusDraft:           {StatusPendingApproval},
	StatusPendingApproval: {StatusApproved, StatusRejected},
	StatusApproved:        {StatusDelivered, StatusCancelled, StatusExpired},
	StatusDelivered:       {StatusCancelled, StatusExpired},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Alert is the aggregate root of one emergency alert. Its fields are only
// changed through its methods; persistence goes through AlertSnapshot.
type Alert struct {
	id             string
	headline       string
	description    string
	severity       Severity
	channel        ChannelType
	status         Status
	languageCode   string
	deliveryStatus DeliveryStatus
	createdAt      time.Time
	updatedAt      time.Time
	sentAt         *time.Time
	expiresAt      time.Time
	createdBy      string
	areas          []Area
	approval       *ApprovalRecord
	version        int64
}

type NewAlertParams struct {
	ID           string
	Headline     string
	Description  string
	Severity     Severity
	Channel      ChannelType
	ExpiresAt    time.Time
	CreatedBy    string
	LanguageCode string
	Areas        []Area
}

// NewAlert validates p and returns an alert awaiting approval.
func NewAlert(p NewAlertParams, now time.Time) (*Alert, error) {
	const op = "create alert"

	headline := strings.TrimSpace(p.Headline)
	if headline == "" {
		return nil, apperr.Field(apperr.KindInvalidHeadline, op, "headline", "headline is required")
	}
	if utf8.RuneCountInString(headline) > MaxHeadlineLength {
		return nil, apperr.Field(apperr.KindInvalidHeadline, op, "headline", "headline exceeds 100 characters")
	}

	description := strings.TrimSpace(p.Description)
	if description == "" {
		return nil, apperr.Field(apperr.KindInvalidDescription, op, "description", "description is required")
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return nil, apperr.Field(apperr.KindInvalidDescription, op, "description", "description exceeds 1395 characters")
	}

	if strings.TrimSpace(p.ID) == "" {
		return nil, apperr.Field(apperr.KindInvalidArgument, op, "id", "id is required")
	}
	if !p.ExpiresAt.After(now) {
		return nil, apperr.Field(apperr.KindInvalidArgument, op, "expiresAt", "expiry must be in the future")
	}
	createdBy := strings.TrimSpace(p.CreatedBy)
	if createdBy == "" {
		return nil, apperr.Field(apperr.KindInvalidArgument, op, "createdBy", "creator is required")
	}

	lang := strings.TrimSpace(p.LanguageCode)
	if lang == "" {
		lang = DefaultLanguageCode
	}

	a := &Alert{
		id:             p.ID,
		headline:       headline,
		description:    description,
		severity:       p.Severity,
		channel:        p.Channel,
		status:         StatusDraft,
		languageCode:   lang,
		deliveryStatus: DeliveryPending,
		createdAt:      now,
		expiresAt:      p.ExpiresAt,
		createdBy:      createdBy,
		areas:          make([]Area, 0, len(p.Areas)),
	}
	for _, area := range p.Areas {
		area.AlertID = a.id
		a.areas = append(a.areas, area)
	}
	if err := a.transition(op, StatusPendingApproval, now); err != nil {
		return nil, err
	}
	return a, nil
}

// transition is the single entry point for status changes.
func (a *Alert) transition(op string, to Status, now time.Time) error {
	if !CanTransition(a.status, to) {
		return apperr.New(apperr.KindInvalidOperation, op,
			"alert "+a.id+" cannot move from "+string(a.status)+" to "+string(to))
	}
	a.status = to
	a.touch(now)
	return nil
}

func (a *Alert) touch(now time.Time) {
	a.updatedAt = now
}

func (a *Alert) CanApprove(now time.Time) bool {
	return a.status == StatusPendingApproval && !now.After(a.expiresAt)
}

func (a *Alert) HasExpired(now time.Time) bool {
	return now.After(a.expiresAt)
}

func (a *Alert) CanCancel() bool {
	return a.status == StatusApproved || a.status == StatusDelivered
}

func (a *Alert) IsDeliverable(now time.Time) bool {
	return a.status == StatusApproved && a.deliveryStatus == DeliveryPending && !a.HasExpired(now)
}

// HasDecision reports whether an approval record is attached.
func (a *Alert) HasDecision() bool {
	return a.approval != nil
}

func (a *Alert) checkDecidable(op string, now time.Time) error {
	if a.approval != nil {
		return apperr.New(apperr.KindConcurrentDecision, op,
			"alert "+a.id+" was already "+strings.ToLower(string(a.approval.Decision)))
	}
	if !a.CanApprove(now) {
		if a.status == StatusPendingApproval {
			return apperr.New(apperr.KindInvalidOperation, op, "alert "+a.id+" has expired and can no longer be decided")
		}
		return apperr.New(apperr.KindInvalidOperation, op, "alert "+a.id+" is "+string(a.status)+", not pending approval")
	}
	return nil
}

func (a *Alert) Approve(approverID string, now time.Time) error {
	const op = "approve alert"
	if strings.TrimSpace(approverID) == "" {
		return apperr.Field(apperr.KindInvalidArgument, op, "approverId", "approver is required")
	}
	if err := a.checkDecidable(op, now); err != nil {
		return err
	}
	if err := a.transition(op, StatusApproved, now); err != nil {
		return err
	}
	sent := now
	a.sentAt = &sent
	a.approval = &ApprovalRecord{
		AlertID:    a.id,
		ApproverID: approverID,
		Decision:   DecisionApproved,
		DecidedAt:  now,
	}
	return nil
}

func (a *Alert) Reject(approverID, reason string, now time.Time) error {
	const op = "reject alert"
	if strings.TrimSpace(approverID) == "" {
		return apperr.Field(apperr.KindInvalidArgument, op, "approverId", "approver is required")
	}
	if err := a.checkDecidable(op, now); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperr.Field(apperr.KindInvalidArgument, op, "reason", "rejection reason is required")
	}
	if err := a.transition(op, StatusRejected, now); err != nil {
		return err
	}
	a.approval = &ApprovalRecord{
		AlertID:    a.id,
		ApproverID: approverID,
		Decision:   DecisionRejected,
		Reason:     reason,
		DecidedAt:  now,
	}
	return nil
}

// Cancel withdraws a live alert. Expiry does not matter, only status.
func (a *Alert) Cancel(now time.Time) error {
	const op = "cancel alert"
	if !a.CanCancel() {
		return apperr.New(apperr.KindInvalidOperation, op, "alert "+a.id+" is "+string(a.status)+" and cannot be cancelled")
	}
	return a.transition(op, StatusCancelled, now)
}

// UpdateDeliveryStatus records the delivery outcome. Delivered also moves an
// approved alert to Delivered.
func (a *Alert) UpdateDeliveryStatus(ds DeliveryStatus, now time.Time) error {
	const op = "update delivery status"
	switch ds {
	case DeliveryPending, DeliveryDelivered, DeliveryFailed:
	default:
		return apperr.Field(apperr.KindInvalidArgument, op, "deliveryStatus", "unknown delivery status "+quote(string(ds)))
	}
	if ds == DeliveryDelivered && a.status != StatusDelivered {
		if err := a.transition(op, StatusDelivered, now); err != nil {
			return err
		}
	}
	a.deliveryStatus = ds
	a.touch(now)
	return nil
}

// MarkExpiredIfNeeded demotes a live alert past its expiry. It reports
// whether the status changed.
func (a *Alert) MarkExpiredIfNeeded(now time.Time) bool {
	if !a.HasExpired(now) || !a.CanCancel() {
		return false
	}
	return a.transition("expire alert", StatusExpired, now) == nil
}

// EffectiveStatus is the status presented to readers: live or pending alerts
// past their expiry read as Expired without a stored transition.
func (a *Alert) EffectiveStatus(now time.Time) Status {
	return EffectiveStatus(a.status, a.expiresAt, now)
}

func EffectiveStatus(stored Status, expiresAt, now time.Time) Status {
	switch stored {
	case StatusPendingApproval, StatusApproved, StatusDelivered:
		if now.After(expiresAt) {
			return StatusExpired
		}
	}
	return stored
}

// AssignRegion sets the region code of one of the alert's areas.
func (a *Alert) AssignRegion(areaID, regionCode string, now time.Time) error {
	for i := range a.areas {
		if a.areas[i].ID == areaID {
			a.areas[i].RegionCode = strings.TrimSpace(regionCode)
			a.touch(now)
			return nil
		}
	}
	return apperr.New(apperr.KindNotFound, "assign region", "area "+areaID+" not found on alert "+a.id)
}

// SetVersion records the concurrency token issued by the store.
func (a *Alert) SetVersion(v int64) {
	a.version = v
}

func (a *Alert) ID() string                     { return a.id }
func (a *Alert) Headline() string               { return a.headline }
func (a *Alert) Description() string            { return a.description }
func (a *Alert) Severity() Severity             { return a.severity }
func (a *Alert) Channel() ChannelType           { return a.channel }
func (a *Alert) Status() Status                 { return a.status }
func (a *Alert) LanguageCode() string           { return a.languageCode }
func (a *Alert) DeliveryStatus() DeliveryStatus { return a.deliveryStatus }
func (a *Alert) CreatedAt() time.Time           { return a.createdAt }
func (a *Alert) UpdatedAt() time.Time           { return a.updatedAt }
func (a *Alert) ExpiresAt() time.Time           { return a.expiresAt }
func (a *Alert) CreatedBy() string              { return a.createdBy }
func (a *Alert) Version() int64                 { return a.version }

func (a *Alert) SentAt() *time.Time {
	if a.sentAt == nil {
		return nil
	}
	t := *a.sentAt
	return &t
}

func (a *Alert) Areas() []Area {
	out := make([]Area, len(a.areas))
	copy(out, a.areas)
	return out
}

func (a *Alert) Approval() *ApprovalRecord {
	if a.approval == nil {
		return nil
	}
	r := *a.approval
	return &r
}

// AlertSnapshot is the plain-value form of an Alert used by persistence.
type AlertSnapshot struct {
	ID             string
	Headline       string
	Description    string
	Severity       Severity
	Channel        ChannelType
	Status         Status
	LanguageCode   string
	DeliveryStatus DeliveryStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SentAt         *time.Time
	ExpiresAt      time.Time
	CreatedBy      string
	Areas          []Area
	Approval       *ApprovalRecord
	Version        int64
}

func (a *Alert) Snapshot() AlertSnapshot {
	return AlertSnapshot{
		ID:             a.id,
		Headline:       a.headline,
		Description:    a.description,
		Severity:       a.severity,
		Channel:        a.channel,
		Status:         a.status,
		LanguageCode:   a.languageCode,
		DeliveryStatus: a.deliveryStatus,
		CreatedAt:      a.createdAt,
		UpdatedAt:      a.updatedAt,
		SentAt:         a.SentAt(),
		ExpiresAt:      a.expiresAt,
		CreatedBy:      a.createdBy,
		Areas:          a.Areas(),
		Approval:       a.Approval(),
		Version:        a.version,
	}
}

// RestoreAlert rebuilds an aggregate from stored state without re-validating it.
func RestoreAlert(s AlertSnapshot) *Alert {
	a := &Alert{
		id:             s.ID,
		headline:       s.Headline,
		description:    s.Description,
		severity:       s.Severity,
		channel:        s.Channel,
		status:         s.Status,
		languageCode:   s.LanguageCode,
		deliveryStatus: s.DeliveryStatus,
		createdAt:      s.CreatedAt,
		updatedAt:      s.UpdatedAt,
		expiresAt:      s.ExpiresAt,
		createdBy:      s.CreatedBy,
		areas:          make([]Area, len(s.Areas)),
		version:        s.Version,
	}
	copy(a.areas, s.Areas)
	if s.SentAt != nil {
		t := *s.SentAt
		a.sentAt = &t
	}
	if s.Approval != nil {
		r := *s.Approval
		a.approval = &r
	}
	return a
}
