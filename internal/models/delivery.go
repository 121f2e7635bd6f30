package models

import (
	"net/mail"
	"strings"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/apperr"
)

const MaxDeliveryAttempts = 3

// DeliveryAttempt records one send of an alert to one recipient.
type DeliveryAttempt struct {
	ID            string
	AlertID       string
	RecipientID   string
	AttemptNumber int
	Status        AttemptStatus
	OperationID   string
	Error         string
	AttemptedAt   time.Time
}

func NewDeliveryAttempt(id, alertID, recipientID string, number int, now time.Time) (*DeliveryAttempt, error) {
	const op = "create delivery attempt"
	if number < 1 || number > MaxDeliveryAttempts {
		return nil, apperr.Field(apperr.KindInvalidArgument, op, "attemptNumber", "attempt number must be between 1 and 3")
	}
	if alertID == "" || recipientID == "" {
		return nil, apperr.Field(apperr.KindInvalidArgument, op, "alertId", "alert and recipient are required")
	}
	return &DeliveryAttempt{
		ID:            id,
		AlertID:       alertID,
		RecipientID:   recipientID,
		AttemptNumber: number,
		Status:        AttemptPending,
		AttemptedAt:   now,
	}, nil
}

// MarkSuccess requires the operation id issued by the sender.
func (d *DeliveryAttempt) MarkSuccess(operationID string, now time.Time) error {
	if strings.TrimSpace(operationID) == "" {
		return apperr.Field(apperr.KindInvalidArgument, "mark delivery success", "operationId", "operation id is required")
	}
	d.Status = AttemptSuccess
	d.OperationID = operationID
	d.Error = ""
	d.AttemptedAt = now
	return nil
}

func (d *DeliveryAttempt) MarkFailed(reason string, now time.Time) {
	d.Status = AttemptFailed
	d.Error = reason
	d.AttemptedAt = now
}

func (d *DeliveryAttempt) CanRetry() bool {
	return d.Status == AttemptFailed && d.AttemptNumber < MaxDeliveryAttempts
}

// Recipient is a delivery target.
type Recipient struct {
	ID     string
	Email  string
	Active bool
}

// NewRecipient normalizes the address to lower case and rejects malformed ones.
func NewRecipient(id, email string) (*Recipient, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return nil, apperr.Field(apperr.KindInvalidArgument, "create recipient", "email", "invalid email address")
	}
	return &Recipient{
		ID:     id,
		Email:  strings.ToLower(addr.Address),
		Active: true,
	}, nil
}
