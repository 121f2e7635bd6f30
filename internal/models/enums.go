package models

import (
	"strings"

	"github.com/mr1hm/go-emergency-alerts/internal/apperr"
)

type Severity string

const (
	SeverityUnknown  Severity = "Unknown"
	SeverityMinor    Severity = "Minor"
	SeverityModerate Severity = "Moderate"
	SeveritySevere   Severity = "Severe"
	SeverityExtreme  Severity = "Extreme"
)

var severities = []Severity{SeverityUnknown, SeverityMinor, SeverityModerate, SeveritySevere, SeverityExtreme}

type ChannelType string

const (
	ChannelTest       ChannelType = "Test"
	ChannelOperator   ChannelType = "Operator"
	ChannelSevere     ChannelType = "Severe"
	ChannelGovernment ChannelType = "Government"
	ChannelSms        ChannelType = "Sms"
)

var channels = []ChannelType{ChannelTest, ChannelOperator, ChannelSevere, ChannelGovernment, ChannelSms}

type Status string

const (
	StatusDraft           Status = "Draft"
	StatusPendingApproval Status = "PendingApproval"
	StatusApproved        Status = "Approved"
	StatusRejected        Status = "Rejected"
	StatusDelivered       Status = "Delivered"
	StatusCancelled       Status = "Cancelled"
	StatusExpired         Status = "Expired"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusDraft,
	StatusPendingApproval,
	StatusApproved,
	StatusRejected,
	StatusDelivered,
	StatusCancelled,
	StatusExpired,
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "Pending"
	DeliveryDelivered DeliveryStatus = "Delivered"
	DeliveryFailed    DeliveryStatus = "Failed"
)

type Decision string

const (
	DecisionApproved Decision = "Approved"
	DecisionRejected Decision = "Rejected"
)

type AttemptStatus string

const (
	AttemptPending AttemptStatus = "Pending"
	AttemptSuccess AttemptStatus = "Success"
	AttemptFailed  AttemptStatus = "Failed"
)

// ParseSeverity matches s case-insensitively against the known severities.
func ParseSeverity(s string) (Severity, error) {
	for _, v := range severities {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v, nil
		}
	}
	return "", apperr.Field(apperr.KindInvalidArgument, "parse severity", "severity", "unknown severity "+quote(s))
}

// ParseChannel matches s case-insensitively against the known channel types.
func ParseChannel(s string) (ChannelType, error) {
	for _, v := range channels {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v, nil
		}
	}
	return "", apperr.Field(apperr.KindInvalidArgument, "parse channel", "channel", "unknown channel type "+quote(s))
}

// ParseStatus matches s case-insensitively against the known statuses.
func ParseStatus(s string) (Status, error) {
	for _, v := range Statuses {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v, nil
		}
	}
	return "", apperr.Field(apperr.KindInvalidArgument, "parse status", "status", "unknown status "+quote(s))
}

func quote(s string) string {
	return `"` + s + `"`
}
