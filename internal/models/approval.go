package models

import "time"

// ApprovalRecord is the single, immutable decision taken on an alert.
type ApprovalRecord struct {
	AlertID    string
	ApproverID string
	Decision   Decision
	Reason     string // set for rejections only
	DecidedAt  time.Time
}
