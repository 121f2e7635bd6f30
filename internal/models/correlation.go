package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/apperr"
)

// CorrelationEvent is a pattern detected by the external correlation engine
// (cluster, hotspot, escalation, ...). It references alerts by id only.
type CorrelationEvent struct {
	ID         string
	Type       string
	AlertIDs   []string
	Severity   string
	DetectedAt time.Time
	ResolvedAt *time.Time
	// Metadata is the raw JSON the engine attached. It is not trusted to parse.
	Metadata string
}

func (e *CorrelationEvent) Validate() error {
	const op = "validate correlation event"
	if strings.TrimSpace(e.ID) == "" {
		return apperr.Field(apperr.KindInvalidArgument, op, "id", "correlation event id is required")
	}
	if strings.TrimSpace(e.Type) == "" {
		return apperr.Field(apperr.KindInvalidArgument, op, "type", "correlation event type is required")
	}
	if len(e.AlertIDs) == 0 {
		return apperr.Field(apperr.KindInvalidArgument, op, "alertIds", "correlation event must reference at least one alert")
	}
	return nil
}

func (e *CorrelationEvent) IsActive() bool {
	return e.ResolvedAt == nil
}

// ParsedMetadata decodes Metadata, returning nil when it is empty or malformed.
func (e *CorrelationEvent) ParsedMetadata() map[string]any {
	if strings.TrimSpace(e.Metadata) == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(e.Metadata), &m); err != nil {
		return nil
	}
	return m
}
