package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mr1hm/go-emergency-alerts/internal/alerting"
	"github.com/mr1hm/go-emergency-alerts/internal/dashboard"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

type areaRequest struct {
	Description string `json:"description"`
	Polygon     string `json:"polygon"`
}

type createAlertRequest struct {
	Headline     string        `json:"headline"`
	Description  string        `json:"description"`
	Severity     string        `json:"severity"`
	Channel      string        `json:"channel"`
	ExpiresAt    time.Time     `json:"expiresAt"`
	LanguageCode string        `json:"languageCode"`
	Areas        []areaRequest `json:"areas"`
}

func (r createAlertRequest) toInput(createdBy string) alerting.CreateAlertInput {
	in := alerting.CreateAlertInput{
		Headline:     r.Headline,
		Description:  r.Description,
		Severity:     r.Severity,
		Channel:      r.Channel,
		ExpiresAt:    r.ExpiresAt,
		LanguageCode: r.LanguageCode,
		CreatedBy:    createdBy,
	}
	for _, a := range r.Areas {
		in.Areas = append(in.Areas, alerting.AreaInput{Description: a.Description, Polygon: a.Polygon})
	}
	return in
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type recipientRequest struct {
	Email string `json:"email"`
}

type areaResponse struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Polygon     string `json:"polygon"`
	RegionCode  string `json:"regionCode,omitempty"`
}

type approvalResponse struct {
	ApproverID string    `json:"approverId"`
	Decision   string    `json:"decision"`
	Reason     string    `json:"reason,omitempty"`
	DecidedAt  time.Time `json:"decidedAt"`
}

type alertResponse struct {
	ID             string            `json:"id"`
	Headline       string            `json:"headline"`
	Description    string            `json:"description"`
	Severity       string            `json:"severity"`
	Channel        string            `json:"channel"`
	Status         string            `json:"status"`
	LanguageCode   string            `json:"languageCode"`
	DeliveryStatus string            `json:"deliveryStatus"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	SentAt         *time.Time        `json:"sentAt,omitempty"`
	ExpiresAt      time.Time         `json:"expiresAt"`
	CreatedBy      string            `json:"createdBy"`
	Version        int64             `json:"version"`
	Areas          []areaResponse    `json:"areas"`
	Approval       *approvalResponse `json:"approval,omitempty"`
}

// toAlertResponse renders a, presenting its effective status at now.
func toAlertResponse(a *models.Alert, now time.Time) alertResponse {
	resp := alertResponse{
		ID:             a.ID(),
		Headline:       a.Headline(),
		Description:    a.Description(),
		Severity:       string(a.Severity()),
		Channel:        string(a.Channel()),
		Status:         string(a.EffectiveStatus(now)),
		LanguageCode:   a.LanguageCode(),
		DeliveryStatus: string(a.DeliveryStatus()),
		CreatedAt:      a.CreatedAt(),
		UpdatedAt:      a.UpdatedAt(),
		SentAt:         a.SentAt(),
		ExpiresAt:      a.ExpiresAt(),
		CreatedBy:      a.CreatedBy(),
		Version:        a.Version(),
		Areas:          make([]areaResponse, 0, len(a.Areas())),
	}
	for _, ar := range a.Areas() {
		resp.Areas = append(resp.Areas, areaResponse{
			ID:          ar.ID,
			Description: ar.Description,
			Polygon:     ar.Polygon,
			RegionCode:  ar.RegionCode,
		})
	}
	if rec := a.Approval(); rec != nil {
		resp.Approval = &approvalResponse{
			ApproverID: rec.ApproverID,
			Decision:   string(rec.Decision),
			Reason:     rec.Reason,
			DecidedAt:  rec.DecidedAt,
		}
	}
	return resp
}

type alertPageResponse struct {
	Alerts   []alertResponse `json:"alerts"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
}

type recipientResponse struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
}

type overdueResponse struct {
	AlertID        string    `json:"alertId"`
	Headline       string    `json:"headline"`
	Severity       string    `json:"severity"`
	Since          time.Time `json:"since"`
	ElapsedSeconds int64     `json:"elapsedSeconds"`
}

type correlationResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Severity   string         `json:"severity,omitempty"`
	AlertIDs   []string       `json:"alertIds"`
	DetectedAt time.Time      `json:"detectedAt"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type summaryResponse struct {
	GeneratedAt         time.Time             `json:"generatedAt"`
	Total               int                   `json:"total"`
	StatusCounts        map[string]int        `json:"statusCounts"`
	ApprovalTimeouts    []overdueResponse     `json:"approvalTimeouts"`
	SLABreaches         []overdueResponse     `json:"slaBreaches"`
	DeliverySuccessRate *decimal.Decimal      `json:"deliverySuccessRate"`
	DeliveryAttempts    int                   `json:"deliveryAttempts"`
	Correlations        []correlationResponse `json:"correlations"`
}

func toSummaryResponse(s dashboard.Summary) summaryResponse {
	resp := summaryResponse{
		GeneratedAt:         s.GeneratedAt,
		Total:               s.Total,
		StatusCounts:        make(map[string]int, len(s.StatusCounts)),
		ApprovalTimeouts:    toOverdue(s.ApprovalTimeouts),
		SLABreaches:         toOverdue(s.SLABreaches),
		DeliverySuccessRate: s.DeliverySuccessRate,
		DeliveryAttempts:    s.DeliveryAttempts,
		Correlations:        make([]correlationResponse, 0, len(s.Correlations)),
	}
	for st, n := range s.StatusCounts {
		resp.StatusCounts[string(st)] = n
	}
	for _, c := range s.Correlations {
		resp.Correlations = append(resp.Correlations, correlationResponse{
			ID:         c.ID,
			Type:       c.Type,
			Severity:   c.Severity,
			AlertIDs:   c.AlertIDs,
			DetectedAt: c.DetectedAt,
			Metadata:   c.Metadata,
		})
	}
	return resp
}

func toOverdue(items []dashboard.OverdueAlert) []overdueResponse {
	out := make([]overdueResponse, 0, len(items))
	for _, it := range items {
		out = append(out, overdueResponse{
			AlertID:        it.AlertID,
			Headline:       it.Headline,
			Severity:       string(it.Severity),
			Since:          it.Since,
			ElapsedSeconds: int64(it.Elapsed / time.Second),
		})
	}
	return out
}
