package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-emergency-alerts/internal/alerting"
	"github.com/mr1hm/go-emergency-alerts/internal/apperr"
	"github.com/mr1hm/go-emergency-alerts/internal/dashboard"
	"github.com/mr1hm/go-emergency-alerts/internal/idgen"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

// AlertService is the command and query surface of alerting.Service.
type AlertService interface {
	CreateAlert(ctx context.Context, in alerting.CreateAlertInput) (*models.Alert, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, q alerting.ListQuery) (alerting.Page, error)
	ApproveAlert(ctx context.Context, id, approverID string) (*models.Alert, error)
	RejectAlert(ctx context.Context, id, approverID, reason string) (*models.Alert, error)
	CancelAlert(ctx context.Context, id string) (*models.Alert, error)
	Now() time.Time
}

type DashboardService interface {
	Summary(ctx context.Context) (dashboard.Summary, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	alerts     AlertService
	dashboard  DashboardService
	recipients repository.RecipientRepository
	ids        idgen.Generator
	events     http.Handler
	ready      Pinger
}

type Option func(*Handler)

// WithEventStream serves h on /api/ws.
func WithEventStream(h http.Handler) Option {
	return func(hd *Handler) { hd.events = h }
}

// WithReadiness makes /ready report p's health.
func WithReadiness(p Pinger) Option {
	return func(hd *Handler) { hd.ready = p }
}

func NewHandler(alerts AlertService, dash DashboardService, recipients repository.RecipientRepository,
	ids idgen.Generator, opts ...Option) *Handler {
	h := &Handler{
		alerts:     alerts,
		dashboard:  dash,
		recipients: recipients,
		ids:        ids,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/ready", h.readiness)

	api := r.Group("/api")
	api.POST("/alerts", h.createAlert)
	api.GET("/alerts", h.listAlerts)
	api.GET("/alerts/map", h.alertMap)
	api.GET("/alerts/:id", h.getAlert)
	api.POST("/alerts/:id/approve", h.approveAlert)
	api.POST("/alerts/:id/reject", h.rejectAlert)
	api.POST("/alerts/:id/cancel", h.cancelAlert)

	api.GET("/dashboard/summary", h.summary)

	api.POST("/recipients", h.addRecipient)
	api.GET("/recipients", h.listRecipients)

	if h.events != nil {
		api.GET("/ws", gin.WrapH(h.events))
	}
}

func badBody(op string) error {
	return apperr.New(apperr.KindInvalidArgument, op, "malformed request body")
}

func (h *Handler) createAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badBody("create alert"))
		return
	}

	a, err := h.alerts.CreateAlert(c.Request.Context(), req.toInput(principalOf(c)))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/api/alerts/"+a.ID())
	c.JSON(http.StatusCreated, toAlertResponse(a, h.alerts.Now()))
}

func (h *Handler) listAlerts(c *gin.Context) {
	q := alerting.ListQuery{
		Status: c.Query("status"),
		Search: c.Query("search"),
	}
	var err error
	if q.Page, err = intQuery(c, "page"); err != nil {
		writeError(c, err)
		return
	}
	if q.PageSize, err = intQuery(c, "pageSize"); err != nil {
		writeError(c, err)
		return
	}

	page, err := h.alerts.ListAlerts(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}

	now := h.alerts.Now()
	resp := alertPageResponse{
		Alerts:   make([]alertResponse, 0, len(page.Alerts)),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
	for _, a := range page.Alerts {
		resp.Alerts = append(resp.Alerts, toAlertResponse(a, now))
	}
	c.JSON(http.StatusOK, resp)
}

func intQuery(c *gin.Context, name string) (int, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Field(apperr.KindInvalidArgument, "list alerts", name, name+" must be an integer")
	}
	return n, nil
}

// alertMap returns the areas of every live alert as GeoJSON.
func (h *Handler) alertMap(c *gin.Context) {
	ctx := c.Request.Context()
	var live []*models.Alert
	for _, st := range []models.Status{models.StatusApproved, models.StatusDelivered} {
		for page := 1; ; page++ {
			p, err := h.alerts.ListAlerts(ctx, alerting.ListQuery{
				Status:   string(st),
				Page:     page,
				PageSize: alerting.MaxPageSize,
			})
			if err != nil {
				writeError(c, err)
				return
			}
			live = append(live, p.Alerts...)
			if page*p.PageSize >= p.Total || len(p.Alerts) == 0 {
				break
			}
		}
	}

	fc := toGeoJSON(live, h.alerts.Now())
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

func (h *Handler) getAlert(c *gin.Context) {
	a, err := h.alerts.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAlertResponse(a, h.alerts.Now()))
}

func (h *Handler) approveAlert(c *gin.Context) {
	a, err := h.alerts.ApproveAlert(c.Request.Context(), c.Param("id"), principalOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAlertResponse(a, h.alerts.Now()))
}

func (h *Handler) rejectAlert(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badBody("reject alert"))
		return
	}

	a, err := h.alerts.RejectAlert(c.Request.Context(), c.Param("id"), principalOf(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAlertResponse(a, h.alerts.Now()))
}

func (h *Handler) cancelAlert(c *gin.Context) {
	a, err := h.alerts.CancelAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	logging.FromContext(c.Request.Context()).Info("cancel requested", "alert_id", a.ID(), "principal", principalOf(c))
	c.JSON(http.StatusOK, toAlertResponse(a, h.alerts.Now()))
}

func (h *Handler) summary(c *gin.Context) {
	s, err := h.dashboard.Summary(c.Request.Context())
	if err != nil {
		writeError(c, apperr.Wrap(apperr.KindInternal, "dashboard summary", err))
		return
	}
	c.JSON(http.StatusOK, toSummaryResponse(s))
}

func (h *Handler) addRecipient(c *gin.Context) {
	const op = "add recipient"
	var req recipientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badBody(op))
		return
	}

	r, err := models.NewRecipient(h.ids.NewID(), req.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.recipients.AddRecipient(c.Request.Context(), r); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			writeError(c, apperr.New(apperr.KindInvalidOperation, op, "recipient "+r.Email+" already exists"))
			return
		}
		writeError(c, apperr.Wrap(apperr.KindInternal, op, err))
		return
	}
	c.JSON(http.StatusCreated, recipientResponse{ID: r.ID, Email: r.Email, Active: r.Active})
}

func (h *Handler) listRecipients(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	recipients, err := h.recipients.ListRecipients(c.Request.Context(), activeOnly)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.KindInternal, "list recipients", err))
		return
	}

	resp := make([]recipientResponse, 0, len(recipients))
	for _, r := range recipients {
		resp = append(resp, recipientResponse{ID: r.ID, Email: r.Email, Active: r.Active})
	}
	c.JSON(http.StatusOK, gin.H{"recipients": resp})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) readiness(c *gin.Context) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready.Ping(ctx); err != nil {
			logging.FromContext(ctx).Warn("readiness check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
