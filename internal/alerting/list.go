package alerting

import (
	"context"
	"strings"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/apperr"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type ListQuery struct {
	// Status filters on effective status; empty means all.
	Status   string
	Search   string
	Page     int
	PageSize int
}

type Page struct {
	Alerts   []*models.Alert
	Total    int
	Page     int
	PageSize int
}

// ListAlerts returns one page of alerts, newest first.
func (s *Service) ListAlerts(ctx context.Context, q ListQuery) (Page, error) {
	const op = "list alerts"

	filter := repository.AlertFilter{
		Search: strings.TrimSpace(q.Search),
		Now:    s.clock.Now(),
	}
	if strings.TrimSpace(q.Status) != "" {
		st, err := models.ParseStatus(q.Status)
		if err != nil {
			return Page{}, err
		}
		filter.Status = &st
	}

	page := q.Page
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return Page{}, apperr.Field(apperr.KindInvalidArgument, op, "page", "page must be at least 1")
	}
	size := q.PageSize
	if size == 0 {
		size = DefaultPageSize
	}
	if size < 1 || size > MaxPageSize {
		return Page{}, apperr.Field(apperr.KindInvalidArgument, op, "pageSize", "page size must be between 1 and 100")
	}
	filter.Limit = size
	filter.Offset = (page - 1) * size

	alerts, total, err := s.alerts.ListAlerts(ctx, filter)
	if err != nil {
		return Page{}, apperr.Wrap(apperr.KindInternal, op, err)
	}
	return Page{Alerts: alerts, Total: total, Page: page, PageSize: size}, nil
}

// Now is the service clock's current time, used by readers to apply the
// effective-status overlay consistently with the query.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}
