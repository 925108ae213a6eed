package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/policy"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/sla"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// SLA alert kinds.
const (
	AlertOverdue    = "overdue"
	AlertDueToday   = "due_today"
	AlertDueIn24h   = "due_in_24h"
	AlertMissingSLA = "missing_sla"
)

// SLAAlert is one entry of the SLA alert feed.
type SLAAlert struct {
	Kind        string
	Critical    bool
	Title       string
	Description string
	TicketID    string
	TicketKey   string
	DueAt       *time.Time
}

// SLAService reports and maintains ticket deadlines.
type SLAService struct {
	tickets  repository.TicketRepository
	clock    Clock
	location *time.Location
	logger   *zap.Logger
}

// NewSLAService builds the service. location defines the business day used for "due today".
func NewSLAService(tickets repository.TicketRepository, location *time.Location, clock Clock, logger *zap.Logger) *SLAService {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLAService{tickets: tickets, clock: clock, location: location, logger: logger}
}

var openStatuses = []domain.TicketStatus{domain.TicketStatusNew, domain.TicketStatusInProgress}

// Alerts builds the SLA alert feed for the open tickets visible to actor.
// A ticket may appear in several buckets. Missing SLA alerts are reserved for
// project managers.
func (s *SLAService) Alerts(ctx context.Context, actor Actor) ([]SLAAlert, error) {
	if !policy.CanSeeSLAAlerts(actor.Role) {
		return nil, forbidden("view SLA alerts")
	}

	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Scope:    policy.ListScope(actor.Role, actor.ID),
		Statuses: openStatuses,
		Limit:    repository.NoLimit,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	now := s.clock.now()
	local := now.In(s.location)
	startToday := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
	endToday := startToday.AddDate(0, 0, 1)
	horizon := now.Add(24 * time.Hour)
	includeMissing := policy.CanManageSLA(actor.Role)

	alerts := []SLAAlert{}
	for i := range tickets {
		t := &tickets[i]
		if t.SLADueAt == nil {
			if includeMissing {
				alerts = append(alerts, newAlert(AlertMissingSLA, false, "Missing SLA", t,
					fmt.Sprintf("%s has no SLA date set.", t.Title)))
			}
			continue
		}
		due := *t.SLADueAt
		if due.Before(now) {
			alerts = append(alerts, newAlert(AlertOverdue, true, "Overdue SLA", t,
				fmt.Sprintf("%s overdue by %s.", t.Title, sla.Humanize(now.Sub(due)))))
		}
		if !due.Before(startToday) && due.Before(endToday) {
			alerts = append(alerts, newAlert(AlertDueToday, true, "Due Today", t,
				fmt.Sprintf("%s due today in %s.", t.Title, sla.Humanize(due.Sub(now)))))
		}
		if !due.Before(now) && due.Before(horizon) {
			alerts = append(alerts, newAlert(AlertDueIn24h, false, "Due in 24h", t,
				fmt.Sprintf("%s expiring in %s.", t.Title, sla.Humanize(due.Sub(now)))))
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Critical != alerts[j].Critical {
			return alerts[i].Critical
		}
		return alerts[i].Title < alerts[j].Title
	})
	return alerts, nil
}

func newAlert(kind string, critical bool, label string, t *domain.Ticket, description string) SLAAlert {
	return SLAAlert{
		Kind:        kind,
		Critical:    critical,
		Title:       fmt.Sprintf("%s - #%s", label, t.Key),
		Description: description,
		TicketID:    t.ID,
		TicketKey:   t.Key,
		DueAt:       t.SLADueAt,
	}
}

// Autofill sets the SLA of open tickets lacking one, computed from creation time.
func (s *SLAService) Autofill(ctx context.Context, actor Actor) (int, error) {
	if !policy.CanManageSLA(actor.Role) {
		return 0, forbidden("manage SLA dates")
	}
	count, err := s.AutofillAll(ctx)
	if err != nil {
		return count, apperrors.MapError(err)
	}
	return count, nil
}

// AutofillAll is the unauthenticated maintenance variant used by the CLI.
// Tickets that fail to update are logged and skipped.
func (s *SLAService) AutofillAll(ctx context.Context) (int, error) {
	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Scope:      policy.Scope{Kind: policy.ScopeAll},
		Statuses:   openStatuses,
		SLAMissing: true,
		Limit:      repository.NoLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("list tickets without SLA: %w", err)
	}

	updated := 0
	for _, t := range tickets {
		due := sla.ComputeDueIn(t.CreatedAt, s.location, t.Category, string(t.Priority))
		if err := s.tickets.SetSLADue(ctx, t.ID, due); err != nil {
			s.logger.Warn("sla autofill skipped ticket", zap.String("ticket_id", t.ID), zap.Error(err))
			continue
		}
		updated++
	}
	s.logger.Info("sla autofill finished", zap.Int("updated", updated), zap.Int("candidates", len(tickets)))
	return updated, nil
}
