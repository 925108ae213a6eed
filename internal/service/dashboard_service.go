package service

import (
	"context"
	"strings"
	"unicode"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/policy"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

const (
	workloadPerTicket = 10
	maxWorkload       = 100
)

// EngineerLoad summarizes one support engineer for the team view.
type EngineerLoad struct {
	UserID      string
	Name        string
	Initials    string
	TicketCount int
	Workload    int
}

// DashboardSummary aggregates ticket counts within the caller's scope.
type DashboardSummary struct {
	Role         domain.Role
	Total        int
	StatusCounts map[domain.TicketStatus]int
	Unassigned   *int
	Team         []EngineerLoad
}

// DashboardService builds role dashboards.
type DashboardService struct {
	tickets repository.TicketRepository
	users   repository.UserRepository
}

// NewDashboardService constructs the service.
func NewDashboardService(tickets repository.TicketRepository, users repository.UserRepository) *DashboardService {
	return &DashboardService{tickets: tickets, users: users}
}

// Summary returns status counts for actor. Project managers also get the
// unassigned count and the workload of every engineer who has logged in.
func (s *DashboardService) Summary(ctx context.Context, actor Actor) (*DashboardSummary, error) {
	counts, err := s.tickets.CountByStatus(ctx, policy.ListScope(actor.Role, actor.ID))
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	summary := &DashboardSummary{Role: actor.Role, StatusCounts: counts}
	for _, n := range counts {
		summary.Total += n
	}
	if !policy.CanSeeTeam(actor.Role) {
		return summary, nil
	}

	unassigned, err := s.tickets.CountUnassigned(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	summary.Unassigned = &unassigned

	engineers, err := s.users.ListByRole(ctx, domain.RoleSupportEngineer)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	loads, err := s.tickets.WorkloadByAssignee(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	summary.Team = []EngineerLoad{}
	for i := range engineers {
		engineer := &engineers[i]
		if engineer.LastLoginAt == nil {
			continue
		}
		load := loads[engineer.ID]
		summary.Team = append(summary.Team, EngineerLoad{
			UserID:      engineer.ID,
			Name:        engineer.DisplayName(),
			Initials:    initials(engineer.DisplayName()),
			TicketCount: load.AssignedCount,
			Workload:    workloadPercent(load.InProgressCount),
		})
	}
	return summary, nil
}

func workloadPercent(inProgress int) int {
	return min(maxWorkload, inProgress*workloadPerTicket)
}

func initials(name string) string {
	var letters []rune
	for _, part := range strings.Fields(name) {
		letters = append(letters, unicode.ToUpper([]rune(part)[0]))
		if len(letters) == 2 {
			break
		}
	}
	if len(letters) == 0 {
		letters = []rune(strings.ToUpper(name))
		if len(letters) > 2 {
			letters = letters[:2]
		}
	}
	return string(letters)
}
