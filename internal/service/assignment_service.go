package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/policy"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// AssignmentService handles ticket assignment operations.
type AssignmentService struct {
	tx         persistence.TxManager
	tickets    repository.TicketRepository
	users      repository.UserRepository
	profiles   repository.ProfileRepository
	audit      repository.AuditLogRepository
	dispatcher events.Dispatcher
	clock      Clock
}

// AssignmentDependencies bundles repositories.
type AssignmentDependencies struct {
	TxManager   persistence.TxManager
	TicketRepo  repository.TicketRepository
	UserRepo    repository.UserRepository
	ProfileRepo repository.ProfileRepository
	AuditRepo   repository.AuditLogRepository
	Dispatcher  events.Dispatcher
	Clock       Clock
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	return &AssignmentService{
		tx:         deps.TxManager,
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		profiles:   deps.ProfileRepo,
		audit:      deps.AuditRepo,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
	}
}

// AssignedAction is the audit action recorded for an assignment.
func AssignedAction(username string) string {
	return fmt.Sprintf("Assigned ticket to %s", username)
}

// Assign gives the ticket to a support engineer. A NEW ticket moves to IN_PROGRESS.
func (s *AssignmentService) Assign(ctx context.Context, actor Actor, ticketRef, engineerID, notes string) (*domain.Ticket, error) {
	if !policy.CanAssign(actor.Role) {
		return nil, forbidden("assign tickets")
	}
	engineerID = strings.TrimSpace(engineerID)
	if engineerID == "" {
		return nil, apperrors.NewFieldError("assigned_to", "engineer is required")
	}
	notes = strings.TrimSpace(notes)

	var (
		ticket    *domain.Ticket
		engineer  *domain.User
		oldStatus domain.TicketStatus
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		ticket, err = lockTicket(ctx, s.tickets, ticketRef)
		if err != nil {
			return err
		}
		engineer, err = s.loadEngineer(ctx, engineerID)
		if err != nil {
			return err
		}

		now := s.clock.now()
		oldStatus = ticket.Status
		ticket.AssignedTo = &engineer.ID
		ticket.AssignedAt = &now
		if ticket.Status == domain.TicketStatusNew {
			ticket.Status = domain.TicketStatusInProgress
		}
		if err := s.tickets.Assign(ctx, ticket); err != nil {
			return apperrors.MapError(fmt.Errorf("assign ticket: %w", err))
		}

		return s.audit.Create(ctx, &domain.AuditLog{
			TicketID:    ticket.ID,
			Action:      AssignedAction(engineer.Username),
			PerformedBy: actor.ID,
			Meta: map[string]any{
				"assigned_to": engineer.ID,
				"notes":       notes,
			},
		})
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	publishEvent(ctx, s.dispatcher, s.clock, events.Event{
		Type:     events.EventTicketAssigned,
		TicketID: ticket.ID,
		Actor:    eventActor(actor),
		Payload:  events.TicketAssignedPayload{Ticket: *ticket, Assignee: *engineer, Notes: notes},
	})
	if ticket.Status != oldStatus {
		publishEvent(ctx, s.dispatcher, s.clock, events.Event{
			Type:     events.EventTicketStatusChanged,
			TicketID: ticket.ID,
			Actor:    eventActor(actor),
			Payload: events.TicketStatusChangedPayload{
				Ticket:    *ticket,
				OldStatus: oldStatus,
				NewStatus: ticket.Status,
			},
		})
	}
	return ticket, nil
}

func (s *AssignmentService) loadEngineer(ctx context.Context, engineerID string) (*domain.User, error) {
	invalid := apperrors.NewFieldError("assigned_to", "assignee must be a support engineer")
	if !isUUID(engineerID) {
		return nil, invalid
	}

	user, err := s.users.GetByID(ctx, engineerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invalid
		}
		return nil, apperrors.MapError(err)
	}
	profile, err := s.profiles.GetByUserID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invalid
		}
		return nil, apperrors.MapError(err)
	}
	if !policy.CanBeAssigned(profile.Role) {
		return nil, invalid
	}
	return user, nil
}

// ListEngineers returns the support engineers a project manager may assign.
func (s *AssignmentService) ListEngineers(ctx context.Context, actor Actor) ([]domain.User, error) {
	if !policy.CanSeeTeam(actor.Role) {
		return nil, forbidden("list engineers")
	}
	users, err := s.users.ListByRole(ctx, domain.RoleSupportEngineer)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return users, nil
}
