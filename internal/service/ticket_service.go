package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/policy"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/sla"
	"github.com/spec-kit/helpdesk/internal/ticketkey"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

const (
	maxTitleLength    = 255
	maxCategoryLength = 100
	maxReporterLength = 255
)

// Audit actions recorded by ticket workflows.
const (
	ActionTicketCreated    = "Ticket created"
	ActionEmergencyCreated = "Emergency ticket created"
	ActionTicketUpdated    = "Ticket updated"
	ActionCommentAdded     = "Comment added"
	ActionAttachmentAdded  = "Attachment added"
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	tx          persistence.TxManager
	tickets     repository.TicketRepository
	comments    repository.CommentRepository
	attachments repository.AttachmentRepository
	audit       repository.AuditLogRepository
	dispatcher  events.Dispatcher
	clock       Clock
	location    *time.Location
	generateKey func() (string, error)
	logger      *zap.Logger
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TxManager      persistence.TxManager
	TicketRepo     repository.TicketRepository
	CommentRepo    repository.CommentRepository
	AttachmentRepo repository.AttachmentRepository
	AuditRepo      repository.AuditLogRepository
	Dispatcher     events.Dispatcher
	Clock          Clock
	// Location is the business timezone for SLA weekdays. Nil means UTC.
	Location     *time.Location
	KeyGenerator func() (string, error)
	Logger       *zap.Logger
}

// TicketCreateInput describes self-service ticket creation.
type TicketCreateInput struct {
	Title       string
	Description string
	Category    string
	Priority    string
}

// EmergencyTicketInput describes a ticket raised on behalf of someone else.
type EmergencyTicketInput struct {
	TicketCreateInput
	ReporterName string
}

// TicketPatch lists the editable fields. Nil means unchanged.
type TicketPatch struct {
	Title       *string
	Description *string
	Category    *string
	Priority    *string
	Status      *string
}

// TicketListInput describes listing filters.
type TicketListInput struct {
	Statuses     []domain.TicketStatus
	Priorities   []domain.TicketPriority
	SearchTerm   *string
	SLADueBefore *time.Time
	SLADueAfter  *time.Time
	SLAMissing   bool
	Limit        int
	Offset       int
}

// TicketDetail is a ticket with its thread and audit trail.
type TicketDetail struct {
	Ticket      *domain.Ticket
	Comments    []domain.Comment
	Attachments []domain.Attachment
	AuditTrail  []domain.AuditLog
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	generate := deps.KeyGenerator
	if generate == nil {
		generate = ticketkey.Generate
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tx:          deps.TxManager,
		tickets:     deps.TicketRepo,
		comments:    deps.CommentRepo,
		attachments: deps.AttachmentRepo,
		audit:       deps.AuditRepo,
		dispatcher:  deps.Dispatcher,
		clock:       deps.Clock,
		location:    deps.Location,
		generateKey: generate,
		logger:      logger,
	}
}

// Create raises a ticket for the calling issue reporter.
func (s *TicketService) Create(ctx context.Context, actor Actor, input TicketCreateInput) (*domain.Ticket, error) {
	if !policy.CanCreate(actor.Role) {
		return nil, forbidden("create tickets")
	}
	ticket, err := s.newTicket(actor, input)
	if err != nil {
		return nil, err
	}
	if err := s.persistNew(ctx, actor, ticket, ActionTicketCreated, nil); err != nil {
		return nil, err
	}

	publishEvent(ctx, s.dispatcher, s.clock, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    eventActor(actor),
		Payload:  events.TicketCreatedPayload{Ticket: *ticket},
	})
	return ticket, nil
}

// CreateEmergency lets a project manager raise a ticket on behalf of a named reporter.
func (s *TicketService) CreateEmergency(ctx context.Context, actor Actor, input EmergencyTicketInput) (*domain.Ticket, error) {
	if !policy.CanCreateEmergency(actor.Role) {
		return nil, forbidden("create emergency tickets")
	}
	reporter := strings.TrimSpace(input.ReporterName)
	if reporter == "" {
		return nil, apperrors.NewFieldError("reporter_name", "reporter name is required")
	}
	if utf8.RuneCountInString(reporter) > maxReporterLength {
		return nil, apperrors.NewFieldError("reporter_name", "reporter name is too long")
	}

	ticket, err := s.newTicket(actor, input.TicketCreateInput)
	if err != nil {
		return nil, err
	}
	ticket.ReporterName = &reporter

	meta := map[string]any{"reporter_name": reporter}
	if err := s.persistNew(ctx, actor, ticket, ActionEmergencyCreated, meta); err != nil {
		return nil, err
	}

	publishEvent(ctx, s.dispatcher, s.clock, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    eventActor(actor),
		Payload:  events.TicketCreatedPayload{Ticket: *ticket, Emergency: true},
	})
	return ticket, nil
}

func (s *TicketService) newTicket(actor Actor, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	category := strings.TrimSpace(input.Category)

	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if description == "" {
		return nil, apperrors.NewFieldError("description", "description is required")
	}
	if err := validateCategory(category); err != nil {
		return nil, err
	}
	priority := domain.TicketPriorityMedium
	if strings.TrimSpace(input.Priority) != "" {
		parsed, ok := domain.ParseTicketPriority(input.Priority)
		if !ok {
			return nil, apperrors.NewFieldError("priority", "unknown priority")
		}
		priority = parsed
	}

	now := s.clock.now()
	due := sla.ComputeDueIn(now, s.location, category, string(priority))
	return &domain.Ticket{
		Title:       title,
		Description: description,
		Category:    category,
		Priority:    priority,
		Status:      domain.TicketStatusNew,
		CreatedBy:   actor.ID,
		SLADueAt:    &due,
		CreatedAt:   now,
	}, nil
}

// persistNew allocates a unique key by insert-if-unique and records the audit entry.
func (s *TicketService) persistNew(ctx context.Context, actor Actor, ticket *domain.Ticket, action string, meta map[string]any) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, err := ticketkey.Allocate(ctx, s.generateKey, func(ctx context.Context, key string) error {
			ticket.Key = key
			return s.tickets.Insert(ctx, ticket)
		})
		if err != nil {
			return err
		}
		return s.audit.Create(ctx, &domain.AuditLog{
			TicketID:    ticket.ID,
			Action:      action,
			PerformedBy: actor.ID,
			Meta:        meta,
		})
	})
	if err != nil {
		if errors.Is(err, ticketkey.ErrExhausted) {
			s.logger.Error("ticket key space exhausted", zap.Int("attempts", ticketkey.MaxAttempts))
		}
		return apperrors.MapError(fmt.Errorf("create ticket: %w", err))
	}
	return nil
}

// Update edits ticket fields, including status, under the caller's permissions.
func (s *TicketService) Update(ctx context.Context, actor Actor, ticketRef string, patch TicketPatch) (*domain.Ticket, error) {
	var (
		ticket    *domain.Ticket
		oldStatus domain.TicketStatus
		changes   map[string]any
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		ticket, err = lockTicket(ctx, s.tickets, ticketRef)
		if err != nil {
			return err
		}
		if !policy.CanUpdate(actor.Role, actor.ID, ticket) {
			return forbidden("update this ticket")
		}

		next, err := s.applyPatch(actor, ticket, patch)
		if err != nil {
			return err
		}
		oldStatus = ticket.Status
		changes = diffTickets(ticket, next)
		if len(changes) == 0 {
			return nil
		}

		_, categoryChanged := changes["category"]
		_, priorityChanged := changes["priority"]
		if categoryChanged || priorityChanged {
			next.SLADueAt = dueFrom(s.clock.now(), s.location, next)
		}

		if err := s.tickets.Update(ctx, next); err != nil {
			return apperrors.MapError(fmt.Errorf("update ticket: %w", err))
		}
		ticket = next
		return s.audit.Create(ctx, &domain.AuditLog{
			TicketID:    ticket.ID,
			Action:      ActionTicketUpdated,
			PerformedBy: actor.ID,
			Meta:        map[string]any{"changes": changes},
		})
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if len(changes) == 0 {
		return ticket, nil
	}

	publishEvent(ctx, s.dispatcher, s.clock, events.Event{
		Type:     events.EventTicketUpdated,
		TicketID: ticket.ID,
		Actor:    eventActor(actor),
		Payload:  events.TicketUpdatedPayload{Ticket: *ticket, Changes: changes},
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

// applyPatch validates patch against ticket and returns the edited copy.
// A status change that the actor may not perform rejects the whole patch.
func (s *TicketService) applyPatch(actor Actor, ticket *domain.Ticket, patch TicketPatch) (*domain.Ticket, error) {
	next := *ticket

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		next.Title = title
	}
	if patch.Description != nil {
		description := strings.TrimSpace(*patch.Description)
		if description == "" {
			return nil, apperrors.NewFieldError("description", "description is required")
		}
		next.Description = description
	}
	if patch.Category != nil {
		category := strings.TrimSpace(*patch.Category)
		if err := validateCategory(category); err != nil {
			return nil, err
		}
		next.Category = category
	}
	if patch.Priority != nil {
		priority, ok := domain.ParseTicketPriority(*patch.Priority)
		if !ok {
			return nil, apperrors.NewFieldError("priority", "unknown priority")
		}
		next.Priority = priority
	}
	if patch.Status != nil {
		status, ok := domain.ParseTicketStatus(*patch.Status)
		if !ok {
			return nil, apperrors.NewFieldError("status", "unknown status")
		}
		if status != ticket.Status && !policy.CanChangeStatus(actor.Role, actor.ID, ticket, status) {
			return nil, apperrors.NewForbidden(fmt.Sprintf("status change from %s to %s not allowed", ticket.Status, status))
		}
		next.Status = status
	}
	return &next, nil
}

func diffTickets(before, after *domain.Ticket) map[string]any {
	changes := map[string]any{}
	record := func(field string, from, to any) {
		if from != to {
			changes[field] = map[string]any{"from": from, "to": to}
		}
	}
	record("title", before.Title, after.Title)
	record("description", before.Description, after.Description)
	record("category", before.Category, after.Category)
	record("priority", string(before.Priority), string(after.Priority))
	record("status", string(before.Status), string(after.Status))
	return changes
}

func dueFrom(now time.Time, loc *time.Location, ticket *domain.Ticket) *time.Time {
	due := sla.ComputeDueIn(now, loc, ticket.Category, string(ticket.Priority))
	return &due
}

// Get returns a visible ticket with comments, attachments and audit trail.
func (s *TicketService) Get(ctx context.Context, actor Actor, ticketRef string) (*TicketDetail, error) {
	ticket, err := loadTicket(ctx, s.tickets, ticketRef)
	if err != nil {
		return nil, err
	}
	if !policy.CanView(actor.Role, actor.ID, ticket) {
		return nil, forbidden("view this ticket")
	}

	comments, err := s.comments.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	attachments, err := s.attachments.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	trail, err := s.audit.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return &TicketDetail{Ticket: ticket, Comments: comments, Attachments: attachments, AuditTrail: trail}, nil
}

// List returns the tickets visible to actor, filtered by input.
func (s *TicketService) List(ctx context.Context, actor Actor, input TicketListInput) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Scope:        policy.ListScope(actor.Role, actor.ID),
		Statuses:     input.Statuses,
		Priorities:   input.Priorities,
		SearchTerm:   input.SearchTerm,
		SLADueBefore: input.SLADueBefore,
		SLADueAfter:  input.SLADueAfter,
		SLAMissing:   input.SLAMissing,
		Limit:        input.Limit,
		Offset:       input.Offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// BackfillKeys gives a fresh unique key to every ticket with a missing or short key.
func (s *TicketService) BackfillKeys(ctx context.Context) (int, error) {
	tickets, err := s.tickets.ListWithShortKeys(ctx, ticketkey.MinValidLength)
	if err != nil {
		return 0, fmt.Errorf("list tickets without key: %w", err)
	}

	updated := 0
	for _, ticket := range tickets {
		id := ticket.ID
		key, err := ticketkey.Allocate(ctx, s.generateKey, func(ctx context.Context, key string) error {
			return s.tickets.UpdateKey(ctx, id, key)
		})
		if err != nil {
			return updated, fmt.Errorf("rekey ticket %s: %w", id, err)
		}
		s.logger.Info("ticket key assigned", zap.String("ticket_id", id), zap.String("ticket_key", key))
		updated++
	}
	return updated, nil
}

func validateTitle(title string) error {
	if title == "" {
		return apperrors.NewFieldError("title", "title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return apperrors.NewFieldError("title", "title is too long")
	}
	return nil
}

func validateCategory(category string) error {
	if category == "" {
		return apperrors.NewFieldError("category", "category is required")
	}
	if utf8.RuneCountInString(category) > maxCategoryLength {
		return apperrors.NewFieldError("category", "category is too long")
	}
	return nil
}
