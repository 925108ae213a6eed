package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/ticketkey"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID       string
	Username string
	Role     domain.Role
}

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// loadTicket fetches a ticket by UUID or by its public key.
func loadTicket(ctx context.Context, tickets repository.TicketRepository, ref string) (*domain.Ticket, error) {
	return fetchTicket(ctx, ref, tickets.GetByID, tickets.GetByKey)
}

// lockTicket is loadTicket for mutating paths. The row stays locked until
// the enclosing transaction ends.
func lockTicket(ctx context.Context, tickets repository.TicketRepository, ref string) (*domain.Ticket, error) {
	return fetchTicket(ctx, ref, tickets.GetByIDForUpdate, tickets.GetByKeyForUpdate)
}

type ticketGetter func(ctx context.Context, ref string) (*domain.Ticket, error)

func fetchTicket(ctx context.Context, ref string, byID, byKey ticketGetter) (*domain.Ticket, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperrors.NewFieldError("ticket_id", "ticket identifier is required")
	}

	var (
		ticket *domain.Ticket
		err    error
	)
	switch {
	case isUUID(ref):
		ticket, err = byID(ctx, ref)
	case ticketkey.Valid(strings.ToUpper(ref)):
		ticket, err = byKey(ctx, strings.ToUpper(ref))
	default:
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ref})
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ref})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func isUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, clock Clock, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = clock.now()
	}
	dispatcher.Publish(ctx, event)
}

func eventActor(actor Actor) events.Actor {
	return events.Actor{UserID: actor.ID, Role: actor.Role}
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// forbidden is the uniform rejection for permission failures.
func forbidden(action string) error {
	return apperrors.NewForbidden("not allowed to " + action)
}
