package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/notify"
	"github.com/spec-kit/helpdesk/internal/repository"
)

const defaultSendTimeout = 15 * time.Second

// NotificationService turns ticket events into mail. Delivery runs in the
// background and is best effort: failures are logged and never reach the
// request that published the event.
type NotificationService struct {
	dispatcher  events.Dispatcher
	users       repository.UserRepository
	renderer    *notify.Renderer
	sender      notify.Sender
	sendTimeout time.Duration
	logger      *zap.Logger
	pending     sync.WaitGroup
}

// NewNotificationService creates the service. A non-positive sendTimeout
// falls back to 15s.
func NewNotificationService(dispatcher events.Dispatcher, users repository.UserRepository, sender notify.Sender, sendTimeout time.Duration, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &NotificationService{
		dispatcher:  dispatcher,
		users:       users,
		renderer:    notify.NewRenderer(),
		sender:      sender,
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.background(n.handleTicketAssigned))
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.background(n.handleTicketStatusChanged))
}

// Wait blocks until every delivery started so far has finished.
func (n *NotificationService) Wait() {
	n.pending.Wait()
}

// background runs handler on its own goroutine with a context detached from
// the request and bounded by the send timeout.
func (n *NotificationService) background(handler events.EventHandler) events.EventHandler {
	return func(ctx context.Context, event events.Event) error {
		ctx = context.WithoutCancel(ctx)
		n.pending.Add(1)
		go func() {
			defer n.pending.Done()
			ctx, cancel := context.WithTimeout(ctx, n.sendTimeout)
			defer cancel()
			if err := n.run(ctx, handler, event); err != nil {
				n.logger.Warn("notification delivery failed",
					zap.String("event_type", string(event.Type)),
					zap.String("event_id", event.ID),
					zap.String("ticket_id", event.TicketID),
					zap.Error(err),
				)
			}
		}()
		return nil
	}
}

func (n *NotificationService) run(ctx context.Context, handler events.EventHandler, event events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

func (n *NotificationService) handleTicketAssigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketAssignedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	if strings.TrimSpace(payload.Assignee.Email) == "" {
		n.logger.Debug("assignee has no email", zap.String("ticket_id", event.TicketID))
		return nil
	}

	msg, err := n.renderer.Assignment(&payload.Ticket, &payload.Assignee, payload.Notes)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, msg)
}

func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStatusChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}

	recipients, err := n.statusRecipients(ctx, &payload.Ticket)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}

	msg, err := n.renderer.StatusChanged(&payload.Ticket, payload.OldStatus, payload.NewStatus, recipients)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, msg)
}

// statusRecipients collects creator, assignee and every project manager,
// deduplicated by address.
func (n *NotificationService) statusRecipients(ctx context.Context, ticket *domain.Ticket) ([]string, error) {
	seen := map[string]struct{}{}
	var recipients []string
	add := func(email string) {
		email = strings.TrimSpace(email)
		key := strings.ToLower(email)
		if email == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		recipients = append(recipients, email)
	}

	var errs []error
	userIDs := []string{ticket.CreatedBy}
	if ticket.IsAssigned() {
		userIDs = append(userIDs, *ticket.AssignedTo)
	}
	for _, id := range userIDs {
		user, err := n.users.GetByID(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("load recipient %s: %w", id, err))
			continue
		}
		add(user.Email)
	}

	managers, err := n.users.ListByRole(ctx, domain.RoleProjectManager)
	if err != nil {
		errs = append(errs, fmt.Errorf("load project managers: %w", err))
	}
	for _, pm := range managers {
		add(pm.Email)
	}

	if len(errs) > 0 {
		n.logger.Warn("some notification recipients unavailable",
			zap.String("ticket_id", ticket.ID), zap.Error(errors.Join(errs...)))
	}
	return recipients, nil
}
