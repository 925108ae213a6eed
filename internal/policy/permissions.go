package policy

import "github.com/spec-kit/helpdesk/internal/domain"

type transition struct {
	from domain.TicketStatus
	to   domain.TicketStatus
}

var engineerTransitions = map[transition]struct{}{
	{domain.TicketStatusNew, domain.TicketStatusInProgress}:      {},
	{domain.TicketStatusNew, domain.TicketStatusResolved}:        {},
	{domain.TicketStatusInProgress, domain.TicketStatusResolved}: {},
	{domain.TicketStatusResolved, domain.TicketStatusInProgress}: {},
}

// CanView decides whether actorID may see the ticket.
func CanView(role domain.Role, actorID string, ticket *domain.Ticket) bool {
	if ticket == nil {
		return false
	}
	switch role {
	case domain.RoleProjectManager:
		return true
	case domain.RoleSupportEngineer:
		return ticket.AssignedToUser(actorID)
	case domain.RoleIssueReporter:
		return ticket.CreatedBy == actorID
	case domain.RoleNone:
		return ticket.CreatedBy == actorID || ticket.AssignedToUser(actorID)
	}
	return false
}

// CanUpdate decides whether actorID may edit the ticket fields.
// Reporters lose edit rights as soon as the ticket is assigned.
func CanUpdate(role domain.Role, actorID string, ticket *domain.Ticket) bool {
	if ticket == nil {
		return false
	}
	switch role {
	case domain.RoleProjectManager:
		return true
	case domain.RoleSupportEngineer:
		return ticket.AssignedToUser(actorID)
	case domain.RoleIssueReporter:
		return ticket.CreatedBy == actorID && !ticket.IsAssigned()
	}
	return false
}

// CanAssign reports whether the role may assign tickets. It is not ticket scoped.
func CanAssign(role domain.Role) bool {
	return role == domain.RoleProjectManager
}

// CanChangeStatus decides whether actorID may move the ticket to next.
func CanChangeStatus(role domain.Role, actorID string, ticket *domain.Ticket, next domain.TicketStatus) bool {
	if ticket == nil {
		return false
	}
	switch role {
	case domain.RoleProjectManager:
		return true
	case domain.RoleSupportEngineer:
		if !ticket.AssignedToUser(actorID) {
			return false
		}
		_, ok := engineerTransitions[transition{ticket.Status, next}]
		return ok
	case domain.RoleIssueReporter:
		return ticket.Status == domain.TicketStatusResolved &&
			next == domain.TicketStatusClosed &&
			ticket.CreatedBy == actorID
	}
	return false
}
