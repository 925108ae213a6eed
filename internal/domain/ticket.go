package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "NEW"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// TicketStatuses lists every status in lifecycle order.
var TicketStatuses = []TicketStatus{
	TicketStatusNew,
	TicketStatusInProgress,
	TicketStatusResolved,
	TicketStatusClosed,
}

// ParseTicketStatus normalizes a textual status.
func ParseTicketStatus(value string) (TicketStatus, bool) {
	status := TicketStatus(strings.ToUpper(strings.TrimSpace(value)))
	for _, candidate := range TicketStatuses {
		if candidate == status {
			return status, true
		}
	}
	return "", false
}

// Open reports whether the ticket still counts against its SLA.
func (s TicketStatus) Open() bool {
	return s == TicketStatusNew || s == TicketStatusInProgress
}

// Label returns the display label used in notifications.
func (s TicketStatus) Label() string {
	switch s {
	case TicketStatusNew:
		return "Pending"
	case TicketStatusInProgress:
		return "In Progress"
	case TicketStatusResolved:
		return "Resolved"
	case TicketStatusClosed:
		return "Cancelled"
	}
	return string(s)
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// ParseTicketPriority normalizes a textual priority.
func ParseTicketPriority(value string) (TicketPriority, bool) {
	switch p := TicketPriority(strings.ToUpper(strings.TrimSpace(value))); p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return p, true
	}
	return "", false
}

// Label returns the display label used in notifications.
func (p TicketPriority) Label() string {
	switch p {
	case TicketPriorityLow:
		return "Low"
	case TicketPriorityMedium:
		return "Medium"
	case TicketPriorityHigh:
		return "High"
	case TicketPriorityUrgent:
		return "Urgent"
	}
	return string(p)
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID           string
	Key          string
	Title        string
	Description  string
	Category     string
	Priority     TicketPriority
	Status       TicketStatus
	CreatedBy    string
	AssignedTo   *string
	ReporterName *string
	SLADueAt     *time.Time
	AssignedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAssigned reports whether a support engineer owns the ticket.
func (t *Ticket) IsAssigned() bool {
	return t.AssignedTo != nil && *t.AssignedTo != ""
}

// AssignedToUser reports whether userID is the current assignee.
func (t *Ticket) AssignedToUser(userID string) bool {
	return t.IsAssigned() && *t.AssignedTo == userID
}
