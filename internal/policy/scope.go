package policy

import "github.com/spec-kit/helpdesk/internal/domain"

// ScopeKind describes which tickets a role-filtered listing may return.
type ScopeKind int

const (
	ScopeNone ScopeKind = iota
	ScopeAll
	ScopeCreatedBy
	ScopeAssignedTo
)

// Scope restricts a listing to the tickets visible to an actor.
type Scope struct {
	Kind   ScopeKind
	UserID string
}

// ListScope mirrors CanView for listings.
func ListScope(role domain.Role, actorID string) Scope {
	switch role {
	case domain.RoleProjectManager:
		return Scope{Kind: ScopeAll}
	case domain.RoleSupportEngineer:
		return Scope{Kind: ScopeAssignedTo, UserID: actorID}
	case domain.RoleIssueReporter:
		return Scope{Kind: ScopeCreatedBy, UserID: actorID}
	}
	return Scope{Kind: ScopeNone}
}

// CanCreate reports whether the role may raise a ticket for itself.
func CanCreate(role domain.Role) bool {
	return role == domain.RoleIssueReporter
}

// CanCreateEmergency reports whether the role may raise a ticket on behalf of someone else.
func CanCreateEmergency(role domain.Role) bool {
	return role == domain.RoleProjectManager
}

// CanManageSLA reports whether the role may run SLA maintenance such as autofill.
func CanManageSLA(role domain.Role) bool {
	return role == domain.RoleProjectManager
}

// CanSeeTeam reports whether the role may list users and team workload.
func CanSeeTeam(role domain.Role) bool {
	return role == domain.RoleProjectManager
}

// CanBeAssigned reports whether a user holding role may own tickets.
func CanBeAssigned(role domain.Role) bool {
	return role == domain.RoleSupportEngineer
}

// CanSeeSLAAlerts reports whether the role has an SLA alert feed.
func CanSeeSLAAlerts(role domain.Role) bool {
	return role == domain.RoleProjectManager || role == domain.RoleSupportEngineer
}
