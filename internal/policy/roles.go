// Package policy holds the pure decision functions of the helpdesk: role
// resolution, ticket permissions and the status state machine.
package policy

import "github.com/spec-kit/helpdesk/internal/domain"

// Subject is an authenticated principal together with its stored profile, if any.
type Subject struct {
	User    *domain.User
	Profile *domain.Profile
}

// ResolveRole returns the stored profile role. Staff and superusers without a
// profile behave as project managers; anyone else stays unresolved.
func ResolveRole(s Subject) domain.Role {
	if s.Profile != nil && s.Profile.Role != domain.RoleNone {
		return s.Profile.Role
	}
	if s.User != nil && s.User.Privileged() {
		return domain.RoleProjectManager
	}
	return domain.RoleNone
}

// DefaultRole is the role provisioned for a principal on first contact.
func DefaultRole(user *domain.User) domain.Role {
	if user != nil && user.Privileged() {
		return domain.RoleProjectManager
	}
	return domain.RoleIssueReporter
}

// SelfRegistrable reports whether a role may be picked at registration.
// Project managers are promoted by an administrator.
func SelfRegistrable(role domain.Role) bool {
	return role == domain.RoleIssueReporter || role == domain.RoleSupportEngineer
}
