package domain

import "strings"

// Role enumerates the helpdesk roles. The zero value means the role is unresolved.
type Role string

const (
	RoleNone            Role = ""
	RoleProjectManager  Role = "PROJECT_MANAGER"
	RoleSupportEngineer Role = "SUPPORT_ENGINEER"
	RoleIssueReporter   Role = "ISSUE_REPORTER"
)

// ParseRole normalizes a textual role, returning false for unknown values.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(value))) {
	case RoleProjectManager:
		return RoleProjectManager, true
	case RoleSupportEngineer:
		return RoleSupportEngineer, true
	case RoleIssueReporter:
		return RoleIssueReporter, true
	}
	return RoleNone, false
}

// Label returns the human readable role name.
func (r Role) Label() string {
	switch r {
	case RoleProjectManager:
		return "Project Manager"
	case RoleSupportEngineer:
		return "Support Engineer"
	case RoleIssueReporter:
		return "Issue Reporter"
	}
	return "Unassigned"
}

// Profile links a user to exactly one role.
type Profile struct {
	UserID string
	Role   Role
}
