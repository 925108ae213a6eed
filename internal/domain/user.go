package domain

import (
	"strings"
	"time"
)

// User is an authenticated account of the helpdesk.
type User struct {
	ID           string
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	IsStaff      bool
	IsSuperuser  bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayName returns the full name when present, the username otherwise.
func (u *User) DisplayName() string {
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	return u.Username
}

// Privileged reports whether the account carries staff or superuser flags.
func (u *User) Privileged() bool {
	return u.IsStaff || u.IsSuperuser
}
