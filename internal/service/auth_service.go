package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/policy"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// AuthService coordinates registration, login and profile provisioning.
type AuthService struct {
	tx         persistence.TxManager
	users      repository.UserRepository
	profiles   repository.ProfileRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	TxManager   persistence.TxManager
	UserRepo    repository.UserRepository
	ProfileRepo repository.ProfileRepository
}

// RegisterInput describes a self-service account.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

// Session is the outcome of a successful login.
type Session struct {
	User      *domain.User
	Role      domain.Role
	Token     string
	ExpiresAt time.Time
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	return &AuthService{
		tx:         deps.TxManager,
		users:      deps.UserRepo,
		profiles:   deps.ProfileRepo,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		bcryptCost: cfg.Auth.BcryptCost,
	}
}

// registrationRoles maps the registration selector to roles.
var registrationRoles = map[string]domain.Role{
	"ir": domain.RoleIssueReporter,
	"se": domain.RoleSupportEngineer,
}

func parseRegistrationRole(value string) (domain.Role, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if role, ok := registrationRoles[value]; ok {
		return role, true
	}
	role, ok := domain.ParseRole(value)
	return role, ok
}

// MaxUsernameLength matches the users.username column.
const MaxUsernameLength = 150

// Register creates an account together with its profile.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, *domain.Profile, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)
	if username == "" {
		return nil, nil, apperrors.NewFieldError("username", "username is required")
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return nil, nil, apperrors.NewFieldError("username", fmt.Sprintf("username must have at most %d characters", MaxUsernameLength))
	}
	if email == "" {
		return nil, nil, apperrors.NewFieldError("email", "email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, nil, apperrors.NewFieldError("email", "email is invalid")
	}
	if err := auth.ValidatePassword(input.Password); err != nil {
		return nil, nil, apperrors.NewFieldError("password", fmt.Sprintf("password must have at least %d characters", auth.MinPasswordLength))
	}
	if strings.TrimSpace(input.Role) == "" {
		return nil, nil, apperrors.NewFieldError("role", "role selection is required")
	}
	role, ok := parseRegistrationRole(input.Role)
	if !ok || !policy.SelfRegistrable(role) {
		return nil, nil, apperrors.NewFieldError("role", "role must be issue reporter or support engineer")
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		PasswordHash: hash,
	}
	profile := &domain.Profile{Role: role}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrUsernameTaken) {
				return apperrors.NewConflict("username already taken", map[string]any{"field": "username"})
			}
			return fmt.Errorf("create user: %w", err)
		}
		profile.UserID = user.ID
		return s.profiles.SetRole(ctx, user.ID, role)
	})
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	return user, profile, nil
}

// Login verifies credentials, provisions the profile and issues a token.
func (s *AuthService) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, apperrors.MapError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}

	profile, err := s.EnsureProfile(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		return nil, apperrors.MapError(err)
	}

	token, exp, err := s.tokenMgr.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	role := policy.ResolveRole(policy.Subject{User: user, Profile: profile})
	return &Session{User: user, Role: role, Token: token, ExpiresAt: exp}, nil
}

// EnsureProfile returns the stored profile, creating the default one on first
// contact. Repeated calls never change an existing role.
func (s *AuthService) EnsureProfile(ctx context.Context, user *domain.User) (*domain.Profile, error) {
	profile, err := s.profiles.CreateIfAbsent(ctx, user.ID, policy.DefaultRole(user))
	if err != nil {
		return nil, apperrors.MapError(fmt.Errorf("ensure profile: %w", err))
	}
	return profile, nil
}

// Promote sets the role of a user by username. Administrative use only.
func (s *AuthService) Promote(ctx context.Context, username, roleName string) (*domain.Profile, error) {
	role, ok := domain.ParseRole(roleName)
	if !ok {
		return nil, apperrors.NewFieldError("role", "unknown role")
	}
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"username": username})
		}
		return nil, apperrors.MapError(err)
	}
	if err := s.profiles.SetRole(ctx, user.ID, role); err != nil {
		return nil, apperrors.MapError(err)
	}
	return &domain.Profile{UserID: user.ID, Role: role}, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
