package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/service"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// actorFromContext converts the authenticated principal into a service actor.
func actorFromContext(c *fiber.Ctx) (service.Actor, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return service.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return service.Actor{
		ID:       principal.User.ID,
		Username: principal.User.Username,
		Role:     principal.Role,
	}, nil
}

func invalidPayload() error {
	return apperrors.NewValidationError("invalid payload", nil)
}
