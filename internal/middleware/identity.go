package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/doctypesdb/internal/types"
)

// Identity headers set by the trusted proxy in front of the service.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"

	localUserID = "user_id"
	localRoles  = "user_roles"
)

// Identity stores the caller's id and roles in context. Requests without an id are rejected.
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(HeaderUserID))
		if userID == "" {
			return &types.CustomError{
				Code:    fiber.StatusForbidden,
				Message: "Identity header \"" + HeaderUserID + "\" not found",
				Type:    "identity",
			}
		}

		var roles []string
		for _, r := range strings.Split(c.Get(HeaderUserRole), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(localUserID, userID)
		c.Locals(localRoles, roles)
		return c.Next()
	}
}

// RequireRole allows only callers holding role. It must run after Identity.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals(localRoles).([]string)
		for _, r := range roles {
			if r == role {
				return c.Next()
			}
		}
		return &types.CustomError{
			Code:    fiber.StatusForbidden,
			Message: "Role \"" + role + "\" required",
			Type:    "authorization." + role,
		}
	}
}

// UserID returns the caller id stored by Identity.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}
