package middleware_test

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/doctypesdb/internal/middleware"
	"github.com/localnerve/doctypesdb/internal/utils"
)

func setupApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return utils.EngineErrorResponse(c, err)
		},
	})
	app.Use(middleware.Identity())
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.SendString(middleware.UserID(c))
	})
	app.Get("/admin", middleware.RequireRole("admin"), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

// TestIdentity tests the identity extraction and role guard
func TestIdentity(t *testing.T) {
	app := setupApp()

	cases := []struct {
		name   string
		path   string
		user   string
		roles  string
		status int
	}{
		{"no identity", "/me", "", "", fiber.StatusForbidden},
		{"identity", "/me", "user-1", "", fiber.StatusOK},
		{"no role", "/admin", "user-1", "user", fiber.StatusForbidden},
		{"role in list", "/admin", "user-1", "user, admin", fiber.StatusOK},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", c.path, nil)
			if c.user != "" {
				req.Header.Set(middleware.HeaderUserID, c.user)
			}
			if c.roles != "" {
				req.Header.Set(middleware.HeaderUserRole, c.roles)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("Failed to execute request: %v", err)
			}
			if resp.StatusCode != c.status {
				t.Errorf("Expected status %d, got %d", c.status, resp.StatusCode)
			}
		})
	}
}
