package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/user-service/internal/api/http/handlers"
	"github.com/spec-kit/user-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	AuthMiddleware *auth.Middleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	users := app.Group("/api/users")
	users.Get("/profile", cfg.AuthMiddleware.Handle, cfg.Users.Profile)
	users.Get("/keycloak/:keycloakId", cfg.Users.GetByKeycloakID)
	users.Delete("/delete-account", cfg.Users.DeleteByKeycloakID)
	users.Get("/", cfg.Users.List)
	users.Post("/", cfg.Users.Create)
	users.Get("/:id", cfg.Users.GetByID)
	users.Put("/:id", cfg.Users.Update)
	users.Delete("/:id", cfg.Users.Delete)
}
