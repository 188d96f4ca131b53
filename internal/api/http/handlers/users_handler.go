package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/user-service/internal/api/dto"
	"github.com/spec-kit/user-service/internal/auth"
	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/service"
	apperrors "github.com/spec-kit/user-service/pkg/util"
)

// UsersHandler exposes the user projection endpoints.
type UsersHandler struct {
	users *service.UserService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(userService *service.UserService) *UsersHandler {
	return &UsersHandler{users: userService}
}

// List handles GET /api/users.
func (h *UsersHandler) List(c *fiber.Ctx) error {
	users, err := h.users.ListUsers(c.UserContext())
	if err != nil {
		return err
	}

	out := make([]dto.UserResponse, 0, len(users))
	for _, user := range users {
		out = append(out, userResponse(&user))
	}
	return c.JSON(fiber.Map{"data": out})
}

// GetByID handles GET /api/users/:id.
func (h *UsersHandler) GetByID(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	user, err := h.users.GetUser(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(user)})
}

// GetByKeycloakID handles GET /api/users/keycloak/:keycloakId.
func (h *UsersHandler) GetByKeycloakID(c *fiber.Ctx) error {
	keycloakID := c.Params("keycloakId")
	if keycloakID == "" {
		return apperrors.NewValidationError("keycloakId required", nil)
	}

	user, err := h.users.GetUserByKeycloakID(c.UserContext(), keycloakID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(user)})
}

// Create handles POST /api/users.
func (h *UsersHandler) Create(c *fiber.Ctx) error {
	var req dto.UserCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	user, err := h.users.CreateUser(c.UserContext(), req.KeycloakID, req.Name)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": userResponse(user)})
}

// Update handles PUT /api/users/:id.
func (h *UsersHandler) Update(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req dto.UserUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	if _, err := h.users.UpdateUser(c.UserContext(), id, req.Name); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Delete handles DELETE /api/users/:id and drives the full deletion
// workflow. A completed deletion responds 200; when the identity provider
// refused the delete the response is 204 with the local record untouched.
// The two cases are intentionally not distinguishable from the status
// alone.
func (h *UsersHandler) Delete(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	outcome, err := h.users.DeleteUser(c.UserContext(), id)
	if err != nil {
		return err
	}
	if outcome == service.DeletionSkipped {
		return c.SendStatus(http.StatusNoContent)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"deleted": true}})
}

// DeleteByKeycloakID handles DELETE /api/users/delete-account?keycloakId=…,
// the alternate entry point into the same deletion workflow.
func (h *UsersHandler) DeleteByKeycloakID(c *fiber.Ctx) error {
	keycloakID := c.Query("keycloakId")
	if keycloakID == "" {
		return apperrors.NewValidationError("keycloakId required", nil)
	}

	outcome, err := h.users.DeleteUserByKeycloakID(c.UserContext(), keycloakID)
	if err != nil {
		return err
	}
	if outcome == service.DeletionSkipped {
		return c.SendStatus(http.StatusNoContent)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"deleted": true}})
}

// Profile handles GET /api/users/profile for the authenticated caller.
func (h *UsersHandler) Profile(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"subject":  principal.Subject,
		"username": principal.Username,
		"email":    principal.Email,
	}})
}

func parseID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid user id", nil)
	}
	return id, nil
}

func userResponse(user *domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:         user.ID,
		KeycloakID: user.KeycloakID,
		Name:       user.Name,
		CreatedAt:  user.CreatedAt,
	}
}
