package dto

import "time"

// UserCreateRequest payload for creating a projection directly.
type UserCreateRequest struct {
	KeycloakID string `json:"keycloak_id"`
	Name       string `json:"name"`
}

// UserUpdateRequest payload for updating a projection.
type UserUpdateRequest struct {
	Name string `json:"name"`
}

// UserResponse is the read shape for a user projection.
type UserResponse struct {
	ID         int64     `json:"id"`
	KeycloakID string    `json:"keycloak_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}
