package domain

import "time"

// User is the local projection of a Keycloak principal. KeycloakID is the
// external identifier and is immutable once set; the source of truth for
// the principal itself is the identity provider.
type User struct {
	ID         int64
	KeycloakID string
	Name       string
	CreatedAt  time.Time
}
