package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/events"
	"github.com/spec-kit/user-service/internal/keycloak"
	"github.com/spec-kit/user-service/internal/messaging"
	"github.com/spec-kit/user-service/internal/repository"
	apperrors "github.com/spec-kit/user-service/pkg/util"
)

// DeletionOutcome is the result of a completed DeleteUser call.
type DeletionOutcome int

const (
	// DeletionCompleted means the user was removed from the identity
	// provider and the local store, and notifications were attempted.
	DeletionCompleted DeletionOutcome = iota
	// DeletionSkipped means the identity provider refused the delete; the
	// local projection was kept and nothing was published. Callers render
	// this as a success-shaped response: the ambiguity with "already
	// deleted" is deliberate.
	DeletionSkipped
)

// UserService coordinates the user projection and the cross-system
// deletion workflow.
type UserService struct {
	users  repository.UserRepository
	idp    keycloak.Provider
	bus    messaging.Publisher
	logger *zap.Logger
}

// UserDependencies encapsulates collaborator requirements.
type UserDependencies struct {
	UserRepo repository.UserRepository
	Identity keycloak.Provider
	Bus      messaging.Publisher
}

// NewUserService builds the service.
func NewUserService(deps UserDependencies, logger *zap.Logger) *UserService {
	return &UserService{
		users:  deps.UserRepo,
		idp:    deps.Identity,
		bus:    deps.Bus,
		logger: logger,
	}
}

// CreateUser stores a new projection for an already-known Keycloak principal.
func (s *UserService) CreateUser(ctx context.Context, keycloakID, name string) (*domain.User, error) {
	if strings.TrimSpace(keycloakID) == "" || strings.TrimSpace(name) == "" {
		return nil, apperrors.NewValidationError("keycloak_id and name required", nil)
	}

	user := &domain.User{
		KeycloakID: keycloakID,
		Name:       name,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

// UpdateUser changes the display name of an existing projection.
func (s *UserService) UpdateUser(ctx context.Context, id int64, name string) (*domain.User, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.NewValidationError("name required", nil)
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"id": id})
		}
		return nil, apperrors.MapError(err)
	}

	user.Name = name
	if err := s.users.Update(ctx, user); err != nil {
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

// GetUser fetches a projection by local id.
func (s *UserService) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"id": id})
		}
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

// GetUserByKeycloakID fetches a projection by external identifier.
func (s *UserService) GetUserByKeycloakID(ctx context.Context, keycloakID string) (*domain.User, error) {
	user, err := s.users.GetByKeycloakID(ctx, keycloakID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"keycloak_id": keycloakID})
		}
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

// ListUsers returns every projection.
func (s *UserService) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return users, nil
}

// DeleteUser drives the deletion saga: resolve the projection, obtain an
// admin credential, delete the principal from the identity provider,
// delete the local row, then broadcast to the command and query audiences.
// Each step gates the next. The local projection is only ever removed
// after the identity provider confirms removal.
func (s *UserService) DeleteUser(ctx context.Context, id int64) (DeletionOutcome, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeletionSkipped, apperrors.NewNotFound("user", map[string]any{"id": id})
		}
		return DeletionSkipped, apperrors.MapError(err)
	}

	token, err := s.idp.AdminToken(ctx)
	if err != nil {
		s.logger.Error("identity provider authentication failed", zap.Error(err))
		return DeletionSkipped, apperrors.NewInternalError(err)
	}

	if err := s.idp.DeleteUser(ctx, token, user.KeycloakID); err != nil {
		// Conservative policy: the identity provider did not confirm the
		// removal, so the local projection stays and nothing is published.
		s.logger.Warn("identity provider delete failed, keeping local projection",
			zap.Int64("user_id", user.ID),
			zap.String("keycloak_id", user.KeycloakID),
			zap.Error(err))
		return DeletionSkipped, nil
	}

	if err := s.users.Delete(ctx, user.ID); err != nil {
		// The principal is gone externally but the projection survived.
		// This is the single divergence window the design tolerates; it
		// must be loud.
		s.logger.Error("local delete failed after identity provider delete; state diverged",
			zap.Int64("user_id", user.ID),
			zap.String("keycloak_id", user.KeycloakID),
			zap.Error(err))
		return DeletionSkipped, apperrors.NewInternalError(err)
	}

	notification := events.UserDeleted{
		ID:         user.ID,
		KeycloakID: user.KeycloakID,
		Name:       user.Name,
		Event:      events.EventUserDeleted,
	}
	s.publishDeletion(ctx, notification, messaging.ExchangeUserCommand)
	s.publishDeletion(ctx, notification, messaging.ExchangeUserQuery)

	return DeletionCompleted, nil
}

// DeleteUserByKeycloakID resolves the external identifier to a local id
// and re-enters the standard deletion workflow.
func (s *UserService) DeleteUserByKeycloakID(ctx context.Context, keycloakID string) (DeletionOutcome, error) {
	user, err := s.users.GetByKeycloakID(ctx, keycloakID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeletionSkipped, apperrors.NewNotFound("user", map[string]any{"keycloak_id": keycloakID})
		}
		return DeletionSkipped, apperrors.MapError(err)
	}
	return s.DeleteUser(ctx, user.ID)
}

// publishDeletion is strictly best-effort: the local delete is already
// committed and is authoritative regardless of notification delivery.
func (s *UserService) publishDeletion(ctx context.Context, notification events.UserDeleted, exchange string) {
	if err := s.bus.Publish(ctx, notification, exchange, messaging.RoutingKeyUserDeleted); err != nil {
		s.logger.Warn("could not publish deletion notification",
			zap.String("exchange", exchange),
			zap.Int64("user_id", notification.ID),
			zap.Error(err))
	}
}
