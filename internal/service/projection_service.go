package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/events"
	"github.com/spec-kit/user-service/internal/repository"
)

// projectionWriteTimeout bounds the detached projection write.
const projectionWriteTimeout = 10 * time.Second

// ProjectionService turns inbound identity-provider events into local
// user projections. Processing is at-most-once: deliveries are already
// acknowledged when they arrive here, and the registration write runs
// detached from the delivery path, so a failed write is only visible in
// logs.
type ProjectionService struct {
	users      repository.UserRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewProjectionService builds the service.
func NewProjectionService(users repository.UserRepository, dispatcher events.Dispatcher, logger *zap.Logger) *ProjectionService {
	return &ProjectionService{
		users:      users,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes the projection handlers to the dispatcher.
func (p *ProjectionService) RegisterHandlers() {
	if p.dispatcher == nil {
		return
	}
	p.dispatcher.Subscribe(events.EventRegister, p.handleRegister)
	p.dispatcher.Subscribe(events.EventProfileUpdate, p.handleProfileUpdate)
}

// HandleDelivery decodes one raw broker delivery and dispatches it by
// event type. Malformed or unknown messages are logged and dropped; no
// failure here ever propagates back to the consume loop.
func (p *ProjectionService) HandleDelivery(ctx context.Context, routingKey string, body []byte) {
	var event events.IdentityEvent
	if err := json.Unmarshal(body, &event); err != nil {
		p.logger.Warn("unable to deserialize identity event",
			zap.String("routing_key", routingKey),
			zap.Error(err))
		return
	}
	if event.Empty() {
		p.logger.Warn("identity event carried no type or user id",
			zap.String("routing_key", routingKey))
		return
	}

	if !p.dispatcher.Handles(event.Type) {
		p.logger.Debug("ignoring identity event",
			zap.String("type", string(event.Type)),
			zap.String("user_id", event.UserID))
		return
	}

	if err := p.dispatcher.Dispatch(ctx, event); err != nil {
		p.logger.Warn("identity event dispatch failed",
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

func (p *ProjectionService) handleRegister(ctx context.Context, event events.IdentityEvent) error {
	if event.UserID == "" {
		p.logger.Warn("registration event missing user id")
		return nil
	}

	user := &domain.User{
		KeycloakID: event.UserID,
		Name:       event.Details.Username,
		CreatedAt:  time.Now().UTC(),
	}
	p.logger.Info("projecting registered user",
		zap.String("keycloak_id", user.KeycloakID),
		zap.String("name", user.Name))

	// Detached from the delivery/ack path on purpose: persistence is
	// best-effort and must not block or fail the consumer.
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), projectionWriteTimeout)
		defer cancel()
		if err := p.users.Create(writeCtx, user); err != nil {
			p.logger.Error("projection write failed",
				zap.String("keycloak_id", user.KeycloakID),
				zap.Error(err))
		}
	}()
	return nil
}

// handleProfileUpdate only records the event; projecting profile changes
// is an extension point.
func (p *ProjectionService) handleProfileUpdate(ctx context.Context, event events.IdentityEvent) error {
	p.logger.Info("profile update event received",
		zap.String("user_id", event.UserID),
		zap.String("context", event.Details.Context))
	return nil
}
