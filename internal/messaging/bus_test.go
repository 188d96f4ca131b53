package messaging

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/config"
	"github.com/spec-kit/user-service/internal/events"
)

func degradedBus() *Bus {
	return &Bus{
		cfg:    config.BrokerConfig{Host: "127.0.0.1", Port: 5672},
		logger: zap.NewNop(),
	}
}

func TestPublishIsNoOpWhenDisconnected(t *testing.T) {
	bus := degradedBus()

	notification := events.UserDeleted{ID: 42, KeycloakID: "ext-42", Name: "alice", Event: events.EventUserDeleted}
	if err := bus.Publish(context.Background(), notification, ExchangeUserCommand, RoutingKeyUserDeleted); err != nil {
		t.Fatalf("publish on a closed bus must be a silent no-op, got %v", err)
	}
}

func TestPublishRejectsUnserializableEvent(t *testing.T) {
	bus := degradedBus()

	if err := bus.Publish(context.Background(), make(chan int), ExchangeUserTopic, "x"); err == nil {
		t.Fatalf("expected marshal error")
	}
}

func TestStartListeningFailsFastWhenDisconnected(t *testing.T) {
	bus := degradedBus()

	err := bus.StartListening(context.Background(), "KK.EVENT.#", func(ctx context.Context, routingKey string, body []byte) {
		t.Fatalf("handler must not run without a connection")
	})
	if err == nil {
		t.Fatalf("expected error when listening without a connection")
	}
}

func TestIsOpenOnDegradedBus(t *testing.T) {
	if degradedBus().IsOpen() {
		t.Fatalf("bus without a connection must report closed")
	}
	var nilBus *Bus
	if nilBus.IsOpen() {
		t.Fatalf("nil bus must report closed")
	}
}

func TestCloseOnDegradedBusIsSafe(t *testing.T) {
	bus := degradedBus()
	bus.Close()

	var nilBus *Bus
	nilBus.Close()
}
