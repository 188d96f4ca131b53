package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/config"
)

// Exchange and routing-key names shared with downstream services.
const (
	// ExchangeUserTopic is a general-purpose, non-durable topic exchange.
	ExchangeUserTopic = "user.topic"
	// ExchangeUserCommand receives deletion notifications for the command audience.
	ExchangeUserCommand = "user.command.topic"
	// ExchangeUserQuery receives deletion notifications for the query audience.
	ExchangeUserQuery = "user.query.topic"
	// ExchangeIdentityEvents is the shared topic exchange Keycloak publishes
	// lifecycle events to.
	ExchangeIdentityEvents = "amq.topic"

	// RoutingKeyUserDeleted is the routing key for both deletion audiences.
	RoutingKeyUserDeleted = "user.topic.delete"
)

// DeliveryHandler processes one raw delivery from the broker.
type DeliveryHandler func(ctx context.Context, routingKey string, body []byte)

// Publisher is the outbound surface the rest of the service depends on.
type Publisher interface {
	Publish(ctx context.Context, event any, exchange, routingKey string) error
}

// Bus owns the process-wide broker connection and channel. Channel access
// is serialized: the AMQP channel is not safe for concurrent writes.
type Bus struct {
	cfg    config.BrokerConfig
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Connect dials the broker and declares the exchange topology. A failed
// connection is logged and leaves the bus in a degraded state where every
// publish is a logged no-op; there is no automatic reconnect.
func Connect(cfg config.BrokerConfig, logger *zap.Logger) *Bus {
	bus := &Bus{cfg: cfg, logger: logger}

	conn, err := amqp.DialConfig(cfg.URL(), amqp.Config{
		Properties: amqp.Table{"connection_name": cfg.ClientName},
	})
	if err != nil {
		logger.Warn("could not connect to message bus", zap.Error(err))
		return bus
	}

	channel, err := conn.Channel()
	if err != nil {
		logger.Warn("could not open broker channel", zap.Error(err))
		_ = conn.Close()
		return bus
	}

	if err := declareTopology(channel); err != nil {
		logger.Warn("could not declare broker topology", zap.Error(err))
		_ = channel.Close()
		_ = conn.Close()
		return bus
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if reason := <-closed; reason != nil {
			logger.Warn("broker connection shutdown", zap.String("reason", reason.Reason))
		}
	}()

	bus.conn = conn
	bus.channel = channel
	logger.Info("connected to message bus",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port))
	return bus
}

func declareTopology(channel *amqp.Channel) error {
	type exchange struct {
		name    string
		durable bool
	}
	for _, ex := range []exchange{
		{ExchangeUserTopic, false},
		{ExchangeUserCommand, true},
		{ExchangeUserQuery, true},
		{ExchangeIdentityEvents, true},
	} {
		if err := channel.ExchangeDeclare(ex.name, amqp.ExchangeTopic, ex.durable, false, false, false, nil); err != nil {
			return err
		}
	}
	return nil
}

// IsOpen reports whether the broker connection is usable.
func (b *Bus) IsOpen() bool {
	return b != nil && b.conn != nil && !b.conn.IsClosed()
}

// Publish serializes the event and writes it to the given exchange under
// the given routing key. Delivery is fire-and-forget: no confirms, no
// persistence, no retry. A closed connection downgrades the call to a
// logged no-op.
func (b *Bus) Publish(ctx context.Context, event any, exchange, routingKey string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if !b.IsOpen() {
		b.logger.Warn("message bus is closed, not able to send message",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey))
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Body:        body,
	}); err != nil {
		return err
	}

	b.logger.Debug("sent message to message bus",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey))
	return nil
}

// StartListening declares an anonymous auto-delete queue, binds it to the
// shared identity-event exchange with the given routing-key pattern, and
// consumes from it until the channel closes. Deliveries are auto-acked on
// receipt: handler processing is decoupled from acknowledgment. Safe to
// call multiple times with different patterns; each call gets its own
// queue.
func (b *Bus) StartListening(ctx context.Context, pattern string, handler DeliveryHandler) error {
	if !b.IsOpen() {
		b.logger.Warn("message bus is closed, not able to listen",
			zap.String("pattern", pattern))
		return amqp.ErrClosed
	}

	b.mu.Lock()
	queue, err := b.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if err := b.channel.QueueBind(queue.Name, pattern, ExchangeIdentityEvents, false, nil); err != nil {
		b.mu.Unlock()
		return err
	}
	deliveries, err := b.channel.Consume(queue.Name, "user-service-"+uuid.NewString(), true, false, false, false, nil)
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.logger.Info("listening for identity events", zap.String("pattern", pattern))

	go func() {
		for delivery := range deliveries {
			b.handleDelivery(ctx, delivery, handler)
		}
		b.logger.Warn("stopped consuming identity events", zap.String("pattern", pattern))
	}()
	return nil
}

// handleDelivery contains failures at the per-message boundary: a panic in
// the handler must never bring the consume loop down.
func (b *Bus) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler DeliveryHandler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic while processing message",
				zap.Any("panic", r),
				zap.String("routing_key", delivery.RoutingKey))
		}
	}()
	handler(ctx, delivery.RoutingKey, delivery.Body)
}

// Close tears down the channel and connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel != nil && !b.channel.IsClosed() {
		_ = b.channel.Close()
	}
	if b.conn != nil && !b.conn.IsClosed() {
		_ = b.conn.Close()
	}
}
