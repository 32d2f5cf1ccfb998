package events

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const consumerPrefetch = 16

// Consumer binds a durable queue to the events exchange and feeds its
// deliveries to a handler.
type Consumer struct {
	conn       *amqp.Connection
	routingKey string
	handler    HandlerFunc
	logger     zerolog.Logger
}

func NewConsumer(conn *amqp.Connection, routingKey string, handler HandlerFunc, logger zerolog.Logger) *Consumer {
	return &Consumer{
		conn:       conn,
		routingKey: routingKey,
		handler:    handler,
		logger:     logger.With().Str("component", "consumer").Str("routing_key", routingKey).Logger(),
	}
}

// Run declares the topology and blocks until ctx is done or the delivery
// channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	queue := reservationQueueName(c.routingKey)
	if err := declareQueue(ch, queue, c.routingKey); err != nil {
		return err
	}
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(
		queue,
		reservationServiceName,
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	c.logger.Info().Str("queue", queue).Msg("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("stopping consumer")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed for %s", queue)
			}
			c.deliver(ctx, msg)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, msg amqp.Delivery) {
	if err := c.handler(ctx, msg.Body); err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.MessageId).Msg("handle message")
		_ = msg.Nack(false, false)
		return
	}
	_ = msg.Ack(false)
}

func declareQueue(ch *amqp.Channel, queue, routingKey string) error {
	if err := declareEventsExchange(ch); err != nil {
		return fmt.Errorf("declare events exchange: %w", err)
	}

	dlq := deadLetterQueueName(queue)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", dlq, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, routingKey, EventsExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", queue, err)
	}
	return nil
}
