package events

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange             = "ecommerce.events"
	PaymentConfirmedRoutingKey = "payment.confirmed.v1"
	StockReservedRoutingKey    = "stock.reserved.v1"
	OrderFinalizedRoutingKey   = "order.finalized.v1"
	reservationServiceName     = "reservation-service-go"
)

func serviceQueue(serviceName, routingKey string) string {
	return serviceName + "." + routingKey
}

func reservationQueueName(routingKey string) string {
	return serviceQueue(reservationServiceName, routingKey)
}

func deadLetterQueueName(queue string) string {
	return queue + ".dlq"
}

func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func declareEventsExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}
