package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/correlation"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/reservation"
)

const publishTimeout = 3 * time.Second

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher emits reservation events. It satisfies checkout.Notifier.
type Publisher struct {
	ch       Channel
	seqRepo  SequenceRepository
	producer string
	now      func() time.Time
}

var _ checkout.Notifier = (*Publisher)(nil)

func NewPublisher(conn *amqp.Connection, seqRepo SequenceRepository) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareEventsExchange(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}
	return newPublisher(ch, seqRepo), nil
}

func newPublisher(ch Channel, seqRepo SequenceRepository) *Publisher {
	return &Publisher{
		ch:       ch,
		seqRepo:  seqRepo,
		producer: reservationServiceName,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

// StockReserved is partitioned by session so consumers see a session's
// reservations in order.
func (p *Publisher) StockReserved(ctx context.Context, sessionID string, res checkout.Result) error {
	payload := StockReservedPayload{
		Reference:   res.Reference,
		SessionID:   sessionID,
		Items:       reservedItems(res.Reservations),
		AmountCents: res.Total.AmountCents,
		Currency:    res.Total.Currency,
		ExpiresAt:   res.ExpireAt,
		Timestamp:   p.now(),
	}

	env, err := p.envelope(ctx, EventTypeStockReserved, stockReservedSchema, sessionID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(StockReservedEvent{EventEnvelope: env, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal StockReserved: %w", err)
	}
	return p.publishJSON(ctx, StockReservedRoutingKey, body)
}

func (p *Publisher) OrderFinalized(ctx context.Context, res checkout.FinalizeResult) error {
	payload := OrderFinalizedPayload{
		Reference:       res.Reference,
		PaymentDetailID: res.PaymentDetailID,
		Timestamp:       p.now(),
	}
	for _, l := range res.Lines {
		payload.Items = append(payload.Items, ReservedItem{SKU: l.SKU, Quantity: l.Quantity})
	}

	env, err := p.envelope(ctx, EventTypeOrderFinalized, orderFinalizedSchema, res.Reference)
	if err != nil {
		return err
	}
	body, err := json.Marshal(OrderFinalizedEvent{EventEnvelope: env, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal OrderFinalized: %w", err)
	}
	return p.publishJSON(ctx, OrderFinalizedRoutingKey, body)
}

func (p *Publisher) envelope(ctx context.Context, name, schema, partitionKey string) (EventEnvelope, error) {
	seq, err := p.seqRepo.NextSequence(ctx, partitionKey)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("reserve sequence: %w", err)
	}
	return EventEnvelope{
		EventName:     name,
		EventVersion:  1,
		EventID:       uuid.NewString(),
		CorrelationID: correlationID(ctx),
		Producer:      p.producer,
		PartitionKey:  partitionKey,
		Sequence:      seq,
		OccurredAt:    p.now(),
		Schema:        schema,
	}, nil
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func correlationID(ctx context.Context) string {
	if cid := correlation.FromContext(ctx); cid != "" {
		return cid
	}
	return uuid.NewString()
}

func reservedItems(rs []reservation.Reservation) []ReservedItem {
	items := make([]ReservedItem, 0, len(rs))
	for _, r := range rs {
		items = append(items, ReservedItem{SKU: r.SKU, Quantity: r.Quantity})
	}
	return items
}
