package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/correlation"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/pricing"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/reservation"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error { return nil }

type fakeSequences struct {
	seq  map[string]int64
	fail error
}

func (f *fakeSequences) NextSequence(ctx context.Context, partitionKey string) (int64, error) {
	if f.fail != nil {
		return 0, f.fail
	}
	if f.seq == nil {
		f.seq = map[string]int64{}
	}
	f.seq[partitionKey]++
	return f.seq[partitionKey], nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestPublisher(ch *fakeChannel, seq *fakeSequences) *Publisher {
	p := newPublisher(ch, seq)
	p.now = func() time.Time { return fixedNow }
	return p
}

func TestPublisher_StockReserved(t *testing.T) {
	ch := &fakeChannel{}
	p := newTestPublisher(ch, &fakeSequences{})

	res := checkout.Result{
		Reference: "ref-1",
		Total:     pricing.Total{Currency: "USD", AmountCents: 2598},
		ExpireAt:  fixedNow.Add(15 * time.Minute),
		Reservations: []reservation.Reservation{
			{SKU: "A", Quantity: 2},
			{SKU: "B", Quantity: 1},
		},
	}
	require.NoError(t, p.StockReserved(context.Background(), "sess-1", res))
	require.NoError(t, p.StockReserved(context.Background(), "sess-1", res))
	require.Len(t, ch.sent, 2)

	first := ch.sent[0]
	assert.Equal(t, EventsExchange, first.exchange)
	assert.Equal(t, StockReservedRoutingKey, first.key)
	assert.Equal(t, "application/json", first.msg.ContentType)
	assert.Equal(t, amqp.Persistent, first.msg.DeliveryMode)

	var ev StockReservedEvent
	require.NoError(t, json.Unmarshal(first.msg.Body, &ev))
	require.NoError(t, ev.Validate(EventTypeStockReserved, 1))
	assert.Equal(t, "sess-1", ev.PartitionKey)
	assert.Equal(t, int64(1), ev.Sequence)
	assert.Equal(t, reservationServiceName, ev.Producer)
	assert.Equal(t, "ref-1", ev.Payload.Reference)
	assert.Equal(t, int64(2598), ev.Payload.AmountCents)
	assert.Equal(t, []ReservedItem{{SKU: "A", Quantity: 2}, {SKU: "B", Quantity: 1}}, ev.Payload.Items)

	var second StockReservedEvent
	require.NoError(t, json.Unmarshal(ch.sent[1].msg.Body, &second))
	assert.Equal(t, int64(2), second.Sequence)
	assert.NotEqual(t, ev.EventID, second.EventID)
}

func TestPublisher_OrderFinalized(t *testing.T) {
	ch := &fakeChannel{}
	p := newTestPublisher(ch, &fakeSequences{})

	err := p.OrderFinalized(context.Background(), checkout.FinalizeResult{
		Reference:       "ref-9",
		PaymentDetailID: "pd-1",
		Lines:           []order.Line{{SKU: "A", Quantity: 3}},
	})
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, OrderFinalizedRoutingKey, ch.sent[0].key)

	var ev OrderFinalizedEvent
	require.NoError(t, json.Unmarshal(ch.sent[0].msg.Body, &ev))
	require.NoError(t, ev.Validate(EventTypeOrderFinalized, 1))
	assert.Equal(t, "ref-9", ev.PartitionKey)
	assert.Equal(t, "pd-1", ev.Payload.PaymentDetailID)
	assert.Equal(t, []ReservedItem{{SKU: "A", Quantity: 3}}, ev.Payload.Items)
}

func TestPublisher_SequenceFailureSkipsPublish(t *testing.T) {
	ch := &fakeChannel{}
	p := newTestPublisher(ch, &fakeSequences{fail: errors.New("db down")})

	err := p.OrderFinalized(context.Background(), checkout.FinalizeResult{Reference: "ref"})
	require.Error(t, err)
	assert.Empty(t, ch.sent)
}

func TestPublisher_CarriesCorrelationID(t *testing.T) {
	ch := &fakeChannel{}
	p := newTestPublisher(ch, &fakeSequences{})

	ctx := correlation.WithID(context.Background(), "cid-42")
	require.NoError(t, p.OrderFinalized(ctx, checkout.FinalizeResult{Reference: "ref"}))

	var ev OrderFinalizedEvent
	require.NoError(t, json.Unmarshal(ch.sent[0].msg.Body, &ev))
	assert.Equal(t, "cid-42", ev.CorrelationID)
}
