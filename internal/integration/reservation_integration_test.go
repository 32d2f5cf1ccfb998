//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/events"
	httpapi "github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/http"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/pricing"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/session"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/store"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/testutil"
)

func seedSKU(ctx context.Context, t *testing.T, pool *pgxpool.Pool, sku string, available int, priceCents int64) {
	t.Helper()
	_, err := pool.Exec(ctx, `INSERT INTO inventory_stock (sku, available) VALUES ($1, $2)`, sku, available)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO sku_prices (sku, currency, unit_price_cents) VALUES ($1, 'USD', $2)`, sku, priceCents)
	require.NoError(t, err)
}

func seedSession(ctx context.Context, t *testing.T, pool *pgxpool.Pool, token string, lines map[string]int) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(ctx, `INSERT INTO shopping_sessions (id, token) VALUES ($1, $2)`, id, token)
	require.NoError(t, err)
	for sku, qty := range lines {
		_, err := pool.Exec(ctx, `INSERT INTO cart_items (id, session_id, sku, quantity) VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), id, sku, qty)
		require.NoError(t, err)
	}
	return id
}

func available(ctx context.Context, t *testing.T, pool *pgxpool.Pool, sku string) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT available FROM inventory_stock WHERE sku = $1`, sku).Scan(&n))
	return n
}

func held(ctx context.Context, t *testing.T, pool *pgxpool.Pool, sku string) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM reservations WHERE sku = $1`, sku).Scan(&n))
	return n
}

func TestReservationLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool, _ := testutil.StartPostgres(t)
	scope := store.NewPostgresScope(pool)
	logger := zerolog.Nop()

	clockMu := sync.Mutex{}
	now := time.Now().UTC()
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	svc := checkout.NewService(scope, pricing.NewCatalogPricer(pool), logger, checkout.Options{
		TTL: 15 * time.Minute,
		Now: clock,
	})
	h := httpapi.NewHandler(scope, session.NewPostgresResolver(pool), svc, "USD", logger)
	srv := httptest.NewServer(httpapi.NewRouter(h, nil, logger))
	defer srv.Close()

	seedSKU(ctx, t, pool, "life-A", 10, 1299)
	sid := seedSession(ctx, t, pool, "tok-life", map[string]int{"life-A": 3})

	reserve := func() (int, checkout.Result) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/checkout/reserve", nil)
		require.NoError(t, err)
		req.Header.Set("X-Session-Token", "tok-life")
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var res checkout.Result
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		}
		return resp.StatusCode, res
	}

	status, first := reserve()
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(3*1299), first.Total.AmountCents)
	assert.Equal(t, 7, available(ctx, t, pool, "life-A"))

	// increase 3 -> 7
	_, err := pool.Exec(ctx, `UPDATE cart_items SET quantity = 7 WHERE session_id = $1`, sid)
	require.NoError(t, err)
	status, _ = reserve()
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, available(ctx, t, pool, "life-A"))
	assert.Equal(t, 7, held(ctx, t, pool, "life-A"))

	// decrease 7 -> 2
	_, err = pool.Exec(ctx, `UPDATE cart_items SET quantity = 2 WHERE session_id = $1`, sid)
	require.NoError(t, err)
	status, latest := reserve()
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 8, available(ctx, t, pool, "life-A"))

	// finalize the latest reference
	fin := checkout.NewFinalizer(scope, logger, nil, nil)
	out, err := fin.ConfirmPayment(ctx, checkout.PaymentConfirmation{Reference: latest.Reference, ProviderRef: "pi_1", AmountCents: 2598, Currency: "USD"})
	require.NoError(t, err)
	require.Len(t, out.Lines, 1)

	dup, err := fin.ConfirmPayment(ctx, checkout.PaymentConfirmation{Reference: latest.Reference, ProviderRef: "pi_1", AmountCents: 2598, Currency: "USD"})
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)

	var orderLines int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM order_lines WHERE reference = $1`, latest.Reference).Scan(&orderLines))
	assert.Equal(t, 1, orderLines)
	assert.Equal(t, 8, available(ctx, t, pool, "life-A"))
	assert.Equal(t, 0, held(ctx, t, pool, "life-A"))

	var cartLines int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM cart_items WHERE session_id = $1`, sid).Scan(&cartLines))
	assert.Zero(t, cartLines)
}

func TestLastUnitRace(t *testing.T) {
	const sessions = 20

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool, _ := testutil.StartPostgres(t)
	svc := checkout.NewService(store.NewPostgresScope(pool), pricing.NewCatalogPricer(pool), zerolog.Nop(), checkout.Options{})

	seedSKU(ctx, t, pool, "race-A", 1, 100)

	var (
		mu         sync.Mutex
		ok, denied int
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < sessions; i++ {
		sid := fmt.Sprintf("race-%02d", i)
		g.Go(func() error {
			_, err := svc.Reserve(gctx, sid, []cart.Line{{SKU: "race-A", Quantity: 1, Available: -1}}, "USD")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, checkout.ErrOutOfStock):
				denied++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, ok)
	assert.Equal(t, sessions-1, denied)
	assert.Equal(t, 0, available(ctx, t, pool, "race-A"))
	assert.Equal(t, 1, held(ctx, t, pool, "race-A"))
}

func TestSweepRestoresStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool, _ := testutil.StartPostgres(t)
	scope := store.NewPostgresScope(pool)
	start := time.Now().UTC()
	svc := checkout.NewService(scope, pricing.NewCatalogPricer(pool), zerolog.Nop(), checkout.Options{
		TTL: time.Minute,
		Now: func() time.Time { return start },
	})

	seedSKU(ctx, t, pool, "sweep-A", 5, 100)
	_, err := svc.Reserve(ctx, "sweep-s1", []cart.Line{{SKU: "sweep-A", Quantity: 4, Available: 5}}, "USD")
	require.NoError(t, err)
	require.Equal(t, 1, available(ctx, t, pool, "sweep-A"))

	w := checkout.NewSweeper(scope, zerolog.Nop(), checkout.SweeperOptions{BatchSize: 10})

	res, err := w.Sweep(ctx, start.Add(30*time.Second))
	require.NoError(t, err)
	assert.Zero(t, res.Reclaimed)

	res, err = w.Sweep(ctx, start.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reclaimed)
	assert.Equal(t, 5, available(ctx, t, pool, "sweep-A"))

	res, err = w.Sweep(ctx, start.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, checkout.SweepResult{}, res)
	assert.Equal(t, 5, available(ctx, t, pool, "sweep-A"))
}

func TestPaymentConfirmedConsumer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool, _ := testutil.StartPostgres(t)
	conn, _ := testutil.StartRabbitMQ(t)
	scope := store.NewPostgresScope(pool)
	logger := zerolog.Nop()

	pub, err := events.NewPublisher(conn, events.NewSequenceRepository(pool))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	svc := checkout.NewService(scope, pricing.NewCatalogPricer(pool), logger, checkout.Options{Notifier: pub})
	fin := checkout.NewFinalizer(scope, logger, pub, nil)

	// Observe outbound events on a private queue bound to the exchange.
	obs, err := conn.Channel()
	require.NoError(t, err)
	t.Cleanup(func() { _ = obs.Close() })
	q, err := obs.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, obs.QueueBind(q.Name, "#", events.EventsExchange, false, nil))
	msgs, err := obs.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	consumer := events.NewConsumer(conn, events.PaymentConfirmedRoutingKey, events.PaymentConfirmedHandler(fin, logger), logger)
	go func() { _ = consumer.Run(consumerCtx) }()

	seedSKU(ctx, t, pool, "pay-A", 3, 500)
	sid := seedSession(ctx, t, pool, "tok-pay", map[string]int{"pay-A": 2})
	res, err := svc.Reserve(ctx, sid, []cart.Line{{SKU: "pay-A", Quantity: 2, Available: 3}}, "USD")
	require.NoError(t, err)

	waitFor(ctx, t, msgs, events.StockReservedRoutingKey)

	body, err := json.Marshal(events.PaymentConfirmed{
		Reference:   res.Reference,
		ProviderRef: "pi_9",
		AmountCents: res.Total.AmountCents,
		Currency:    "USD",
		Timestamp:   time.Now().UTC(),
	})
	require.NoError(t, err)

	pubCh, err := conn.Channel()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pubCh.Close() })

	// The consumer declares its queue asynchronously; publish until the
	// finalization shows up.
	require.Eventually(t, func() bool {
		_ = pubCh.PublishWithContext(ctx, events.EventsExchange, events.PaymentConfirmedRoutingKey, false, false,
			amqp.Publishing{ContentType: "application/json", Body: body})
		var n int
		_ = pool.QueryRow(ctx, `SELECT count(*) FROM order_lines WHERE reference = $1`, res.Reference).Scan(&n)
		return n == 1
	}, 30*time.Second, 500*time.Millisecond)

	waitFor(ctx, t, msgs, events.OrderFinalizedRoutingKey)

	var payments int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM payment_details WHERE reference = $1`, res.Reference).Scan(&payments))
	assert.Equal(t, 1, payments)
	assert.Equal(t, 1, available(ctx, t, pool, "pay-A"))
}

func waitFor(ctx context.Context, t *testing.T, msgs <-chan amqp.Delivery, routingKey string) amqp.Delivery {
	t.Helper()
	timeout := time.After(30 * time.Second)
	for {
		select {
		case <-ctx.Done():
			t.Fatalf("context done waiting for %s", routingKey)
		case <-timeout:
			t.Fatalf("timed out waiting for %s", routingKey)
		case m := <-msgs:
			if m.RoutingKey == routingKey {
				return m
			}
		}
	}
}
