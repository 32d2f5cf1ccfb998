package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/reservation"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/testutil"
)

// hold seeds a reservation and takes its units out of stock, as a
// successful reserve would have.
func hold(t *testing.T, st *testutil.MemStore, sessionID, sku string, qty int, expireAt time.Time) reservation.Reservation {
	t.Helper()
	n, ok := st.Stock(sku)
	require.True(t, ok)
	require.GreaterOrEqual(t, n, qty)
	st.SetStock(sku, n-qty)
	return st.PutReservation(reservation.Reservation{
		Reference: "ref-" + sessionID,
		SessionID: sessionID,
		SKU:       sku,
		Quantity:  qty,
		ExpireAt:  expireAt,
	})
}

func newSweeper(st *testutil.MemStore, batch int) *Sweeper {
	return NewSweeper(st, zerolog.Nop(), SweeperOptions{BatchSize: batch, Now: func() time.Time { return t0 }})
}

func TestSweep_RestoresStockAndIsIdempotent(t *testing.T) {
	st := testutil.NewMemStore()
	st.SetStock("A", 10)
	st.SetStock("B", 10)
	hold(t, st, "s1", "A", 3, t0.Add(-time.Minute))
	hold(t, st, "s2", "A", 2, t0)
	hold(t, st, "s2", "B", 4, t0.Add(-time.Hour))
	live := hold(t, st, "s3", "A", 1, t0.Add(time.Second))

	w := newSweeper(st, 500)
	res, err := w.Sweep(context.Background(), t0)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Reclaimed: 3, UnitsReleased: 9}, res)
	a, _ := st.Stock("A")
	b, _ := st.Stock("B")
	assert.Equal(t, 9, a)
	assert.Equal(t, 10, b)

	left := st.Reservations()
	require.Len(t, left, 1)
	assert.Equal(t, live.ID, left[0].ID)

	res, err = w.Sweep(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
	a, _ = st.Stock("A")
	assert.Equal(t, 9, a)
}

func TestSweep_Batches(t *testing.T) {
	st := testutil.NewMemStore()
	st.SetStock("A", 100)
	for i := 0; i < 7; i++ {
		hold(t, st, fmt.Sprintf("s%d", i), "A", 1, t0.Add(-time.Duration(i)*time.Minute))
	}

	res, err := newSweeper(st, 2).Sweep(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Reclaimed)
	assert.Empty(t, st.Reservations())
	a, _ := st.Stock("A")
	assert.Equal(t, 100, a)
}

func TestSweep_RowFailureDoesNotStopOthers(t *testing.T) {
	st := testutil.NewMemStore()
	st.SetStock("A", 10)
	st.SetStock("B", 10)
	bad := hold(t, st, "s1", "A", 2, t0.Add(-2*time.Minute))
	hold(t, st, "s2", "B", 3, t0.Add(-time.Minute))

	st.Fault = func(op, key string) error {
		if op == "reservations.delete_expired" && key == bad.ID {
			return errors.New("disk full")
		}
		return nil
	}

	res, err := newSweeper(st, 1).Sweep(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reclaimed)
	assert.Equal(t, 1, res.Failed)

	a, _ := st.Stock("A")
	b, _ := st.Stock("B")
	assert.Equal(t, 8, a)
	assert.Equal(t, 10, b)
	require.Len(t, st.Reservations(), 1)
	assert.Equal(t, bad.ID, st.Reservations()[0].ID)
}

func TestSweep_RetriesConflictOnce(t *testing.T) {
	st := testutil.NewMemStore()
	st.SetStock("A", 10)
	hold(t, st, "s1", "A", 2, t0.Add(-time.Minute))

	calls := 0
	st.Fault = func(op, key string) error {
		if op == "inventory.increment" {
			calls++
			if calls == 1 {
				return fmt.Errorf("increment A: %w", db.ErrConflict)
			}
		}
		return nil
	}

	res, err := newSweeper(st, 10).Sweep(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reclaimed)
	assert.Equal(t, 2, calls)
	a, _ := st.Stock("A")
	assert.Equal(t, 10, a)
}

func TestSweep_IncrementFailureKeepsRow(t *testing.T) {
	st := testutil.NewMemStore()
	st.SetStock("A", 10)
	hold(t, st, "s1", "A", 2, t0.Add(-time.Minute))
	st.Fault = func(op, key string) error {
		if op == "inventory.increment" {
			return errors.New("conn reset")
		}
		return nil
	}

	res, err := newSweeper(st, 10).Sweep(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, st.Reservations(), 1)
	a, _ := st.Stock("A")
	assert.Equal(t, 8, a)
}

func TestSweep_ListFailure(t *testing.T) {
	st := testutil.NewMemStore()
	st.Fault = func(op, key string) error {
		if op == "reservations.list_expired" {
			return errors.New("conn reset")
		}
		return nil
	}

	_, err := newSweeper(st, 10).Sweep(context.Background(), t0)
	assert.Error(t, err)
}

func TestSweeper_StartStopsOnCancel(t *testing.T) {
	st := testutil.NewMemStore()
	st.SetStock("A", 1)
	hold(t, st, "s1", "A", 1, t0.Add(-time.Minute))

	w := NewSweeper(st, zerolog.Nop(), SweeperOptions{
		Interval: time.Hour,
		Now:      func() time.Time { return t0 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return len(st.Reservations()) == 0 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweep_ThenReserveSeesRestoredStock(t *testing.T) {
	h := newHarness(t)
	h.stock("A", 1)
	h.store.SetCartLine("s1", "A", 1)
	h.store.SetCartLine("s2", "A", 1)

	_, err := h.reserve(t, "s1")
	require.NoError(t, err)
	_, err = h.reserve(t, "s2")
	require.True(t, errors.Is(err, ErrOutOfStock))

	h.clock.Advance(16 * time.Minute)
	w := NewSweeper(h.store, zerolog.Nop(), SweeperOptions{})
	_, err = w.Sweep(context.Background(), h.clock.Now())
	require.NoError(t, err)

	_, err = h.reserve(t, "s2")
	require.NoError(t, err)
	assert.Equal(t, 0, h.available(t, "A"))
}
