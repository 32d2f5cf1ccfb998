package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/metrics"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/reservation"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/store"
)

// conflictAttempts bounds how often a row that hit a lock conflict is retried
// within one sweep.
const conflictAttempts = 2

type SweepResult struct {
	Reclaimed     int // rows deleted and returned to stock
	UnitsReleased int
	Skipped       int // rows refreshed or removed by someone else first
	Failed        int
}

// Sweeper returns the stock of expired reservations to inventory.
type Sweeper struct {
	scope     store.Scope
	logger    zerolog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
	metrics   *metrics.Metrics
}

type SweeperOptions struct {
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
	Metrics   *metrics.Metrics
}

func NewSweeper(scope store.Scope, logger zerolog.Logger, opts SweeperOptions) *Sweeper {
	w := &Sweeper{
		scope:     scope,
		logger:    logger.With().Str("component", "sweeper").Logger(),
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		now:       opts.Now,
		metrics:   opts.Metrics,
	}
	if w.interval <= 0 {
		w.interval = 20 * time.Minute
	}
	if w.batchSize <= 0 {
		w.batchSize = 500
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.metrics == nil {
		w.metrics = metrics.NewNop()
	}
	return w
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (w *Sweeper) Start(ctx context.Context) error {
	w.logger.Info().Dur("interval", w.interval).Msg("sweeper starting")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("sweeper shutting down")
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Sweeper) tick(ctx context.Context) {
	res, err := w.Sweep(ctx, w.now())
	if err != nil {
		w.logger.Error().Err(err).Msg("sweep failed")
		return
	}
	if res.Reclaimed+res.Skipped+res.Failed > 0 {
		w.logger.Info().
			Int("reclaimed", res.Reclaimed).
			Int("units", res.UnitsReleased).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Msg("sweep finished")
	}
}

// Sweep deletes every reservation with expire_at <= now and returns its
// quantity to inventory, one transaction per row. A failing row is logged
// and left for the next sweep; it never stops the others. The only error
// returned is a failure to list expired rows.
func (w *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	failed := make(map[string]struct{})

	for {
		var batch []reservation.Reservation
		limit := w.batchSize + len(failed)
		err := w.scope.Execute(ctx, func(ctx context.Context, repos store.Repos) error {
			var err error
			batch, err = repos.Reservations.ListExpired(ctx, now, limit)
			return err
		})
		if err != nil {
			return res, err
		}

		attempted := false
		for _, r := range batch {
			if _, ok := failed[r.ID]; ok {
				continue
			}
			if ctx.Err() != nil {
				return res, nil
			}
			attempted = true

			released, err := w.expire(ctx, r, now)
			logger := w.logger.With().Str("reservation_id", r.ID).Str("sku", r.SKU).Logger()
			switch {
			case err != nil:
				failed[r.ID] = struct{}{}
				res.Failed++
				w.metrics.SweepRows.WithLabelValues("failed").Inc()
				logger.Error().Err(err).Msg("expire reservation")
			case !released:
				res.Skipped++
				w.metrics.SweepRows.WithLabelValues("skipped").Inc()
				logger.Debug().Msg("reservation no longer expired")
			default:
				res.Reclaimed++
				res.UnitsReleased += r.Quantity
				w.metrics.SweepRows.WithLabelValues("reclaimed").Inc()
				w.metrics.UnitsReleased.WithLabelValues(metrics.ReasonExpired).Add(float64(r.Quantity))
				logger.Debug().Int("quantity", r.Quantity).Msg("reservation expired")
			}
		}

		// Failed rows stay expired and come back in every batch; the limit
		// grows with them so each batch still holds batchSize fresh rows.
		if !attempted || len(batch) < limit {
			return res, nil
		}
	}
}

// expire removes one expired row and restocks its sku in a single
// transaction. It reports false when the row was refreshed or deleted by a
// concurrent checkout or finalization before this sweep got to it.
func (w *Sweeper) expire(ctx context.Context, r reservation.Reservation, now time.Time) (bool, error) {
	var released bool
	var err error
	for attempt := 1; attempt <= conflictAttempts; attempt++ {
		err = w.scope.Execute(ctx, func(ctx context.Context, repos store.Repos) error {
			deleted, ok, err := repos.Reservations.DeleteExpired(ctx, r.ID, now)
			if err != nil || !ok {
				released = false
				return err
			}
			released = true
			return repos.Inventory.Increment(ctx, deleted.SKU, deleted.Quantity)
		})
		if err == nil || !errors.Is(err, db.ErrConflict) {
			break
		}
	}
	if err != nil {
		return false, err
	}
	return released, nil
}
