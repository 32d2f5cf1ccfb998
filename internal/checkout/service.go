package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/metrics"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/pricing"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/reservation"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/store"
)

// Pricer computes the amount payable for cart lines. Implemented by pricing.CatalogPricer.
type Pricer interface {
	Total(ctx context.Context, items []pricing.Item, currency string) (pricing.Total, error)
}

// Notifier is told about committed state changes. Errors are logged only;
// the database is the source of truth.
type Notifier interface {
	StockReserved(ctx context.Context, sessionID string, res Result) error
	OrderFinalized(ctx context.Context, res FinalizeResult) error
}

type nopNotifier struct{}

func (nopNotifier) StockReserved(context.Context, string, Result) error { return nil }
func (nopNotifier) OrderFinalized(context.Context, FinalizeResult) error { return nil }

// Result is what a successful reservation hands back to checkout.
type Result struct {
	Reference    string                    `json:"reference"`
	Total        pricing.Total             `json:"total"`
	ExpireAt     time.Time                 `json:"expiresAt"`
	Reservations []reservation.Reservation `json:"reservations"`
}

type Options struct {
	TTL          time.Duration
	Now          func() time.Time
	NewReference func() string
	Notifier     Notifier
	Metrics      *metrics.Metrics
}

type Service struct {
	scope    store.Scope
	pricer   Pricer
	logger   zerolog.Logger
	ttl      time.Duration
	now      func() time.Time
	newRef   func() string
	notifier Notifier
	metrics  *metrics.Metrics
}

func NewService(scope store.Scope, pricer Pricer, logger zerolog.Logger, opts Options) *Service {
	s := &Service{
		scope:    scope,
		pricer:   pricer,
		logger:   logger.With().Str("component", "checkout").Logger(),
		ttl:      opts.TTL,
		now:      opts.Now,
		newRef:   opts.NewReference,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
	}
	if s.ttl <= 0 {
		s.ttl = 15 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newRef == nil {
		s.newRef = uuid.NewString
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNop()
	}
	return s
}

// Reserve reconciles the session's pending reservations with its current
// cart lines under a fresh reference and returns the amount payable.
// Either every line is held or nothing changes.
func (s *Service) Reserve(ctx context.Context, sessionID string, lines []cart.Line, currency string) (Result, error) {
	start := time.Now()
	res, err := s.reserve(ctx, sessionID, lines, currency)
	s.metrics.ReserveDuration.Observe(time.Since(start).Seconds())

	logger := s.logger.With().Str("session_id", sessionID).Logger()
	switch {
	case err == nil:
		s.metrics.ReserveTotal.WithLabelValues("ok").Inc()
		logger.Info().Str("reference", res.Reference).Int("lines", len(res.Reservations)).
			Int64("amount_cents", res.Total.AmountCents).Msg("stock reserved")
		if nerr := s.notifier.StockReserved(ctx, sessionID, res); nerr != nil {
			logger.Warn().Err(nerr).Str("reference", res.Reference).Msg("notify stock reserved")
		}
	case errors.Is(err, ErrOutOfStock):
		s.metrics.ReserveTotal.WithLabelValues("out_of_stock").Inc()
		logger.Info().Err(err).Msg("reservation rejected")
	case errors.Is(err, ErrNotFound):
		s.metrics.ReserveTotal.WithLabelValues("not_found").Inc()
		logger.Info().Err(err).Msg("reservation rejected")
	case errors.Is(err, ErrInvalidCart):
		s.metrics.ReserveTotal.WithLabelValues("invalid").Inc()
		logger.Info().Err(err).Msg("reservation rejected")
	default:
		s.metrics.ReserveTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("reservation failed")
	}
	return res, err
}

func (s *Service) reserve(ctx context.Context, sessionID string, lines []cart.Line, currency string) (Result, error) {
	if sessionID == "" {
		return Result{}, &NotFoundError{What: "session", Key: sessionID}
	}

	demand := make([]reservation.Line, 0, len(lines))
	items := make([]pricing.Item, 0, len(lines))
	seen := make(map[string]cart.Line, len(lines))
	for _, l := range lines {
		if l.SKU == "" || l.Quantity <= 0 {
			return Result{}, fmt.Errorf("%w: sku %q quantity %d", ErrInvalidCart, l.SKU, l.Quantity)
		}
		if _, dup := seen[l.SKU]; dup {
			return Result{}, fmt.Errorf("%w: sku %q listed twice", ErrInvalidCart, l.SKU)
		}
		seen[l.SKU] = l
		demand = append(demand, reservation.Line{SKU: l.SKU, Quantity: l.Quantity})
		items = append(items, pricing.Item{SKU: l.SKU, Quantity: l.Quantity})
	}

	total, err := s.pricer.Total(ctx, items, currency)
	if err != nil {
		if errors.Is(err, pricing.ErrPriceNotFound) {
			return Result{}, &NotFoundError{What: "price", Key: currency, Err: err}
		}
		return Result{}, fmt.Errorf("price cart: %w", err)
	}

	reference := s.newRef()
	expireAt := s.now().Add(s.ttl).UTC()

	var held []reservation.Reservation
	err = s.scope.Execute(ctx, func(ctx context.Context, repos store.Repos) error {
		existing, err := repos.Reservations.ListPendingBySession(ctx, sessionID)
		if err != nil {
			return err
		}

		plan, err := reservation.Diff(existing, demand)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCart, err)
		}

		if short := precheck(plan, seen); len(short) > 0 {
			return &OutOfStockError{SKUs: short}
		}

		held, err = s.apply(ctx, repos, plan, sessionID, reference, expireAt)
		return err
	})
	if err != nil {
		return Result{}, translate(err)
	}

	return Result{
		Reference:    reference,
		Total:        total,
		ExpireAt:     expireAt,
		Reservations: held,
	}, nil
}

// precheck compares the plan with the availability observed when the cart
// was read. It only fails fast; the conditional decrement decides.
func precheck(plan reservation.Plan, snapshot map[string]cart.Line) []string {
	var short []string
	for _, l := range plan.Create {
		if avail := snapshot[l.SKU].Available; avail >= 0 && l.Quantity > avail {
			short = append(short, l.SKU)
		}
	}
	for _, c := range plan.Update {
		if avail := snapshot[c.Reservation.SKU].Available; avail >= 0 && c.Delta > avail {
			short = append(short, c.Reservation.SKU)
		}
	}
	sort.Strings(short)
	return short
}

type stepKind int

const (
	stepCreate stepKind = iota
	stepUpdate
	stepDelete
)

type step struct {
	kind   stepKind
	sku    string
	line   reservation.Line
	change reservation.Change
	res    reservation.Reservation
}

// outcome is the result of one step. A short outcome means the conditional
// decrement refused the step and nothing was written for it.
type outcome struct {
	sku   string
	short bool
	err   error
}

// steps flattens the plan into one sku-ordered sequence so concurrent
// transactions lock inventory rows in the same order.
func steps(plan reservation.Plan) []step {
	out := make([]step, 0, len(plan.Create)+len(plan.Update)+len(plan.Delete))
	for _, l := range plan.Create {
		out = append(out, step{kind: stepCreate, sku: l.SKU, line: l})
	}
	for _, c := range plan.Update {
		out = append(out, step{kind: stepUpdate, sku: c.Reservation.SKU, change: c})
	}
	for _, r := range plan.Delete {
		out = append(out, step{kind: stepDelete, sku: r.SKU, res: r})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].sku < out[j].sku })
	return out
}

func (s *Service) apply(ctx context.Context, repos store.Repos, plan reservation.Plan, sessionID, reference string, expireAt time.Time) ([]reservation.Reservation, error) {
	var (
		held  []reservation.Reservation
		short []string
	)
	for _, st := range steps(plan) {
		o, r := s.applyStep(ctx, repos, st, sessionID, reference, expireAt)
		if o.short {
			short = append(short, o.sku)
			continue
		}
		if o.err != nil {
			return nil, o.err
		}
		if r != nil {
			held = append(held, *r)
		}
	}
	if len(short) > 0 {
		return nil, &OutOfStockError{SKUs: short}
	}
	return held, nil
}

func (s *Service) applyStep(ctx context.Context, repos store.Repos, st step, sessionID, reference string, expireAt time.Time) (outcome, *reservation.Reservation) {
	switch st.kind {
	case stepCreate:
		if o := take(ctx, repos, st.sku, st.line.Quantity); o.short || o.err != nil {
			return o, nil
		}
		r := reservation.Reservation{
			Reference: reference,
			SKU:       st.sku,
			Quantity:  st.line.Quantity,
			Status:    reservation.StatusPending,
			ExpireAt:  expireAt,
			SessionID: sessionID,
		}
		if err := repos.Reservations.Insert(ctx, &r); err != nil {
			return outcome{sku: st.sku, err: err}, nil
		}
		s.metrics.UnitsHeld.Add(float64(r.Quantity))
		return outcome{sku: st.sku}, &r

	case stepUpdate:
		c := st.change
		switch {
		case c.Delta > 0:
			if o := take(ctx, repos, st.sku, c.Delta); o.short || o.err != nil {
				return o, nil
			}
			s.metrics.UnitsHeld.Add(float64(c.Delta))
		case c.Delta < 0:
			if err := repos.Inventory.Increment(ctx, st.sku, -c.Delta); err != nil {
				return outcome{sku: st.sku, err: err}, nil
			}
			s.metrics.UnitsReleased.WithLabelValues(metrics.ReasonDecreased).Add(float64(-c.Delta))
		}
		if err := repos.Reservations.Update(ctx, c.Reservation.ID, c.Quantity, reference, expireAt); err != nil {
			return outcome{sku: st.sku, err: err}, nil
		}
		r := c.Reservation
		r.Quantity = c.Quantity
		r.Reference = reference
		r.ExpireAt = expireAt
		return outcome{sku: st.sku}, &r

	case stepDelete:
		if err := repos.Inventory.Increment(ctx, st.sku, st.res.Quantity); err != nil {
			return outcome{sku: st.sku, err: err}, nil
		}
		if err := repos.Reservations.Delete(ctx, st.res.ID); err != nil {
			return outcome{sku: st.sku, err: err}, nil
		}
		s.metrics.UnitsReleased.WithLabelValues(metrics.ReasonRemoved).Add(float64(st.res.Quantity))
		return outcome{sku: st.sku}, nil
	}
	return outcome{sku: st.sku, err: fmt.Errorf("unknown step kind %d", st.kind)}, nil
}

func take(ctx context.Context, repos store.Repos, sku string, qty int) outcome {
	err := repos.Inventory.Decrement(ctx, sku, qty)
	if errors.Is(err, inventory.ErrInsufficientStock) {
		return outcome{sku: sku, short: true}
	}
	return outcome{sku: sku, err: err}
}

// translate maps store failures onto the service's error kinds. Conflicts
// become OutOfStock; infrastructure failures stay wrapped as they are.
func translate(err error) error {
	var oos *OutOfStockError
	var nf *NotFoundError
	switch {
	case errors.As(err, &oos), errors.As(err, &nf), errors.Is(err, ErrInvalidCart):
		return err
	case errors.Is(err, inventory.ErrNotFound):
		return &NotFoundError{What: "sku", Key: skuOf(err), Err: err}
	case errors.Is(err, inventory.ErrInsufficientStock), errors.Is(err, db.ErrConflict), errors.Is(err, reservation.ErrNotFound):
		return &OutOfStockError{Err: err}
	}
	return fmt.Errorf("reserve: %w", err)
}

// skuOf returns the sku named by a wrapped inventory error.
func skuOf(err error) string {
	var se *inventory.SKUError
	if errors.As(err, &se) {
		return se.SKU
	}
	return ""
}
