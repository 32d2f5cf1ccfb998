package checkout

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/metrics"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/store"
)

// PaymentConfirmation is a verified, successful payment for a checkout reference.
type PaymentConfirmation struct {
	Reference   string
	ProviderRef string
	AmountCents int64
	Currency    string
}

type FinalizeResult struct {
	Reference        string       `json:"reference"`
	PaymentDetailID  string       `json:"paymentDetailId"`
	Lines            []order.Line `json:"lines"`
	CartLinesRemoved int64        `json:"cartLinesRemoved"`
	// Duplicate is set when the payment had already been recorded.
	Duplicate bool `json:"duplicate"`
}

// Noop reports whether finalization changed nothing.
func (r FinalizeResult) Noop() bool { return r.Duplicate || len(r.Lines) == 0 }

// Finalizer turns the pending reservations of a paid reference into order
// lines. Inventory is not touched: it was taken when the stock was reserved.
type Finalizer struct {
	scope    store.Scope
	logger   zerolog.Logger
	notifier Notifier
	metrics  *metrics.Metrics
}

func NewFinalizer(scope store.Scope, logger zerolog.Logger, notifier Notifier, m *metrics.Metrics) *Finalizer {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Finalizer{
		scope:    scope,
		logger:   logger.With().Str("component", "finalizer").Logger(),
		notifier: notifier,
		metrics:  m,
	}
}

// ConfirmPayment records the payment and finalizes its reference in one
// transaction. A payment already recorded for the reference is acknowledged
// as a duplicate delivery and changes nothing.
func (f *Finalizer) ConfirmPayment(ctx context.Context, c PaymentConfirmation) (FinalizeResult, error) {
	if c.Reference == "" {
		return FinalizeResult{}, fmt.Errorf("confirm payment: missing reference")
	}

	var res FinalizeResult
	err := f.scope.Execute(ctx, func(ctx context.Context, repos store.Repos) error {
		d := payment.Detail{
			Reference:   c.Reference,
			ProviderRef: c.ProviderRef,
			AmountCents: c.AmountCents,
			Currency:    c.Currency,
		}
		created, err := repos.Payments.Record(ctx, &d)
		if err != nil {
			return err
		}
		if !created {
			res = FinalizeResult{Reference: c.Reference, Duplicate: true}
			return nil
		}
		res, err = finalize(ctx, repos, c.Reference, d.ID)
		return err
	})
	return f.done(ctx, c.Reference, res, err)
}

// Finalize converts the reference's pending reservations into order lines
// billed to paymentDetailID. A reference with nothing pending is a no-op,
// which makes repeated calls safe.
func (f *Finalizer) Finalize(ctx context.Context, reference, paymentDetailID string) (FinalizeResult, error) {
	var res FinalizeResult
	err := f.scope.Execute(ctx, func(ctx context.Context, repos store.Repos) error {
		var err error
		res, err = finalize(ctx, repos, reference, paymentDetailID)
		return err
	})
	return f.done(ctx, reference, res, err)
}

func (f *Finalizer) done(ctx context.Context, reference string, res FinalizeResult, err error) (FinalizeResult, error) {
	logger := f.logger.With().Str("reference", reference).Logger()
	switch {
	case err != nil:
		f.metrics.FinalizeTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("finalize failed")
		return FinalizeResult{}, fmt.Errorf("finalize %s: %w", reference, err)
	case res.Duplicate:
		f.metrics.FinalizeTotal.WithLabelValues("duplicate").Inc()
		logger.Info().Msg("payment already processed")
	case len(res.Lines) == 0:
		f.metrics.FinalizeTotal.WithLabelValues("noop").Inc()
		logger.Warn().Msg("no pending reservations for reference")
	default:
		f.metrics.FinalizeTotal.WithLabelValues("finalized").Inc()
		logger.Info().Int("lines", len(res.Lines)).Int64("cart_lines_removed", res.CartLinesRemoved).Msg("order finalized")
		if nerr := f.notifier.OrderFinalized(ctx, res); nerr != nil {
			logger.Warn().Err(nerr).Msg("notify order finalized")
		}
	}
	return res, nil
}

func finalize(ctx context.Context, repos store.Repos, reference, paymentDetailID string) (FinalizeResult, error) {
	res := FinalizeResult{Reference: reference, PaymentDetailID: paymentDetailID}

	pending, err := repos.Reservations.ListPendingByReference(ctx, reference)
	if err != nil {
		return res, err
	}
	if len(pending) == 0 {
		return res, nil
	}

	lines := make([]order.Line, 0, len(pending))
	skusBySession := make(map[string][]string)
	for _, r := range pending {
		lines = append(lines, order.Line{
			PaymentDetailID: paymentDetailID,
			Reference:       reference,
			SessionID:       r.SessionID,
			SKU:             r.SKU,
			Quantity:        r.Quantity,
		})
		skusBySession[r.SessionID] = append(skusBySession[r.SessionID], r.SKU)
	}
	if err := repos.Orders.CreateLines(ctx, lines); err != nil {
		return res, err
	}

	sessions := make([]string, 0, len(skusBySession))
	for s := range skusBySession {
		sessions = append(sessions, s)
	}
	sort.Strings(sessions)
	for _, s := range sessions {
		n, err := repos.Carts.DeleteSKUs(ctx, s, skusBySession[s])
		if err != nil {
			return res, err
		}
		res.CartLinesRemoved += n
	}

	deleted, err := repos.Reservations.DeleteByReference(ctx, reference)
	if err != nil {
		return res, err
	}
	if deleted != int64(len(pending)) {
		return res, fmt.Errorf("%w: deleted %d of %d reservations", db.ErrConflict, deleted, len(pending))
	}

	res.Lines = lines
	return res, nil
}
