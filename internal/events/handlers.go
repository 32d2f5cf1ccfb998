package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/correlation"
)

// HandlerFunc processes one delivery. A returned error NACKs the message,
// which routes it to the queue's dead letter queue.
type HandlerFunc func(ctx context.Context, body []byte) error

// PaymentConfirmer is implemented by checkout.Finalizer.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, c checkout.PaymentConfirmation) (checkout.FinalizeResult, error)
}

// PaymentConfirmedHandler turns held reservations into order lines once the
// payment for their reference is confirmed. Redeliveries are no-ops.
func PaymentConfirmedHandler(finalizer PaymentConfirmer, logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		msg, err := parsePaymentConfirmed(body)
		if err != nil {
			return err
		}

		log := logger.With().Str("reference", msg.Payload.Reference).Logger()
		if env := msg.Envelope; env != nil {
			log = log.With().Str("event_id", env.EventID).Int64("sequence", env.Sequence).Logger()
			cid := env.CorrelationID
			if cid == "" {
				cid = env.EventID
			}
			ctx = correlation.WithID(ctx, cid)
		}

		res, err := finalizer.ConfirmPayment(ctx, checkout.PaymentConfirmation{
			Reference:   msg.Payload.Reference,
			ProviderRef: msg.Payload.ProviderRef,
			AmountCents: msg.Payload.AmountCents,
			Currency:    msg.Payload.Currency,
		})
		if err != nil {
			return fmt.Errorf("confirm payment %s: %w", msg.Payload.Reference, err)
		}

		log.Debug().Bool("duplicate", res.Duplicate).Int("lines", len(res.Lines)).Msg("payment confirmed handled")
		return nil
	}
}
