package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const EventTypePaymentConfirmed = "PaymentConfirmed"

// PaymentConfirmed is published by the payment core once the provider
// webhook has been verified and the charge succeeded.
type PaymentConfirmed struct {
	Reference   string    `json:"reference"`
	ProviderRef string    `json:"providerRef"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	Timestamp   time.Time `json:"timestamp"`
}

type paymentConfirmedMessage struct {
	Envelope *EventEnvelope
	Payload  PaymentConfirmed
}

func parsePaymentConfirmed(body []byte) (paymentConfirmedMessage, error) {
	env, enveloped, err := parseEnvelope(body)
	if err != nil {
		return paymentConfirmedMessage{}, fmt.Errorf("unmarshal PaymentConfirmed: %w", err)
	}

	var msg paymentConfirmedMessage
	raw := body
	if enveloped {
		if err := env.Validate(EventTypePaymentConfirmed, 1); err != nil {
			return paymentConfirmedMessage{}, fmt.Errorf("invalid PaymentConfirmed envelope: %w", err)
		}
		msg.Envelope = &env
		raw = env.Payload
	}
	if err := json.Unmarshal(raw, &msg.Payload); err != nil {
		return paymentConfirmedMessage{}, fmt.Errorf("unmarshal PaymentConfirmed payload: %w", err)
	}
	if msg.Payload.Reference == "" {
		return paymentConfirmedMessage{}, fmt.Errorf("PaymentConfirmed: missing reference")
	}
	return msg, nil
}
