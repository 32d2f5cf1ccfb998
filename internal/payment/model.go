package payment

import "time"

// Detail records a confirmed payment. Reference is unique: a payment is
// recorded at most once per checkout attempt.
type Detail struct {
	ID          string    `json:"id"`
	Reference   string    `json:"reference"`
	ProviderRef string    `json:"providerRef"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"createdAt"`
}
