package order

import "time"

// Line is a finalized sale of one sku. It is written once, from a
// reservation, when the payment for its reference is confirmed.
type Line struct {
	ID              string    `json:"id"`
	PaymentDetailID string    `json:"paymentDetailId"`
	Reference       string    `json:"reference"`
	SessionID       string    `json:"sessionId"`
	SKU             string    `json:"sku"`
	Quantity        int       `json:"quantity"`
	CreatedAt       time.Time `json:"createdAt"`
}
