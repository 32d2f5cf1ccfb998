package reservation

import "time"

type Status string

// StatusPending is the only status a reservation row ever holds. Expiry and
// finalization delete rows rather than transitioning them.
const StatusPending Status = "PENDING"

// Reservation is a time-boxed hold of Quantity units of SKU for a shopping
// session. Every unit held is accounted for by exactly one row.
type Reservation struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	SKU       string    `json:"sku"`
	Quantity  int       `json:"quantity"`
	Status    Status    `json:"status"`
	ExpireAt  time.Time `json:"expireAt"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Line is the demand for one sku in the shopper's current cart.
type Line struct {
	SKU      string
	Quantity int
}
