package events

import "time"

const (
	EventTypeStockReserved  = "StockReserved"
	EventTypeOrderFinalized = "OrderFinalized"

	stockReservedSchema  = "stock.reserved.v1"
	orderFinalizedSchema = "order.finalized.v1"
)

type ReservedItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type StockReservedPayload struct {
	Reference   string         `json:"reference"`
	SessionID   string         `json:"sessionId"`
	Items       []ReservedItem `json:"items"`
	AmountCents int64          `json:"amountCents"`
	Currency    string         `json:"currency"`
	ExpiresAt   time.Time      `json:"expiresAt"`
	Timestamp   time.Time      `json:"timestamp"`
}

type OrderFinalizedPayload struct {
	Reference       string         `json:"reference"`
	PaymentDetailID string         `json:"paymentDetailId"`
	Items           []ReservedItem `json:"items"`
	Timestamp       time.Time      `json:"timestamp"`
}

type StockReservedEvent struct {
	EventEnvelope
	Payload StockReservedPayload `json:"payload"`
}

type OrderFinalizedEvent struct {
	EventEnvelope
	Payload OrderFinalizedPayload `json:"payload"`
}
