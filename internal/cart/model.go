package cart

// Line is one cart entry as seen at checkout time. Available is the stock
// level observed when the cart was read and is only a hint: it may be stale
// by the time a reservation is attempted. Negative means unknown.
type Line struct {
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	Available int    `json:"available"`
}
