package inventory

type StockItem struct {
	SKU       string `json:"sku"`
	Available int    `json:"available"`
}
