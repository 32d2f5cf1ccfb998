// Package pricing computes the amount payable for a set of cart lines. Tax,
// shipping and currency conversion belong to other services; this package
// only multiplies quantities by catalog unit prices in the requested currency.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
)

var ErrPriceNotFound = errors.New("price not found")

type Item struct {
	SKU      string
	Quantity int
}

type Total struct {
	Currency    string `json:"currency"`
	AmountCents int64  `json:"amountCents"`
}

type CatalogPricer struct {
	exec db.Executor
}

func NewCatalogPricer(exec db.Executor) *CatalogPricer {
	return &CatalogPricer{exec: exec}
}

func (p *CatalogPricer) Total(ctx context.Context, items []Item, currency string) (Total, error) {
	if len(items) == 0 {
		return Total{Currency: currency}, nil
	}

	skus := make([]string, 0, len(items))
	for _, it := range items {
		skus = append(skus, it.SKU)
	}

	rows, err := p.exec.Query(ctx, `
		SELECT sku, unit_price_cents
		FROM sku_prices
		WHERE currency = $1 AND sku = ANY($2)
	`, currency, skus)
	if err != nil {
		return Total{}, fmt.Errorf("select prices: %w", err)
	}

	prices := make(map[string]int64, len(skus))
	var sku string
	var unit int64
	_, err = pgx.ForEachRow(rows, []any{&sku, &unit}, func() error {
		prices[sku] = unit
		return nil
	})
	if err != nil {
		return Total{}, fmt.Errorf("scan prices: %w", err)
	}
	return Sum(items, prices, currency)
}

// Sum prices items with the given unit prices.
func Sum(items []Item, unitPrices map[string]int64, currency string) (Total, error) {
	total := Total{Currency: currency}
	for _, it := range items {
		unit, ok := unitPrices[it.SKU]
		if !ok {
			return Total{}, fmt.Errorf("sku %s in %s: %w", it.SKU, currency, ErrPriceNotFound)
		}
		total.AmountCents += unit * int64(it.Quantity)
	}
	return total, nil
}
