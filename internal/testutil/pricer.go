package testutil

import (
	"context"
	"sync"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/pricing"
)

// StaticPricer prices carts from a fixed unit price table per currency.
type StaticPricer struct {
	mu     sync.Mutex
	prices map[string]map[string]int64
	Err    error
}

func NewStaticPricer() *StaticPricer {
	return &StaticPricer{prices: map[string]map[string]int64{}}
}

func (p *StaticPricer) SetPrice(sku, currency string, unitCents int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prices[currency] == nil {
		p.prices[currency] = map[string]int64{}
	}
	p.prices[currency][sku] = unitCents
}

func (p *StaticPricer) Total(ctx context.Context, items []pricing.Item, currency string) (pricing.Total, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return pricing.Total{}, p.Err
	}
	return pricing.Sum(items, p.prices[currency], currency)
}
