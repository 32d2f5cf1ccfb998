package reservation

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrDuplicateSKU    = errors.New("sku listed more than once")
)

// Change is an in-place update of an existing reservation. Delta is the
// additional demand on inventory: positive means more units must be taken,
// negative means units go back, zero only refreshes the hold.
type Change struct {
	Reservation Reservation
	Quantity    int
	Delta       int
}

// Plan is what it takes to bring a session's reservations in line with its cart.
// Each slice is ordered by sku.
type Plan struct {
	Create []Line
	Update []Change
	Delete []Reservation
}

// Demand is the net number of units the plan takes from inventory.
// Negative when the plan releases more than it takes.
func (p Plan) Demand() int {
	n := 0
	for _, l := range p.Create {
		n += l.Quantity
	}
	for _, c := range p.Update {
		n += c.Delta
	}
	for _, r := range p.Delete {
		n -= r.Quantity
	}
	return n
}

// Diff compares the pending reservations of a session with its current cart
// lines. It does not touch any store.
func Diff(existing []Reservation, lines []Line) (Plan, error) {
	bySKU := make(map[string]Reservation, len(existing))
	for _, r := range existing {
		bySKU[r.SKU] = r
	}

	var plan Plan
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Plan{}, fmt.Errorf("sku %s: %w", l.SKU, ErrInvalidQuantity)
		}
		if _, dup := seen[l.SKU]; dup {
			return Plan{}, fmt.Errorf("sku %s: %w", l.SKU, ErrDuplicateSKU)
		}
		seen[l.SKU] = struct{}{}

		r, ok := bySKU[l.SKU]
		if !ok {
			plan.Create = append(plan.Create, l)
			continue
		}
		delete(bySKU, l.SKU)
		plan.Update = append(plan.Update, Change{
			Reservation: r,
			Quantity:    l.Quantity,
			Delta:       l.Quantity - r.Quantity,
		})
	}

	for _, r := range bySKU {
		plan.Delete = append(plan.Delete, r)
	}

	sort.Slice(plan.Create, func(i, j int) bool { return plan.Create[i].SKU < plan.Create[j].SKU })
	sort.Slice(plan.Update, func(i, j int) bool { return plan.Update[i].Reservation.SKU < plan.Update[j].Reservation.SKU })
	sort.Slice(plan.Delete, func(i, j int) bool { return plan.Delete[i].SKU < plan.Delete[j].SKU })
	return plan, nil
}
