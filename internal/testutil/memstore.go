// Package testutil holds test doubles and container helpers shared by the
// package and integration tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/reservation"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/session"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/store"
)

// FaultFunc is consulted before every repository call made inside a
// transaction. A non-nil error is returned from that call.
type FaultFunc func(op, key string) error

// MemStore is an in-memory store.Scope. Transactions run one at a time
// against a copy of the state, which replaces the committed state only when
// fn returns nil.
type MemStore struct {
	mu    sync.Mutex
	state memState

	// Fault, when set, injects errors into repository calls.
	Fault FaultFunc
	// Txs counts Execute calls.
	Txs int
}

var (
	_ store.Scope      = (*MemStore)(nil)
	_ session.Resolver = (*MemStore)(nil)
)

type memState struct {
	stock        map[string]int
	reservations map[string]reservation.Reservation
	carts        map[string]map[string]int
	orders       []order.Line
	payments     map[string]payment.Detail
	sessions     map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{state: memState{
		stock:        map[string]int{},
		reservations: map[string]reservation.Reservation{},
		carts:        map[string]map[string]int{},
		payments:     map[string]payment.Detail{},
		sessions:     map[string]string{},
	}}
}

func (s memState) clone() memState {
	c := memState{
		stock:        make(map[string]int, len(s.stock)),
		reservations: make(map[string]reservation.Reservation, len(s.reservations)),
		carts:        make(map[string]map[string]int, len(s.carts)),
		orders:       append([]order.Line(nil), s.orders...),
		payments:     make(map[string]payment.Detail, len(s.payments)),
		sessions:     s.sessions,
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for sid, lines := range s.carts {
		m := make(map[string]int, len(lines))
		for k, v := range lines {
			m[k] = v
		}
		c.carts[sid] = m
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

func (m *MemStore) Execute(ctx context.Context, fn func(ctx context.Context, repos store.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Txs++

	tx := &memTx{state: m.state.clone(), fault: m.Fault}
	repos := store.Repos{
		Inventory:    memInventory{tx},
		Reservations: memReservations{tx},
		Carts:        memCarts{tx},
		Orders:       memOrders{tx},
		Payments:     memPayments{tx},
	}
	if err := fn(ctx, repos); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

// Resolve maps a session token registered with AddSession to its session id.
func (m *MemStore) Resolve(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.state.sessions[token]
	if !ok || token == "" {
		return "", session.ErrNotFound
	}
	return id, nil
}

func (m *MemStore) AddSession(token, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.sessions[token] = sessionID
}

func (m *MemStore) SetStock(sku string, available int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.stock[sku] = available
}

// Stock returns the available units of sku and whether the sku exists.
func (m *MemStore) Stock(sku string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.state.stock[sku]
	return n, ok
}

func (m *MemStore) SetCartLine(sessionID, sku string, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines, ok := m.state.carts[sessionID]
	if !ok {
		lines = map[string]int{}
		m.state.carts[sessionID] = lines
	}
	if quantity <= 0 {
		delete(lines, sku)
		return
	}
	lines[sku] = quantity
}

// CartLines returns a copy of the session's cart as sku → quantity.
func (m *MemStore) CartLines(sessionID string) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for k, v := range m.state.carts[sessionID] {
		out[k] = v
	}
	return out
}

// PutReservation stores r as is. Stock is not adjusted.
func (m *MemStore) PutReservation(r reservation.Reservation) reservation.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = reservation.StatusPending
	}
	m.state.reservations[r.ID] = r
	return r
}

// Reservations returns every reservation ordered by session and sku.
func (m *MemStore) Reservations() []reservation.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]reservation.Reservation, 0, len(m.state.reservations))
	for _, r := range m.state.reservations {
		out = append(out, r)
	}
	sortReservations(out)
	return out
}

func (m *MemStore) OrderLines() []order.Line {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]order.Line(nil), m.state.orders...)
}

func (m *MemStore) Payments() []payment.Detail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]payment.Detail, 0, len(m.state.payments))
	for _, d := range m.state.payments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out
}

// Held sums the pending quantity of sku across all reservations.
func (m *MemStore) Held(sku string) int {
	n := 0
	for _, r := range m.Reservations() {
		if r.SKU == sku {
			n += r.Quantity
		}
	}
	return n
}

func sortReservations(rs []reservation.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].SessionID != rs[j].SessionID {
			return rs[i].SessionID < rs[j].SessionID
		}
		return rs[i].SKU < rs[j].SKU
	})
}

type memTx struct {
	state memState
	fault FaultFunc
}

func (tx *memTx) check(op, key string) error {
	if tx.fault == nil {
		return nil
	}
	return tx.fault(op, key)
}

type memInventory struct{ tx *memTx }

func (r memInventory) Get(ctx context.Context, sku string) (inventory.StockItem, error) {
	if err := r.tx.check("inventory.get", sku); err != nil {
		return inventory.StockItem{}, err
	}
	n, ok := r.tx.state.stock[sku]
	if !ok {
		return inventory.StockItem{}, inventory.ErrNotFound
	}
	return inventory.StockItem{SKU: sku, Available: n}, nil
}

func (r memInventory) SetAvailable(ctx context.Context, sku string, available int) error {
	if err := r.tx.check("inventory.set", sku); err != nil {
		return err
	}
	if available < 0 {
		return fmt.Errorf("set available %s: negative quantity %d", sku, available)
	}
	r.tx.state.stock[sku] = available
	return nil
}

func (r memInventory) Decrement(ctx context.Context, sku string, qty int) error {
	if err := r.tx.check("inventory.decrement", sku); err != nil {
		return err
	}
	if qty <= 0 {
		return fmt.Errorf("decrement %s: non-positive quantity %d", sku, qty)
	}
	n, ok := r.tx.state.stock[sku]
	if !ok {
		return &inventory.SKUError{Op: "decrement", SKU: sku, Err: inventory.ErrNotFound}
	}
	if n < qty {
		return &inventory.SKUError{Op: "decrement", SKU: sku, Err: inventory.ErrInsufficientStock}
	}
	r.tx.state.stock[sku] = n - qty
	return nil
}

func (r memInventory) Increment(ctx context.Context, sku string, qty int) error {
	if err := r.tx.check("inventory.increment", sku); err != nil {
		return err
	}
	if qty <= 0 {
		return fmt.Errorf("increment %s: non-positive quantity %d", sku, qty)
	}
	n, ok := r.tx.state.stock[sku]
	if !ok {
		return &inventory.SKUError{Op: "increment", SKU: sku, Err: inventory.ErrNotFound}
	}
	r.tx.state.stock[sku] = n + qty
	return nil
}

type memReservations struct{ tx *memTx }

func (r memReservations) filter(keep func(reservation.Reservation) bool) []reservation.Reservation {
	var out []reservation.Reservation
	for _, res := range r.tx.state.reservations {
		if keep(res) {
			out = append(out, res)
		}
	}
	sortReservations(out)
	return out
}

func (r memReservations) ListPendingBySession(ctx context.Context, sessionID string) ([]reservation.Reservation, error) {
	if err := r.tx.check("reservations.list_session", sessionID); err != nil {
		return nil, err
	}
	return r.filter(func(res reservation.Reservation) bool {
		return res.SessionID == sessionID && res.Status == reservation.StatusPending
	}), nil
}

func (r memReservations) ListPendingByReference(ctx context.Context, reference string) ([]reservation.Reservation, error) {
	if err := r.tx.check("reservations.list_reference", reference); err != nil {
		return nil, err
	}
	return r.filter(func(res reservation.Reservation) bool {
		return res.Reference == reference && res.Status == reservation.StatusPending
	}), nil
}

func (r memReservations) ListExpired(ctx context.Context, now time.Time, limit int) ([]reservation.Reservation, error) {
	if err := r.tx.check("reservations.list_expired", ""); err != nil {
		return nil, err
	}
	out := r.filter(func(res reservation.Reservation) bool { return !res.ExpireAt.After(now) })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpireAt.Equal(out[j].ExpireAt) {
			return out[i].ExpireAt.Before(out[j].ExpireAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memReservations) Insert(ctx context.Context, res *reservation.Reservation) error {
	if err := r.tx.check("reservations.insert", res.SKU); err != nil {
		return err
	}
	for _, other := range r.tx.state.reservations {
		if other.SessionID == res.SessionID && other.SKU == res.SKU && other.Status == reservation.StatusPending {
			return fmt.Errorf("insert reservation %s: %w", res.SKU, db.ErrConflict)
		}
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.Status == "" {
		res.Status = reservation.StatusPending
	}
	now := time.Now().UTC()
	res.CreatedAt, res.UpdatedAt = now, now
	r.tx.state.reservations[res.ID] = *res
	return nil
}

func (r memReservations) Update(ctx context.Context, id string, quantity int, reference string, expireAt time.Time) error {
	if err := r.tx.check("reservations.update", id); err != nil {
		return err
	}
	res, ok := r.tx.state.reservations[id]
	if !ok {
		return fmt.Errorf("update reservation %s: %w", id, reservation.ErrNotFound)
	}
	res.Quantity = quantity
	res.Reference = reference
	res.ExpireAt = expireAt
	res.UpdatedAt = time.Now().UTC()
	r.tx.state.reservations[id] = res
	return nil
}

func (r memReservations) Delete(ctx context.Context, id string) error {
	if err := r.tx.check("reservations.delete", id); err != nil {
		return err
	}
	if _, ok := r.tx.state.reservations[id]; !ok {
		return fmt.Errorf("delete reservation %s: %w", id, reservation.ErrNotFound)
	}
	delete(r.tx.state.reservations, id)
	return nil
}

func (r memReservations) DeleteExpired(ctx context.Context, id string, now time.Time) (reservation.Reservation, bool, error) {
	if err := r.tx.check("reservations.delete_expired", id); err != nil {
		return reservation.Reservation{}, false, err
	}
	res, ok := r.tx.state.reservations[id]
	if !ok || res.ExpireAt.After(now) {
		return reservation.Reservation{}, false, nil
	}
	delete(r.tx.state.reservations, id)
	return res, true, nil
}

func (r memReservations) DeleteByReference(ctx context.Context, reference string) (int64, error) {
	if err := r.tx.check("reservations.delete_reference", reference); err != nil {
		return 0, err
	}
	var n int64
	for id, res := range r.tx.state.reservations {
		if res.Reference == reference && res.Status == reservation.StatusPending {
			delete(r.tx.state.reservations, id)
			n++
		}
	}
	return n, nil
}

type memCarts struct{ tx *memTx }

func (r memCarts) Snapshot(ctx context.Context, sessionID string) ([]cart.Line, error) {
	if err := r.tx.check("carts.snapshot", sessionID); err != nil {
		return nil, err
	}
	lines := make([]cart.Line, 0, len(r.tx.state.carts[sessionID]))
	for sku, qty := range r.tx.state.carts[sessionID] {
		avail, ok := r.tx.state.stock[sku]
		if !ok {
			avail = -1
		}
		lines = append(lines, cart.Line{SKU: sku, Quantity: qty, Available: avail})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].SKU < lines[j].SKU })
	return lines, nil
}

func (r memCarts) DeleteSKUs(ctx context.Context, sessionID string, skus []string) (int64, error) {
	if err := r.tx.check("carts.delete", sessionID); err != nil {
		return 0, err
	}
	var n int64
	for _, sku := range skus {
		if _, ok := r.tx.state.carts[sessionID][sku]; ok {
			delete(r.tx.state.carts[sessionID], sku)
			n++
		}
	}
	return n, nil
}

type memOrders struct{ tx *memTx }

func (r memOrders) CreateLines(ctx context.Context, lines []order.Line) error {
	if err := r.tx.check("orders.create", ""); err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range lines {
		if lines[i].ID == "" {
			lines[i].ID = uuid.NewString()
		}
		lines[i].CreatedAt = now
		r.tx.state.orders = append(r.tx.state.orders, lines[i])
	}
	return nil
}

func (r memOrders) ListByReference(ctx context.Context, reference string) ([]order.Line, error) {
	if err := r.tx.check("orders.list", reference); err != nil {
		return nil, err
	}
	var out []order.Line
	for _, l := range r.tx.state.orders {
		if l.Reference == reference {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

type memPayments struct{ tx *memTx }

func (r memPayments) Record(ctx context.Context, d *payment.Detail) (bool, error) {
	if err := r.tx.check("payments.record", d.Reference); err != nil {
		return false, err
	}
	if _, ok := r.tx.state.payments[d.Reference]; ok {
		return false, nil
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()
	r.tx.state.payments[d.Reference] = *d
	return true, nil
}
