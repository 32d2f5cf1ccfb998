package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
)

var (
	ErrNotFound = errors.New("sku not found")

	// ErrInsufficientStock means the conditional decrement matched no row:
	// the sku exists but holds fewer units than requested.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// SKUError ties a failed inventory operation to its sku.
type SKUError struct {
	Op  string
	SKU string
	Err error
}

func (e *SKUError) Error() string { return e.Op + " " + e.SKU + ": " + e.Err.Error() }

func (e *SKUError) Unwrap() error { return e.Err }

// Repository owns per-SKU availability. Every mutation is a single
// conditional statement so concurrent callers can never drive availability
// below zero.
type Repository interface {
	Get(ctx context.Context, sku string) (StockItem, error)
	SetAvailable(ctx context.Context, sku string, available int) error
	Decrement(ctx context.Context, sku string, qty int) error
	Increment(ctx context.Context, sku string, qty int) error
}

type PostgresRepository struct {
	exec db.Executor
}

func NewPostgresRepository(exec db.Executor) *PostgresRepository {
	return &PostgresRepository{exec: exec}
}

func (r *PostgresRepository) Get(ctx context.Context, sku string) (StockItem, error) {
	var item StockItem
	row := r.exec.QueryRow(ctx, `SELECT sku, available FROM inventory_stock WHERE sku=$1`, sku)
	if err := row.Scan(&item.SKU, &item.Available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, ErrNotFound
		}
		return StockItem{}, err
	}
	return item, nil
}

func (r *PostgresRepository) SetAvailable(ctx context.Context, sku string, available int) error {
	if available < 0 {
		return fmt.Errorf("set available %s: negative quantity %d", sku, available)
	}
	_, err := r.exec.Exec(ctx, `
		INSERT INTO inventory_stock (sku, available)
		VALUES ($1, $2)
		ON CONFLICT (sku) DO UPDATE SET available = EXCLUDED.available, updated_at = now()
	`, sku, available)
	return db.MapError(err)
}

// Decrement subtracts qty from the sku only if enough units are available.
// The comparison and the write are one statement; there is no read-check-write.
func (r *PostgresRepository) Decrement(ctx context.Context, sku string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("decrement %s: non-positive quantity %d", sku, qty)
	}
	tag, err := r.exec.Exec(ctx, `
		UPDATE inventory_stock
		SET available = available - $2, updated_at = now()
		WHERE sku = $1 AND available >= $2
	`, sku, qty)
	if err != nil {
		return &SKUError{Op: "decrement", SKU: sku, Err: db.MapError(err)}
	}
	if tag.RowsAffected() == 0 {
		return r.missOrShort(ctx, sku)
	}
	return nil
}

func (r *PostgresRepository) Increment(ctx context.Context, sku string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("increment %s: non-positive quantity %d", sku, qty)
	}
	tag, err := r.exec.Exec(ctx, `
		UPDATE inventory_stock
		SET available = available + $2, updated_at = now()
		WHERE sku = $1
	`, sku, qty)
	if err != nil {
		return &SKUError{Op: "increment", SKU: sku, Err: db.MapError(err)}
	}
	if tag.RowsAffected() == 0 {
		return &SKUError{Op: "increment", SKU: sku, Err: ErrNotFound}
	}
	return nil
}

// missOrShort tells an unknown sku apart from a short one after a
// conditional update matched nothing.
func (r *PostgresRepository) missOrShort(ctx context.Context, sku string) error {
	var exists bool
	err := r.exec.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_stock WHERE sku = $1)`, sku).Scan(&exists)
	if err != nil {
		return &SKUError{Op: "probe", SKU: sku, Err: err}
	}
	if !exists {
		return &SKUError{Op: "decrement", SKU: sku, Err: ErrNotFound}
	}
	return &SKUError{Op: "decrement", SKU: sku, Err: ErrInsufficientStock}
}
