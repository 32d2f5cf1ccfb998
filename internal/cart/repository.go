package cart

import (
	"context"
	"fmt"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
	"github.com/jackc/pgx/v5"
)

// Repository is the cart as the reservation core sees it: read a snapshot,
// and drop lines once they have become an order.
type Repository interface {
	Snapshot(ctx context.Context, sessionID string) ([]Line, error)
	DeleteSKUs(ctx context.Context, sessionID string, skus []string) (int64, error)
}

type PostgresRepository struct {
	exec db.Executor
}

func NewPostgresRepository(exec db.Executor) *PostgresRepository {
	return &PostgresRepository{exec: exec}
}

func (r *PostgresRepository) Snapshot(ctx context.Context, sessionID string) ([]Line, error) {
	rows, err := r.exec.Query(ctx, `
		SELECT ci.sku, ci.quantity, COALESCE(s.available, -1)
		FROM cart_items ci
		LEFT JOIN inventory_stock s ON s.sku = ci.sku
		WHERE ci.session_id = $1
		ORDER BY ci.sku
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select cart: %w", err)
	}

	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Line, error) {
		var l Line
		err := row.Scan(&l.SKU, &l.Quantity, &l.Available)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan cart: %w", err)
	}
	return lines, nil
}

func (r *PostgresRepository) DeleteSKUs(ctx context.Context, sessionID string, skus []string) (int64, error) {
	if len(skus) == 0 {
		return 0, nil
	}
	tag, err := r.exec.Exec(ctx, `DELETE FROM cart_items WHERE session_id = $1 AND sku = ANY($2)`, sessionID, skus)
	if err != nil {
		return 0, fmt.Errorf("delete cart items: %w", db.MapError(err))
	}
	return tag.RowsAffected(), nil
}
