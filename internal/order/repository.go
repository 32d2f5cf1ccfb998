package order

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
)

type Repository interface {
	CreateLines(ctx context.Context, lines []Line) error
	ListByReference(ctx context.Context, reference string) ([]Line, error)
}

type PostgresRepository struct {
	exec db.Executor
}

func NewPostgresRepository(exec db.Executor) *PostgresRepository {
	return &PostgresRepository{exec: exec}
}

func (r *PostgresRepository) CreateLines(ctx context.Context, lines []Line) error {
	for i := range lines {
		if lines[i].ID == "" {
			lines[i].ID = uuid.NewString()
		}
		err := r.exec.QueryRow(ctx, `
			INSERT INTO order_lines (id, payment_detail_id, reference, session_id, sku, quantity)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at
		`, lines[i].ID, lines[i].PaymentDetailID, lines[i].Reference, lines[i].SessionID, lines[i].SKU, lines[i].Quantity).
			Scan(&lines[i].CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order line %s: %w", lines[i].SKU, db.MapError(err))
		}
	}
	return nil
}

func (r *PostgresRepository) ListByReference(ctx context.Context, reference string) ([]Line, error) {
	rows, err := r.exec.Query(ctx, `
		SELECT id, payment_detail_id, reference, session_id, sku, quantity, created_at
		FROM order_lines
		WHERE reference = $1
		ORDER BY sku
	`, reference)
	if err != nil {
		return nil, fmt.Errorf("select order lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Line, error) {
		var l Line
		err := row.Scan(&l.ID, &l.PaymentDetailID, &l.Reference, &l.SessionID, &l.SKU, &l.Quantity, &l.CreatedAt)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan order lines: %w", err)
	}
	return lines, nil
}
