package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
)

type Repository interface {
	// Record stores d unless a payment with the same reference exists.
	// It reports whether a new row was written.
	Record(ctx context.Context, d *Detail) (bool, error)
}

type PostgresRepository struct {
	exec db.Executor
}

func NewPostgresRepository(exec db.Executor) *PostgresRepository {
	return &PostgresRepository{exec: exec}
}

func (r *PostgresRepository) Record(ctx context.Context, d *Detail) (bool, error) {
	if d.Reference == "" {
		return false, fmt.Errorf("record payment: missing reference")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	err := r.exec.QueryRow(ctx, `
		INSERT INTO payment_details (id, reference, provider_ref, amount_cents, currency)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reference) DO NOTHING
		RETURNING created_at
	`, d.ID, d.Reference, d.ProviderRef, d.AmountCents, d.Currency).Scan(&d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert payment detail: %w", db.MapError(err))
	}
	return true, nil
}
