// Package store groups the repositories the reservation core mutates and runs
// them inside one database transaction.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/reservation"
)

// Repos share one transaction.
type Repos struct {
	Inventory    inventory.Repository
	Reservations reservation.Repository
	Carts        cart.Repository
	Orders       order.Repository
	Payments     payment.Repository
}

// Scope runs fn inside a transaction. An error from fn rolls back every
// write fn made; a nil error commits them.
type Scope interface {
	Execute(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
}

type PostgresScope struct {
	pool db.TxBeginner
}

func NewPostgresScope(pool db.TxBeginner) *PostgresScope {
	return &PostgresScope{pool: pool}
}

func (s *PostgresScope) Execute(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, ReposFor(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", db.MapError(err))
	}
	return nil
}

// ReposFor builds the repositories on top of a single executor.
func ReposFor(exec db.Executor) Repos {
	return Repos{
		Inventory:    inventory.NewPostgresRepository(exec),
		Reservations: reservation.NewPostgresRepository(exec),
		Carts:        cart.NewPostgresRepository(exec),
		Orders:       order.NewPostgresRepository(exec),
		Payments:     payment.NewPostgresRepository(exec),
	}
}
