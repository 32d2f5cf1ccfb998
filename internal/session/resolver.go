package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
)

var ErrNotFound = errors.New("session not found")

// Resolver maps the opaque token a shopper presents (cookie or header) to
// the shopping session id the rest of the service keys on.
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

type PostgresResolver struct {
	exec db.Executor
}

func NewPostgresResolver(exec db.Executor) *PostgresResolver {
	return &PostgresResolver{exec: exec}
}

func (r *PostgresResolver) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrNotFound
	}
	var id string
	err := r.exec.QueryRow(ctx, `SELECT id FROM shopping_sessions WHERE token = $1`, token).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolve session: %w", err)
	}
	return id, nil
}
