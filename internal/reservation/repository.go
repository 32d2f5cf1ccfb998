package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
)

var ErrNotFound = errors.New("reservation not found")

type Repository interface {
	// ListPendingBySession returns the session's pending reservations and
	// locks them for the rest of the transaction.
	ListPendingBySession(ctx context.Context, sessionID string) ([]Reservation, error)
	// ListPendingByReference returns and locks the pending reservations of one checkout attempt.
	ListPendingByReference(ctx context.Context, reference string) ([]Reservation, error)
	// ListExpired returns at most limit reservations with expire_at <= now, oldest first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
	Insert(ctx context.Context, r *Reservation) error
	Update(ctx context.Context, id string, quantity int, reference string, expireAt time.Time) error
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes the row only if it is still expired at now.
	// The boolean is false when the row is gone or was refreshed meanwhile.
	DeleteExpired(ctx context.Context, id string, now time.Time) (Reservation, bool, error)
	DeleteByReference(ctx context.Context, reference string) (int64, error)
}

type PostgresRepository struct {
	exec db.Executor
}

func NewPostgresRepository(exec db.Executor) *PostgresRepository {
	return &PostgresRepository{exec: exec}
}

const selectColumns = `id, reference, sku, quantity, status, expire_at, session_id, created_at, updated_at`

func (r *PostgresRepository) ListPendingBySession(ctx context.Context, sessionID string) ([]Reservation, error) {
	rows, err := r.exec.Query(ctx, `
		SELECT `+selectColumns+`
		FROM reservations
		WHERE session_id = $1 AND status = $2
		ORDER BY sku
		FOR UPDATE
	`, sessionID, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("select session reservations: %w", err)
	}
	return scanAll(rows)
}

func (r *PostgresRepository) ListPendingByReference(ctx context.Context, reference string) ([]Reservation, error) {
	rows, err := r.exec.Query(ctx, `
		SELECT `+selectColumns+`
		FROM reservations
		WHERE reference = $1 AND status = $2
		ORDER BY sku
		FOR UPDATE
	`, reference, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("select reference reservations: %w", err)
	}
	return scanAll(rows)
}

func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]Reservation, error) {
	rows, err := r.exec.Query(ctx, `
		SELECT `+selectColumns+`
		FROM reservations
		WHERE expire_at <= $1
		ORDER BY expire_at, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select expired reservations: %w", err)
	}
	return scanAll(rows)
}

func (r *PostgresRepository) Insert(ctx context.Context, res *Reservation) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.Status == "" {
		res.Status = StatusPending
	}
	err := r.exec.QueryRow(ctx, `
		INSERT INTO reservations (id, reference, sku, quantity, status, expire_at, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, res.ID, res.Reference, res.SKU, res.Quantity, string(res.Status), res.ExpireAt, res.SessionID).
		Scan(&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert reservation %s: %w", res.SKU, db.MapError(err))
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, id string, quantity int, reference string, expireAt time.Time) error {
	tag, err := r.exec.Exec(ctx, `
		UPDATE reservations
		SET quantity = $2, reference = $3, expire_at = $4, updated_at = now()
		WHERE id = $1 AND status = $5
	`, id, quantity, reference, expireAt, string(StatusPending))
	if err != nil {
		return fmt.Errorf("update reservation %s: %w", id, db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update reservation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.exec.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reservation %s: %w", id, db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete reservation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, id string, now time.Time) (Reservation, bool, error) {
	rows, err := r.exec.Query(ctx, `
		DELETE FROM reservations
		WHERE id = $1 AND expire_at <= $2
		RETURNING `+selectColumns, id, now)
	if err != nil {
		return Reservation{}, false, fmt.Errorf("delete expired reservation %s: %w", id, db.MapError(err))
	}
	deleted, err := scanAll(rows)
	if err != nil {
		return Reservation{}, false, err
	}
	if len(deleted) == 0 {
		return Reservation{}, false, nil
	}
	return deleted[0], true, nil
}

func (r *PostgresRepository) DeleteByReference(ctx context.Context, reference string) (int64, error) {
	tag, err := r.exec.Exec(ctx, `DELETE FROM reservations WHERE reference = $1 AND status = $2`, reference, string(StatusPending))
	if err != nil {
		return 0, fmt.Errorf("delete reservations for %s: %w", reference, db.MapError(err))
	}
	return tag.RowsAffected(), nil
}

func scanAll(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var res Reservation
		var status string
		if err := rows.Scan(&res.ID, &res.Reference, &res.SKU, &res.Quantity, &status,
			&res.ExpireAt, &res.SessionID, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		res.Status = Status(status)
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
