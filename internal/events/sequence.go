package events

import (
	"context"
	"fmt"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/db"
)

// SequenceRepository hands out per-partition event sequence numbers.
type SequenceRepository interface {
	NextSequence(ctx context.Context, partitionKey string) (int64, error)
}

type PostgresSequenceRepository struct {
	exec db.Executor
}

func NewSequenceRepository(exec db.Executor) *PostgresSequenceRepository {
	return &PostgresSequenceRepository{exec: exec}
}

func (r *PostgresSequenceRepository) NextSequence(ctx context.Context, partitionKey string) (int64, error) {
	if partitionKey == "" {
		return 0, fmt.Errorf("partition key is required")
	}

	var seq int64
	err := r.exec.QueryRow(ctx, `
		INSERT INTO event_sequence (partition_key, last_sequence)
		VALUES ($1, 1)
		ON CONFLICT (partition_key)
		DO UPDATE SET last_sequence = event_sequence.last_sequence + 1, updated_at = now()
		RETURNING last_sequence
	`, partitionKey).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", partitionKey, err)
	}
	return seq, nil
}
