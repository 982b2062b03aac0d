package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const upsertRejections = `
	INSERT INTO admission_rejections (kind, policy, bucket_start, count)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (kind, policy, bucket_start)
	DO UPDATE SET count = admission_rejections.count + EXCLUDED.count`

// BatchSender is satisfied by *pgxpool.Pool and pgx.Tx.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresRepository implements RejectionRepository using PostgreSQL.
type PostgresRepository struct {
	db BatchSender
}

// NewPostgresRepository creates a PostgreSQL-backed rejection repository.
func NewPostgresRepository(db BatchSender) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// IncrementRejections upserts one row per key in a single round trip.
func (r *PostgresRepository) IncrementRejections(ctx context.Context, bucket time.Time, counts map[Key]int64) error {
	if len(counts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for k, c := range counts {
		batch.Queue(upsertRejections, string(k.Kind), k.Policy, bucket, c)
	}

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert rejection counts: %w", err)
	}
	return nil
}
