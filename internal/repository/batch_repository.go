package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/certrecon/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type batchRepository struct {
	pool *pgxpool.Pool
}

// NewBatchRepository wires a repository backed by pgxpool.
func NewBatchRepository(pool *pgxpool.Pool) BatchRepository {
	return &batchRepository{pool: pool}
}

func (r *batchRepository) Create(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = domain.BatchStatusProcessing
	}
	err := r.pool.QueryRow(
		ctx,
		`INSERT INTO upload_batches (id, filename, total_rows, status, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
		 RETURNING created_at`,
		batch.ID,
		batch.Filename,
		batch.TotalRows,
		string(batch.Status),
		batch.CreatedBy,
		nullableTime(batch.CreatedAt),
	).Scan(&batch.CreatedAt)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("failed to create batch: %w", err)
	}
	return batch, nil
}

func (r *batchRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	var (
		batch  domain.Batch
		status string
	)
	err := r.pool.QueryRow(
		ctx,
		`SELECT id, filename, total_rows, status, processed, inserted, updated, skipped, rejected, errors,
		        created_by, created_at, completed_at
		 FROM upload_batches
		 WHERE id = $1`,
		id,
	).Scan(
		&batch.ID,
		&batch.Filename,
		&batch.TotalRows,
		&status,
		&batch.Counts.Processed,
		&batch.Counts.Inserted,
		&batch.Counts.Updated,
		&batch.Counts.Skipped,
		&batch.Counts.Rejected,
		&batch.Counts.Errors,
		&batch.CreatedBy,
		&batch.CreatedAt,
		&batch.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Batch{}, ErrNotFound
		}
		return domain.Batch{}, fmt.Errorf("failed to get batch: %w", err)
	}
	batch.Status = domain.BatchStatus(status)
	return batch, nil
}

func (r *batchRepository) Finalize(ctx context.Context, id uuid.UUID, status domain.BatchStatus, counts domain.BatchCounts) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE upload_batches
		 SET status = $2, processed = $3, inserted = $4, updated = $5, skipped = $6, rejected = $7, errors = $8,
		     completed_at = now()
		 WHERE id = $1`,
		id,
		string(status),
		counts.Processed,
		counts.Inserted,
		counts.Updated,
		counts.Skipped,
		counts.Rejected,
		counts.Errors,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
