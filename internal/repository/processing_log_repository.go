package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/certrecon/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type processingLogRepository struct {
	pool *pgxpool.Pool
}

// NewProcessingLogRepository wires a repository backed by pgxpool.
func NewProcessingLogRepository(pool *pgxpool.Pool) ProcessingLogRepository {
	return &processingLogRepository{pool: pool}
}

func (r *processingLogRepository) Append(ctx context.Context, entries ...domain.ProcessingLogEntry) error {
	if r.pool == nil {
		return fmt.Errorf("processing log repository not initialized")
	}
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		var skipReason *string
		if entry.SkipReason != nil {
			reason := string(*entry.SkipReason)
			skipReason = &reason
		}
		missing := entry.MissingFields
		if missing == nil {
			missing = []string{}
		}
		raw := entry.RawRow
		if raw == nil {
			raw = map[string]string{}
		}
		batch.Queue(
			`INSERT INTO processing_logs (id, batch_id, row_number, action_taken, skip_reason, missing_fields, error_message, raw_row, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))`,
			entry.ID,
			entry.BatchID,
			entry.RowNumber,
			string(entry.ActionTaken),
			skipReason,
			missing,
			entry.ErrorMessage,
			raw,
			nullableTime(entry.CreatedAt),
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to record processing log: %w", err)
	}
	return nil
}

func (r *processingLogRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.ProcessingLogEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("processing log repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, batch_id, row_number, action_taken, skip_reason, missing_fields, error_message, raw_row, created_at
		 FROM processing_logs
		 WHERE batch_id = $1
		 ORDER BY row_number, created_at`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing logs: %w", err)
	}
	defer rows.Close()

	entries := []domain.ProcessingLogEntry{}
	for rows.Next() {
		var (
			entry      domain.ProcessingLogEntry
			action     string
			skipReason *string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.BatchID,
			&entry.RowNumber,
			&action,
			&skipReason,
			&entry.MissingFields,
			&entry.ErrorMessage,
			&entry.RawRow,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan processing log: %w", err)
		}
		entry.ActionTaken = domain.ProcessingAction(action)
		if skipReason != nil {
			reason := domain.SkipReason(*skipReason)
			entry.SkipReason = &reason
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate processing logs: %w", err)
	}

	return entries, nil
}
