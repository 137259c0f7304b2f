package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/certrecon/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository wires a repository backed by pgxpool.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Record(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	changes := entry.Changes
	if changes == nil {
		changes = []domain.FieldDifference{}
	}
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO audit_log (id, batch_id, entity_type, entity_id, entity_key, operation, actor, changes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))`,
		entry.ID,
		entry.BatchID,
		string(entry.EntityType),
		entry.EntityID,
		entry.EntityKey,
		string(entry.Operation),
		entry.Actor,
		changes,
		nullableTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func (r *auditRepository) ListByEntity(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID) ([]domain.AuditEntry, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, batch_id, entity_type, entity_id, entity_key, operation, actor, changes, created_at
		 FROM audit_log
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY created_at`,
		string(entityType),
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var (
			entry     domain.AuditEntry
			kind      string
			operation string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.BatchID,
			&kind,
			&entry.EntityID,
			&entry.EntityKey,
			&operation,
			&entry.Actor,
			&entry.Changes,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.EntityType = domain.EntityType(kind)
		entry.Operation = domain.AuditOperation(operation)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}
