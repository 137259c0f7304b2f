package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/certrecon/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const undoColumns = `id, session_id, batch_id, action_type, payload, created_at, is_undone, undone_at, undone_by`

type undoRepository struct {
	pool *pgxpool.Pool
}

// NewUndoRepository wires a repository backed by pgxpool.
func NewUndoRepository(pool *pgxpool.Pool) UndoRepository {
	return &undoRepository{pool: pool}
}

func scanUndoEntry(row pgx.Row) (domain.UndoEntry, error) {
	var (
		entry      domain.UndoEntry
		actionType string
	)
	err := row.Scan(
		&entry.ID,
		&entry.SessionID,
		&entry.BatchID,
		&actionType,
		&entry.Payload,
		&entry.CreatedAt,
		&entry.IsUndone,
		&entry.UndoneAt,
		&entry.UndoneBy,
	)
	entry.ActionType = domain.UndoActionType(actionType)
	return entry, err
}

func (r *undoRepository) Create(ctx context.Context, entry domain.UndoEntry) (domain.UndoEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	created, err := scanUndoEntry(r.pool.QueryRow(
		ctx,
		`INSERT INTO undo_entries (id, session_id, batch_id, action_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, clock_timestamp()))
		 RETURNING `+undoColumns,
		entry.ID,
		entry.SessionID,
		entry.BatchID,
		string(entry.ActionType),
		entry.Payload,
		nullableTime(entry.CreatedAt),
	))
	if err != nil {
		return domain.UndoEntry{}, fmt.Errorf("failed to create undo entry: %w", err)
	}
	return created, nil
}

func (r *undoRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.UndoEntry, error) {
	entry, err := scanUndoEntry(r.pool.QueryRow(ctx, `SELECT `+undoColumns+` FROM undo_entries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UndoEntry{}, ErrNotFound
		}
		return domain.UndoEntry{}, fmt.Errorf("failed to get undo entry: %w", err)
	}
	return entry, nil
}

func (r *undoRepository) ListActive(ctx context.Context, sessionID string) ([]domain.UndoEntry, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+undoColumns+`
		 FROM undo_entries
		 WHERE session_id = $1 AND NOT is_undone
		 ORDER BY created_at DESC, seq DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list undo entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.UndoEntry{}
	for rows.Next() {
		entry, scanErr := scanUndoEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan undo entry: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate undo entries: %w", err)
	}
	return entries, nil
}

func (r *undoRepository) Prune(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM undo_entries WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("failed to prune undo entries: %w", err)
	}
	return nil
}

func (r *undoRepository) MarkUndone(ctx context.Context, id uuid.UUID, actor string, at time.Time) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE undo_entries SET is_undone = true, undone_at = $2, undone_by = $3 WHERE id = $1`,
		id, at, actor,
	)
	if err != nil {
		return fmt.Errorf("failed to mark undo entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
