package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/certrecon/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// querier is implemented by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type backupRepository struct {
	pool querier
	txs  TxRunner
}

// NewBackupRepository wires a repository backed by pgxpool. txs opens the
// transactions used by InTx.
func NewBackupRepository(pool *pgxpool.Pool, txs TxRunner) BackupRepository {
	return &backupRepository{pool: pool, txs: txs}
}

func (r *backupRepository) InTx(ctx context.Context, fn func(BackupRepository) error) error {
	return r.txs.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&backupRepository{pool: tx, txs: savepoints{tx: tx}})
	})
}

// savepoints nests InTx calls made on a transaction-scoped repository.
type savepoints struct {
	tx pgx.Tx
}

func (s savepoints) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.tx, fn)
}

func (r *backupRepository) CreateSnapshot(ctx context.Context, snapshot domain.BackupSnapshot) (domain.BackupSnapshot, error) {
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	orgKeys := snapshot.AffectedOrgKeys
	if orgKeys == nil {
		orgKeys = []string{}
	}
	productKeys := snapshot.AffectedProductKeys
	if productKeys == nil {
		productKeys = []string{}
	}
	err := r.pool.QueryRow(
		ctx,
		`INSERT INTO backup_snapshots (id, batch_id, created_by, affected_org_keys, affected_product_keys, org_row_count, product_row_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
		 RETURNING created_at`,
		snapshot.ID,
		snapshot.BatchID,
		snapshot.CreatedBy,
		orgKeys,
		productKeys,
		snapshot.OrgRowCount,
		snapshot.ProductRowCount,
		nullableTime(snapshot.CreatedAt),
	).Scan(&snapshot.CreatedAt)
	if err != nil {
		return domain.BackupSnapshot{}, fmt.Errorf("failed to create backup snapshot: %w", err)
	}
	return snapshot, nil
}

func (r *backupRepository) GetSnapshot(ctx context.Context, id uuid.UUID) (domain.BackupSnapshot, error) {
	var snapshot domain.BackupSnapshot
	err := r.pool.QueryRow(
		ctx,
		`SELECT id, batch_id, created_by, affected_org_keys, affected_product_keys, org_row_count, product_row_count, created_at
		 FROM backup_snapshots
		 WHERE id = $1`,
		id,
	).Scan(
		&snapshot.ID,
		&snapshot.BatchID,
		&snapshot.CreatedBy,
		&snapshot.AffectedOrgKeys,
		&snapshot.AffectedProductKeys,
		&snapshot.OrgRowCount,
		&snapshot.ProductRowCount,
		&snapshot.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BackupSnapshot{}, ErrNotFound
		}
		return domain.BackupSnapshot{}, fmt.Errorf("failed to get backup snapshot: %w", err)
	}
	return snapshot, nil
}

func (r *backupRepository) AddOrganizationRows(ctx context.Context, rows []domain.BackupOrgRow) error {
	if len(rows) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, row := range rows {
			if row.ID == uuid.Nil {
				row.ID = uuid.New()
			}
			batch.Queue(
				`INSERT INTO backup_organization_rows (id, snapshot_id, organization_id, data) VALUES ($1, $2, $3, $4)`,
				row.ID, row.SnapshotID, row.OrganizationID, row.Data,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to store organization backup rows: %w", err)
		}
		return nil
	})
}

func (r *backupRepository) AddProductRows(ctx context.Context, rows []domain.BackupProductRow) error {
	if len(rows) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, row := range rows {
			if row.ID == uuid.Nil {
				row.ID = uuid.New()
			}
			batch.Queue(
				`INSERT INTO backup_product_rows (id, snapshot_id, product_id, data) VALUES ($1, $2, $3, $4)`,
				row.ID, row.SnapshotID, row.ProductID, row.Data,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to store product backup rows: %w", err)
		}
		return nil
	})
}

func (r *backupRepository) UpdateRowCounts(ctx context.Context, snapshotID uuid.UUID, orgRows, productRows int) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE backup_snapshots SET org_row_count = $2, product_row_count = $3 WHERE id = $1`,
		snapshotID, orgRows, productRows,
	)
	if err != nil {
		return fmt.Errorf("failed to update backup row counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *backupRepository) ListOrganizationRows(ctx context.Context, snapshotID uuid.UUID) ([]domain.BackupOrgRow, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, snapshot_id, organization_id, data FROM backup_organization_rows WHERE snapshot_id = $1`,
		snapshotID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list organization backup rows: %w", err)
	}
	defer rows.Close()

	out := []domain.BackupOrgRow{}
	for rows.Next() {
		var row domain.BackupOrgRow
		if err := rows.Scan(&row.ID, &row.SnapshotID, &row.OrganizationID, &row.Data); err != nil {
			return nil, fmt.Errorf("failed to scan organization backup row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate organization backup rows: %w", err)
	}
	return out, nil
}

func (r *backupRepository) ListProductRows(ctx context.Context, snapshotID uuid.UUID) ([]domain.BackupProductRow, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, snapshot_id, product_id, data FROM backup_product_rows WHERE snapshot_id = $1`,
		snapshotID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list product backup rows: %w", err)
	}
	defer rows.Close()

	out := []domain.BackupProductRow{}
	for rows.Next() {
		var row domain.BackupProductRow
		if err := rows.Scan(&row.ID, &row.SnapshotID, &row.ProductID, &row.Data); err != nil {
			return nil, fmt.Errorf("failed to scan product backup row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate product backup rows: %w", err)
	}
	return out, nil
}

func (r *backupRepository) DeleteSnapshot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM backup_snapshots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete backup snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *backupRepository) RecordRestore(ctx context.Context, history domain.RestoreHistory) error {
	if history.ID == uuid.Nil {
		history.ID = uuid.New()
	}
	errs := history.Errors
	if errs == nil {
		errs = []string{}
	}
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO restore_history (id, snapshot_id, restored_by, org_restored, product_restored, errors, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))`,
		history.ID,
		history.SnapshotID,
		history.RestoredBy,
		history.OrgRestored,
		history.ProductRestored,
		errs,
		string(history.Status),
		nullableTime(history.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record restore history: %w", err)
	}
	return nil
}

func (r *backupRepository) ListRestores(ctx context.Context, snapshotID uuid.UUID) ([]domain.RestoreHistory, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, snapshot_id, restored_by, org_restored, product_restored, errors, status, created_at
		 FROM restore_history
		 WHERE snapshot_id = $1
		 ORDER BY created_at`,
		snapshotID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list restore history: %w", err)
	}
	defer rows.Close()

	out := []domain.RestoreHistory{}
	for rows.Next() {
		var (
			history domain.RestoreHistory
			status  string
		)
		if err := rows.Scan(
			&history.ID,
			&history.SnapshotID,
			&history.RestoredBy,
			&history.OrgRestored,
			&history.ProductRestored,
			&history.Errors,
			&status,
			&history.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan restore history: %w", err)
		}
		history.Status = domain.RestoreStatus(status)
		out = append(out, history)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate restore history: %w", err)
	}
	return out, nil
}
