package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/certrecon/internal/domain"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a point lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrStaleWrite is returned when a compare-and-swap update finds the
	// stored row changed since it was read.
	ErrStaleWrite = errors.New("stored record changed since it was checked")
	// ErrDuplicateKey is returned when an insert collides with an existing natural key.
	ErrDuplicateKey = errors.New("duplicate natural key")
)

// OrganizationRepository stores organizations keyed by identifier.
type OrganizationRepository interface {
	GetByIdentifier(ctx context.Context, identifier string) (domain.Organization, error)
	GetByIdentifiers(ctx context.Context, identifiers []string) ([]domain.Organization, error)
	List(ctx context.Context) ([]domain.Organization, error)
	Create(ctx context.Context, org domain.Organization) (domain.Organization, error)
	// Update overwrites the organization only if its stored updated_at still equals expectedUpdatedAt.
	Update(ctx context.Context, org domain.Organization, expectedUpdatedAt time.Time) (domain.Organization, error)
	// Overwrite writes the full row by primary key, inserting it if it no longer exists.
	Overwrite(ctx context.Context, org domain.Organization) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ProductRepository stores products keyed by code.
type ProductRepository interface {
	GetByCode(ctx context.Context, code string) (domain.Product, error)
	GetByCodes(ctx context.Context, codes []string) ([]domain.Product, error)
	Create(ctx context.Context, product domain.Product) (domain.Product, error)
	Update(ctx context.Context, product domain.Product, expectedUpdatedAt time.Time) (domain.Product, error)
	Overwrite(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// BatchRepository stores uploads and their counters.
type BatchRepository interface {
	Create(ctx context.Context, batch domain.Batch) (domain.Batch, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Batch, error)
	Finalize(ctx context.Context, id uuid.UUID, status domain.BatchStatus, counts domain.BatchCounts) error
}

// ProcessingLogRepository stores one append-only entry per input row.
type ProcessingLogRepository interface {
	Append(ctx context.Context, entries ...domain.ProcessingLogEntry) error
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.ProcessingLogEntry, error)
}

// AuditRepository stores the append-only change trail.
type AuditRepository interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
	ListByEntity(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID) ([]domain.AuditEntry, error)
}

// BackupRepository stores snapshots, their row copies and restore history.
type BackupRepository interface {
	CreateSnapshot(ctx context.Context, snapshot domain.BackupSnapshot) (domain.BackupSnapshot, error)
	GetSnapshot(ctx context.Context, id uuid.UUID) (domain.BackupSnapshot, error)
	AddOrganizationRows(ctx context.Context, rows []domain.BackupOrgRow) error
	AddProductRows(ctx context.Context, rows []domain.BackupProductRow) error
	UpdateRowCounts(ctx context.Context, snapshotID uuid.UUID, orgRows, productRows int) error
	ListOrganizationRows(ctx context.Context, snapshotID uuid.UUID) ([]domain.BackupOrgRow, error)
	ListProductRows(ctx context.Context, snapshotID uuid.UUID) ([]domain.BackupProductRow, error)
	// DeleteSnapshot removes the snapshot and its row copies; live data is untouched.
	DeleteSnapshot(ctx context.Context, id uuid.UUID) error
	RecordRestore(ctx context.Context, history domain.RestoreHistory) error
	ListRestores(ctx context.Context, snapshotID uuid.UUID) ([]domain.RestoreHistory, error)
	// InTx runs fn against a repository whose writes commit together when fn
	// returns nil and are discarded otherwise.
	InTx(ctx context.Context, fn func(BackupRepository) error) error
}

// UndoRepository stores session undo entries.
type UndoRepository interface {
	Create(ctx context.Context, entry domain.UndoEntry) (domain.UndoEntry, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.UndoEntry, error)
	// ListActive returns the session's non-undone entries, newest first.
	ListActive(ctx context.Context, sessionID string) ([]domain.UndoEntry, error)
	Prune(ctx context.Context, ids []uuid.UUID) error
	MarkUndone(ctx context.Context, id uuid.UUID, actor string, at time.Time) error
}
