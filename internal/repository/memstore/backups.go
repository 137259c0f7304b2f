package memstore

import (
	"context"
	"sync"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/repository"

	"github.com/google/uuid"
)

// Backups is an in-memory BackupRepository.
type Backups struct {
	clock       *clock
	mu          sync.RWMutex
	snapshots   map[uuid.UUID]domain.BackupSnapshot
	orgRows     map[uuid.UUID][]domain.BackupOrgRow
	productRows map[uuid.UUID][]domain.BackupProductRow
	restores    []domain.RestoreHistory
}

var _ repository.BackupRepository = (*Backups)(nil)

func newBackups(c *clock) *Backups {
	return &Backups{
		clock:       c,
		snapshots:   map[uuid.UUID]domain.BackupSnapshot{},
		orgRows:     map[uuid.UUID][]domain.BackupOrgRow{},
		productRows: map[uuid.UUID][]domain.BackupProductRow{},
	}
}

func (r *Backups) CreateSnapshot(ctx context.Context, snapshot domain.BackupSnapshot) (domain.BackupSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = r.clock.Now()
	}
	snapshot.AffectedOrgKeys = cloneStrings(snapshot.AffectedOrgKeys)
	snapshot.AffectedProductKeys = cloneStrings(snapshot.AffectedProductKeys)
	r.snapshots[snapshot.ID] = snapshot
	return snapshot, nil
}

func (r *Backups) GetSnapshot(ctx context.Context, id uuid.UUID) (domain.BackupSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot, ok := r.snapshots[id]
	if !ok {
		return domain.BackupSnapshot{}, repository.ErrNotFound
	}
	return snapshot, nil
}

func (r *Backups) AddOrganizationRows(ctx context.Context, rows []domain.BackupOrgRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		if _, ok := r.snapshots[row.SnapshotID]; !ok {
			return repository.ErrNotFound
		}
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		r.orgRows[row.SnapshotID] = append(r.orgRows[row.SnapshotID], row)
	}
	return nil
}

func (r *Backups) AddProductRows(ctx context.Context, rows []domain.BackupProductRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		if _, ok := r.snapshots[row.SnapshotID]; !ok {
			return repository.ErrNotFound
		}
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		row.Data = cloneProduct(row.Data)
		r.productRows[row.SnapshotID] = append(r.productRows[row.SnapshotID], row)
	}
	return nil
}

func (r *Backups) UpdateRowCounts(ctx context.Context, snapshotID uuid.UUID, orgRows, productRows int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot, ok := r.snapshots[snapshotID]
	if !ok {
		return repository.ErrNotFound
	}
	snapshot.OrgRowCount = orgRows
	snapshot.ProductRowCount = productRows
	r.snapshots[snapshotID] = snapshot
	return nil
}

func (r *Backups) ListOrganizationRows(ctx context.Context, snapshotID uuid.UUID) ([]domain.BackupOrgRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.BackupOrgRow{}, r.orgRows[snapshotID]...), nil
}

func (r *Backups) ListProductRows(ctx context.Context, snapshotID uuid.UUID) ([]domain.BackupProductRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.BackupProductRow, 0, len(r.productRows[snapshotID]))
	for _, row := range r.productRows[snapshotID] {
		row.Data = cloneProduct(row.Data)
		out = append(out, row)
	}
	return out, nil
}

func (r *Backups) DeleteSnapshot(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.snapshots[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.snapshots, id)
	delete(r.orgRows, id)
	delete(r.productRows, id)
	return nil
}

func (r *Backups) RecordRestore(ctx context.Context, history domain.RestoreHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if history.ID == uuid.Nil {
		history.ID = uuid.New()
	}
	if history.CreatedAt.IsZero() {
		history.CreatedAt = r.clock.Now()
	}
	history.Errors = cloneStrings(history.Errors)
	r.restores = append(r.restores, history)
	return nil
}

func (r *Backups) ListRestores(ctx context.Context, snapshotID uuid.UUID) ([]domain.RestoreHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.RestoreHistory{}
	for _, history := range r.restores {
		if history.SnapshotID == snapshotID {
			out = append(out, history)
		}
	}
	return out, nil
}

// InTx stages the writes of fn and publishes them together when fn succeeds.
// Inside fn, row listings only see rows staged by fn.
func (r *Backups) InTx(ctx context.Context, fn func(repository.BackupRepository) error) error {
	staged := newBackups(r.clock)
	r.mu.RLock()
	for id, snapshot := range r.snapshots {
		staged.snapshots[id] = snapshot
	}
	r.mu.RUnlock()

	if err := fn(staged); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, snapshot := range staged.snapshots {
		r.snapshots[id] = snapshot
	}
	for id, rows := range staged.orgRows {
		r.orgRows[id] = append(r.orgRows[id], rows...)
	}
	for id, rows := range staged.productRows {
		r.productRows[id] = append(r.productRows[id], rows...)
	}
	r.restores = append(r.restores, staged.restores...)
	return nil
}
