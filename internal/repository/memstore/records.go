package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/repository"

	"github.com/google/uuid"
)

// Batches is an in-memory BatchRepository.
type Batches struct {
	clock *clock
	mu    sync.RWMutex
	byID  map[uuid.UUID]domain.Batch
}

var _ repository.BatchRepository = (*Batches)(nil)

func (r *Batches) Create(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = r.clock.Now()
	}
	if batch.Status == "" {
		batch.Status = domain.BatchStatusProcessing
	}
	r.byID[batch.ID] = batch
	return batch, nil
}

func (r *Batches) GetByID(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	batch, ok := r.byID[id]
	if !ok {
		return domain.Batch{}, repository.ErrNotFound
	}
	return batch, nil
}

func (r *Batches) Finalize(ctx context.Context, id uuid.UUID, status domain.BatchStatus, counts domain.BatchCounts) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := r.clock.Now()
	batch.Status = status
	batch.Counts = counts
	batch.CompletedAt = &now
	r.byID[id] = batch
	return nil
}

// ProcessingLogs is an in-memory ProcessingLogRepository.
type ProcessingLogs struct {
	clock   *clock
	mu      sync.RWMutex
	entries []domain.ProcessingLogEntry
}

var _ repository.ProcessingLogRepository = (*ProcessingLogs)(nil)

func (r *ProcessingLogs) Append(ctx context.Context, entries ...domain.ProcessingLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range entries {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = r.clock.Now()
		}
		entry.MissingFields = cloneStrings(entry.MissingFields)
		r.entries = append(r.entries, entry)
	}
	return nil
}

func (r *ProcessingLogs) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.ProcessingLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.ProcessingLogEntry{}
	for _, entry := range r.entries {
		if entry.BatchID == batchID {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out, nil
}

// Audit is an in-memory AuditRepository.
type Audit struct {
	clock   *clock
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

var _ repository.AuditRepository = (*Audit)(nil)

func (r *Audit) Record(ctx context.Context, entry domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.clock.Now()
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *Audit) ListByEntity(ctx context.Context, entityType domain.EntityType, entityID uuid.UUID) ([]domain.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.AuditEntry{}
	for _, entry := range r.entries {
		if entry.EntityType == entityType && entry.EntityID == entityID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// Len returns the number of recorded audit entries.
func (r *Audit) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Undo is an in-memory UndoRepository.
type Undo struct {
	clock *clock
	mu    sync.RWMutex
	byID  map[uuid.UUID]domain.UndoEntry
	seq   map[uuid.UUID]int
	next  int
}

var _ repository.UndoRepository = (*Undo)(nil)

func (r *Undo) Create(ctx context.Context, entry domain.UndoEntry) (domain.UndoEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.clock.Now()
	}
	if r.seq == nil {
		r.seq = map[uuid.UUID]int{}
	}
	r.next++
	r.seq[entry.ID] = r.next
	r.byID[entry.ID] = entry
	return entry, nil
}

func (r *Undo) GetByID(ctx context.Context, id uuid.UUID) (domain.UndoEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byID[id]
	if !ok {
		return domain.UndoEntry{}, repository.ErrNotFound
	}
	return entry, nil
}

func (r *Undo) ListActive(ctx context.Context, sessionID string) ([]domain.UndoEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.UndoEntry{}
	for _, entry := range r.byID {
		if entry.SessionID == sessionID && !entry.IsUndone {
			out = append(out, entry)
		}
	}
	// Insertion order breaks ties between entries created in the same instant.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return r.seq[out[i].ID] > r.seq[out[j].ID]
	})
	return out, nil
}

func (r *Undo) Prune(ctx context.Context, ids []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.byID, id)
		delete(r.seq, id)
	}
	return nil
}

func (r *Undo) MarkUndone(ctx context.Context, id uuid.UUID, actor string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	entry.IsUndone = true
	entry.UndoneAt = &at
	entry.UndoneBy = actor
	r.byID[id] = entry
	return nil
}
