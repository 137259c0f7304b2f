package reconcile

import (
	"sync"
	"time"

	"github.com/rpattn/certrecon/internal/domain"

	"github.com/google/uuid"
)

// batchWrites remembers what one batch already wrote to each stored entity,
// so later rows of the same upload compare against the batch's own write
// instead of the record seen at decide time.
type batchWrites struct {
	mu      sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
	orgs    map[uuid.UUID]writtenOrganization
	product map[uuid.UUID]writtenProduct
}

// writeOrder ranks rows touching the same entity. Later emission wins; on a
// tie the higher row number wins, so the result does not depend on worker
// scheduling.
type writeOrder struct {
	emission time.Time
	row      int
}

func (o writeOrder) after(other writeOrder) bool {
	if !o.emission.Equal(other.emission) {
		return o.emission.After(other.emission)
	}
	return o.row > other.row
}

type writtenOrganization struct {
	record domain.Organization
	order  writeOrder
}

type writtenProduct struct {
	record domain.Product
	order  writeOrder
}

func newBatchWrites() *batchWrites {
	return &batchWrites{
		locks:   map[uuid.UUID]*sync.Mutex{},
		orgs:    map[uuid.UUID]writtenOrganization{},
		product: map[uuid.UUID]writtenProduct{},
	}
}

// lock serializes writers of one entity and returns the unlock func.
func (w *batchWrites) lock(id uuid.UUID) func() {
	w.mu.Lock()
	l, ok := w.locks[id]
	if !ok {
		l = &sync.Mutex{}
		w.locks[id] = l
	}
	w.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (w *batchWrites) organization(id uuid.UUID) (writtenOrganization, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.orgs[id]
	return v, ok
}

func (w *batchWrites) setOrganization(org domain.Organization, order writeOrder) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.orgs[org.ID] = writtenOrganization{record: org, order: order}
}

func (w *batchWrites) productRecord(id uuid.UUID) (writtenProduct, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.product[id]
	return v, ok
}

func (w *batchWrites) setProduct(product domain.Product, order writeOrder) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.product[product.ID] = writtenProduct{record: product, order: order}
}
