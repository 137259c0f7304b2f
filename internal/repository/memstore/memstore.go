// Package memstore provides in-memory implementations of every repository
// interface. It backs the test suites and the server's "memory" store mode.
package memstore

import (
	"sync"
	"time"

	"github.com/rpattn/certrecon/internal/domain"

	"github.com/google/uuid"
)

// Store groups one in-memory repository per table. All of them share a clock.
type Store struct {
	Organizations  *Organizations
	Products       *Products
	Batches        *Batches
	ProcessingLogs *ProcessingLogs
	Audit          *Audit
	Backups        *Backups
	Undo           *Undo
}

// Option customizes a Store.
type Option func(*clock)

// WithClock overrides the time source used for store-managed timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *clock) {
		if now != nil {
			c.now = now
		}
	}
}

type clock struct {
	mu  sync.Mutex
	now func() time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

// New creates an empty store.
func New(opts ...Option) *Store {
	c := &clock{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return &Store{
		Organizations:  &Organizations{clock: c, byID: map[uuid.UUID]domain.Organization{}},
		Products:       &Products{clock: c, byID: map[uuid.UUID]domain.Product{}},
		Batches:        &Batches{clock: c, byID: map[uuid.UUID]domain.Batch{}},
		ProcessingLogs: &ProcessingLogs{clock: c},
		Audit:          &Audit{clock: c},
		Backups:        newBackups(c),
		Undo:           &Undo{clock: c, byID: map[uuid.UUID]domain.UndoEntry{}},
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneProduct(p domain.Product) domain.Product {
	p.ExpiryDate = cloneTime(p.ExpiryDate)
	return p
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
