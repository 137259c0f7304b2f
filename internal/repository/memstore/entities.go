package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/repository"

	"github.com/google/uuid"
)

// Organizations is an in-memory OrganizationRepository.
type Organizations struct {
	clock *clock
	mu    sync.RWMutex
	byID  map[uuid.UUID]domain.Organization
}

var _ repository.OrganizationRepository = (*Organizations)(nil)

func (r *Organizations) findByIdentifier(identifier string) (domain.Organization, bool) {
	for _, org := range r.byID {
		if org.Identifier == identifier {
			return org, true
		}
	}
	return domain.Organization{}, false
}

func (r *Organizations) GetByIdentifier(ctx context.Context, identifier string) (domain.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	org, ok := r.findByIdentifier(identifier)
	if !ok {
		return domain.Organization{}, repository.ErrNotFound
	}
	return org, nil
}

func (r *Organizations) GetByIdentifiers(ctx context.Context, identifiers []string) ([]domain.Organization, error) {
	wanted := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		wanted[id] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Organization{}
	for _, org := range r.byID {
		if _, ok := wanted[org.Identifier]; ok {
			out = append(out, org)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (r *Organizations) List(ctx context.Context) ([]domain.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Organization, 0, len(r.byID))
	for _, org := range r.byID {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (r *Organizations) Create(ctx context.Context, org domain.Organization) (domain.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.findByIdentifier(org.Identifier); ok {
		return domain.Organization{}, fmt.Errorf("organization %s: %w", org.Identifier, repository.ErrDuplicateKey)
	}
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	now := r.clock.Now()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	if org.UpdatedAt.IsZero() {
		org.UpdatedAt = org.CreatedAt
	}
	r.byID[org.ID] = org
	return org, nil
}

func (r *Organizations) Update(ctx context.Context, org domain.Organization, expectedUpdatedAt time.Time) (domain.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[org.ID]
	if !ok {
		return domain.Organization{}, repository.ErrNotFound
	}
	if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return domain.Organization{}, fmt.Errorf("organization %s: %w", stored.Identifier, repository.ErrStaleWrite)
	}
	org.Identifier = stored.Identifier
	org.CreatedAt = stored.CreatedAt
	org.UpdatedAt = r.clock.Now()
	r.byID[org.ID] = org
	return org, nil
}

func (r *Organizations) Overwrite(ctx context.Context, org domain.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.findByIdentifier(org.Identifier); ok && other.ID != org.ID {
		return fmt.Errorf("organization %s: %w", org.Identifier, repository.ErrDuplicateKey)
	}
	r.byID[org.ID] = org
	return nil
}

func (r *Organizations) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

// Len returns the number of stored organizations.
func (r *Organizations) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Products is an in-memory ProductRepository.
type Products struct {
	clock *clock
	mu    sync.RWMutex
	byID  map[uuid.UUID]domain.Product
}

var _ repository.ProductRepository = (*Products)(nil)

func (r *Products) findByCode(code string) (domain.Product, bool) {
	for _, product := range r.byID {
		if product.Code == code {
			return product, true
		}
	}
	return domain.Product{}, false
}

func (r *Products) GetByCode(ctx context.Context, code string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	product, ok := r.findByCode(code)
	if !ok {
		return domain.Product{}, repository.ErrNotFound
	}
	return cloneProduct(product), nil
}

func (r *Products) GetByCodes(ctx context.Context, codes []string) ([]domain.Product, error) {
	wanted := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		wanted[code] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Product{}
	for _, product := range r.byID {
		if _, ok := wanted[product.Code]; ok {
			out = append(out, cloneProduct(product))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *Products) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.findByCode(product.Code); ok {
		return domain.Product{}, fmt.Errorf("product %s: %w", product.Code, repository.ErrDuplicateKey)
	}
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	now := r.clock.Now()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = product.CreatedAt
	}
	product = cloneProduct(product)
	r.byID[product.ID] = product
	return cloneProduct(product), nil
}

func (r *Products) Update(ctx context.Context, product domain.Product, expectedUpdatedAt time.Time) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[product.ID]
	if !ok {
		return domain.Product{}, repository.ErrNotFound
	}
	if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return domain.Product{}, fmt.Errorf("product %s: %w", stored.Code, repository.ErrStaleWrite)
	}
	product = cloneProduct(product)
	product.Code = stored.Code
	product.CreatedAt = stored.CreatedAt
	product.UpdatedAt = r.clock.Now()
	r.byID[product.ID] = product
	return cloneProduct(product), nil
}

func (r *Products) Overwrite(ctx context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.findByCode(product.Code); ok && other.ID != product.ID {
		return fmt.Errorf("product %s: %w", product.Code, repository.ErrDuplicateKey)
	}
	r.byID[product.ID] = cloneProduct(product)
	return nil
}

func (r *Products) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

// Len returns the number of stored products.
func (r *Products) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
