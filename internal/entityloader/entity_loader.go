package entityloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/repository"

	"github.com/graph-gophers/dataloader"
)

// Wait is how long a loader collects keys before issuing one batch query.
const Wait = 2 * time.Millisecond

// Loaders coalesces concurrent natural-key lookups into batch queries.
// Results are never cached: every lookup observes the store as of its batch.
type Loaders struct {
	Organizations *dataloader.Loader
	Products      *dataloader.Loader
}

// NewLoaders wires organization and product loaders over the repositories.
func NewLoaders(orgs repository.OrganizationRepository, products repository.ProductRepository) *Loaders {
	orgBatchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		found, err := orgs.GetByIdentifiers(ctx, keys.Keys())
		if err != nil {
			return failAll(len(keys), fmt.Errorf("failed to load organizations: %w", err))
		}

		byKey := make(map[string]domain.Organization, len(found))
		for _, org := range found {
			byKey[org.Identifier] = org
		}

		// Build results in the same order as keys
		results := make([]*dataloader.Result, len(keys))
		for i, key := range keys {
			if org, ok := byKey[key.String()]; ok {
				org := org
				results[i] = &dataloader.Result{Data: &org}
			} else {
				results[i] = &dataloader.Result{Data: (*domain.Organization)(nil)}
			}
		}
		return results
	}

	productBatchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		found, err := products.GetByCodes(ctx, keys.Keys())
		if err != nil {
			return failAll(len(keys), fmt.Errorf("failed to load products: %w", err))
		}

		byKey := make(map[string]domain.Product, len(found))
		for _, product := range found {
			byKey[product.Code] = product
		}

		results := make([]*dataloader.Result, len(keys))
		for i, key := range keys {
			if product, ok := byKey[key.String()]; ok {
				product := product
				results[i] = &dataloader.Result{Data: &product}
			} else {
				results[i] = &dataloader.Result{Data: (*domain.Product)(nil)}
			}
		}
		return results
	}

	return &Loaders{
		Organizations: dataloader.NewBatchedLoader(orgBatchFn,
			dataloader.WithWait(Wait),
			dataloader.WithCache(&dataloader.NoCache{}),
		),
		Products: dataloader.NewBatchedLoader(productBatchFn,
			dataloader.WithWait(Wait),
			dataloader.WithCache(&dataloader.NoCache{}),
		),
	}
}

// LookupOrganization returns the stored organization or nil when absent.
func (l *Loaders) LookupOrganization(ctx context.Context, identifier string) (*domain.Organization, error) {
	data, err := l.Organizations.Load(ctx, dataloader.StringKey(identifier))()
	if err != nil {
		return nil, err
	}
	org, _ := data.(*domain.Organization)
	return org, nil
}

// LookupProduct returns the stored product or nil when absent.
func (l *Loaders) LookupProduct(ctx context.Context, code string) (*domain.Product, error) {
	data, err := l.Products.Load(ctx, dataloader.StringKey(code))()
	if err != nil {
		return nil, err
	}
	product, _ := data.(*domain.Product)
	return product, nil
}

func failAll(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}
