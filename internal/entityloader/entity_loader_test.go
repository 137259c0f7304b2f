package entityloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/repository"
	"github.com/rpattn/certrecon/internal/repository/memstore"

	"github.com/stretchr/testify/require"
)

type countingOrganizations struct {
	repository.OrganizationRepository
	calls atomic.Int32
	err   error
}

func (c *countingOrganizations) GetByIdentifiers(ctx context.Context, identifiers []string) ([]domain.Organization, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.OrganizationRepository.GetByIdentifiers(ctx, identifiers)
}

func TestLookupOrganizationBatchesConcurrentLoads(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	for i := 0; i < 10; i++ {
		_, err := store.Organizations.Create(ctx, domain.Organization{Identifier: fmt.Sprintf("20%09d", i)})
		require.NoError(t, err)
	}
	orgs := &countingOrganizations{OrganizationRepository: store.Organizations}
	loaders := NewLoaders(orgs, store.Products)

	const lookups = 20
	results := make([]*domain.Organization, lookups)
	errs := make([]error, lookups)
	var wg sync.WaitGroup
	for i := 0; i < lookups; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = loaders.LookupOrganization(ctx, fmt.Sprintf("20%09d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < lookups; i++ {
		require.NoError(t, errs[i])
		if i < 10 {
			require.NotNil(t, results[i])
			require.Equal(t, fmt.Sprintf("20%09d", i), results[i].Identifier)
		} else {
			require.Nil(t, results[i])
		}
	}
	require.Less(t, int(orgs.calls.Load()), lookups)
}

func TestLookupIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	loaders := NewLoaders(store.Organizations, store.Products)

	product, err := loaders.LookupProduct(ctx, "P-1")
	require.NoError(t, err)
	require.Nil(t, product)

	_, err = store.Products.Create(ctx, domain.Product{Code: "P-1"})
	require.NoError(t, err)

	product, err = loaders.LookupProduct(ctx, "P-1")
	require.NoError(t, err)
	require.NotNil(t, product)
	require.Equal(t, "P-1", product.Code)
}

func TestLookupPropagatesErrors(t *testing.T) {
	boom := errors.New("db down")
	store := memstore.New()
	loaders := NewLoaders(&countingOrganizations{OrganizationRepository: store.Organizations, err: boom}, store.Products)

	_, err := loaders.LookupOrganization(context.Background(), "20111111111")
	require.ErrorIs(t, err, boom)
}
