package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/repository"
)

// OrganizationLookup finds a stored organization by identifier. A missing
// organization is reported as (nil, nil).
type OrganizationLookup interface {
	LookupOrganization(ctx context.Context, identifier string) (*domain.Organization, error)
}

// ProductLookup finds a stored product by code. A missing product is
// reported as (nil, nil).
type ProductLookup interface {
	LookupProduct(ctx context.Context, code string) (*domain.Product, error)
}

// RepositoryLookup serves lookups with direct point queries.
type RepositoryLookup struct {
	Organizations repository.OrganizationRepository
	Products      repository.ProductRepository
}

func (l RepositoryLookup) LookupOrganization(ctx context.Context, identifier string) (*domain.Organization, error) {
	org, err := l.Organizations.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

func (l RepositoryLookup) LookupProduct(ctx context.Context, code string) (*domain.Product, error) {
	product, err := l.Products.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

// Checker runs the organization and product existence checks for a row.
type Checker struct {
	orgs     OrganizationLookup
	products ProductLookup
}

// NewChecker wires a checker over the lookups.
func NewChecker(orgs OrganizationLookup, products ProductLookup) *Checker {
	return &Checker{orgs: orgs, products: products}
}

// CheckOrganization looks up the fragment's organization and applies the
// recency rule. A fragment without identifier cannot match anything.
func (c *Checker) CheckOrganization(ctx context.Context, fragment *domain.OrganizationFragment, emission time.Time) (domain.ExistenceCheck, error) {
	if fragment == nil || fragment.Identifier == "" {
		return domain.ExistenceCheck{}, nil
	}
	stored, err := c.orgs.LookupOrganization(ctx, fragment.Identifier)
	if err != nil {
		return domain.ExistenceCheck{}, fmt.Errorf("failed to look up organization %s: %w", fragment.Identifier, err)
	}
	if stored == nil {
		return domain.ExistenceCheck{}, nil
	}
	modified := stored.LastModified()
	return domain.ExistenceCheck{
		Exists:          true,
		IsNewer:         IsNewer(emission, modified),
		StoredID:        stored.ID,
		StoredTimestamp: &modified,
		Organization:    stored,
	}, nil
}

// CheckProduct looks up the fragment's product and applies the recency rule.
func (c *Checker) CheckProduct(ctx context.Context, fragment *domain.ProductFragment, emission time.Time) (domain.ExistenceCheck, error) {
	if fragment == nil || fragment.Code == "" {
		return domain.ExistenceCheck{}, nil
	}
	stored, err := c.products.LookupProduct(ctx, fragment.Code)
	if err != nil {
		return domain.ExistenceCheck{}, fmt.Errorf("failed to look up product %s: %w", fragment.Code, err)
	}
	if stored == nil {
		return domain.ExistenceCheck{}, nil
	}
	modified := stored.LastModified()
	return domain.ExistenceCheck{
		Exists:          true,
		IsNewer:         IsNewer(emission, modified),
		StoredID:        stored.ID,
		StoredTimestamp: &modified,
		Product:         stored,
	}, nil
}

// IsNewer is the recency rule: evidence only wins when strictly newer than
// the stored state.
func IsNewer(emission, lastModified time.Time) bool {
	return emission.After(lastModified)
}
