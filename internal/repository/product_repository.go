package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/certrecon/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const productColumns = `id, code, organization_identifier, responsible_party, certification_type, expiry_date, created_at, updated_at`

type productRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository creates a new product repository
func NewProductRepository(pool *pgxpool.Pool) ProductRepository {
	return &productRepository{pool: pool}
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var product domain.Product
	err := row.Scan(
		&product.ID,
		&product.Code,
		&product.OrganizationIdentifier,
		&product.ResponsibleParty,
		&product.CertificationType,
		&product.ExpiryDate,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	return product, err
}

func (r *productRepository) GetByCode(ctx context.Context, code string) (domain.Product, error) {
	product, err := scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, ErrNotFound
		}
		return domain.Product{}, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

func (r *productRepository) GetByCodes(ctx context.Context, codes []string) ([]domain.Product, error) {
	if len(codes) == 0 {
		return []domain.Product{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE code = ANY($1) ORDER BY code`, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []domain.Product{}
	for rows.Next() {
		product, scanErr := scanProduct(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan product: %w", scanErr)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	created, err := scanProduct(r.pool.QueryRow(ctx,
		`INSERT INTO products (id, code, organization_identifier, responsible_party, certification_type, expiry_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()), COALESCE($8, COALESCE($7, now())))
		 RETURNING `+productColumns,
		product.ID, product.Code, product.OrganizationIdentifier, product.ResponsibleParty,
		product.CertificationType, product.ExpiryDate, nullableTime(product.CreatedAt), nullableTime(product.UpdatedAt),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, fmt.Errorf("product %s: %w", product.Code, ErrDuplicateKey)
		}
		return domain.Product{}, fmt.Errorf("failed to create product: %w", err)
	}
	return created, nil
}

func (r *productRepository) Update(ctx context.Context, product domain.Product, expectedUpdatedAt time.Time) (domain.Product, error) {
	updated, err := scanProduct(r.pool.QueryRow(ctx,
		`UPDATE products
		 SET organization_identifier = $2, responsible_party = $3, certification_type = $4, expiry_date = $5, updated_at = now()
		 WHERE id = $1 AND updated_at = $6
		 RETURNING `+productColumns,
		product.ID, product.OrganizationIdentifier, product.ResponsibleParty, product.CertificationType,
		product.ExpiryDate, expectedUpdatedAt,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("failed to update product: %w", err)
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, product.ID).Scan(&exists); err != nil {
		return domain.Product{}, fmt.Errorf("failed to check product: %w", err)
	}
	if !exists {
		return domain.Product{}, ErrNotFound
	}
	return domain.Product{}, fmt.Errorf("product %s: %w", product.Code, ErrStaleWrite)
}

func (r *productRepository) Overwrite(ctx context.Context, product domain.Product) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO products (id, code, organization_identifier, responsible_party, certification_type, expiry_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   code = EXCLUDED.code,
		   organization_identifier = EXCLUDED.organization_identifier,
		   responsible_party = EXCLUDED.responsible_party,
		   certification_type = EXCLUDED.certification_type,
		   expiry_date = EXCLUDED.expiry_date,
		   created_at = EXCLUDED.created_at,
		   updated_at = EXCLUDED.updated_at`,
		product.ID, product.Code, product.OrganizationIdentifier, product.ResponsibleParty,
		product.CertificationType, product.ExpiryDate, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("product %s: %w", product.Code, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to overwrite product: %w", err)
	}
	return nil
}

func (r *productRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
