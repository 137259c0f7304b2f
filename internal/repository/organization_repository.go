package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/certrecon/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const organizationColumns = `id, identifier, legal_name, address, email, phone, contact, created_at, updated_at`

// organizationRepository implements OrganizationRepository interface
type organizationRepository struct {
	pool *pgxpool.Pool
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(pool *pgxpool.Pool) OrganizationRepository {
	return &organizationRepository{pool: pool}
}

func scanOrganization(row pgx.Row) (domain.Organization, error) {
	var org domain.Organization
	err := row.Scan(
		&org.ID,
		&org.Identifier,
		&org.LegalName,
		&org.Address,
		&org.Email,
		&org.Phone,
		&org.Contact,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	return org, err
}

// GetByIdentifier retrieves an organization by its natural key
func (r *organizationRepository) GetByIdentifier(ctx context.Context, identifier string) (domain.Organization, error) {
	org, err := scanOrganization(r.pool.QueryRow(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE identifier = $1`, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Organization{}, ErrNotFound
		}
		return domain.Organization{}, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetByIdentifiers retrieves every organization matching one of the identifiers
func (r *organizationRepository) GetByIdentifiers(ctx context.Context, identifiers []string) ([]domain.Organization, error) {
	if len(identifiers) == 0 {
		return []domain.Organization{}, nil
	}
	return r.query(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE identifier = ANY($1) ORDER BY identifier`, identifiers)
}

// List retrieves all organizations
func (r *organizationRepository) List(ctx context.Context) ([]domain.Organization, error) {
	return r.query(ctx, `SELECT `+organizationColumns+` FROM organizations ORDER BY identifier`)
}

func (r *organizationRepository) query(ctx context.Context, sql string, args ...any) ([]domain.Organization, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	organizations := []domain.Organization{}
	for rows.Next() {
		org, scanErr := scanOrganization(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", scanErr)
		}
		organizations = append(organizations, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate organizations: %w", err)
	}
	return organizations, nil
}

// Create inserts a new organization
func (r *organizationRepository) Create(ctx context.Context, org domain.Organization) (domain.Organization, error) {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	created, err := scanOrganization(r.pool.QueryRow(ctx,
		`INSERT INTO organizations (id, identifier, legal_name, address, email, phone, contact, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()), COALESCE($9, COALESCE($8, now())))
		 RETURNING `+organizationColumns,
		org.ID, org.Identifier, org.LegalName, org.Address, org.Email, org.Phone, org.Contact,
		nullableTime(org.CreatedAt), nullableTime(org.UpdatedAt),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Organization{}, fmt.Errorf("organization %s: %w", org.Identifier, ErrDuplicateKey)
		}
		return domain.Organization{}, fmt.Errorf("failed to create organization: %w", err)
	}
	return created, nil
}

// Update overwrites an organization when its stored updated_at is unchanged
func (r *organizationRepository) Update(ctx context.Context, org domain.Organization, expectedUpdatedAt time.Time) (domain.Organization, error) {
	updated, err := scanOrganization(r.pool.QueryRow(ctx,
		`UPDATE organizations
		 SET legal_name = $2, address = $3, email = $4, phone = $5, contact = $6, updated_at = now()
		 WHERE id = $1 AND updated_at = $7
		 RETURNING `+organizationColumns,
		org.ID, org.LegalName, org.Address, org.Email, org.Phone, org.Contact, expectedUpdatedAt,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Organization{}, fmt.Errorf("failed to update organization: %w", err)
	}
	exists, existsErr := r.exists(ctx, org.ID)
	if existsErr != nil {
		return domain.Organization{}, existsErr
	}
	if !exists {
		return domain.Organization{}, ErrNotFound
	}
	return domain.Organization{}, fmt.Errorf("organization %s: %w", org.Identifier, ErrStaleWrite)
}

func (r *organizationRepository) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM organizations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check organization: %w", err)
	}
	return exists, nil
}

// Overwrite writes the full organization row by primary key
func (r *organizationRepository) Overwrite(ctx context.Context, org domain.Organization) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO organizations (id, identifier, legal_name, address, email, phone, contact, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   identifier = EXCLUDED.identifier,
		   legal_name = EXCLUDED.legal_name,
		   address = EXCLUDED.address,
		   email = EXCLUDED.email,
		   phone = EXCLUDED.phone,
		   contact = EXCLUDED.contact,
		   created_at = EXCLUDED.created_at,
		   updated_at = EXCLUDED.updated_at`,
		org.ID, org.Identifier, org.LegalName, org.Address, org.Email, org.Phone, org.Contact, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("organization %s: %w", org.Identifier, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to overwrite organization: %w", err)
	}
	return nil
}

// Delete deletes an organization
func (r *organizationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
