package domain

import (
	"time"

	"github.com/google/uuid"
)

// Product is the certified-product side of a certificate record. It is linked
// to its organization by the organization's natural key.
type Product struct {
	ID                     uuid.UUID  `json:"id"`
	Code                   string     `json:"code"`
	OrganizationIdentifier string     `json:"organization_identifier"`
	ResponsibleParty       string     `json:"responsible_party"`
	CertificationType      string     `json:"certification_type"`
	ExpiryDate             *time.Time `json:"expiry_date,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// ProductFragment holds the product fields found in one row.
type ProductFragment struct {
	Code                   string     `json:"code"`
	OrganizationIdentifier string     `json:"organization_identifier"`
	ResponsibleParty       string     `json:"responsible_party"`
	CertificationType      string     `json:"certification_type"`
	ExpiryDate             *time.Time `json:"expiry_date,omitempty"`
}

// NewProduct creates a new product from an uploaded fragment.
func NewProduct(fragment ProductFragment) Product {
	now := time.Now()
	return Product{
		ID:                     uuid.New(),
		Code:                   fragment.Code,
		OrganizationIdentifier: fragment.OrganizationIdentifier,
		ResponsibleParty:       fragment.ResponsibleParty,
		CertificationType:      fragment.CertificationType,
		ExpiryDate:             cloneTime(fragment.ExpiryDate),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// WithFragment returns a copy of the product with every non-empty fragment
// field applied. The code is never changed.
func (p Product) WithFragment(fragment ProductFragment) Product {
	next := p
	if fragment.OrganizationIdentifier != "" {
		next.OrganizationIdentifier = fragment.OrganizationIdentifier
	}
	if fragment.ResponsibleParty != "" {
		next.ResponsibleParty = fragment.ResponsibleParty
	}
	if fragment.CertificationType != "" {
		next.CertificationType = fragment.CertificationType
	}
	if fragment.ExpiryDate != nil {
		next.ExpiryDate = cloneTime(fragment.ExpiryDate)
	}
	next.UpdatedAt = time.Now()
	return next
}

// LastModified is the timestamp the recency rule compares against.
func (p Product) LastModified() time.Time {
	if !p.UpdatedAt.IsZero() {
		return p.UpdatedAt
	}
	return p.CreatedAt
}

// Fields flattens the product's data fields keyed by row field name.
func (p Product) Fields() map[string]string {
	return map[string]string{
		FieldProductCode:              p.Code,
		FieldOrgIdentifier:            p.OrganizationIdentifier,
		FieldProductResponsibleParty:  p.ResponsibleParty,
		FieldProductCertificationType: p.CertificationType,
		FieldProductExpiryDate:        formatDate(p.ExpiryDate),
	}
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
