package domain

import (
	"time"

	"github.com/google/uuid"
)

// Organization is the client/legal-entity side of a certificate record.
type Organization struct {
	ID         uuid.UUID `json:"id"`
	Identifier string    `json:"identifier"`
	LegalName  string    `json:"legal_name"`
	Address    string    `json:"address"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Contact    string    `json:"contact"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OrganizationFragment holds the organization fields found in one row.
type OrganizationFragment struct {
	Identifier string `json:"identifier"`
	LegalName  string `json:"legal_name"`
	Address    string `json:"address"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Contact    string `json:"contact"`
}

// NewOrganization creates a new organization from an uploaded fragment.
func NewOrganization(fragment OrganizationFragment) Organization {
	now := time.Now()
	return Organization{
		ID:         uuid.New(),
		Identifier: fragment.Identifier,
		LegalName:  fragment.LegalName,
		Address:    fragment.Address,
		Email:      fragment.Email,
		Phone:      fragment.Phone,
		Contact:    fragment.Contact,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// WithFragment returns a copy of the organization with every non-empty
// fragment field applied. The identifier is never changed.
func (o Organization) WithFragment(fragment OrganizationFragment) Organization {
	next := o
	if fragment.LegalName != "" {
		next.LegalName = fragment.LegalName
	}
	if fragment.Address != "" {
		next.Address = fragment.Address
	}
	if fragment.Email != "" {
		next.Email = fragment.Email
	}
	if fragment.Phone != "" {
		next.Phone = fragment.Phone
	}
	if fragment.Contact != "" {
		next.Contact = fragment.Contact
	}
	next.UpdatedAt = time.Now()
	return next
}

// LastModified is the timestamp the recency rule compares against.
func (o Organization) LastModified() time.Time {
	if !o.UpdatedAt.IsZero() {
		return o.UpdatedAt
	}
	return o.CreatedAt
}

// Fields flattens the organization's data fields keyed by row field name.
func (o Organization) Fields() map[string]string {
	return map[string]string{
		FieldOrgIdentifier: o.Identifier,
		FieldOrgLegalName:  o.LegalName,
		FieldOrgAddress:    o.Address,
		FieldOrgEmail:      o.Email,
		FieldOrgPhone:      o.Phone,
		FieldOrgContact:    o.Contact,
	}
}

// Fields flattens the fragment keyed by row field name.
func (f OrganizationFragment) Fields() map[string]string {
	return map[string]string{
		FieldOrgIdentifier: f.Identifier,
		FieldOrgLegalName:  f.LegalName,
		FieldOrgAddress:    f.Address,
		FieldOrgEmail:      f.Email,
		FieldOrgPhone:      f.Phone,
		FieldOrgContact:    f.Contact,
	}
}
