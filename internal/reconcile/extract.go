// Package reconcile decides, per uploaded certificate row, whether its
// organization and product should be inserted, updated or left alone, and
// applies those decisions to the store.
package reconcile

import (
	"time"

	"github.com/rpattn/certrecon/internal/domain"
)

// dateFields must hold parsed dates when present.
var dateFields = []string{domain.FieldEmissionDate, domain.FieldProductExpiryDate}

// ValidateRow returns the required or malformed fields that keep a row from
// reaching extraction. An empty result means the row is valid.
func ValidateRow(row domain.NormalizedRow) []string {
	var invalid []string
	for _, field := range dateFields {
		_, isDate := row.Date(field)
		switch {
		case field == domain.FieldEmissionDate && !isDate:
			invalid = append(invalid, field)
		case field != domain.FieldEmissionDate && row.Has(field) && !isDate:
			invalid = append(invalid, field)
		}
	}
	return invalid
}

// Extract splits a row into its organization and product fragments. It never
// fails: a side with no populated field yields a nil fragment.
func Extract(rowNumber int, row domain.NormalizedRow) domain.ExtractionResult {
	result := domain.ExtractionResult{
		RowNumber:            rowNumber,
		SourceRow:            row,
		MissingOrgFields:     []string{},
		MissingProductFields: []string{},
	}
	if emission, ok := row.Date(domain.FieldEmissionDate); ok {
		result.EmissionDate = emission
	}

	if present, missing := scan(row, domain.OrganizationFields); present {
		result.Organization = &domain.OrganizationFragment{
			Identifier: row.String(domain.FieldOrgIdentifier),
			LegalName:  row.String(domain.FieldOrgLegalName),
			Address:    row.String(domain.FieldOrgAddress),
			Email:      row.String(domain.FieldOrgEmail),
			Phone:      row.String(domain.FieldOrgPhone),
			Contact:    row.String(domain.FieldOrgContact),
		}
		result.MissingOrgFields = missing
	}

	if present, missing := scan(row, domain.ProductFields); present {
		fragment := &domain.ProductFragment{
			Code:                   row.String(domain.FieldProductCode),
			OrganizationIdentifier: row.String(domain.FieldOrgIdentifier),
			ResponsibleParty:       row.String(domain.FieldProductResponsibleParty),
			CertificationType:      row.String(domain.FieldProductCertificationType),
		}
		if expiry, ok := row.Date(domain.FieldProductExpiryDate); ok {
			expiry := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC)
			fragment.ExpiryDate = &expiry
		}
		result.Product = fragment
		result.MissingProductFields = missing
	}

	return result
}

func scan(row domain.NormalizedRow, fields []string) (bool, []string) {
	present := false
	missing := []string{}
	for _, field := range fields {
		if row.Has(field) {
			present = true
			continue
		}
		missing = append(missing, field)
	}
	return present, missing
}
