package reconcile

import (
	"testing"
	"time"

	"github.com/rpattn/certrecon/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestValidateRow(t *testing.T) {
	tests := []struct {
		name    string
		row     domain.NormalizedRow
		invalid []string
	}{
		{
			name: "valid row",
			row:  certificateRow("20111111111", "P-1", date(2024, time.June, 1)),
		},
		{
			name:    "missing emission date",
			row:     domain.NormalizedRow{domain.FieldOrgIdentifier: "20111111111"},
			invalid: []string{domain.FieldEmissionDate},
		},
		{
			name: "unparsed dates",
			row: domain.NormalizedRow{
				domain.FieldEmissionDate:      "soon",
				domain.FieldProductExpiryDate: "31/31/2024",
			},
			invalid: []string{domain.FieldEmissionDate, domain.FieldProductExpiryDate},
		},
		{
			name: "absent expiry is fine",
			row:  domain.NormalizedRow{domain.FieldEmissionDate: date(2024, time.June, 1)},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.invalid, ValidateRow(tc.row))
		})
	}
}

func TestExtractSplitsFragments(t *testing.T) {
	expiry := time.Date(2026, time.March, 1, 15, 30, 0, 0, time.FixedZone("ART", -3*3600))
	row := certificateRow("20111111111", "P-1", date(2024, time.June, 1))
	row[domain.FieldProductExpiryDate] = expiry

	result := Extract(7, row)

	require.Equal(t, 7, result.RowNumber)
	require.Equal(t, date(2024, time.June, 1), result.EmissionDate)
	require.NotNil(t, result.Organization)
	require.Equal(t, "20111111111", result.Organization.Identifier)
	require.Equal(t, "Org 20111111111", result.Organization.LegalName)
	require.Empty(t, result.MissingOrgFields)

	require.NotNil(t, result.Product)
	require.Equal(t, "P-1", result.Product.Code)
	require.Equal(t, "20111111111", result.Product.OrganizationIdentifier)
	require.Equal(t, date(2026, time.March, 1), *result.Product.ExpiryDate)
	require.Empty(t, result.MissingProductFields)
}

func TestExtractReportsMissingFields(t *testing.T) {
	row := domain.NormalizedRow{
		domain.FieldEmissionDate:  date(2024, time.June, 1),
		domain.FieldOrgIdentifier: "20111111111",
		domain.FieldOrgLegalName:  "Acme SA",
	}

	result := Extract(1, row)

	require.NotNil(t, result.Organization)
	require.Equal(t, []string{
		domain.FieldOrgAddress,
		domain.FieldOrgEmail,
		domain.FieldOrgPhone,
		domain.FieldOrgContact,
	}, result.MissingOrgFields)
	require.False(t, result.OrganizationComplete())

	require.Nil(t, result.Product)
	require.Empty(t, result.MissingProductFields)
}

func TestExtractEmptySides(t *testing.T) {
	result := Extract(3, domain.NormalizedRow{domain.FieldEmissionDate: date(2024, time.June, 1)})

	require.Nil(t, result.Organization)
	require.Nil(t, result.Product)
	require.NotNil(t, result.MissingOrgFields)
	require.NotNil(t, result.MissingProductFields)
}
