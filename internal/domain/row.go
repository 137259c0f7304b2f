package domain

import (
	"fmt"
	"strings"
	"time"
)

// Field names carried by a normalized upload row.
const (
	FieldEmissionDate = "emission_date"

	FieldOrgIdentifier = "cuit"
	FieldOrgLegalName  = "razon_social"
	FieldOrgAddress    = "direccion"
	FieldOrgEmail      = "email"
	FieldOrgPhone      = "telefono"
	FieldOrgContact    = "contacto"

	FieldProductCode              = "codigo_producto"
	FieldProductResponsibleParty  = "responsable"
	FieldProductCertificationType = "tipo_certificacion"
	FieldProductExpiryDate        = "fecha_vencimiento"
)

// DateLayout is the canonical textual form of row dates.
const DateLayout = "2006-01-02"

// OrganizationFields is the organization side of a certificate row, in reporting order.
var OrganizationFields = []string{
	FieldOrgIdentifier,
	FieldOrgLegalName,
	FieldOrgAddress,
	FieldOrgEmail,
	FieldOrgPhone,
	FieldOrgContact,
}

// ProductFields is the product side of a certificate row, in reporting order.
var ProductFields = []string{
	FieldProductCode,
	FieldProductResponsibleParty,
	FieldProductCertificationType,
	FieldProductExpiryDate,
}

// NormalizedRow maps lower_snake_case field names to typed cell values.
// Dates are expected as time.Time; everything else as strings.
type NormalizedRow map[string]any

// String returns the trimmed textual value of a field, or "" when absent.
func (r NormalizedRow) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.Format(DateLayout)
	case *time.Time:
		if v == nil || v.IsZero() {
			return ""
		}
		return v.Format(DateLayout)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Date returns the date value of a field. The second result is false when the
// field is absent or does not hold a date.
func (r NormalizedRow) Date(field string) (time.Time, bool) {
	switch v := r[field].(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	default:
		return time.Time{}, false
	}
}

// Has reports whether the field carries a non-empty value.
func (r NormalizedRow) Has(field string) bool {
	return r.String(field) != ""
}

// Clone returns a shallow copy of the row.
func (r NormalizedRow) Clone() NormalizedRow {
	out := make(NormalizedRow, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Strings renders every field as text, which is how rows are persisted in logs.
func (r NormalizedRow) Strings() map[string]string {
	out := make(map[string]string, len(r))
	for k := range r {
		out[k] = r.String(k)
	}
	return out
}
