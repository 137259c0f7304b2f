package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExtractionResult splits a row into its optional organization and product
// fragments. A fragment is nil when none of its fields were populated.
type ExtractionResult struct {
	RowNumber            int                   `json:"row_number"`
	EmissionDate         time.Time             `json:"emission_date"`
	Organization         *OrganizationFragment `json:"organization,omitempty"`
	Product              *ProductFragment      `json:"product,omitempty"`
	SourceRow            NormalizedRow         `json:"source_row"`
	MissingOrgFields     []string              `json:"missing_org_fields"`
	MissingProductFields []string              `json:"missing_product_fields"`
}

// OrganizationComplete reports whether the organization side has no missing fields.
func (e ExtractionResult) OrganizationComplete() bool {
	return len(e.MissingOrgFields) == 0
}

// ProductComplete reports whether the product side has no missing fields.
func (e ExtractionResult) ProductComplete() bool {
	return len(e.MissingProductFields) == 0
}

// ExistenceCheck is the outcome of looking one entity up by its natural key.
type ExistenceCheck struct {
	Exists          bool          `json:"exists"`
	IsNewer         bool          `json:"is_newer"`
	StoredID        uuid.UUID     `json:"stored_id,omitempty"`
	StoredTimestamp *time.Time    `json:"stored_timestamp,omitempty"`
	Organization    *Organization `json:"organization,omitempty"`
	Product         *Product      `json:"product,omitempty"`
}

// Action is the reconciliation outcome for one row.
type Action string

const (
	ActionInsertBoth             Action = "insert_both"
	ActionUpdateBoth             Action = "update_both"
	ActionInsertOrgUpdateProduct Action = "insert_org_update_product"
	ActionUpdateOrgInsertProduct Action = "update_org_insert_product"
	ActionSkip                   Action = "skip"
	ActionNeedsCompletion        Action = "needs_completion"
)

// Actions lists every decision outcome.
var Actions = []Action{
	ActionInsertBoth,
	ActionUpdateBoth,
	ActionInsertOrgUpdateProduct,
	ActionUpdateOrgInsertProduct,
	ActionSkip,
	ActionNeedsCompletion,
}

// Valid reports whether the action is one of the known outcomes.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// Description returns a human-readable explanation of the action.
func (a Action) Description() string {
	switch a {
	case ActionInsertBoth:
		return "New organization and new product inserted"
	case ActionUpdateBoth:
		return "Existing organization and product updated with newer data"
	case ActionInsertOrgUpdateProduct:
		return "New organization inserted, existing product updated"
	case ActionUpdateOrgInsertProduct:
		return "Existing organization updated, new product inserted"
	case ActionSkip:
		return "Stored data is as recent or newer; nothing written"
	case ActionNeedsCompletion:
		return "New organization is missing required fields"
	default:
		return string(a)
	}
}

func (a Action) InsertsOrganization() bool {
	return a == ActionInsertBoth || a == ActionInsertOrgUpdateProduct
}

func (a Action) UpdatesOrganization() bool {
	return a == ActionUpdateBoth || a == ActionUpdateOrgInsertProduct
}

func (a Action) InsertsProduct() bool {
	return a == ActionInsertBoth || a == ActionUpdateOrgInsertProduct
}

func (a Action) UpdatesProduct() bool {
	return a == ActionUpdateBoth || a == ActionInsertOrgUpdateProduct
}

// Writes reports whether the action mutates the store.
func (a Action) Writes() bool {
	return a.InsertsOrganization() || a.UpdatesOrganization() || a.InsertsProduct() || a.UpdatesProduct()
}

// ReconciliationDecision combines both existence checks with the extraction.
type ReconciliationDecision struct {
	OrgCheck          ExistenceCheck   `json:"org_check"`
	ProductCheck      ExistenceCheck   `json:"product_check"`
	Extraction        ExtractionResult `json:"extraction"`
	Action            Action           `json:"action"`
	IsNewOrganization bool             `json:"is_new_organization"`
	MissingFields     []string         `json:"missing_fields"`
}
