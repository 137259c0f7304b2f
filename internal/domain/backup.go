package domain

import (
	"time"

	"github.com/google/uuid"
)

// BackupSnapshot is the pre-mutation copy of every row a batch is about to touch.
// Only the row counters change after creation.
type BackupSnapshot struct {
	ID                  uuid.UUID `json:"id"`
	BatchID             uuid.UUID `json:"batch_id"`
	CreatedBy           string    `json:"created_by"`
	AffectedOrgKeys     []string  `json:"affected_org_keys"`
	AffectedProductKeys []string  `json:"affected_product_keys"`
	OrgRowCount         int       `json:"org_row_count"`
	ProductRowCount     int       `json:"product_row_count"`
	CreatedAt           time.Time `json:"created_at"`
}

// BackupOrgRow is the full pre-image of one live organization.
type BackupOrgRow struct {
	ID             uuid.UUID    `json:"id"`
	SnapshotID     uuid.UUID    `json:"snapshot_id"`
	OrganizationID uuid.UUID    `json:"organization_id"`
	Data           Organization `json:"data"`
}

// BackupProductRow is the full pre-image of one live product.
type BackupProductRow struct {
	ID         uuid.UUID `json:"id"`
	SnapshotID uuid.UUID `json:"snapshot_id"`
	ProductID  uuid.UUID `json:"product_id"`
	Data       Product   `json:"data"`
}

// RestoreStatus classifies a restore run.
type RestoreStatus string

const (
	RestoreCompleted RestoreStatus = "completed"
	RestorePartial   RestoreStatus = "partial"
	RestoreFailed    RestoreStatus = "failed"
)

// RestoreOutcome summarizes a restore run.
type RestoreOutcome struct {
	SnapshotID      uuid.UUID     `json:"snapshot_id"`
	OrgRestored     int           `json:"org_restored"`
	ProductRestored int           `json:"product_restored"`
	Errors          []string      `json:"errors"`
	Status          RestoreStatus `json:"status"`
}

// ClassifyRestore derives the status from the restored and failed row counts.
func ClassifyRestore(restored, failed int) RestoreStatus {
	switch {
	case failed == 0:
		return RestoreCompleted
	case restored > 0:
		return RestorePartial
	default:
		return RestoreFailed
	}
}

// RestoreHistory is the persisted record of a restore run.
type RestoreHistory struct {
	ID              uuid.UUID     `json:"id"`
	SnapshotID      uuid.UUID     `json:"snapshot_id"`
	RestoredBy      string        `json:"restored_by"`
	OrgRestored     int           `json:"org_restored"`
	ProductRestored int           `json:"product_restored"`
	Errors          []string      `json:"errors"`
	Status          RestoreStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
}
