package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingAction is what happened to one input row.
type ProcessingAction string

const (
	ProcessingInsertBoth             = ProcessingAction(ActionInsertBoth)
	ProcessingUpdateBoth             = ProcessingAction(ActionUpdateBoth)
	ProcessingInsertOrgUpdateProduct = ProcessingAction(ActionInsertOrgUpdateProduct)
	ProcessingUpdateOrgInsertProduct = ProcessingAction(ActionUpdateOrgInsertProduct)
	ProcessingSkip                   = ProcessingAction(ActionSkip)
	ProcessingNeedsCompletion        = ProcessingAction(ActionNeedsCompletion)

	// ProcessingRejected marks rows dropped before extraction.
	ProcessingRejected ProcessingAction = "rejected"
	// ProcessingError marks rows whose store operations failed.
	ProcessingError ProcessingAction = "error"
)

// Description returns a human-readable explanation of the processing action.
func (a ProcessingAction) Description() string {
	switch a {
	case ProcessingRejected:
		return "Row rejected before extraction (missing or malformed required fields)"
	case ProcessingError:
		return "Store operation failed while applying the row"
	default:
		return Action(a).Description()
	}
}

// SkipReason explains why a row did not (fully) reach the store.
type SkipReason string

const (
	SkipNotNewer               SkipReason = "not_newer"
	SkipIncompleteOrganization SkipReason = "incomplete_organization"
	SkipEmptyRecord            SkipReason = "empty_record"
	SkipStaleWrite             SkipReason = "stale_write"
	SkipStoreError             SkipReason = "store_error"
	SkipCancelled              SkipReason = "cancelled"
)

// Description returns a human-readable explanation of the skip reason.
func (r SkipReason) Description() string {
	switch r {
	case SkipNotNewer:
		return "Emission date is not newer than the stored record"
	case SkipIncompleteOrganization:
		return "New organization is missing required fields"
	case SkipEmptyRecord:
		return "Row carries no writable organization or product data"
	case SkipStaleWrite:
		return "Stored record changed between check and write"
	case SkipStoreError:
		return "Store rejected the write"
	case SkipCancelled:
		return "Batch was cancelled before the row was applied"
	default:
		return string(r)
	}
}

// ProcessingLogEntry records the outcome of one input row. Entries are append-only.
type ProcessingLogEntry struct {
	ID            uuid.UUID         `json:"id"`
	BatchID       uuid.UUID         `json:"batch_id"`
	RowNumber     int               `json:"row_number"`
	ActionTaken   ProcessingAction  `json:"action_taken"`
	SkipReason    *SkipReason       `json:"skip_reason,omitempty"`
	MissingFields []string          `json:"missing_fields"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	RawRow        map[string]string `json:"raw_row"`
	CreatedAt     time.Time         `json:"created_at"`
}

// IsRejected reports whether the row never reached extraction.
func (e ProcessingLogEntry) IsRejected() bool {
	return e.ActionTaken == ProcessingRejected
}

// IsSkipped reports whether the row was handled but not applied.
func (e ProcessingLogEntry) IsSkipped() bool {
	return !e.IsRejected() && e.SkipReason != nil
}
