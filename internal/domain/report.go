package domain

import "github.com/google/uuid"

// SkippedRecord is one skipped row listed in a diagnostic report.
type SkippedRecord struct {
	RowNumber     int               `json:"row_number"`
	ActionTaken   ProcessingAction  `json:"action_taken"`
	MissingFields []string          `json:"missing_fields"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	RawRow        map[string]string `json:"raw_row"`
}

// SkipGroup aggregates skipped rows sharing a reason.
type SkipGroup struct {
	Reason      SkipReason      `json:"reason"`
	Description string          `json:"description"`
	Count       int             `json:"count"`
	Records     []SkippedRecord `json:"records"`
}

// RejectedRecord is a row dropped before extraction.
type RejectedRecord struct {
	RowNumber     int               `json:"row_number"`
	MissingFields []string          `json:"missing_fields"`
	RawRow        map[string]string `json:"raw_row"`
}

// ActionBreakdown counts rows per processing action.
type ActionBreakdown struct {
	Action      ProcessingAction `json:"action"`
	Description string           `json:"description"`
	Count       int              `json:"count"`
}

// DiagnosticReport explains where every row of a batch ended up.
type DiagnosticReport struct {
	BatchID        uuid.UUID         `json:"batch_id"`
	Filename       string            `json:"filename"`
	TotalInFile    int               `json:"total_in_file"`
	TotalProcessed int               `json:"total_processed"`
	TotalSkipped   int               `json:"total_skipped"`
	TotalRejected  int               `json:"total_rejected"`
	SkipGroups     []SkipGroup       `json:"skip_groups"`
	Rejected       []RejectedRecord  `json:"rejected"`
	Actions        []ActionBreakdown `json:"actions"`
}

// Discrepancy is the number of rows in the file that have no log entry.
// Anything other than zero is a data-integrity bug.
func (r DiagnosticReport) Discrepancy() int {
	return r.TotalInFile - (r.TotalProcessed + r.TotalSkipped + r.TotalRejected)
}

// Consistent reports whether every row in the file is accounted for.
func (r DiagnosticReport) Consistent() bool {
	return r.Discrepancy() == 0
}
