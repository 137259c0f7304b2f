package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus tracks the lifecycle of one upload.
type BatchStatus string

const (
	BatchStatusProcessing          BatchStatus = "processing"
	BatchStatusCompleted           BatchStatus = "completed"
	BatchStatusCompletedWithErrors BatchStatus = "completed_with_errors"
	BatchStatusFailed              BatchStatus = "failed"
)

// BatchCounts are the row counters of a batch.
type BatchCounts struct {
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Rejected  int `json:"rejected"`
	Errors    int `json:"errors"`
}

// Batch is one uploaded file.
type Batch struct {
	ID          uuid.UUID   `json:"id"`
	Filename    string      `json:"filename"`
	TotalRows   int         `json:"total_rows"`
	Status      BatchStatus `json:"status"`
	Counts      BatchCounts `json:"counts"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// NewBatch creates a batch in processing state.
func NewBatch(filename string, totalRows int, createdBy string) Batch {
	return Batch{
		ID:        uuid.New(),
		Filename:  filename,
		TotalRows: totalRows,
		Status:    BatchStatusProcessing,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
	}
}

// StatusFor picks the terminal status for a batch that ran to completion.
func StatusFor(counts BatchCounts) BatchStatus {
	if counts.Errors > 0 {
		return BatchStatusCompletedWithErrors
	}
	return BatchStatusCompleted
}
