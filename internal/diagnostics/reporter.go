// Package diagnostics explains where every row of an upload ended up.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrBatchNotFound is returned when the report's batch does not exist.
var ErrBatchNotFound = errors.New("batch not found")

var skipReasonOrder = []domain.SkipReason{
	domain.SkipNotNewer,
	domain.SkipIncompleteOrganization,
	domain.SkipEmptyRecord,
	domain.SkipStaleWrite,
	domain.SkipStoreError,
	domain.SkipCancelled,
}

var actionOrder = []domain.ProcessingAction{
	domain.ProcessingInsertBoth,
	domain.ProcessingUpdateBoth,
	domain.ProcessingInsertOrgUpdateProduct,
	domain.ProcessingUpdateOrgInsertProduct,
	domain.ProcessingSkip,
	domain.ProcessingNeedsCompletion,
	domain.ProcessingRejected,
	domain.ProcessingError,
}

// Reporter builds diagnostic reports from processing logs.
type Reporter struct {
	batches repository.BatchRepository
	logs    repository.ProcessingLogRepository
	log     logrus.FieldLogger
}

// NewReporter wires a reporter.
func NewReporter(batches repository.BatchRepository, logs repository.ProcessingLogRepository, log logrus.FieldLogger) *Reporter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reporter{batches: batches, logs: logs, log: log}
}

// GenerateReport aggregates a batch's processing log. A report whose totals
// do not add up to the file's row count is still returned, and logged as a
// data-integrity error.
func (r *Reporter) GenerateReport(ctx context.Context, batchID uuid.UUID) (domain.DiagnosticReport, error) {
	batch, err := r.batches.GetByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.DiagnosticReport{}, ErrBatchNotFound
		}
		return domain.DiagnosticReport{}, fmt.Errorf("failed to load batch: %w", err)
	}

	entries, err := r.logs.ListByBatch(ctx, batchID)
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("failed to load processing log: %w", err)
	}

	report := Build(batch, entries)
	if !report.Consistent() {
		r.log.WithFields(logrus.Fields{
			"batch_id":        batchID,
			"total_in_file":   report.TotalInFile,
			"total_processed": report.TotalProcessed,
			"total_skipped":   report.TotalSkipped,
			"total_rejected":  report.TotalRejected,
			"discrepancy":     report.Discrepancy(),
		}).Error("processing log does not account for every row in the file")
	}
	return report, nil
}

// Build aggregates entries into a report. It is pure.
func Build(batch domain.Batch, entries []domain.ProcessingLogEntry) domain.DiagnosticReport {
	report := domain.DiagnosticReport{
		BatchID:     batch.ID,
		Filename:    batch.Filename,
		TotalInFile: batch.TotalRows,
		SkipGroups:  []domain.SkipGroup{},
		Rejected:    []domain.RejectedRecord{},
		Actions:     []domain.ActionBreakdown{},
	}

	groups := map[domain.SkipReason]*domain.SkipGroup{}
	actions := map[domain.ProcessingAction]int{}
	for _, entry := range entries {
		actions[entry.ActionTaken]++
		switch {
		case entry.IsRejected():
			report.TotalRejected++
			report.Rejected = append(report.Rejected, domain.RejectedRecord{
				RowNumber:     entry.RowNumber,
				MissingFields: entry.MissingFields,
				RawRow:        entry.RawRow,
			})
		case entry.IsSkipped():
			report.TotalSkipped++
			reason := *entry.SkipReason
			group, ok := groups[reason]
			if !ok {
				group = &domain.SkipGroup{Reason: reason, Description: reason.Description(), Records: []domain.SkippedRecord{}}
				groups[reason] = group
			}
			group.Count++
			group.Records = append(group.Records, domain.SkippedRecord{
				RowNumber:     entry.RowNumber,
				ActionTaken:   entry.ActionTaken,
				MissingFields: entry.MissingFields,
				ErrorMessage:  entry.ErrorMessage,
				RawRow:        entry.RawRow,
			})
		default:
			report.TotalProcessed++
		}
	}

	for _, reason := range skipReasonOrder {
		if group, ok := groups[reason]; ok {
			report.SkipGroups = append(report.SkipGroups, *group)
			delete(groups, reason)
		}
	}
	unknown := make([]domain.SkipGroup, 0, len(groups))
	for _, group := range groups {
		unknown = append(unknown, *group)
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i].Reason < unknown[j].Reason })
	report.SkipGroups = append(report.SkipGroups, unknown...)

	for _, action := range actionOrder {
		if n := actions[action]; n > 0 {
			report.Actions = append(report.Actions, domain.ActionBreakdown{
				Action:      action,
				Description: action.Description(),
				Count:       n,
			})
		}
	}
	return report
}
