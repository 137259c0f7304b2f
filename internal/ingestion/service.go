package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rpattn/certrecon/internal/auth"
	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/entityloader"
	"github.com/rpattn/certrecon/internal/matching"
	"github.com/rpattn/certrecon/internal/metrics"
	"github.com/rpattn/certrecon/internal/middleware"
	"github.com/rpattn/certrecon/internal/reconcile"
	"github.com/rpattn/certrecon/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BatchProcessor applies decided rows to the store.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, decisions []domain.ReconciliationDecision, batchID uuid.UUID, createBackup bool) (reconcile.ProcessingStats, error)
}

// Service ingests certificate spreadsheets.
type Service struct {
	orgs         repository.OrganizationRepository
	products     repository.ProductRepository
	batches      repository.BatchRepository
	logs         repository.ProcessingLogRepository
	processor    BatchProcessor
	workers      int
	createBackup bool
	log          logrus.FieldLogger
}

// Options tunes a Service.
type Options struct {
	Workers      int
	CreateBackup bool
}

// NewService creates a new ingestion service.
func NewService(
	orgs repository.OrganizationRepository,
	products repository.ProductRepository,
	batches repository.BatchRepository,
	logs repository.ProcessingLogRepository,
	processor BatchProcessor,
	opts Options,
	log logrus.FieldLogger,
) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		orgs:         orgs,
		products:     products,
		batches:      batches,
		logs:         logs,
		processor:    processor,
		workers:      max(opts.Workers, 1),
		createBackup: opts.CreateBackup,
		log:          log,
	}
}

// Request describes the ingestion input.
type Request struct {
	FileName string
	Data     io.Reader
	// CreateBackup overrides the configured default when set.
	CreateBackup *bool
}

// Result describes a finished upload.
type Result struct {
	BatchID    uuid.UUID                 `json:"batch_id"`
	FileName   string                    `json:"file_name"`
	Status     domain.BatchStatus        `json:"status"`
	TotalRows  int                       `json:"total_rows"`
	Rejected   int                       `json:"rejected"`
	Stats      reconcile.ProcessingStats `json:"stats"`
	SnapshotID *uuid.UUID                `json:"snapshot_id,omitempty"`
}

// Ingest parses an upload, records a batch, rejects invalid rows, decides and
// applies the rest, then finalizes the batch. Every data row ends up with
// exactly one processing log entry.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read upload: %w", err)
	}
	rows, err := ParseRows(req.FileName, payload)
	if err != nil {
		return Result{}, err
	}

	batch, err := s.batches.Create(ctx, domain.NewBatch(req.FileName, len(rows), auth.Actor(ctx)))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create batch: %w", err)
	}
	log := s.log.WithFields(logrus.Fields{"batch_id": batch.ID, "file": req.FileName})
	log.WithField("rows", len(rows)).Info("upload received")

	result := Result{BatchID: batch.ID, FileName: req.FileName, TotalRows: len(rows), Status: domain.BatchStatusProcessing}

	rejected := make([]domain.ProcessingLogEntry, 0)
	extractions := make([]domain.ExtractionResult, 0, len(rows))
	for _, source := range rows {
		if invalid := reconcile.ValidateRow(source.Row); len(invalid) > 0 {
			rejected = append(rejected, domain.ProcessingLogEntry{
				ID:            uuid.New(),
				BatchID:       batch.ID,
				RowNumber:     source.Number,
				ActionTaken:   domain.ProcessingRejected,
				MissingFields: invalid,
				RawRow:        source.Row.Strings(),
			})
			continue
		}
		extractions = append(extractions, reconcile.Extract(source.Number, source.Row))
	}
	result.Rejected = len(rejected)
	if err := s.logs.Append(ctx, rejected...); err != nil {
		return s.fail(ctx, log, result, start, domain.BatchCounts{}, fmt.Errorf("failed to log rejected rows: %w", err))
	}
	metrics.ObserveRows(string(domain.ProcessingRejected), len(rejected))

	decisions, err := s.reconciler(ctx).DecideAll(ctx, extractions, s.workers)
	if err != nil {
		s.logUndecided(ctx, log, batch.ID, extractions, err)
		counts := domain.BatchCounts{Rejected: len(rejected), Errors: len(extractions), Processed: len(extractions)}
		return s.fail(ctx, log, result, start, counts, fmt.Errorf("failed to reconcile rows: %w", err))
	}

	createBackup := s.createBackup
	if req.CreateBackup != nil {
		createBackup = *req.CreateBackup
	}

	stats, err := s.processor.ProcessBatch(ctx, decisions, batch.ID, createBackup)
	result.Stats = stats
	result.SnapshotID = stats.SnapshotID
	counts := domain.BatchCounts{
		Processed: stats.Processed,
		Inserted:  stats.Inserted,
		Updated:   stats.Updated,
		Skipped:   stats.Skipped,
		Rejected:  len(rejected),
		Errors:    stats.Errors,
	}
	if err != nil {
		if stats.Processed == 0 {
			// The snapshot phase failed before any row was handled.
			s.logUndecided(ctx, log, batch.ID, extractions, err)
			counts.Processed = len(extractions)
			counts.Errors = len(extractions)
		}
		return s.fail(ctx, log, result, start, counts, err)
	}

	result.Status = domain.StatusFor(counts)
	if err := s.batches.Finalize(context.WithoutCancel(ctx), batch.ID, result.Status, counts); err != nil {
		return result, fmt.Errorf("failed to finalize batch: %w", err)
	}
	metrics.ObserveBatch(string(result.Status), time.Since(start))
	log.WithFields(logrus.Fields{
		"status":   result.Status,
		"inserted": counts.Inserted,
		"updated":  counts.Updated,
		"skipped":  counts.Skipped,
		"rejected": counts.Rejected,
		"errors":   counts.Errors,
	}).Info("upload finished")
	return result, nil
}

// reconciler prefers the request-scoped loaders so concurrent lookups are
// coalesced with the rest of the request.
func (s *Service) reconciler(ctx context.Context) *reconcile.Reconciler {
	loaders := middleware.LoadersFromContext(ctx)
	if loaders == nil {
		loaders = entityloader.NewLoaders(s.orgs, s.products)
	}
	return reconcile.NewReconciler(loaders, loaders)
}

// logUndecided gives every valid row an error entry when the batch failed
// before those rows could be applied.
func (s *Service) logUndecided(ctx context.Context, log logrus.FieldLogger, batchID uuid.UUID, extractions []domain.ExtractionResult, cause error) {
	reason := domain.SkipStoreError
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		reason = domain.SkipCancelled
	}
	entries := make([]domain.ProcessingLogEntry, 0, len(extractions))
	for _, extraction := range extractions {
		reason := reason
		entries = append(entries, domain.ProcessingLogEntry{
			ID:            uuid.New(),
			BatchID:       batchID,
			RowNumber:     extraction.RowNumber,
			ActionTaken:   domain.ProcessingError,
			SkipReason:    &reason,
			MissingFields: []string{},
			ErrorMessage:  cause.Error(),
			RawRow:        extraction.SourceRow.Strings(),
		})
	}
	if err := s.logs.Append(context.WithoutCancel(ctx), entries...); err != nil {
		log.WithError(err).Error("failed to log unprocessed rows")
	}
	metrics.ObserveRows(string(domain.ProcessingError), len(entries))
}

func (s *Service) fail(ctx context.Context, log logrus.FieldLogger, result Result, start time.Time, counts domain.BatchCounts, cause error) (Result, error) {
	result.Status = domain.BatchStatusFailed
	if err := s.batches.Finalize(context.WithoutCancel(ctx), result.BatchID, domain.BatchStatusFailed, counts); err != nil {
		log.WithError(err).Error("failed to mark batch failed")
	}
	metrics.ObserveBatch(string(domain.BatchStatusFailed), time.Since(start))
	log.WithError(cause).Error("upload failed")
	return result, cause
}

// ParseRecords reads an upload for the organization match preview.
func ParseRecords(fileName string, data io.Reader) ([]matching.Record, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	rows, err := ParseRows(fileName, payload)
	if err != nil {
		return nil, err
	}
	records := make([]matching.Record, 0, len(rows))
	for _, source := range rows {
		extraction := reconcile.Extract(source.Number, source.Row)
		if extraction.Organization == nil {
			continue
		}
		records = append(records, matching.Record{RowNumber: source.Number, Organization: *extraction.Organization})
	}
	return records, nil
}
