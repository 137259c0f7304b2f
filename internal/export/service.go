// Package export streams a batch's processing log as CSV.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrBatchNotFound is returned when the exported batch does not exist.
var ErrBatchNotFound = errors.New("batch not found")

var fixedHeaders = []string{"row_number", "action_taken", "skip_reason", "missing_fields", "error_message"}

// Service writes processing logs as CSV.
type Service struct {
	batches repository.BatchRepository
	logs    repository.ProcessingLogRepository
	log     logrus.FieldLogger
}

// NewService wires an export service.
func NewService(batches repository.BatchRepository, logs repository.ProcessingLogRepository, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{batches: batches, logs: logs, log: log}
}

// Result describes a finished export.
type Result struct {
	Batch        domain.Batch
	RowsExported int
	BytesWritten int64
}

// FileName is the suggested download name for a batch's log.
func FileName(batch domain.Batch) string {
	base := sanitizeFileComponent(strings.TrimSuffix(batch.Filename, fileExtension(batch.Filename)))
	return fmt.Sprintf("%s-%s-log.csv", base, batch.ID.String()[:8])
}

// Batch loads the batch being exported.
func (s *Service) Batch(ctx context.Context, batchID uuid.UUID) (domain.Batch, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Batch{}, ErrBatchNotFound
		}
		return domain.Batch{}, fmt.Errorf("failed to load batch: %w", err)
	}
	return batch, nil
}

// WriteProcessingLog writes one CSV line per logged row, ordered by row
// number. Raw spreadsheet columns follow the fixed columns, prefixed with
// "raw_".
func (s *Service) WriteProcessingLog(ctx context.Context, batch domain.Batch, w io.Writer) (Result, error) {
	entries, err := s.logs.ListByBatch(ctx, batch.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load processing log: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].RowNumber < entries[j].RowNumber })

	buffered := bufio.NewWriterSize(w, 64<<10)
	counter := &countingWriter{writer: buffered}
	csvWriter := csv.NewWriter(counter)

	rawColumns := rawColumnNames(entries)
	headers := append(append([]string(nil), fixedHeaders...), prefixed("raw_", rawColumns)...)
	if err := csvWriter.Write(headers); err != nil {
		return Result{}, fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(headers))
	exported := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		record[0] = strconv.Itoa(entry.RowNumber)
		record[1] = string(entry.ActionTaken)
		record[2] = ""
		if entry.SkipReason != nil {
			record[2] = string(*entry.SkipReason)
		}
		record[3] = strings.Join(entry.MissingFields, ";")
		record[4] = entry.ErrorMessage
		for i, column := range rawColumns {
			record[len(fixedHeaders)+i] = entry.RawRow[column]
		}
		if err := csvWriter.Write(record); err != nil {
			return Result{}, fmt.Errorf("write row %d: %w", entry.RowNumber, err)
		}
		exported++
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return Result{}, fmt.Errorf("flush csv: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return Result{}, fmt.Errorf("flush buffered output: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"rows":     exported,
		"bytes":    counter.count,
	}).Info("processing log exported")

	return Result{Batch: batch, RowsExported: exported, BytesWritten: counter.count}, nil
}

func rawColumnNames(entries []domain.ProcessingLogEntry) []string {
	seen := map[string]struct{}{}
	columns := []string{}
	for _, entry := range entries {
		for key := range entry.RawRow {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			columns = append(columns, key)
		}
	}
	sort.Strings(columns)
	return columns
}

func prefixed(prefix string, values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = prefix + v
	}
	return out
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

func fileExtension(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[idx:]
	}
	return ""
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "batch"
	}
	return result
}

// lastModified is the timestamp sent with a download.
func lastModified(batch domain.Batch) time.Time {
	if batch.CompletedAt != nil {
		return batch.CompletedAt.UTC()
	}
	return batch.CreatedAt.UTC()
}
