package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rpattn/certrecon/internal/backup"
	"github.com/rpattn/certrecon/internal/diagnostics"
	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/matching"
	"github.com/rpattn/certrecon/internal/reconcile"
	"github.com/rpattn/certrecon/internal/repository/memstore"
	"github.com/rpattn/certrecon/internal/undo"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `cuit,razon_social,direccion,email,telefono,contacto,codigo_producto,responsable,tipo_certificacion,fecha_vencimiento,emission_date
20111111111,Acme SA,Calle 1,info@acme.test,1111,Ana,P-1,Ing. Perez,IRAM,01/03/2026,01/06/2024
20111111111,Acme SA,Calle 1,info@acme.test,1111,Ana,P-2,Ing. Perez,IRAM,,01/06/2024
20999999999,Incompleta SRL,,,,,,,,,01/06/2024
20222222222,Globex,Calle 2,info@globex.test,2222,Bob,P-3,Ing. Gomez,INTI,,sin fecha
`

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

type fixture struct {
	store    *memstore.Store
	service  *Service
	reporter *diagnostics.Reporter
}

func newFixture(processor BatchProcessor) *fixture {
	store := memstore.New()
	log := quietLogger()
	if processor == nil {
		backups := backup.NewService(store.Organizations, store.Products, store.Backups, store.Audit, log)
		manager := undo.NewManager(store.Undo, store.Organizations, store.Products, store.Audit, log)
		processor = reconcile.NewProcessor(
			backups,
			reconcile.NewMutator(store.Organizations, store.Products, store.Audit, log),
			store.ProcessingLogs,
			reconcile.SessionsFunc(func(id string) reconcile.UndoSession { return manager.Open(id) }),
			4,
			log,
		)
	}
	return &fixture{
		store:    store,
		service:  NewService(store.Organizations, store.Products, store.Batches, store.ProcessingLogs, processor, Options{Workers: 4, CreateBackup: true}, log),
		reporter: diagnostics.NewReporter(store.Batches, store.ProcessingLogs, log),
	}
}

func TestIngestEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)

	result, err := f.service.Ingest(ctx, Request{FileName: "certs.csv", Data: strings.NewReader(sampleCSV)})
	require.NoError(t, err)
	require.Equal(t, domain.BatchStatusCompleted, result.Status)
	require.Equal(t, 4, result.TotalRows)
	require.Equal(t, 1, result.Rejected)
	require.Equal(t, 3, result.Stats.Processed)
	require.Equal(t, 3, result.Stats.Inserted)
	require.Equal(t, 1, result.Stats.Skipped)
	require.NotNil(t, result.SnapshotID)

	require.Equal(t, 1, f.store.Organizations.Len())
	require.Equal(t, 2, f.store.Products.Len())

	batch, err := f.store.Batches.GetByID(ctx, result.BatchID)
	require.NoError(t, err)
	require.Equal(t, domain.BatchStatusCompleted, batch.Status)
	require.Equal(t, 1, batch.Counts.Rejected)
	require.NotNil(t, batch.CompletedAt)

	report, err := f.reporter.GenerateReport(ctx, result.BatchID)
	require.NoError(t, err)
	require.True(t, report.Consistent())
	require.Equal(t, 2, report.TotalProcessed)
	require.Equal(t, 1, report.TotalSkipped)
	require.Equal(t, 1, report.TotalRejected)
	require.Equal(t, 4, report.Rejected[0].RowNumber)
	require.Equal(t, []string{domain.FieldEmissionDate}, report.Rejected[0].MissingFields)

	// A re-upload of the same file changes nothing.
	again, err := f.service.Ingest(ctx, Request{FileName: "certs.csv", Data: strings.NewReader(sampleCSV)})
	require.NoError(t, err)
	require.Zero(t, again.Stats.Inserted)
	require.Zero(t, again.Stats.Updated)
	require.Equal(t, 3, again.Stats.Skipped)
}

func TestIngestHonoursBackupOverride(t *testing.T) {
	f := newFixture(nil)
	off := false

	result, err := f.service.Ingest(context.Background(), Request{FileName: "certs.csv", Data: strings.NewReader(sampleCSV), CreateBackup: &off})
	require.NoError(t, err)
	require.Nil(t, result.SnapshotID)
}

type failingProcessor struct{ err error }

func (p failingProcessor) ProcessBatch(ctx context.Context, decisions []domain.ReconciliationDecision, batchID uuid.UUID, createBackup bool) (reconcile.ProcessingStats, error) {
	return reconcile.ProcessingStats{}, p.err
}

func TestIngestFailedBackupStillAccountsForRows(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("backup phase failed")
	f := newFixture(failingProcessor{err: boom})

	result, err := f.service.Ingest(ctx, Request{FileName: "certs.csv", Data: strings.NewReader(sampleCSV)})
	require.ErrorIs(t, err, boom)
	require.Equal(t, domain.BatchStatusFailed, result.Status)

	batch, err := f.store.Batches.GetByID(ctx, result.BatchID)
	require.NoError(t, err)
	require.Equal(t, domain.BatchStatusFailed, batch.Status)
	require.Equal(t, 3, batch.Counts.Errors)

	report, err := f.reporter.GenerateReport(ctx, result.BatchID)
	require.NoError(t, err)
	require.True(t, report.Consistent())
	require.Equal(t, 3, report.TotalSkipped)
	require.Equal(t, domain.SkipStoreError, report.SkipGroups[0].Reason)
}

func TestIngestUnsupportedFormat(t *testing.T) {
	f := newFixture(nil)
	_, err := f.service.Ingest(context.Background(), Request{FileName: "certs.txt", Data: strings.NewReader("x")})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseRecords(t *testing.T) {
	records, err := ParseRecords("certs.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, "Globex", records[3].Organization.LegalName)
	require.Equal(t, 4, records[3].RowNumber)
}

func multipartUpload(t *testing.T, target, fileName, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestHTTPHandlerUpload(t *testing.T) {
	f := newFixture(nil)
	handler := NewHTTPHandler(f.service, 0)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartUpload(t, "/uploads", "certs.csv", sampleCSV, map[string]string{"createBackup": "false"}))
	require.Equal(t, http.StatusOK, rec.Code)

	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, domain.BatchStatusCompleted, result.Status)
	require.Nil(t, result.SnapshotID)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartUpload(t, "/uploads", "certs.csv", sampleCSV, map[string]string{"createBackup": "maybe"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartUpload(t, "/uploads", "certs.doc", "x", nil))
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMatchHandlerPreview(t *testing.T) {
	f := newFixture(nil)
	_, err := f.store.Organizations.Create(context.Background(), domain.Organization{Identifier: "20111111111", LegalName: "Acme SA"})
	require.NoError(t, err)
	handler := NewMatchHandler(matching.NewService(f.store.Organizations, f.store.Audit, quietLogger()), 0)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartUpload(t, "/organizations/match", "certs.csv", sampleCSV, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Matches []matching.MatchResult `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Matches, 4)
	require.Equal(t, matching.MatchExact, response.Matches[0].Type)
	require.Equal(t, matching.MatchNew, response.Matches[2].Type)
}
