package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func seedBatch(t *testing.T, store *memstore.Store) domain.Batch {
	t.Helper()
	ctx := context.Background()
	batch, err := store.Batches.Create(ctx, domain.NewBatch("Certs May.xlsx", 2, "ana"))
	require.NoError(t, err)

	reason := domain.SkipNotNewer
	require.NoError(t, store.ProcessingLogs.Append(ctx,
		domain.ProcessingLogEntry{
			ID: uuid.New(), BatchID: batch.ID, RowNumber: 3,
			ActionTaken: domain.ProcessingSkip, SkipReason: &reason,
			RawRow: map[string]string{"cuit": "20111111112", "codigo": "P-2"},
		},
		domain.ProcessingLogEntry{
			ID: uuid.New(), BatchID: batch.ID, RowNumber: 2,
			ActionTaken:   domain.ProcessingRejected,
			MissingFields: []string{"cuit", "fecha_emision"},
			RawRow:        map[string]string{"razon_social": "Acme, S.A."},
		},
	))
	return batch
}

func TestWriteProcessingLog(t *testing.T) {
	store := memstore.New()
	logger, hook := test.NewNullLogger()
	service := NewService(store.Batches, store.ProcessingLogs, logger)
	batch := seedBatch(t, store)

	var buf bytes.Buffer
	result, err := service.WriteProcessingLog(context.Background(), batch, &buf)
	require.NoError(t, err)
	require.Equal(t, 2, result.RowsExported)
	require.Equal(t, int64(buf.Len()), result.BytesWritten)
	require.NotNil(t, hook.LastEntry())

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, []string{
		"row_number", "action_taken", "skip_reason", "missing_fields", "error_message",
		"raw_codigo", "raw_cuit", "raw_razon_social",
	}, records[0])
	require.Equal(t, []string{"2", "rejected", "", "cuit;fecha_emision", "", "", "", "Acme, S.A."}, records[1])
	require.Equal(t, []string{"3", "skip", "not_newer", "", "", "P-2", "20111111112", ""}, records[2])
}

func TestFileName(t *testing.T) {
	batch := domain.Batch{ID: uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e"), Filename: "Certs May.xlsx"}
	require.Equal(t, "certs-may-0f8fad5b-log.csv", FileName(batch))

	batch.Filename = "???"
	require.Equal(t, "batch-0f8fad5b-log.csv", FileName(batch))
}

func TestHTTPHandler(t *testing.T) {
	store := memstore.New()
	logger, _ := test.NewNullLogger()
	batch := seedBatch(t, store)

	mux := http.NewServeMux()
	mux.Handle("GET /batches/{id}/log.csv", NewHTTPHandler(NewService(store.Batches, store.ProcessingLogs, logger)))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/batches/"+batch.ID.String()+"/log.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "certs-may-")
	require.True(t, strings.HasPrefix(rec.Body.String(), "row_number,"))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/batches/"+uuid.NewString()+"/log.csv", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/batches/nope/log.csv", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
