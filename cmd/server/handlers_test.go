package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rpattn/certrecon/internal/backup"
	"github.com/rpattn/certrecon/internal/diagnostics"
	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/middleware"
	"github.com/rpattn/certrecon/internal/repository/memstore"
	"github.com/rpattn/certrecon/internal/undo"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	store   *memstore.Store
	undo    *undo.Manager
	handler http.Handler
}

func newTestServer() testServer {
	logger, _ := test.NewNullLogger()
	store := memstore.New()
	undoManager := undo.NewManager(store.Undo, store.Organizations, store.Products, store.Audit, logger)
	a := &api{
		backups:  backup.NewService(store.Organizations, store.Products, store.Backups, store.Audit, logger),
		undo:     undoManager,
		reporter: diagnostics.NewReporter(store.Batches, store.ProcessingLogs, logger),
		log:      logger,
	}
	mux := http.NewServeMux()
	a.register(mux)
	return testServer{store: store, undo: undoManager, handler: middleware.IdentityMiddleware(mux)}
}

func (s testServer) do(method, path, session string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if session != "" {
		req.Header.Set(middleware.SessionHeader, session)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestReportRoute(t *testing.T) {
	srv := newTestServer()
	batch, err := srv.store.Batches.Create(context.Background(), domain.NewBatch("certs.csv", 0, "ana"))
	require.NoError(t, err)

	rec := srv.do(http.MethodGet, "/batches/"+batch.ID.String()+"/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.DiagnosticReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, batch.ID, report.BatchID)

	require.Equal(t, http.StatusNotFound, srv.do(http.MethodGet, "/batches/"+uuid.NewString()+"/report", "").Code)
	require.Equal(t, http.StatusBadRequest, srv.do(http.MethodGet, "/batches/nope/report", "").Code)
}

func TestSnapshotRoutesUnknownSnapshot(t *testing.T) {
	srv := newTestServer()
	id := uuid.NewString()

	require.Equal(t, http.StatusNotFound, srv.do(http.MethodPost, "/snapshots/"+id+"/restore", "").Code)
	require.Equal(t, http.StatusNotFound, srv.do(http.MethodDelete, "/snapshots/"+id, "").Code)
}

func TestUndoRoutesAreSessionScoped(t *testing.T) {
	srv := newTestServer()
	ctx := context.Background()
	org, err := srv.store.Organizations.Create(ctx, domain.Organization{Identifier: "20111111112"})
	require.NoError(t, err)
	session := srv.undo.Open("s1")
	entry, err := session.Push(ctx, domain.UndoEntry{
		ActionType: domain.UndoInsertOrganization,
		Payload:    domain.UndoPayload{EntityID: org.ID, EntityKey: org.Identifier},
	})
	require.NoError(t, err)
	session.Close()

	rec := srv.do(http.MethodGet, "/undo", "s1")
	require.Equal(t, http.StatusOK, rec.Code)
	var active []domain.UndoEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	require.Len(t, active, 1)

	require.Equal(t, http.StatusNotFound, srv.do(http.MethodPost, "/undo/"+entry.ID.String(), "s2").Code)

	rec = srv.do(http.MethodPost, "/undo/"+entry.ID.String(), "s1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"undone":true}`, rec.Body.String())

	_, err = srv.store.Organizations.GetByIdentifier(ctx, org.Identifier)
	require.Error(t, err)

	// Requests release the sessions they open.
	require.Zero(t, srv.undo.OpenSessions())
}
