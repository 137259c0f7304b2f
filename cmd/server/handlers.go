package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rpattn/certrecon/internal/auth"
	"github.com/rpattn/certrecon/internal/backup"
	"github.com/rpattn/certrecon/internal/diagnostics"
	"github.com/rpattn/certrecon/internal/undo"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type api struct {
	backups  *backup.Service
	undo     *undo.Manager
	reporter *diagnostics.Reporter
	log      logrus.FieldLogger
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /batches/{id}/report", a.report)
	mux.HandleFunc("POST /snapshots/{id}/restore", a.restore)
	mux.HandleFunc("GET /snapshots/{id}/restores", a.restores)
	mux.HandleFunc("DELETE /snapshots/{id}", a.deleteSnapshot)
	mux.HandleFunc("GET /undo", a.activeUndo)
	mux.HandleFunc("POST /undo/{id}", a.undoEntry)
}

func (a *api) report(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	report, err := a.reporter.GenerateReport(r.Context(), id)
	if err != nil {
		a.fail(w, err, errors.Is(err, diagnostics.ErrBatchNotFound))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) restore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	outcome, err := a.backups.Restore(r.Context(), id, auth.Actor(r.Context()))
	if err != nil {
		a.fail(w, err, errors.Is(err, backup.ErrSnapshotNotFound))
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (a *api) restores(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	history, err := a.backups.ListRestores(r.Context(), id)
	if err != nil {
		a.fail(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *api) deleteSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.backups.DeleteSnapshot(r.Context(), id); err != nil {
		a.fail(w, err, errors.Is(err, backup.ErrSnapshotNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) activeUndo(w http.ResponseWriter, r *http.Request) {
	session := a.undo.Open(auth.Session(r.Context()))
	defer session.Close()
	entries, err := session.Active(r.Context())
	if err != nil {
		a.fail(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *api) undoEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	session := a.undo.Open(auth.Session(ctx))
	defer session.Close()
	undone, err := session.Undo(ctx, id, auth.Actor(ctx))
	if err != nil {
		a.fail(w, err, errors.Is(err, undo.ErrEntryNotFound))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"undone": undone})
}

func (a *api) fail(w http.ResponseWriter, err error, notFound bool) {
	if notFound {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	a.log.WithError(err).Error("Request failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
