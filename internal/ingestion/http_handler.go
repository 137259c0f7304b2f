package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/certrecon/internal/auth"
	"github.com/rpattn/certrecon/internal/matching"

	"github.com/google/uuid"
)

// DefaultMaxUploadBytes bounds multipart uploads when no limit is configured.
const DefaultMaxUploadBytes = 32 << 20

// Handler exposes ingestion as an HTTP endpoint.
type Handler struct {
	service  *Service
	maxBytes int64
}

// NewHTTPHandler wraps the service with a POST endpoint.
func NewHTTPHandler(service *Service, maxBytes int64) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Handler{service: service, maxBytes: maxBytes}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file, header, ok := readUpload(w, r, h.maxBytes)
	if !ok {
		return
	}
	defer file.Close()

	req := Request{FileName: header.Filename, Data: file}
	if raw := strings.TrimSpace(r.FormValue("createBackup")); raw != "" {
		createBackup, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid createBackup: %v", err), http.StatusBadRequest)
			return
		}
		req.CreateBackup = &createBackup
	}

	result, err := h.service.Ingest(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrUnsupportedFormat):
			status = http.StatusUnsupportedMediaType
		case result.BatchID == uuid.Nil:
			// Nothing was recorded, so the upload itself was unreadable.
			status = http.StatusBadRequest
		}
		if result.BatchID != uuid.Nil {
			writeJSON(w, status, map[string]any{"error": err.Error(), "result": result})
			return
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// MatchHandler previews, and optionally applies, organization matches for an upload.
type MatchHandler struct {
	matcher  *matching.Service
	maxBytes int64
}

// NewMatchHandler wraps the matching service with a POST endpoint. Exact
// matches are written when the form carries apply=true.
func NewMatchHandler(matcher *matching.Service, maxBytes int64) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &MatchHandler{matcher: matcher, maxBytes: maxBytes}
}

func (h *MatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file, header, ok := readUpload(w, r, h.maxBytes)
	if !ok {
		return
	}
	defer file.Close()

	records, err := ParseRecords(header.Filename, file)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrUnsupportedFormat) {
			status = http.StatusUnsupportedMediaType
		}
		http.Error(w, err.Error(), status)
		return
	}

	results, err := h.matcher.Preview(r.Context(), records)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]any{"matches": results}
	if apply, _ := strconv.ParseBool(r.FormValue("apply")); apply {
		stats, err := h.matcher.ApplyExact(r.Context(), results, auth.Actor(r.Context()))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		response["applied"] = stats
	}
	writeJSON(w, http.StatusOK, response)
}

func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (multipart.File, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return nil, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return nil, nil, false
	}
	return file, header, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
