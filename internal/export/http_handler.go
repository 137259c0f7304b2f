package export

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Handler serves GET /batches/{id}/log.csv.
type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	batchID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid batch identifier: %v", err), http.StatusBadRequest)
		return
	}
	batch, err := h.service.Batch(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.service.log.WithError(err).Error("failed to load batch for export")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", FileName(batch)))
	w.Header().Set("Last-Modified", lastModified(batch).Format(http.TimeFormat))
	// Headers are already sent once streaming starts, so failures are only logged.
	if _, err := h.service.WriteProcessingLog(r.Context(), batch, w); err != nil {
		h.service.log.WithError(err).WithField("batch_id", batchID).Error("processing log export failed")
	}
}
