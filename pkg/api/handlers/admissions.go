package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/marmos91/clustergate/internal/logger"
	"github.com/marmos91/clustergate/pkg/controlplane/models"
)

const (
	defaultAdmissionLimit = 100
	maxAdmissionLimit     = 1000
)

// AdmissionSource lists persisted admission events, newest first.
type AdmissionSource interface {
	ListAdmissions(ctx context.Context, limit int) ([]*models.AdmissionEvent, error)
}

// AdmissionsHandler serves the admission audit trail.
type AdmissionsHandler struct {
	source AdmissionSource
}

func NewAdmissionsHandler(source AdmissionSource) *AdmissionsHandler {
	return &AdmissionsHandler{source: source}
}

// List handles GET /api/v1/admissions?limit=N.
func (h *AdmissionsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultAdmissionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAdmissionLimit)
	}

	events, err := h.source.ListAdmissions(r.Context(), limit)
	if err != nil {
		logger.Error("Failed to list admission events", logger.KeyError, err)
		InternalServerError(w, "Failed to list admission events")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(events))
}
