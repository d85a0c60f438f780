package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
)

// AdminHandler triggers the batch pipelines out of schedule.
type AdminHandler struct {
	ingest     interfaces.IngestService
	clustering interfaces.ClusteringService
	logger     arbor.ILogger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(ingest interfaces.IngestService, clustering interfaces.ClusteringService, logger arbor.ILogger) *AdminHandler {
	return &AdminHandler{
		ingest:     ingest,
		clustering: clustering,
		logger:     logger,
	}
}

// IngestHandler handles POST /admin/ingest. The run is synchronous and
// answers with the full IngestResult. A source query parameter
// restricts the run to one source.
func (h *AdminHandler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var (
		result *models.IngestResult
		err    error
	)
	if source := strings.TrimSpace(r.URL.Query().Get("source")); source != "" {
		result, err = h.ingest.IngestSource(r.Context(), source)
	} else {
		result, err = h.ingest.IngestAll(r.Context())
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Ingestion run failed")
		WriteServiceError(w, err, "Ingestion run failed")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// ClusteringHandler handles POST /admin/clustering and its subpaths:
// /hdbscan and /kmeans force the algorithm, /optimize asks the remote
// service for k first. Manual runs work even when the cron is disabled.
func (h *AdminHandler) ClusteringHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	operation := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/clustering"), "/")

	var (
		result *models.ClusteringResult
		err    error
	)
	switch operation {
	case "":
		result, err = h.clustering.Run(r.Context())
	case "hdbscan", "kmeans":
		result, err = h.clustering.RunWith(r.Context(), operation)
	case "optimize":
		result, err = h.clustering.Optimize(r.Context())
	default:
		WriteError(w, http.StatusNotFound, "Unknown clustering operation")
		return
	}
	if err != nil {
		if errors.Is(err, models.ErrCircuitOpen) {
			WriteError(w, http.StatusServiceUnavailable, "ML service unavailable")
			return
		}
		h.logger.Error().Err(err).Str("operation", operation).Msg("Clustering run failed")
		WriteServiceError(w, err, "Clustering run failed")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
