package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
)

// SourcesHandler handles HTTP requests for the RSS source catalog.
// Catalog edits take effect on the next scheduled ingestion run.
type SourcesHandler struct {
	sources interfaces.SourceService
	logger  arbor.ILogger
}

// NewSourcesHandler creates a new SourcesHandler
func NewSourcesHandler(sources interfaces.SourceService, logger arbor.ILogger) *SourcesHandler {
	return &SourcesHandler{
		sources: sources,
		logger:  logger,
	}
}

// ListSourcesHandler handles GET /admin/sources
func (h *SourcesHandler) ListSourcesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	sources, err := h.sources.ListSources(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sources")
		WriteError(w, http.StatusInternalServerError, "Failed to list sources")
		return
	}
	if sources == nil {
		sources = []*models.RssSource{}
	}

	WriteJSON(w, http.StatusOK, sources)
}

// GetSourceHandler handles GET /admin/sources/{name}
func (h *SourcesHandler) GetSourceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	name := extractIDFromPath(r.URL.Path, "/admin/sources/")
	if name == "" {
		WriteError(w, http.StatusBadRequest, "Source name is required")
		return
	}

	source, err := h.sources.GetSource(r.Context(), name)
	if err != nil {
		WriteServiceError(w, err, "Failed to get source")
		return
	}

	WriteJSON(w, http.StatusOK, source)
}

// CreateSourceHandler handles POST /admin/sources
func (h *SourcesHandler) CreateSourceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var source models.RssSource
	if err := json.NewDecoder(r.Body).Decode(&source); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.sources.AddSource(r.Context(), &source); err != nil {
		WriteServiceError(w, err, "Failed to create source")
		return
	}

	WriteJSON(w, http.StatusCreated, &source)
}

// UpdateSourceHandler handles PUT /admin/sources/{name}. The path name
// always wins over one in the body.
func (h *SourcesHandler) UpdateSourceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "PUT") {
		return
	}

	name := extractIDFromPath(r.URL.Path, "/admin/sources/")
	if name == "" {
		WriteError(w, http.StatusBadRequest, "Source name is required")
		return
	}

	var source models.RssSource
	if err := json.NewDecoder(r.Body).Decode(&source); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	source.Name = name

	if err := h.sources.UpdateSource(r.Context(), &source); err != nil {
		WriteServiceError(w, err, "Failed to update source")
		return
	}

	WriteJSON(w, http.StatusOK, &source)
}

// DeleteSourceHandler handles DELETE /admin/sources/{name}
func (h *SourcesHandler) DeleteSourceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	name := extractIDFromPath(r.URL.Path, "/admin/sources/")
	if name == "" {
		WriteError(w, http.StatusBadRequest, "Source name is required")
		return
	}

	if err := h.sources.DeleteSource(r.Context(), name); err != nil {
		WriteServiceError(w, err, "Failed to delete source")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
