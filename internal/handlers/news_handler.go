package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
)

// defaultPageSize is the item count served when n is absent.
const defaultPageSize = 20

// NewsHandler serves the ranked feed, single-article reads and click
// recording.
type NewsHandler struct {
	news   interfaces.NewsService
	users  interfaces.UserService
	logger arbor.ILogger
}

// NewNewsHandler creates a new NewsHandler
func NewNewsHandler(news interfaces.NewsService, users interfaces.UserService, logger arbor.ILogger) *NewsHandler {
	return &NewsHandler{
		news:   news,
		users:  users,
		logger: logger,
	}
}

// TopNewsHandler handles GET /news/top
func (h *NewsHandler) TopNewsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	anonID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if anonID == "" {
		anonID = resolveAnonID(w, r)
	}
	h.touchUser(r, anonID)

	query := interfaces.TopNewsQuery{
		AnonID:       anonID,
		N:            queryItemCount(r, "n"),
		Tickers:      queryList(r, "tickers"),
		Lang:         strings.TrimSpace(r.URL.Query().Get("lang")),
		Personalized: queryBool(r, "personalized"),
		Diversity:    queryBool(r, "diversity"),
		Sort:         strings.TrimSpace(r.URL.Query().Get("sort")),
	}

	result, err := h.news.TopNews(r.Context(), query)
	if err != nil {
		h.logger.Error().Err(err).Str("anon_id", anonID).Msg("Failed to serve top news")
		WriteServiceError(w, err, "Failed to serve top news")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// GetNewsHandler handles GET /news/{id}
func (h *NewsHandler) GetNewsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id, err := newsIDFromPath(r.URL.Path, "")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "News ID must be numeric")
		return
	}

	item, err := h.news.GetNews(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err, "Failed to load news")
		return
	}

	WriteJSON(w, http.StatusOK, item)
}

// clickRequest is the POST /news/{id}/click body. A body identity wins
// over the header or cookie one.
type clickRequest struct {
	UserID      string `json:"userId,omitempty"`
	AnonID      string `json:"anonId,omitempty"`
	DwellTimeMs int64  `json:"dwellTimeMs,omitempty"`
}

// ClickHandler handles POST /news/{id}/click. The click is buffered by
// the telemetry sink, so the reply is 202 rather than 200.
func (h *NewsHandler) ClickHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	id, err := newsIDFromPath(r.URL.Path, "/click")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "News ID must be numeric")
		return
	}

	var body clickRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	anonID := strings.TrimSpace(body.AnonID)
	if anonID == "" {
		anonID = strings.TrimSpace(body.UserID)
	}
	if anonID == "" {
		anonID = resolveAnonID(w, r)
	}
	h.touchUser(r, anonID)

	if err := h.news.RecordClick(r.Context(), anonID, id, body.DwellTimeMs); err != nil {
		WriteServiceError(w, err, "Failed to record click")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// touchUser upserts the anonymous user record. A failure costs session
// stats, never the request.
func (h *NewsHandler) touchUser(r *http.Request, anonID string) {
	if err := h.users.Touch(r.Context(), anonID, r.UserAgent()); err != nil {
		h.logger.Warn().Err(err).Str("anon_id", anonID).Msg("Failed to touch user")
	}
}

// newsIDFromPath parses the numeric article ID between /news/ and an
// optional trailing action segment.
func newsIDFromPath(path, action string) (uint64, error) {
	raw := extractIDFromPath(path, "/news/")
	raw = strings.TrimSuffix(raw, action)
	raw = strings.TrimSuffix(raw, "/")
	return strconv.ParseUint(raw, 10, 64)
}

// queryItemCount parses a count parameter. Absent or unparsable values
// fall back to the default page size; out-of-range integers are passed
// through for the service to reject.
func queryItemCount(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultPageSize
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultPageSize
	}
	return n
}
