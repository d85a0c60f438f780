package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
)

// BanditHandler serves strategy recommendations and reward feedback.
type BanditHandler struct {
	bandit interfaces.BanditService
	logger arbor.ILogger
}

// NewBanditHandler creates a new BanditHandler
func NewBanditHandler(bandit interfaces.BanditService, logger arbor.ILogger) *BanditHandler {
	return &BanditHandler{
		bandit: bandit,
		logger: logger,
	}
}

// RecommendationsHandler handles GET /bandit/recommendations
func (h *BanditHandler) RecommendationsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	anonID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if anonID == "" {
		anonID = resolveAnonID(w, r)
	}
	limit := queryItemCount(r, "limit")

	recommendation, err := h.bandit.Recommend(r.Context(), anonID, limit)
	if err != nil {
		h.writeBanditError(w, err, "Failed to build recommendation")
		return
	}

	WriteJSON(w, http.StatusOK, recommendation)
}

// rewardRequest is the body of the reward endpoints. Click and
// engagement posts only carry the fields their endpoint needs.
type rewardRequest struct {
	DecisionID string  `json:"decisionId"`
	RewardType string  `json:"rewardType,omitempty"`
	Value      float64 `json:"value,omitempty"`
}

// RewardHandler handles POST /bandit/reward with an explicit type and
// raw value.
func (h *BanditHandler) RewardHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	body, ok := decodeRewardRequest(w, r)
	if !ok {
		return
	}

	if err := h.bandit.Reward(r.Context(), body.DecisionID, body.RewardType, body.Value); err != nil {
		h.writeBanditError(w, err, "Failed to record reward")
		return
	}

	WriteSuccess(w, "Reward recorded")
}

// ClickRewardHandler handles POST /bandit/click, a click reward with an
// implied value of 1.
func (h *BanditHandler) ClickRewardHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	body, ok := decodeRewardRequest(w, r)
	if !ok {
		return
	}

	if err := h.bandit.Reward(r.Context(), body.DecisionID, models.RewardTypeClick, 1); err != nil {
		h.writeBanditError(w, err, "Failed to record click reward")
		return
	}

	WriteSuccess(w, "Click reward recorded")
}

// EngagementRewardHandler handles POST /bandit/engagement.
func (h *BanditHandler) EngagementRewardHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	body, ok := decodeRewardRequest(w, r)
	if !ok {
		return
	}

	if err := h.bandit.Reward(r.Context(), body.DecisionID, models.RewardTypeEngagement, body.Value); err != nil {
		h.writeBanditError(w, err, "Failed to record engagement reward")
		return
	}

	WriteSuccess(w, "Engagement reward recorded")
}

// PerformanceHandler handles GET /bandit/performance
func (h *BanditHandler) PerformanceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	performances, err := h.bandit.Performance(r.Context())
	if err != nil {
		h.writeBanditError(w, err, "Failed to load arm performance")
		return
	}
	if performances == nil {
		performances = []models.ArmPerformance{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"arms":  performances,
		"count": len(performances),
	})
}

func decodeRewardRequest(w http.ResponseWriter, r *http.Request) (rewardRequest, bool) {
	var body rewardRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return body, false
	}
	return body, true
}

// writeBanditError adds the disabled-experiment case to the standard
// mapping: the bandit endpoints answer 503 while no experiment serves.
func (h *BanditHandler) writeBanditError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, models.ErrExperimentDisabled) {
		WriteError(w, http.StatusServiceUnavailable, "No active bandit experiment")
		return
	}
	if !errors.Is(err, models.ErrValidation) && !errors.Is(err, models.ErrNotFound) {
		h.logger.Error().Err(err).Msg(fallback)
	}
	WriteServiceError(w, err, fallback)
}
