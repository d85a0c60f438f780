package interfaces

import (
	"context"

	"github.com/ternarybob/nuntius/internal/models"
)

// BanditRecommendation is the outcome of one bandit decision: the chosen
// arm and the articles it ranked.
type BanditRecommendation struct {
	DecisionID      string       `json:"decision_id"`
	ExperimentKey   string       `json:"experiment_key"`
	Arm             string       `json:"arm"`
	SelectionReason string       `json:"selection_reason"`
	Items           []RankedNews `json:"items"`
}

// BanditService selects ranking strategies via multi-armed bandit
// algorithms and learns from reward feedback.
type BanditService interface {
	// Recommend picks an arm for the user's context, ranks articles
	// with it and persists the decision.
	Recommend(ctx context.Context, anonID string, limit int) (*BanditRecommendation, error)

	// Reward records an outcome for a past decision. The raw value is
	// normalized per reward type before updating arm statistics.
	Reward(ctx context.Context, decisionID, rewardType string, rawValue float64) error

	// Performance returns per-arm statistics for the active
	// experiment.
	Performance(ctx context.Context) ([]models.ArmPerformance, error)
}
