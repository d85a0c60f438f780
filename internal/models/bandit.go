package models

import (
	"fmt"
	"math"
	"time"
)

// Bandit selection algorithms.
const (
	BanditAlgorithmEpsilonGreedy = "epsilon_greedy"
	BanditAlgorithmUCB1          = "ucb1"
	BanditAlgorithmThompson      = "thompson"
)

// Ranking strategies an arm can route to.
const (
	ArmPersonalized = "PERSONALIZED"
	ArmPopular      = "POPULAR"
	ArmDiverse      = "DIVERSE"
	ArmRecent       = "RECENT"
)

// Why a decision picked its arm.
const (
	SelectionExploration  = "EXPLORATION"
	SelectionExploitation = "EXPLOITATION"
	SelectionRandom       = "RANDOM"
)

// Reward event types.
const (
	RewardTypeClick      = "CLICK"
	RewardTypeDwellTime  = "DWELL_TIME"
	RewardTypeEngagement = "ENGAGEMENT"
)

// BanditExperiment configures one multi-armed bandit over ranking
// strategies. Epsilon applies to epsilon_greedy; Alpha/Beta are the
// Thompson sampling priors.
type BanditExperiment struct {
	ExperimentKey string    `json:"experiment_key" badgerhold:"key"`
	Description   string    `json:"description,omitempty"`
	Algorithm     string    `json:"algorithm"`
	Epsilon       float64   `json:"epsilon"`
	Alpha         float64   `json:"alpha"`
	Beta          float64   `json:"beta"`
	IsActive      bool      `json:"is_active" badgerhold:"index"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks algorithm and parameter ranges.
func (b *BanditExperiment) Validate() error {
	switch b.Algorithm {
	case BanditAlgorithmEpsilonGreedy, BanditAlgorithmUCB1, BanditAlgorithmThompson:
	default:
		return fmt.Errorf("unknown bandit algorithm: %s", b.Algorithm)
	}
	if b.Epsilon < 0 || b.Epsilon > 1 {
		return fmt.Errorf("epsilon must be in [0,1], got %.3f", b.Epsilon)
	}
	if b.Algorithm == BanditAlgorithmThompson && (b.Alpha <= 0 || b.Beta <= 0) {
		return fmt.Errorf("thompson priors must be positive")
	}
	return nil
}

// BanditArm is one selectable ranking strategy within an experiment.
type BanditArm struct {
	ID            string    `json:"id" badgerhold:"key"`
	ExperimentKey string    `json:"experiment_key" badgerhold:"index"`
	Name          string    `json:"name"`
	AlgorithmType string    `json:"algorithm_type"` // PERSONALIZED, POPULAR, DIVERSE, RECENT
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
}

// BanditContext narrows arm statistics to a user situation so the same
// experiment can learn different winners per context.
type BanditContext struct {
	UserID       string `json:"user_id,omitempty"`
	ContextType  string `json:"context_type"`  // e.g. hour_bucket, category, global
	ContextValue string `json:"context_value"` // e.g. "morning", "stocks"
}

// Key returns the context part of the composite state key.
func (c BanditContext) Key() string {
	return c.ContextType + "=" + c.ContextValue
}

// BanditState accumulates reward statistics for one (experiment, arm,
// context) cell. Updates are linearizable per key: Pulls increases by
// exactly one per recorded decision reward.
type BanditState struct {
	Key              string    `json:"key" badgerhold:"key"`
	ExperimentKey    string    `json:"experiment_key" badgerhold:"index"`
	Arm              string    `json:"arm"`
	ContextKey       string    `json:"context_key"`
	Pulls            int64     `json:"pulls"`
	TotalReward      float64   `json:"total_reward"`
	SumRewardSquared float64   `json:"sum_reward_squared"`
	LastPullAt       time.Time `json:"last_pull_at"`
}

// StateKey builds the composite storage key for an arm's statistics.
func StateKey(experimentKey, arm, contextKey string) string {
	return experimentKey + "|" + arm + "|" + contextKey
}

// MeanReward returns the empirical mean, or 0 for an unpulled arm.
func (s *BanditState) MeanReward() float64 {
	if s.Pulls == 0 {
		return 0
	}
	return s.TotalReward / float64(s.Pulls)
}

// RewardVariance returns the sample variance of observed rewards.
func (s *BanditState) RewardVariance() float64 {
	if s.Pulls < 2 {
		return 0
	}
	n := float64(s.Pulls)
	mean := s.TotalReward / n
	v := (s.SumRewardSquared - n*mean*mean) / (n - 1)
	return math.Max(0, v)
}

// BanditDecision records one arm selection so that rewards arriving
// later can be attributed back to the arm and context that earned them.
type BanditDecision struct {
	ID              string        `json:"id" badgerhold:"key"`
	ExperimentKey   string        `json:"experiment_key" badgerhold:"index"`
	Arm             string        `json:"arm"`
	Context         BanditContext `json:"context"`
	DecisionValue   float64       `json:"decision_value"`
	SelectionReason string        `json:"selection_reason"` // EXPLORATION, EXPLOITATION, RANDOM
	NewsIDs         []uint64      `json:"news_ids,omitempty"`
	DecidedAt       time.Time     `json:"decided_at"`
}

// BanditReward is one observed outcome for a decision. RewardValue is
// already normalized to [0,1] when stored.
type BanditReward struct {
	ID          uint64    `json:"id" badgerhold:"key"`
	DecisionID  string    `json:"decision_id" badgerhold:"index"`
	RewardType  string    `json:"reward_type"`
	RewardValue float64   `json:"reward_value"`
	RewardedAt  time.Time `json:"rewarded_at"`
}

// NormalizeReward maps a raw reward event to the [0,1] scale used by
// the arm statistics. Dwell time saturates at one minute.
func NormalizeReward(rewardType string, rawValue float64) (float64, error) {
	switch rewardType {
	case RewardTypeClick:
		return 1.0, nil
	case RewardTypeDwellTime:
		v := rawValue / 60.0
		return math.Min(1, math.Max(0, v)), nil
	case RewardTypeEngagement:
		if rawValue < 0 || rawValue > 1 {
			return 0, fmt.Errorf("engagement reward must be in [0,1], got %.3f", rawValue)
		}
		return rawValue, nil
	default:
		return 0, fmt.Errorf("unknown reward type: %s", rewardType)
	}
}

// ArmPerformance is the per-arm view returned by the performance API.
type ArmPerformance struct {
	Arm            string  `json:"arm"`
	ContextKey     string  `json:"context_key"`
	Pulls          int64   `json:"pulls"`
	MeanReward     float64 `json:"mean_reward"`
	ConfidenceLow  float64 `json:"confidence_low"`
	ConfidenceHigh float64 `json:"confidence_high"`
}
