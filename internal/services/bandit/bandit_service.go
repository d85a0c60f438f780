// -----------------------------------------------------------------------
// Bandit Service - multi-armed bandit over ranking strategies; selects
// an arm per request, persists the decision and learns from rewards
// -----------------------------------------------------------------------

package bandit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/metrics"
	"github.com/ternarybob/nuntius/internal/models"
	"github.com/ternarybob/nuntius/internal/services/ranking"
)

// DefaultExperimentKey is the strategy experiment seeded on first boot.
const DefaultExperimentKey = "ranking_strategy"

const (
	defaultEpsilon = 0.1

	// confidenceZ is the z-value for the 95% intervals Performance
	// reports.
	confidenceZ = 1.96
)

// kst pins hour-of-day bucketing to Korean local time. Korea has no
// daylight saving, so a fixed offset is exact.
var kst = time.FixedZone("KST", 9*60*60)

// Service implements BanditService over the four ranking strategies.
type Service struct {
	storage    interfaces.BanditStorage
	loader     *ranking.Loader
	strategies map[string]armStrategy
	logger     arbor.ILogger

	rngMu sync.Mutex
	rng   *rand.Rand

	stateLocks *keyedLocks

	now func() time.Time
}

// NewService wires the ranking strategies over the storage layer.
func NewService(
	storage interfaces.BanditStorage,
	loader *ranking.Loader,
	news interfaces.NewsStorage,
	users interfaces.UserStorage,
	telemetry interfaces.TelemetryStorage,
	logger arbor.ILogger,
) *Service {
	now := time.Now
	return &Service{
		storage: storage,
		loader:  loader,
		strategies: map[string]armStrategy{
			models.ArmPersonalized: &personalizedArm{loader: loader, users: users, telemetry: telemetry, now: now},
			models.ArmPopular:      &popularArm{loader: loader, telemetry: telemetry, now: now},
			models.ArmDiverse:      &diverseArm{loader: loader, now: now},
			models.ArmRecent:       &recentArm{news: news, now: now},
		},
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		stateLocks: newKeyedLocks(),
		now:        now,
	}
}

// EnsureDefaults seeds the default strategy experiment and its four
// arms when none exist yet. The seed parameters come from configuration;
// out-of-range values fall back to safe priors.
func (s *Service) EnsureDefaults(ctx context.Context, algorithm string, epsilon, alpha, beta float64) error {
	_, err := s.storage.GetBanditExperiment(ctx, DefaultExperimentKey)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check bandit experiment: %w", err)
	}

	switch algorithm {
	case models.BanditAlgorithmEpsilonGreedy, models.BanditAlgorithmUCB1, models.BanditAlgorithmThompson:
	default:
		algorithm = models.BanditAlgorithmEpsilonGreedy
	}
	if epsilon <= 0 || epsilon > 1 {
		epsilon = defaultEpsilon
	}
	if alpha <= 0 {
		alpha = 1
	}
	if beta <= 0 {
		beta = 1
	}

	experiment := &models.BanditExperiment{
		ExperimentKey: DefaultExperimentKey,
		Description:   "Selects the ranking strategy for default feed requests",
		Algorithm:     algorithm,
		Epsilon:       epsilon,
		Alpha:         alpha,
		Beta:          beta,
		IsActive:      true,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.storage.SaveBanditExperiment(ctx, experiment); err != nil {
		return err
	}

	for _, name := range []string{models.ArmPersonalized, models.ArmPopular, models.ArmDiverse, models.ArmRecent} {
		arm := &models.BanditArm{
			ExperimentKey: DefaultExperimentKey,
			Name:          name,
			AlgorithmType: name,
			Enabled:       true,
			CreatedAt:     s.now().UTC(),
		}
		if err := s.storage.SaveArm(ctx, arm); err != nil {
			return err
		}
	}

	s.logger.Info().
		Str("experiment_key", DefaultExperimentKey).
		Str("algorithm", experiment.Algorithm).
		Msg("Seeded default bandit experiment")
	return nil
}

// Recommend picks an arm for the user's context, ranks articles with
// it and persists the decision for later reward attribution.
func (s *Service) Recommend(ctx context.Context, anonID string, limit int) (*interfaces.BanditRecommendation, error) {
	if limit < 1 || limit > 100 {
		return nil, fmt.Errorf("%w: limit must be in [1,100], got %d", models.ErrValidation, limit)
	}

	experiment, err := s.activeExperiment(ctx)
	if err != nil {
		return nil, err
	}
	arms, err := s.enabledArms(ctx, experiment.ExperimentKey)
	if err != nil {
		return nil, err
	}

	bctx := s.resolveContext(anonID)

	stats := make([]armStat, len(arms))
	for i, arm := range arms {
		state, err := s.storage.GetState(ctx, models.StateKey(experiment.ExperimentKey, arm.Name, bctx.Key()))
		if errors.Is(err, models.ErrNotFound) {
			state = &models.BanditState{}
		} else if err != nil {
			return nil, err
		}
		stats[i] = armStat{arm: arm, state: state}
	}

	chosen, err := s.selectArm(experiment, stats)
	if err != nil {
		return nil, err
	}

	strategy, ok := s.strategies[chosen.stat.arm.AlgorithmType]
	if !ok {
		return nil, fmt.Errorf("%w: arm %s has unknown algorithm type %q",
			models.ErrValidation, chosen.stat.arm.Name, chosen.stat.arm.AlgorithmType)
	}

	newsIDs, err := strategy.Rank(ctx, bctx, limit)
	if err != nil {
		return nil, err
	}

	decision := &models.BanditDecision{
		ID:              uuid.NewString(),
		ExperimentKey:   experiment.ExperimentKey,
		Arm:             chosen.stat.arm.Name,
		Context:         bctx,
		DecisionValue:   chosen.value,
		SelectionReason: chosen.reason,
		NewsIDs:         newsIDs,
		DecidedAt:       s.now().UTC(),
	}
	if err := s.storage.SaveDecision(ctx, decision); err != nil {
		return nil, err
	}
	metrics.BanditDecisions.WithLabelValues(decision.Arm, decision.SelectionReason).Inc()

	items, err := s.rankedItems(ctx, newsIDs, chosen.stat.arm.AlgorithmType)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("experiment_key", experiment.ExperimentKey).
		Str("arm", decision.Arm).
		Str("reason", decision.SelectionReason).
		Str("context", bctx.Key()).
		Int("items", len(items)).
		Msg("Bandit decision")

	return &interfaces.BanditRecommendation{
		DecisionID:      decision.ID,
		ExperimentKey:   experiment.ExperimentKey,
		Arm:             decision.Arm,
		SelectionReason: decision.SelectionReason,
		Items:           items,
	}, nil
}

// Reward records one outcome for a past decision and atomically folds
// it into the arm's context statistics.
func (s *Service) Reward(ctx context.Context, decisionID, rewardType string, rawValue float64) error {
	if decisionID == "" {
		return fmt.Errorf("%w: decision ID is required", models.ErrValidation)
	}

	decision, err := s.storage.GetDecision(ctx, decisionID)
	if err != nil {
		return err
	}

	value, err := models.NormalizeReward(rewardType, rawValue)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	reward := &models.BanditReward{
		DecisionID:  decisionID,
		RewardType:  rewardType,
		RewardValue: value,
		RewardedAt:  s.now().UTC(),
	}
	if err := s.storage.SaveReward(ctx, reward); err != nil {
		return err
	}

	key := models.StateKey(decision.ExperimentKey, decision.Arm, decision.Context.Key())
	lock := s.stateLocks.get(key)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.storage.GetState(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		state = &models.BanditState{
			Key:           key,
			ExperimentKey: decision.ExperimentKey,
			Arm:           decision.Arm,
			ContextKey:    decision.Context.Key(),
		}
	} else if err != nil {
		return err
	}

	state.Pulls++
	state.TotalReward += value
	state.SumRewardSquared += value * value
	state.LastPullAt = s.now().UTC()

	if err := s.storage.UpsertState(ctx, state); err != nil {
		return err
	}

	s.logger.Debug().
		Str("decision_id", decisionID).
		Str("arm", decision.Arm).
		Str("reward_type", rewardType).
		Float64("reward_value", value).
		Int64("pulls", state.Pulls).
		Msg("Bandit reward recorded")
	return nil
}

// Performance returns per-arm, per-context statistics with 95%
// confidence intervals for the active experiment. Arms never rewarded
// do not appear.
func (s *Service) Performance(ctx context.Context) ([]models.ArmPerformance, error) {
	experiment, err := s.activeExperiment(ctx)
	if err != nil {
		return nil, err
	}

	states, err := s.storage.ListStates(ctx, experiment.ExperimentKey)
	if err != nil {
		return nil, err
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].Arm != states[j].Arm {
			return states[i].Arm < states[j].Arm
		}
		return states[i].ContextKey < states[j].ContextKey
	})

	performances := make([]models.ArmPerformance, 0, len(states))
	for _, state := range states {
		mean := state.MeanReward()
		half := 0.0
		if state.Pulls > 0 {
			half = confidenceZ * math.Sqrt(state.RewardVariance()/float64(state.Pulls))
		}
		performances = append(performances, models.ArmPerformance{
			Arm:            state.Arm,
			ContextKey:     state.ContextKey,
			Pulls:          state.Pulls,
			MeanReward:     mean,
			ConfidenceLow:  math.Max(0, mean-half),
			ConfidenceHigh: math.Min(1, mean+half),
		})
	}
	return performances, nil
}

// activeExperiment returns the serving bandit experiment. With more
// than one active, the lexicographically first key wins so selection
// stays deterministic.
func (s *Service) activeExperiment(ctx context.Context) (*models.BanditExperiment, error) {
	experiments, err := s.storage.ListActiveBanditExperiments(ctx)
	if err != nil {
		return nil, err
	}
	if len(experiments) == 0 {
		return nil, fmt.Errorf("%w: no active bandit experiment", models.ErrNotFound)
	}
	sort.Slice(experiments, func(i, j int) bool {
		return experiments[i].ExperimentKey < experiments[j].ExperimentKey
	})
	return experiments[0], nil
}

func (s *Service) enabledArms(ctx context.Context, experimentKey string) ([]*models.BanditArm, error) {
	arms, err := s.storage.ListArms(ctx, experimentKey)
	if err != nil {
		return nil, err
	}

	enabled := make([]*models.BanditArm, 0, len(arms))
	for _, arm := range arms {
		if arm.Enabled {
			enabled = append(enabled, arm)
		}
	}
	if len(enabled) == 0 {
		return nil, fmt.Errorf("%w: experiment %s has no enabled arms", models.ErrNotFound, experimentKey)
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Name < enabled[j].Name })
	return enabled, nil
}

// resolveContext buckets the request by KST hour of day. Finer
// per-user contexts would fragment the statistics the arms learn from.
func (s *Service) resolveContext(anonID string) models.BanditContext {
	return models.BanditContext{
		UserID:       anonID,
		ContextType:  "hour_bucket",
		ContextValue: hourBucket(s.now().In(kst).Hour()),
	}
}

func hourBucket(hour int) string {
	switch {
	case hour >= 6 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 18:
		return "afternoon"
	case hour >= 18 && hour < 23:
		return "evening"
	default:
		return "night"
	}
}

// rankedItems joins the chosen arm's article IDs back to full rows in
// decision order.
func (s *Service) rankedItems(ctx context.Context, newsIDs []uint64, algorithmType string) ([]interfaces.RankedNews, error) {
	if len(newsIDs) == 0 {
		return nil, nil
	}

	candidates, err := s.loader.LoadByIDs(ctx, newsIDs)
	if err != nil {
		return nil, err
	}

	items := make([]interfaces.RankedNews, len(candidates))
	for i, c := range candidates {
		items[i] = interfaces.RankedNews{
			News:             c.News,
			Score:            c.Score,
			Topic:            c.Topic,
			Position:         i + 1,
			Personalized:     algorithmType == models.ArmPersonalized,
			DiversityApplied: algorithmType == models.ArmDiverse,
		}
	}
	return items, nil
}
