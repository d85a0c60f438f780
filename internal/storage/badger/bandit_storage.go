package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// BanditStorage implements the BanditStorage interface for Badger
type BanditStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBanditStorage creates a new BanditStorage instance
func NewBanditStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BanditStorage {
	return &BanditStorage{
		db:     db,
		logger: logger,
	}
}

func (s *BanditStorage) SaveBanditExperiment(ctx context.Context, experiment *models.BanditExperiment) error {
	if experiment.ExperimentKey == "" {
		return fmt.Errorf("bandit experiment key is required")
	}
	if err := experiment.Validate(); err != nil {
		return fmt.Errorf("invalid bandit experiment: %w", err)
	}
	if experiment.CreatedAt.IsZero() {
		experiment.CreatedAt = time.Now().UTC()
	}

	if err := s.db.Store().Upsert(experiment.ExperimentKey, *experiment); err != nil {
		return fmt.Errorf("failed to save bandit experiment %s: %w", experiment.ExperimentKey, err)
	}
	return nil
}

func (s *BanditStorage) GetBanditExperiment(ctx context.Context, experimentKey string) (*models.BanditExperiment, error) {
	var experiment models.BanditExperiment
	if err := s.db.Store().Get(experimentKey, &experiment); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get bandit experiment %s: %w", experimentKey, err)
	}
	return &experiment, nil
}

func (s *BanditStorage) ListActiveBanditExperiments(ctx context.Context) ([]*models.BanditExperiment, error) {
	var items []models.BanditExperiment
	if err := s.db.Store().Find(&items, badgerhold.Where("IsActive").Eq(true).Index("IsActive")); err != nil {
		return nil, fmt.Errorf("failed to list active bandit experiments: %w", err)
	}

	result := make([]*models.BanditExperiment, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *BanditStorage) SaveArm(ctx context.Context, arm *models.BanditArm) error {
	if arm.ID == "" {
		arm.ID = arm.ExperimentKey + "|" + arm.Name
	}
	if arm.CreatedAt.IsZero() {
		arm.CreatedAt = time.Now().UTC()
	}

	if err := s.db.Store().Upsert(arm.ID, *arm); err != nil {
		return fmt.Errorf("failed to save bandit arm %s: %w", arm.ID, err)
	}
	return nil
}

func (s *BanditStorage) ListArms(ctx context.Context, experimentKey string) ([]*models.BanditArm, error) {
	var items []models.BanditArm
	if err := s.db.Store().Find(&items, badgerhold.Where("ExperimentKey").Eq(experimentKey).Index("ExperimentKey")); err != nil {
		return nil, fmt.Errorf("failed to list arms for %s: %w", experimentKey, err)
	}

	result := make([]*models.BanditArm, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *BanditStorage) GetState(ctx context.Context, key string) (*models.BanditState, error) {
	var state models.BanditState
	if err := s.db.Store().Get(key, &state); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get bandit state %s: %w", key, err)
	}
	return &state, nil
}

// UpsertState persists one arm statistics cell. Callers serialize
// updates per key; see the bandit service's per-key locks.
func (s *BanditStorage) UpsertState(ctx context.Context, state *models.BanditState) error {
	if state.Key == "" {
		return fmt.Errorf("bandit state key is required")
	}
	if err := s.db.Store().Upsert(state.Key, *state); err != nil {
		return fmt.Errorf("failed to upsert bandit state %s: %w", state.Key, err)
	}

	s.logger.Trace().
		Str("key", state.Key).
		Int64("pulls", state.Pulls).
		Float64("total_reward", state.TotalReward).
		Msg("BadgerDB: Bandit state upserted")
	return nil
}

func (s *BanditStorage) ListStates(ctx context.Context, experimentKey string) ([]*models.BanditState, error) {
	var items []models.BanditState
	if err := s.db.Store().Find(&items, badgerhold.Where("ExperimentKey").Eq(experimentKey).Index("ExperimentKey")); err != nil {
		return nil, fmt.Errorf("failed to list bandit states for %s: %w", experimentKey, err)
	}

	result := make([]*models.BanditState, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *BanditStorage) SaveDecision(ctx context.Context, decision *models.BanditDecision) error {
	if decision.ID == "" {
		return fmt.Errorf("decision ID is required")
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now().UTC()
	}

	if err := s.db.Store().Upsert(decision.ID, *decision); err != nil {
		return fmt.Errorf("failed to save decision %s: %w", decision.ID, err)
	}
	return nil
}

func (s *BanditStorage) GetDecision(ctx context.Context, decisionID string) (*models.BanditDecision, error) {
	var decision models.BanditDecision
	if err := s.db.Store().Get(decisionID, &decision); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get decision %s: %w", decisionID, err)
	}
	return &decision, nil
}

func (s *BanditStorage) CountDecisions(ctx context.Context, experimentKey string) (int, error) {
	count, err := s.db.Store().Count(&models.BanditDecision{}, badgerhold.Where("ExperimentKey").Eq(experimentKey).Index("ExperimentKey"))
	if err != nil {
		return 0, fmt.Errorf("failed to count decisions for %s: %w", experimentKey, err)
	}
	return int(count), nil
}

func (s *BanditStorage) SaveReward(ctx context.Context, reward *models.BanditReward) error {
	if reward.DecisionID == "" {
		return fmt.Errorf("reward decision ID is required")
	}
	if reward.RewardedAt.IsZero() {
		reward.RewardedAt = time.Now().UTC()
	}

	if err := s.db.Store().Insert(badgerhold.NextSequence(), reward); err != nil {
		return fmt.Errorf("failed to save reward for decision %s: %w", reward.DecisionID, err)
	}
	return nil
}

func (s *BanditStorage) ListRewardsByDecision(ctx context.Context, decisionID string) ([]*models.BanditReward, error) {
	var items []models.BanditReward
	if err := s.db.Store().Find(&items, badgerhold.Where("DecisionID").Eq(decisionID).Index("DecisionID")); err != nil {
		return nil, fmt.Errorf("failed to list rewards for decision %s: %w", decisionID, err)
	}

	result := make([]*models.BanditReward, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}
