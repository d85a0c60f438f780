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

// ExperimentStorage implements the ExperimentStorage interface for Badger
type ExperimentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewExperimentStorage creates a new ExperimentStorage instance
func NewExperimentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ExperimentStorage {
	return &ExperimentStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ExperimentStorage) SaveExperiment(ctx context.Context, experiment *models.Experiment) error {
	if err := experiment.Validate(); err != nil {
		return fmt.Errorf("invalid experiment: %w", err)
	}

	now := time.Now().UTC()
	if experiment.CreatedAt.IsZero() {
		experiment.CreatedAt = now
	}
	experiment.UpdatedAt = now

	if err := s.db.Store().Upsert(experiment.ExperimentKey, *experiment); err != nil {
		return fmt.Errorf("failed to save experiment %s: %w", experiment.ExperimentKey, err)
	}

	s.logger.Debug().
		Str("experiment_key", experiment.ExperimentKey).
		Bool("active", experiment.IsActive).
		Msg("BadgerDB: Experiment saved")
	return nil
}

func (s *ExperimentStorage) GetExperiment(ctx context.Context, experimentKey string) (*models.Experiment, error) {
	var experiment models.Experiment
	if err := s.db.Store().Get(experimentKey, &experiment); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get experiment %s: %w", experimentKey, err)
	}
	return &experiment, nil
}

func (s *ExperimentStorage) ListActiveExperiments(ctx context.Context) ([]*models.Experiment, error) {
	var items []models.Experiment
	if err := s.db.Store().Find(&items, badgerhold.Where("IsActive").Eq(true).Index("IsActive")); err != nil {
		return nil, fmt.Errorf("failed to list active experiments: %w", err)
	}

	result := make([]*models.Experiment, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *ExperimentStorage) ListExperiments(ctx context.Context) ([]*models.Experiment, error) {
	var items []models.Experiment
	if err := s.db.Store().Find(&items, nil); err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}

	result := make([]*models.Experiment, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}
