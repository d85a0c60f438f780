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

// FlagStorage implements the FlagStorage interface for Badger
type FlagStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewFlagStorage creates a new FlagStorage instance
func NewFlagStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FlagStorage {
	return &FlagStorage{
		db:     db,
		logger: logger,
	}
}

func (s *FlagStorage) SaveFlag(ctx context.Context, flag *models.FeatureFlag) error {
	if flag.FlagKey == "" {
		return fmt.Errorf("flag key is required")
	}
	flag.UpdatedAt = time.Now().UTC()

	if err := s.db.Store().Upsert(flag.FlagKey, *flag); err != nil {
		return fmt.Errorf("failed to save flag %s: %w", flag.FlagKey, err)
	}

	s.logger.Debug().
		Str("flag_key", flag.FlagKey).
		Str("value", flag.FlagValue).
		Bool("enabled", flag.IsEnabled).
		Msg("BadgerDB: Flag saved")
	return nil
}

func (s *FlagStorage) GetFlag(ctx context.Context, flagKey string) (*models.FeatureFlag, error) {
	var flag models.FeatureFlag
	if err := s.db.Store().Get(flagKey, &flag); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get flag %s: %w", flagKey, err)
	}
	return &flag, nil
}

func (s *FlagStorage) ListFlags(ctx context.Context) ([]*models.FeatureFlag, error) {
	var items []models.FeatureFlag
	if err := s.db.Store().Find(&items, nil); err != nil {
		return nil, fmt.Errorf("failed to list flags: %w", err)
	}

	result := make([]*models.FeatureFlag, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}
