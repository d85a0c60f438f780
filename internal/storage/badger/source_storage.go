package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SourceStorage implements the SourceStorage interface for Badger
type SourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSourceStorage creates a new SourceStorage instance
func NewSourceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SourceStorage {
	return &SourceStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SourceStorage) SaveSource(ctx context.Context, source *models.RssSource) error {
	if err := source.Validate(); err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}

	now := time.Now().UTC()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now

	if err := s.db.Store().Upsert(source.Name, *source); err != nil {
		return fmt.Errorf("failed to save source %s: %w", source.Name, err)
	}

	s.logger.Debug().
		Str("source", source.Name).
		Str("url", source.URL).
		Bool("enabled", source.Enabled).
		Msg("BadgerDB: Source saved")
	return nil
}

func (s *SourceStorage) GetSource(ctx context.Context, name string) (*models.RssSource, error) {
	var source models.RssSource
	if err := s.db.Store().Get(name, &source); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get source %s: %w", name, err)
	}
	return &source, nil
}

func (s *SourceStorage) ListSources(ctx context.Context) ([]*models.RssSource, error) {
	var items []models.RssSource
	if err := s.db.Store().Find(&items, nil); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})

	result := make([]*models.RssSource, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *SourceStorage) ListEnabledSources(ctx context.Context) ([]*models.RssSource, error) {
	var items []models.RssSource
	if err := s.db.Store().Find(&items, badgerhold.Where("Enabled").Eq(true).Index("Enabled")); err != nil {
		return nil, fmt.Errorf("failed to list enabled sources: %w", err)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})

	result := make([]*models.RssSource, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *SourceStorage) DeleteSource(ctx context.Context, name string) error {
	if err := s.db.Store().Delete(name, &models.RssSource{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete source %s: %w", name, err)
	}
	return nil
}
