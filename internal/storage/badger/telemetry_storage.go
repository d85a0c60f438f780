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

// TelemetryStorage implements the TelemetryStorage interface for Badger
type TelemetryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTelemetryStorage creates a new TelemetryStorage instance
func NewTelemetryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TelemetryStorage {
	return &TelemetryStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TelemetryStorage) SaveImpressions(ctx context.Context, impressions []*models.ImpressionLog) error {
	for _, imp := range impressions {
		if imp.DatePartition == "" {
			imp.DatePartition = models.DatePartitionOf(imp.ShownAt)
		}
		if err := s.db.Store().Insert(badgerhold.NextSequence(), imp); err != nil {
			return fmt.Errorf("failed to save impression: %w", err)
		}
	}

	s.logger.Trace().Int("count", len(impressions)).Msg("BadgerDB: Impressions saved")
	return nil
}

func (s *TelemetryStorage) SaveClicks(ctx context.Context, clicks []*models.ClickLog) error {
	for _, click := range clicks {
		if click.DatePartition == "" {
			click.DatePartition = models.DatePartitionOf(click.ClickedAt)
		}
		if err := s.db.Store().Insert(badgerhold.NextSequence(), click); err != nil {
			return fmt.Errorf("failed to save click: %w", err)
		}
	}

	s.logger.Trace().Int("count", len(clicks)).Msg("BadgerDB: Clicks saved")
	return nil
}

func (s *TelemetryStorage) ListImpressionsByDate(ctx context.Context, datePartition string) ([]*models.ImpressionLog, error) {
	var items []models.ImpressionLog
	if err := s.db.Store().Find(&items, badgerhold.Where("DatePartition").Eq(datePartition).Index("DatePartition")); err != nil {
		return nil, fmt.Errorf("failed to list impressions for %s: %w", datePartition, err)
	}

	result := make([]*models.ImpressionLog, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *TelemetryStorage) ListClicksByDate(ctx context.Context, datePartition string) ([]*models.ClickLog, error) {
	var items []models.ClickLog
	if err := s.db.Store().Find(&items, badgerhold.Where("DatePartition").Eq(datePartition).Index("DatePartition")); err != nil {
		return nil, fmt.Errorf("failed to list clicks for %s: %w", datePartition, err)
	}

	result := make([]*models.ClickLog, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *TelemetryStorage) ListClicksByUser(ctx context.Context, anonID string, since time.Time) ([]*models.ClickLog, error) {
	var items []models.ClickLog
	if err := s.db.Store().Find(&items, badgerhold.Where("AnonID").Eq(anonID).Index("AnonID").And("ClickedAt").Ge(since)); err != nil {
		return nil, fmt.Errorf("failed to list clicks for user %s: %w", anonID, err)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].ClickedAt.After(items[j].ClickedAt)
	})

	result := make([]*models.ClickLog, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *TelemetryStorage) SaveDailyMetrics(ctx context.Context, metrics *models.ExperimentMetricsDaily) error {
	if metrics.Key == "" {
		metrics.Key = models.MetricsKey(metrics.ExperimentKey, metrics.Variant, metrics.DatePartition)
	}
	if err := s.db.Store().Upsert(metrics.Key, *metrics); err != nil {
		return fmt.Errorf("failed to save daily metrics %s: %w", metrics.Key, err)
	}
	return nil
}

func (s *TelemetryStorage) GetDailyMetrics(ctx context.Context, experimentKey, variant, datePartition string) (*models.ExperimentMetricsDaily, error) {
	var metrics models.ExperimentMetricsDaily
	key := models.MetricsKey(experimentKey, variant, datePartition)
	if err := s.db.Store().Get(key, &metrics); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get daily metrics %s: %w", key, err)
	}
	return &metrics, nil
}

func (s *TelemetryStorage) ListDailyMetrics(ctx context.Context, experimentKey string, sincePartition string) ([]*models.ExperimentMetricsDaily, error) {
	var items []models.ExperimentMetricsDaily
	if err := s.db.Store().Find(&items, badgerhold.Where("ExperimentKey").Eq(experimentKey).Index("ExperimentKey")); err != nil {
		return nil, fmt.Errorf("failed to list daily metrics for %s: %w", experimentKey, err)
	}

	// Partition keys sort lexicographically in date order.
	result := make([]*models.ExperimentMetricsDaily, 0, len(items))
	for i := range items {
		if sincePartition != "" && items[i].DatePartition < sincePartition {
			continue
		}
		result = append(result, &items[i])
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DatePartition < result[j].DatePartition
	})
	return result, nil
}
