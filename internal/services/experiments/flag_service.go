// -----------------------------------------------------------------------
// Flag Service - feature flags with an in-process read cache
// -----------------------------------------------------------------------

package experiments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
)

// FlagService evaluates feature flags on the serving path. Reads hit
// the cache; writes go through the store, refresh the cache and
// publish flag.changed.
type FlagService struct {
	storage interfaces.FlagStorage
	events  interfaces.EventService
	logger  arbor.ILogger

	mu    sync.RWMutex
	cache map[string]*models.FeatureFlag
}

// NewFlagService creates the flag service.
func NewFlagService(storage interfaces.FlagStorage, events interfaces.EventService, logger arbor.ILogger) *FlagService {
	return &FlagService{
		storage: storage,
		events:  events,
		logger:  logger,
		cache:   make(map[string]*models.FeatureFlag),
	}
}

// IsEnabled returns the flag's boolean value, or fallback when the
// flag does not exist or cannot be read.
func (s *FlagService) IsEnabled(ctx context.Context, flagKey string, fallback bool) bool {
	s.mu.RLock()
	flag, ok := s.cache[flagKey]
	s.mu.RUnlock()
	if ok {
		return flag.BoolValue()
	}

	flag, err := s.storage.GetFlag(ctx, flagKey)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn().Err(err).Str("flag_key", flagKey).Msg("Flag read failed, using fallback")
		}
		return fallback
	}

	s.mu.Lock()
	s.cache[flagKey] = flag
	s.mu.Unlock()

	return flag.BoolValue()
}

// SetFlag persists the flag, refreshes the cache and announces the
// change.
func (s *FlagService) SetFlag(ctx context.Context, flag *models.FeatureFlag) error {
	if flag == nil || flag.FlagKey == "" {
		return fmt.Errorf("%w: flag key is required", models.ErrValidation)
	}
	if flag.ValueType == "" {
		flag.ValueType = models.FlagTypeBoolean
	}
	flag.UpdatedAt = time.Now().UTC()

	if err := s.storage.SaveFlag(ctx, flag); err != nil {
		return fmt.Errorf("failed to save flag %s: %w", flag.FlagKey, err)
	}

	s.mu.Lock()
	s.cache[flag.FlagKey] = flag
	s.mu.Unlock()

	s.logger.Info().
		Str("flag_key", flag.FlagKey).
		Str("value", flag.FlagValue).
		Bool("enabled", flag.IsEnabled).
		Msg("Feature flag updated")

	event := interfaces.Event{Type: interfaces.EventFlagChanged, Payload: flag}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("flag_key", flag.FlagKey).Msg("Failed to publish flag.changed")
	}
	return nil
}

// GetFlag returns one flag from the store.
func (s *FlagService) GetFlag(ctx context.Context, flagKey string) (*models.FeatureFlag, error) {
	return s.storage.GetFlag(ctx, flagKey)
}

// ListFlags returns every flag.
func (s *FlagService) ListFlags(ctx context.Context) ([]*models.FeatureFlag, error) {
	return s.storage.ListFlags(ctx)
}
