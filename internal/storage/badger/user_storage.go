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

// UserStorage implements the UserStorage interface for Badger
type UserStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewUserStorage creates a new UserStorage instance
func NewUserStorage(db *BadgerDB, logger arbor.ILogger) interfaces.UserStorage {
	return &UserStorage{
		db:     db,
		logger: logger,
	}
}

func (s *UserStorage) SaveUser(ctx context.Context, user *models.AnonymousUser) error {
	if user.AnonID == "" {
		return fmt.Errorf("anon ID is required")
	}
	if err := s.db.Store().Upsert(user.AnonID, *user); err != nil {
		return fmt.Errorf("failed to save user %s: %w", user.AnonID, err)
	}
	return nil
}

func (s *UserStorage) GetUser(ctx context.Context, anonID string) (*models.AnonymousUser, error) {
	var user models.AnonymousUser
	if err := s.db.Store().Get(anonID, &user); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user %s: %w", anonID, err)
	}
	return &user, nil
}

func (s *UserStorage) SavePreference(ctx context.Context, pref *models.UserPreference) error {
	if pref.UserID == "" {
		return fmt.Errorf("preference user ID is required")
	}
	pref.UpdatedAt = time.Now().UTC()

	if err := s.db.Store().Upsert(pref.UserID, *pref); err != nil {
		return fmt.Errorf("failed to save preference for %s: %w", pref.UserID, err)
	}

	s.logger.Trace().
		Str("user_id", pref.UserID).
		Int("tickers", len(pref.InterestTickers)).
		Int("keywords", len(pref.InterestKeywords)).
		Msg("BadgerDB: Preference saved")
	return nil
}

func (s *UserStorage) GetPreference(ctx context.Context, userID string) (*models.UserPreference, error) {
	var pref models.UserPreference
	if err := s.db.Store().Get(userID, &pref); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get preference for %s: %w", userID, err)
	}
	return &pref, nil
}
