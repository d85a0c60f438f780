package interfaces

import (
	"context"

	"github.com/ternarybob/nuntius/internal/models"
)

// UserService manages anonymous users and their preferences.
type UserService interface {
	// Touch records activity for an anonymous user, creating the
	// record on first sight.
	Touch(ctx context.Context, anonID, userAgent string) error

	// GetPreference returns the user's preference, or nil when none
	// has been saved.
	GetPreference(ctx context.Context, userID string) (*models.UserPreference, error)

	// PutPreference validates and saves a preference.
	PutPreference(ctx context.Context, pref *models.UserPreference) error
}
