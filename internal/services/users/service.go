// -----------------------------------------------------------------------
// Anonymous Users - cookie-identified reader tracking and the explicit
// personalization preferences behind it
// -----------------------------------------------------------------------

package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
)

const (
	// sessionGap is the idle time after which the next request counts
	// as a new session.
	sessionGap = 30 * time.Minute

	maxInterestTickers  = 50
	maxInterestKeywords = 50
	maxKeywordLength    = 64
)

// krxCodePattern matches the six-digit KRX listing codes the scorer
// stores in tickers_found; anything else can never match an article.
var krxCodePattern = regexp.MustCompile(`^\d{6}$`)

// Service tracks anonymous readers and their preferences.
type Service struct {
	storage interfaces.UserStorage
	logger  arbor.ILogger
	now     func() time.Time
}

// NewService creates a new user service.
func NewService(storage interfaces.UserStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// Touch records activity for an anonymous user, creating the record on
// first sight. A request after more than sessionGap of silence starts a
// new session.
func (s *Service) Touch(ctx context.Context, anonID, userAgent string) error {
	if strings.TrimSpace(anonID) == "" {
		return fmt.Errorf("%w: anon ID is required", models.ErrValidation)
	}

	now := s.now().UTC()

	user, err := s.storage.GetUser(ctx, anonID)
	if errors.Is(err, models.ErrNotFound) {
		user = &models.AnonymousUser{
			AnonID:       anonID,
			FirstSeenAt:  now,
			LastSeenAt:   now,
			SessionCount: 1,
			UserAgent:    userAgent,
			IsActive:     true,
		}
		if err := s.storage.SaveUser(ctx, user); err != nil {
			return fmt.Errorf("failed to create user %s: %w", anonID, err)
		}

		s.logger.Debug().Str("anon_id", anonID).Msg("New anonymous user")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", anonID, err)
	}

	if now.Sub(user.LastSeenAt) >= sessionGap {
		user.SessionCount++
	}
	user.LastSeenAt = now
	user.IsActive = true
	if userAgent != "" {
		user.UserAgent = userAgent
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		return fmt.Errorf("failed to update user %s: %w", anonID, err)
	}
	return nil
}

// GetPreference returns the stored preference, or nil when the user has
// never saved one.
func (s *Service) GetPreference(ctx context.Context, userID string) (*models.UserPreference, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user ID is required", models.ErrValidation)
	}

	pref, err := s.storage.GetPreference(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preference for %s: %w", userID, err)
	}
	return pref, nil
}

// PutPreference validates, normalizes and saves a preference.
func (s *Service) PutPreference(ctx context.Context, pref *models.UserPreference) error {
	if pref == nil {
		return fmt.Errorf("%w: preference is required", models.ErrValidation)
	}
	if strings.TrimSpace(pref.UserID) == "" {
		return fmt.Errorf("%w: user ID is required", models.ErrValidation)
	}
	if pref.DiversityWeight < 0 || pref.DiversityWeight > 1 {
		return fmt.Errorf("%w: diversity weight must be in [0,1], got %.2f", models.ErrValidation, pref.DiversityWeight)
	}

	tickers, err := normalizeTickers(pref.InterestTickers)
	if err != nil {
		return err
	}
	keywords, err := normalizeKeywords(pref.InterestKeywords)
	if err != nil {
		return err
	}
	pref.InterestTickers = tickers
	pref.InterestKeywords = keywords
	pref.IsActive = true
	pref.UpdatedAt = s.now().UTC()

	if err := s.storage.SavePreference(ctx, pref); err != nil {
		return fmt.Errorf("failed to save preference for %s: %w", pref.UserID, err)
	}

	s.logger.Info().
		Str("user_id", pref.UserID).
		Int("tickers", len(pref.InterestTickers)).
		Int("keywords", len(pref.InterestKeywords)).
		Bool("enabled", pref.PersonalizationEnabled).
		Msg("Preference saved")

	return nil
}

// normalizeTickers trims, validates and dedupes interest tickers,
// preserving first-seen order.
func normalizeTickers(tickers []string) ([]string, error) {
	if len(tickers) > maxInterestTickers {
		return nil, fmt.Errorf("%w: at most %d interest tickers, got %d", models.ErrValidation, maxInterestTickers, len(tickers))
	}

	seen := make(map[string]struct{}, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, code := range tickers {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if !krxCodePattern.MatchString(code) {
			return nil, fmt.Errorf("%w: ticker %q is not a six-digit listing code", models.ErrValidation, code)
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out, nil
}

// normalizeKeywords trims and dedupes interest keywords. Matching is
// case-insensitive downstream, so dedupe folds case too.
func normalizeKeywords(keywords []string) ([]string, error) {
	if len(keywords) > maxInterestKeywords {
		return nil, fmt.Errorf("%w: at most %d interest keywords, got %d", models.ErrValidation, maxInterestKeywords, len(keywords))
	}

	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if len([]rune(kw)) > maxKeywordLength {
			return nil, fmt.Errorf("%w: keyword %q exceeds %d characters", models.ErrValidation, kw, maxKeywordLength)
		}
		folded := strings.ToLower(kw)
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}
		out = append(out, kw)
	}
	return out, nil
}
