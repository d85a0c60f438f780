package models

import "time"

// AnonymousUser tracks a cookie-identified reader. No account data is
// kept; the AnonID is a server-minted UUID echoed back in a cookie.
type AnonymousUser struct {
	AnonID       string    `json:"anon_id" badgerhold:"key"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	SessionCount int       `json:"session_count"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Country      string    `json:"country,omitempty"`
	IsActive     bool      `json:"is_active"`
}

// UserPreference holds the explicit personalization inputs for a user.
// An absent or inactive preference means ranking falls back to plain
// importance order.
type UserPreference struct {
	UserID                 string    `json:"user_id" badgerhold:"key"`
	InterestTickers        []string  `json:"interest_tickers,omitempty"`
	InterestKeywords       []string  `json:"interest_keywords,omitempty"`
	PersonalizationEnabled bool      `json:"personalization_enabled"`
	DiversityWeight        float64   `json:"diversity_weight"`
	IsActive               bool      `json:"is_active"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Empty reports whether the preference carries no personalization signal.
func (p *UserPreference) Empty() bool {
	return len(p.InterestTickers) == 0 && len(p.InterestKeywords) == 0
}
