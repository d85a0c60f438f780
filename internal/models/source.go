package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSourceWeight applies when a source is configured without an
// explicit weight.
const DefaultSourceWeight = 0.5

// RssSource is one configured feed. Weight feeds directly into the rule
// scorer's source_weight factor, so it stays in [0,1].
type RssSource struct {
	Name           string     `json:"name" badgerhold:"key"`
	URL            string     `json:"url"`
	Weight         float64    `json:"weight"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	Enabled        bool       `json:"enabled" badgerhold:"index"`
	LastFetchedAt  *time.Time `json:"last_fetched_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Validate checks the source configuration before a save.
func (s *RssSource) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("source name is required")
	}
	if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
		return fmt.Errorf("source %s URL must be http or https", s.Name)
	}
	if s.Weight < 0 || s.Weight > 1 {
		return fmt.Errorf("source %s weight must be in [0,1], got %.2f", s.Name, s.Weight)
	}
	if s.TimeoutSeconds < 0 {
		return fmt.Errorf("source %s timeout must be non-negative", s.Name)
	}
	return nil
}

// EffectiveWeight returns the configured weight, or the default when the
// source was stored without one.
func (s *RssSource) EffectiveWeight() float64 {
	if s.Weight <= 0 {
		return DefaultSourceWeight
	}
	return s.Weight
}

// Timeout returns the per-source fetch timeout as a duration, falling
// back to the supplied default when unset.
func (s *RssSource) Timeout(fallback time.Duration) time.Duration {
	if s.TimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}
