package models

import (
	"encoding/gob"
	"time"
)

func init() {
	// Register types carried inside Reason for BadgerDB serialization
	gob.Register([]string{})
	gob.Register(map[string]interface{}{})
}

// Reason keys recorded by the rule scorer. Every score carries the full
// breakdown so the API can explain why an article ranked where it did.
const (
	ReasonSourceWeight   = "source_weight"
	ReasonTickersHit     = "tickers_hit"
	ReasonKeywordsHit    = "keywords_hit"
	ReasonFreshness      = "freshness"
	ReasonQualityPenalty = "quality_penalty"
	ReasonTickersFound   = "tickers_found"
)

// NewsScore holds the ranking signals for one article (1:1 with News).
// Importance is the authoritative serving value: rule-based at save time,
// overwritten when the ML service returns a probability.
type NewsScore struct {
	NewsID uint64 `json:"news_id" badgerhold:"key"`

	// Importance in [0,10]; RankScore = Importance/10 in [0,1].
	Importance float64 `json:"importance"`
	RankScore  float64 `json:"rank_score"`

	// Reason maps each scoring factor to its contribution plus the
	// matched ticker codes under "tickers_found".
	Reason map[string]interface{} `json:"reason,omitempty"`

	// ImportanceP is the raw ML probability in [0,1]; nil until the ML
	// service has scored the article.
	ImportanceP *float64 `json:"importance_p,omitempty"`

	// Summary is the ML (or fallback) summary, at most 240 characters.
	Summary string `json:"summary,omitempty"`

	ModelVersion string    `json:"model_version,omitempty"`
	ScoredAt     time.Time `json:"scored_at"`
}

// MLScored reports whether the ML importance model has scored this article.
func (s *NewsScore) MLScored() bool {
	return s.ImportanceP != nil
}

// TickersFound returns the ticker codes the rule scorer matched. The
// slice arrives as []string from the store and []interface{} after a
// JSON round-trip; both are handled.
func (s *NewsScore) TickersFound() []string {
	if s.Reason == nil {
		return nil
	}
	switch v := s.Reason[ReasonTickersFound].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if code, ok := item.(string); ok {
				out = append(out, code)
			}
		}
		return out
	}
	return nil
}
