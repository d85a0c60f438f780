package interfaces

import (
	"context"

	"github.com/ternarybob/nuntius/internal/models"
)

// Sort orders accepted by TopNewsQuery.
const (
	SortRank   = "rank"
	SortRecent = "recent"
)

// TopNewsQuery carries the validated parameters of a /news/top request.
type TopNewsQuery struct {
	// AnonID identifies the requesting user for personalization,
	// experiments and impression logging.
	AnonID string

	// N is the requested item count, 1..100.
	N int

	// Tickers restricts results to articles matching any of these
	// 6-digit issuer codes. Empty means no filter.
	Tickers []string

	// Lang restricts results to one language code. Empty means no
	// filter.
	Lang string

	// Personalized requests preference-based re-ranking.
	Personalized bool

	// Diversity requests MMR de-duplication of near-identical items.
	Diversity bool

	// Sort is the final page order: "rank" (default) or "recent".
	Sort string
}

// RankedNews is one article in a ranked response, with the serving
// state that produced its position.
type RankedNews struct {
	News             *models.News      `json:"news"`
	Score            *models.NewsScore `json:"score,omitempty"`
	Topic            *models.NewsTopic `json:"topic,omitempty"`
	Position         int               `json:"position"`
	Personalized     bool              `json:"personalized"`
	DiversityApplied bool              `json:"diversity_applied"`
	MLFallback       bool              `json:"ml_fallback"`
}

// ExperimentTag names the A/B cell a response was served under.
type ExperimentTag struct {
	Key     string `json:"key"`
	Variant string `json:"variant"`
}

// TopNewsResult is the facade's answer to a TopNewsQuery.
type TopNewsResult struct {
	Items []RankedNews `json:"items"`

	// Degraded marks responses assembled from fallbacks after a
	// component failure or deadline expiry.
	Degraded bool `json:"degraded"`

	// Experiment is set only while an active experiment covers the
	// requesting user.
	Experiment *ExperimentTag `json:"experiment,omitempty"`
}

// NewsService is the query facade over ranking, personalization,
// diversity, experiments and telemetry.
type NewsService interface {
	// TopNews runs the full serving pipeline for one request.
	TopNews(ctx context.Context, query TopNewsQuery) (*TopNewsResult, error)

	// GetNews returns one article with its score and topic link.
	GetNews(ctx context.Context, id uint64) (*RankedNews, error)

	// RecordClick logs a click with optional dwell time in ms.
	RecordClick(ctx context.Context, anonID string, newsID uint64, dwellTimeMs int64) error
}
