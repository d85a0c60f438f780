// -----------------------------------------------------------------------
// Rule Scorer - deterministic importance scoring from source weight,
// ticker matches, keyword hits, and freshness
// -----------------------------------------------------------------------

package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/ternarybob/nuntius/internal/models"
	"github.com/ternarybob/nuntius/internal/services/normalizer"
	"github.com/ternarybob/nuntius/internal/services/tickers"
)

// Content-signal weights. The source weight multiplies the combined
// content signal, so two sources carrying the same story score in
// proportion to their weights.
const (
	tickersWeight   = 0.4
	keywordsWeight  = 0.3
	freshnessWeight = 0.3

	shortContentPenalty      = 0.5
	suspiciousContentPenalty = 0.5
	maxQualityPenalty        = 1.0
)

type keywordWeight struct {
	term   string
	weight float64
}

// keywordWeights maps market-moving Korean keywords to their scoring
// contribution. Disclosure-grade terms outweigh general investment
// vocabulary. Each keyword counts once per article.
var keywordWeights = []keywordWeight{
	{term: "실적", weight: 0.3},
	{term: "배당", weight: 0.3},
	{term: "ipo", weight: 0.3},
	{term: "투자", weight: 0.2},
	{term: "수익", weight: 0.2},
}

// Scorer computes rule-based importance for news articles. It is the
// save-time default and the fallback when the ML service is
// unavailable.
type Scorer struct {
	matcher    *tickers.Matcher
	normalizer *normalizer.Service
}

// NewScorer creates a rule scorer.
func NewScorer(matcher *tickers.Matcher, norm *normalizer.Service) *Scorer {
	return &Scorer{
		matcher:    matcher,
		normalizer: norm,
	}
}

// Score computes the rule-based importance for an article. The
// returned score carries the full factor breakdown in its Reason map.
func (s *Scorer) Score(news *models.News, sourceWeight float64, now time.Time) *models.NewsScore {
	if sourceWeight <= 0 {
		sourceWeight = models.DefaultSourceWeight
	}

	text := news.Title + " " + news.Body

	tickersFound := s.matcher.FindTickers(text)
	tickersHit := math.Min(1.0, s.matcher.MatchStrength(news.Title, news.Body))
	keywordsHit := keywordScore(text)
	freshness := freshnessOf(news.AgeHours(now))

	content := clip01(tickersWeight*tickersHit + keywordsWeight*keywordsHit + freshnessWeight*freshness)
	importance := 10 * clip01(sourceWeight*content)

	reason := map[string]interface{}{
		models.ReasonSourceWeight: sourceWeight,
		models.ReasonTickersHit:   tickersHit,
		models.ReasonKeywordsHit:  keywordsHit,
		models.ReasonFreshness:    freshness,
		models.ReasonTickersFound: tickersFound,
	}

	penalty := 0.0
	if s.normalizer.IsContentTooShort(news.Body) {
		penalty += shortContentPenalty
	}
	if s.normalizer.IsContentSuspicious(news.Body) {
		penalty += suspiciousContentPenalty
	}
	if penalty > maxQualityPenalty {
		penalty = maxQualityPenalty
	}
	if penalty > 0 {
		importance -= penalty
		reason[models.ReasonQualityPenalty] = penalty
	}

	if importance < 0 {
		importance = 0
	} else if importance > 10 {
		importance = 10
	}

	return &models.NewsScore{
		NewsID:     news.ID,
		Importance: importance,
		RankScore:  importance / 10,
		Reason:     reason,
		ScoredAt:   now,
	}
}

// ApplyMLProbability overwrites a rule-based score with the ML
// importance probability. The rule breakdown stays in Reason so the
// API can still explain the original ranking signals.
func ApplyMLProbability(score *models.NewsScore, probability float64, modelVersion string, now time.Time) {
	p := clip01(probability)
	score.ImportanceP = &p
	score.Importance = 10 * p
	score.RankScore = p
	score.ModelVersion = modelVersion
	score.ScoredAt = now
}

// keywordScore sums the weights of distinct keywords present in the
// text, capped at 1.0.
func keywordScore(text string) float64 {
	lower := strings.ToLower(text)

	score := 0.0
	for _, kw := range keywordWeights {
		if strings.Contains(lower, kw.term) {
			score += kw.weight
		}
	}
	if score > 1.0 {
		score = 1.0
	}

	return score
}

// freshnessOf buckets article age into the freshness contribution.
// Future-dated items count as fresh.
func freshnessOf(ageHours float64) float64 {
	switch {
	case ageHours <= 3:
		return 1.0
	case ageHours <= 24:
		return 0.5
	case ageHours <= 72:
		return 0.2
	default:
		return 0
	}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
