// -----------------------------------------------------------------------
// Personalizer - four-factor re-rank blending importance, recency,
// user relevance and novelty against the user's click history
// -----------------------------------------------------------------------

package ranking

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/nuntius/internal/models"
)

// Blend weights of the personalized rank score.
const (
	importanceWeight = 0.45
	recencyWeight    = 0.20
	relevanceWeight  = 0.25
	noveltyWeight    = 0.10

	tickerOverlapWeight  = 0.5
	keywordOverlapWeight = 0.3
	clickAffinityWeight  = 0.2

	// recencyDecayHours controls exp(-ageHours/decay).
	recencyDecayHours = 24.0
)

type clickedItem struct {
	candidate *Candidate
	source    string
	tickers   map[string]struct{}
}

// ClickProfile is a user's recent click history prepared for affinity
// and novelty lookups. Build it from the clicked articles of the
// 7-day window, joined with their scores and embeddings.
type ClickProfile struct {
	items []clickedItem
}

// NewClickProfile indexes clicked articles by source and matched
// tickers. A nil or empty slice yields a profile with zero affinity
// and full novelty.
func NewClickProfile(clicked []*Candidate) *ClickProfile {
	profile := &ClickProfile{items: make([]clickedItem, 0, len(clicked))}
	for _, c := range clicked {
		if c == nil || c.News == nil {
			continue
		}
		item := clickedItem{candidate: c, source: c.News.Source}
		if c.Score != nil {
			codes := c.Score.TickersFound()
			item.tickers = make(map[string]struct{}, len(codes))
			for _, code := range codes {
				item.tickers[code] = struct{}{}
			}
		}
		profile.items = append(profile.items, item)
	}
	return profile
}

// Size returns the number of clicks in the profile.
func (p *ClickProfile) Size() int {
	return len(p.items)
}

// Affinity returns the share of recent clicks that match the candidate
// by source or by a common ticker.
func (p *ClickProfile) Affinity(c *Candidate) float64 {
	if len(p.items) == 0 {
		return 0
	}

	var codes []string
	if c.Score != nil {
		codes = c.Score.TickersFound()
	}

	matched := 0
	for _, item := range p.items {
		if item.source == c.News.Source {
			matched++
			continue
		}
		for _, code := range codes {
			if _, ok := item.tickers[code]; ok {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(p.items))
}

// Novelty returns 1 minus the candidate's maximum similarity to any
// recently clicked article. An empty profile is fully novel.
func (p *ClickProfile) Novelty(c *Candidate) float64 {
	maxSim := 0.0
	for _, item := range p.items {
		if sim := Similarity(c, item.candidate); sim > maxSim {
			maxSim = sim
		}
	}
	return 1 - maxSim
}

// Personalize overwrites each candidate's RankScore with the blended
// personal score and sorts the slice. A nil or empty preference leaves
// the stored rank scores untouched and reduces to importance order.
func Personalize(candidates []*Candidate, pref *models.UserPreference, history *ClickProfile, now time.Time) {
	if pref == nil || pref.Empty() {
		SortByRank(candidates)
		return
	}
	if history == nil {
		history = NewClickProfile(nil)
	}

	for _, c := range candidates {
		c.RankScore = blend(c, pref, history, now)
	}
	SortByRank(candidates)
}

// SortByRank orders candidates by RankScore descending, ties by
// publishedAt descending, then by news ID for determinism.
func SortByRank(candidates []*Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.RankScore != b.RankScore {
			return a.RankScore > b.RankScore
		}
		if !a.News.PublishedAt.Equal(b.News.PublishedAt) {
			return a.News.PublishedAt.After(b.News.PublishedAt)
		}
		return a.News.ID < b.News.ID
	})
}

func blend(c *Candidate, pref *models.UserPreference, history *ClickProfile, now time.Time) float64 {
	importance := 0.0
	if c.Score != nil {
		importance = clamp01(c.Score.RankScore)
	}

	age := c.News.AgeHours(now)
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-age / recencyDecayHours)

	relevance := tickerOverlapWeight*tickerOverlap(pref.InterestTickers, c) +
		keywordOverlapWeight*keywordOverlap(pref.InterestKeywords, c.News) +
		clickAffinityWeight*history.Affinity(c)

	novelty := history.Novelty(c)

	return importanceWeight*importance + recencyWeight*recency +
		relevanceWeight*relevance + noveltyWeight*novelty
}

// tickerOverlap is the fraction of the user's interest tickers the
// article matched.
func tickerOverlap(interests []string, c *Candidate) float64 {
	if len(interests) == 0 || c.Score == nil {
		return 0
	}

	found := c.Score.TickersFound()
	if len(found) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(found))
	for _, code := range found {
		set[code] = struct{}{}
	}

	matched := 0
	for _, code := range interests {
		if _, ok := set[code]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(interests))
}

// keywordOverlap is the fraction of the user's interest keywords
// present in the article text, matched case-insensitively.
func keywordOverlap(keywords []string, news *models.News) float64 {
	if len(keywords) == 0 {
		return 0
	}

	text := strings.ToLower(news.Title + " " + news.Body)
	matched := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
