// -----------------------------------------------------------------------
// Ranking Candidate - one article joined with its serving signals,
// plus the similarity measure shared by diversity and novelty
// -----------------------------------------------------------------------

package ranking

import (
	"github.com/ternarybob/nuntius/internal/common"
	"github.com/ternarybob/nuntius/internal/models"
)

// Candidate is one article moving through the ranking pipeline with
// its signals pre-joined. RankScore starts as the stored rule/ML rank
// and is overwritten by the personalizer when it runs.
type Candidate struct {
	News      *models.News
	Score     *models.NewsScore
	Topic     *models.NewsTopic
	Embedding *models.NewsEmbedding

	RankScore float64

	tokens map[string]struct{}
}

// NewCandidate joins an article with whatever signals exist for it.
// Score, topic and embedding may each be nil.
func NewCandidate(news *models.News, score *models.NewsScore, topic *models.NewsTopic, embedding *models.NewsEmbedding) *Candidate {
	c := &Candidate{
		News:      news,
		Score:     score,
		Topic:     topic,
		Embedding: embedding,
	}
	if score != nil {
		c.RankScore = score.RankScore
	}
	return c
}

// TopicID returns the assigned topic, or "" when unclustered.
func (c *Candidate) TopicID() string {
	if c.Topic == nil {
		return ""
	}
	return c.Topic.TopicID
}

// tokenSet lazily tokenizes the title for the Jaccard fallback.
func (c *Candidate) tokenSet() map[string]struct{} {
	if c.tokens == nil {
		fields := common.Tokenize(c.News.Title)
		c.tokens = make(map[string]struct{}, len(fields))
		for _, tok := range fields {
			c.tokens[tok] = struct{}{}
		}
	}
	return c.tokens
}

// Similarity returns the pairwise similarity in [0,1]: embedding
// cosine when both candidates carry vectors of the same dimension,
// else the Jaccard overlap of stemmed title tokens. Negative cosines
// clamp to 0.
func Similarity(a, b *Candidate) float64 {
	ae, be := a.Embedding, b.Embedding
	if ae != nil && be != nil && ae.Norm > 0 && be.Norm > 0 && len(ae.Vector) == len(be.Vector) {
		sim := models.CosineSimilarity(ae, be)
		if sim < 0 {
			return 0
		}
		if sim > 1 {
			return 1
		}
		return sim
	}
	return jaccard(a.tokenSet(), b.tokenSet())
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
