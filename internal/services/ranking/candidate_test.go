package ranking

import (
	"testing"
	"time"

	"github.com/ternarybob/nuntius/internal/models"
)

func makeCandidate(id uint64, title, source string, rank float64, published time.Time) *Candidate {
	news := &models.News{
		ID:          id,
		Source:      source,
		URL:         "https://news.example.com/" + title,
		Title:       title,
		Body:        title + " 본문.",
		Lang:        "ko",
		PublishedAt: published,
		DedupKey:    title,
	}
	score := &models.NewsScore{
		NewsID:     id,
		Importance: rank * 10,
		RankScore:  rank,
		ScoredAt:   published,
	}
	return NewCandidate(news, score, nil, nil)
}

func withEmbedding(c *Candidate, vector []float32) *Candidate {
	c.Embedding = &models.NewsEmbedding{
		NewsID:       c.News.ID,
		Vector:       vector,
		Norm:         models.VectorNorm(vector),
		ModelVersion: "embed-v1",
	}
	return c
}

func withTopic(c *Candidate, topicID string) *Candidate {
	c.Topic = &models.NewsTopic{NewsID: c.News.ID, TopicID: topicID}
	return c
}

func withTickers(c *Candidate, codes ...string) *Candidate {
	if c.Score.Reason == nil {
		c.Score.Reason = make(map[string]interface{})
	}
	c.Score.Reason[models.ReasonTickersFound] = codes
	return c
}

func TestSimilarity_CosineWhenBothEmbedded(t *testing.T) {
	now := time.Now().UTC()
	a := withEmbedding(makeCandidate(1, "삼성전자 실적 발표", "yonhap-economy", 0.9, now), []float32{1, 0, 0})
	b := withEmbedding(makeCandidate(2, "삼성전자 실적 공개", "hankyung-economy", 0.8, now), []float32{1, 0, 0})
	c := withEmbedding(makeCandidate(3, "비트코인 급등", "mk-stock", 0.5, now), []float32{0, 1, 0})

	if sim := Similarity(a, b); sim < 0.999 {
		t.Errorf("identical vectors: sim = %f, want ~1.0", sim)
	}
	if sim := Similarity(a, c); sim != 0 {
		t.Errorf("orthogonal vectors: sim = %f, want 0", sim)
	}
}

func TestSimilarity_ClampsNegativeCosine(t *testing.T) {
	now := time.Now().UTC()
	a := withEmbedding(makeCandidate(1, "상승", "yonhap-economy", 0.9, now), []float32{1, 0})
	b := withEmbedding(makeCandidate(2, "하락", "yonhap-economy", 0.9, now), []float32{-1, 0})

	if sim := Similarity(a, b); sim != 0 {
		t.Errorf("opposite vectors: sim = %f, want clamp to 0", sim)
	}
}

func TestSimilarity_JaccardFallback(t *testing.T) {
	now := time.Now().UTC()

	// No embeddings: token overlap of stemmed titles.
	a := makeCandidate(1, "삼성전자 실적 발표", "yonhap-economy", 0.9, now)
	b := makeCandidate(2, "삼성전자 실적 발표 공시", "hankyung-economy", 0.8, now)
	c := makeCandidate(3, "비트코인 급등", "mk-stock", 0.5, now)

	// {삼성전자 실적 발표} vs {삼성전자 실적 발표 공시}: 3 shared of 4.
	if sim := Similarity(a, b); sim < 0.74 || sim > 0.76 {
		t.Errorf("token overlap sim = %f, want 0.75", sim)
	}
	if sim := Similarity(a, c); sim != 0 {
		t.Errorf("disjoint titles: sim = %f, want 0", sim)
	}

	// One embedding missing falls back to tokens too.
	d := withEmbedding(makeCandidate(4, "삼성전자 실적 발표", "edaily-stock", 0.7, now), []float32{1, 0, 0})
	if sim := Similarity(a, d); sim != 1.0 {
		t.Errorf("identical titles without both vectors: sim = %f, want 1.0", sim)
	}
}

func TestSimilarity_ParticleStrippedTokens(t *testing.T) {
	now := time.Now().UTC()

	// 삼성전자가 and 삼성전자의 stem to the same token.
	a := makeCandidate(1, "삼성전자가 반도체 투자", "yonhap-economy", 0.9, now)
	b := makeCandidate(2, "삼성전자의 반도체 투자", "hankyung-economy", 0.8, now)

	if sim := Similarity(a, b); sim != 1.0 {
		t.Errorf("particle variants should match fully, sim = %f", sim)
	}
}
