// -----------------------------------------------------------------------
// Candidate Loader - joins recent articles with their scores, topics
// and embeddings for the serving pipeline
// -----------------------------------------------------------------------

package ranking

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/nuntius/internal/interfaces"
)

// CandidateCap returns the fetch depth for a request of n items: wide
// enough that ticker filtering and diversity still fill the page.
func CandidateCap(n int) int {
	if 5*n > 100 {
		return 5 * n
	}
	return 100
}

// Loader joins articles with their serving signals in bulk.
type Loader struct {
	news       interfaces.NewsStorage
	scores     interfaces.ScoreStorage
	topics     interfaces.TopicStorage
	embeddings interfaces.EmbeddingStorage
}

// NewLoader creates a candidate loader over the storage layer.
func NewLoader(news interfaces.NewsStorage, scores interfaces.ScoreStorage, topics interfaces.TopicStorage, embeddings interfaces.EmbeddingStorage) *Loader {
	return &Loader{news: news, scores: scores, topics: topics, embeddings: embeddings}
}

// LoadTop returns the top-k candidates among articles published at or
// after since, ordered by stored rank score with recency breaking
// ties. Unscored articles rank at zero rather than being dropped.
func (l *Loader) LoadTop(ctx context.Context, since time.Time, k int) ([]*Candidate, error) {
	items, err := l.news.ListRecentNews(ctx, since, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent news: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]uint64, len(items))
	for i, news := range items {
		ids[i] = news.ID
	}
	scores, err := l.scores.GetScores(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load scores: %w", err)
	}

	candidates := make([]*Candidate, 0, len(items))
	for _, news := range items {
		candidates = append(candidates, NewCandidate(news, scores[news.ID], nil, nil))
	}
	SortByRank(candidates)
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}

	if err := l.attachSignals(ctx, candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

// LoadByIDs returns candidates for specific articles, preserving the
// given ID order and skipping IDs that no longer exist.
func (l *Loader) LoadByIDs(ctx context.Context, ids []uint64) ([]*Candidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	newsByID, err := l.news.GetNewsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load news: %w", err)
	}
	scores, err := l.scores.GetScores(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load scores: %w", err)
	}

	candidates := make([]*Candidate, 0, len(ids))
	for _, id := range ids {
		news, ok := newsByID[id]
		if !ok {
			continue
		}
		candidates = append(candidates, NewCandidate(news, scores[id], nil, nil))
	}

	if err := l.attachSignals(ctx, candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

// attachSignals joins topic assignments and embeddings onto built
// candidates. Both signals are optional per article.
func (l *Loader) attachSignals(ctx context.Context, candidates []*Candidate) error {
	if len(candidates) == 0 {
		return nil
	}

	ids := make([]uint64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.News.ID
	}

	topics, err := l.topics.GetTopics(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load topics: %w", err)
	}
	embeddings, err := l.embeddings.GetEmbeddings(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	for _, c := range candidates {
		c.Topic = topics[c.News.ID]
		c.Embedding = embeddings[c.News.ID]
	}
	return nil
}

// LoadClickProfile builds a user's recent-click profile for affinity
// and novelty scoring. The window is the personalizer's 7-day click
// horizon.
func LoadClickProfile(ctx context.Context, loader *Loader, telemetry interfaces.TelemetryStorage, anonID string, now time.Time) (*ClickProfile, error) {
	clicks, err := telemetry.ListClicksByUser(ctx, anonID, now.AddDate(0, 0, -7))
	if err != nil {
		return nil, fmt.Errorf("failed to load click history: %w", err)
	}
	if len(clicks) == 0 {
		return NewClickProfile(nil), nil
	}

	seen := make(map[uint64]struct{}, len(clicks))
	ids := make([]uint64, 0, len(clicks))
	for _, click := range clicks {
		if _, ok := seen[click.NewsID]; ok {
			continue
		}
		seen[click.NewsID] = struct{}{}
		ids = append(ids, click.NewsID)
	}

	clicked, err := loader.LoadByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load clicked articles: %w", err)
	}
	return NewClickProfile(clicked), nil
}
