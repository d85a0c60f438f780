package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// NewsStorage implements the NewsStorage interface for Badger
type NewsStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewNewsStorage creates a new NewsStorage instance
func NewNewsStorage(db *BadgerDB, logger arbor.ILogger) interfaces.NewsStorage {
	return &NewsStorage{
		db:     db,
		logger: logger,
	}
}

// SaveNews assigns the next sequence ID and inserts the article.
func (s *NewsStorage) SaveNews(ctx context.Context, news *models.News) (uint64, error) {
	if err := news.Validate(); err != nil {
		return 0, fmt.Errorf("invalid news: %w", err)
	}

	if news.CreatedAt.IsZero() {
		news.CreatedAt = time.Now().UTC()
	}

	// Insert with a badger sequence; the ID field is populated from it.
	if err := s.db.Store().Insert(badgerhold.NextSequence(), news); err != nil {
		s.logger.Error().Err(err).Str("dedup_key", news.DedupKey).Msg("BadgerDB: Failed to insert news")
		return 0, fmt.Errorf("failed to save news: %w", err)
	}

	s.logger.Trace().
		Int64("news_id", int64(news.ID)).
		Str("source", news.Source).
		Msg("BadgerDB: News saved")

	return news.ID, nil
}

func (s *NewsStorage) GetNews(ctx context.Context, id uint64) (*models.News, error) {
	var news models.News
	if err := s.db.Store().Get(id, &news); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get news %d: %w", id, err)
	}
	return &news, nil
}

func (s *NewsStorage) GetNewsByIDs(ctx context.Context, ids []uint64) (map[uint64]*models.News, error) {
	result := make(map[uint64]*models.News, len(ids))
	for _, id := range ids {
		var news models.News
		if err := s.db.Store().Get(id, &news); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("failed to get news %d: %w", id, err)
		}
		result[id] = &news
	}
	return result, nil
}

func (s *NewsStorage) ExistsByDedupKey(ctx context.Context, dedupKey string) (bool, error) {
	count, err := s.db.Store().Count(&models.News{}, badgerhold.Where("DedupKey").Eq(dedupKey).Index("DedupKey"))
	if err != nil {
		return false, fmt.Errorf("failed to check dedup key: %w", err)
	}
	return count > 0, nil
}

func (s *NewsStorage) ListRecentNews(ctx context.Context, since time.Time, limit int) ([]*models.News, error) {
	var items []models.News
	if err := s.db.Store().Find(&items, badgerhold.Where("PublishedAt").Ge(since).Index("PublishedAt")); err != nil {
		return nil, fmt.Errorf("failed to list recent news: %w", err)
	}

	// Newest first; badgerhold index order is ascending.
	sort.Slice(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	result := make([]*models.News, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *NewsStorage) ListNewsBySource(ctx context.Context, source string, limit int) ([]*models.News, error) {
	var items []models.News
	query := badgerhold.Where("Source").Eq(source).Index("Source")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&items, query); err != nil {
		return nil, fmt.Errorf("failed to list news by source: %w", err)
	}

	result := make([]*models.News, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *NewsStorage) CountNews(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.News{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count news: %w", err)
	}
	return int(count), nil
}

func (s *NewsStorage) DeleteNews(ctx context.Context, id uint64) error {
	if err := s.db.Store().Delete(id, &models.News{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete news %d: %w", id, err)
	}
	return nil
}
