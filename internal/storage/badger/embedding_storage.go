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

// EmbeddingStorage implements the EmbeddingStorage interface for Badger
type EmbeddingStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEmbeddingStorage creates a new EmbeddingStorage instance
func NewEmbeddingStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EmbeddingStorage {
	return &EmbeddingStorage{
		db:     db,
		logger: logger,
	}
}

func (s *EmbeddingStorage) SaveEmbedding(ctx context.Context, embedding *models.NewsEmbedding) error {
	if embedding.NewsID == 0 {
		return fmt.Errorf("embedding news ID is required")
	}
	if len(embedding.Vector) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if embedding.CreatedAt.IsZero() {
		embedding.CreatedAt = time.Now().UTC()
	}

	if err := s.db.Store().Upsert(embedding.NewsID, *embedding); err != nil {
		return fmt.Errorf("failed to save embedding for news %d: %w", embedding.NewsID, err)
	}

	s.logger.Trace().
		Int64("news_id", int64(embedding.NewsID)).
		Int("dimensions", embedding.Dimensions()).
		Msg("BadgerDB: Embedding saved")
	return nil
}

func (s *EmbeddingStorage) GetEmbedding(ctx context.Context, newsID uint64) (*models.NewsEmbedding, error) {
	var embedding models.NewsEmbedding
	if err := s.db.Store().Get(newsID, &embedding); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get embedding for news %d: %w", newsID, err)
	}
	return &embedding, nil
}

func (s *EmbeddingStorage) GetEmbeddings(ctx context.Context, newsIDs []uint64) (map[uint64]*models.NewsEmbedding, error) {
	result := make(map[uint64]*models.NewsEmbedding, len(newsIDs))
	for _, id := range newsIDs {
		var embedding models.NewsEmbedding
		if err := s.db.Store().Get(id, &embedding); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("failed to get embedding for news %d: %w", id, err)
		}
		result[id] = &embedding
	}
	return result, nil
}

// ListRecentEmbeddings returns embeddings created at or after since,
// ordered by news ID ascending for deterministic clustering passes.
func (s *EmbeddingStorage) ListRecentEmbeddings(ctx context.Context, since time.Time, limit int) ([]*models.NewsEmbedding, error) {
	var items []models.NewsEmbedding
	if err := s.db.Store().Find(&items, badgerhold.Where("CreatedAt").Ge(since)); err != nil {
		return nil, fmt.Errorf("failed to list recent embeddings: %w", err)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].NewsID < items[j].NewsID
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	result := make([]*models.NewsEmbedding, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *EmbeddingStorage) CountEmbeddings(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.NewsEmbedding{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return int(count), nil
}

func (s *EmbeddingStorage) DeleteEmbedding(ctx context.Context, newsID uint64) error {
	if err := s.db.Store().Delete(newsID, &models.NewsEmbedding{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete embedding for news %d: %w", newsID, err)
	}
	return nil
}
