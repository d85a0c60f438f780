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

// BacklogStorage implements the BacklogStorage interface for Badger
type BacklogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBacklogStorage creates a new BacklogStorage instance
func NewBacklogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BacklogStorage {
	return &BacklogStorage{
		db:     db,
		logger: logger,
	}
}

// Enqueue upserts the entry, preserving the attempt count of an
// existing one so repeated failures keep accumulating.
func (s *BacklogStorage) Enqueue(ctx context.Context, entry *models.EmbeddingBacklog) error {
	if entry.NewsID == 0 {
		return fmt.Errorf("backlog news ID is required")
	}

	var existing models.EmbeddingBacklog
	if err := s.db.Store().Get(entry.NewsID, &existing); err == nil {
		if entry.Attempts < existing.Attempts {
			entry.Attempts = existing.Attempts
		}
		entry.EnqueuedAt = existing.EnqueuedAt
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now().UTC()
	}

	if err := s.db.Store().Upsert(entry.NewsID, *entry); err != nil {
		return fmt.Errorf("failed to enqueue backlog entry %d: %w", entry.NewsID, err)
	}

	s.logger.Trace().
		Int64("news_id", int64(entry.NewsID)).
		Int("attempts", entry.Attempts).
		Msg("BadgerDB: Backlog entry enqueued")
	return nil
}

// List returns the oldest entries first, at most limit (0 = all).
func (s *BacklogStorage) List(ctx context.Context, limit int) ([]*models.EmbeddingBacklog, error) {
	var items []models.EmbeddingBacklog
	if err := s.db.Store().Find(&items, nil); err != nil {
		return nil, fmt.Errorf("failed to list backlog: %w", err)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	result := make([]*models.EmbeddingBacklog, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *BacklogStorage) Delete(ctx context.Context, newsID uint64) error {
	if err := s.db.Store().Delete(newsID, &models.EmbeddingBacklog{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete backlog entry %d: %w", newsID, err)
	}
	return nil
}

func (s *BacklogStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.EmbeddingBacklog{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count backlog: %w", err)
	}
	return int(count), nil
}
