package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// TopicStorage implements the TopicStorage interface for Badger
type TopicStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTopicStorage creates a new TopicStorage instance
func NewTopicStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TopicStorage {
	return &TopicStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TopicStorage) SaveTopic(ctx context.Context, topic *models.NewsTopic) error {
	if topic.NewsID == 0 {
		return fmt.Errorf("topic news ID is required")
	}
	if topic.AssignedAt.IsZero() {
		topic.AssignedAt = time.Now().UTC()
	}

	// Upsert keeps one topic assignment per article.
	if err := s.db.Store().Upsert(topic.NewsID, *topic); err != nil {
		return fmt.Errorf("failed to save topic for news %d: %w", topic.NewsID, err)
	}
	return nil
}

func (s *TopicStorage) SaveTopics(ctx context.Context, topics []*models.NewsTopic) error {
	for _, topic := range topics {
		if err := s.SaveTopic(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

func (s *TopicStorage) GetTopic(ctx context.Context, newsID uint64) (*models.NewsTopic, error) {
	var topic models.NewsTopic
	if err := s.db.Store().Get(newsID, &topic); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get topic for news %d: %w", newsID, err)
	}
	return &topic, nil
}

func (s *TopicStorage) GetTopics(ctx context.Context, newsIDs []uint64) (map[uint64]*models.NewsTopic, error) {
	result := make(map[uint64]*models.NewsTopic, len(newsIDs))
	for _, id := range newsIDs {
		var topic models.NewsTopic
		if err := s.db.Store().Get(id, &topic); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("failed to get topic for news %d: %w", id, err)
		}
		result[id] = &topic
	}
	return result, nil
}

func (s *TopicStorage) ListByTopicID(ctx context.Context, topicID string) ([]*models.NewsTopic, error) {
	var items []models.NewsTopic
	if err := s.db.Store().Find(&items, badgerhold.Where("TopicID").Eq(topicID).Index("TopicID")); err != nil {
		return nil, fmt.Errorf("failed to list topics %s: %w", topicID, err)
	}

	result := make([]*models.NewsTopic, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *TopicStorage) DeleteTopic(ctx context.Context, newsID uint64) error {
	if err := s.db.Store().Delete(newsID, &models.NewsTopic{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete topic for news %d: %w", newsID, err)
	}
	return nil
}
