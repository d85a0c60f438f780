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

// ScoreStorage implements the ScoreStorage interface for Badger
type ScoreStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewScoreStorage creates a new ScoreStorage instance
func NewScoreStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ScoreStorage {
	return &ScoreStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ScoreStorage) SaveScore(ctx context.Context, score *models.NewsScore) error {
	if score.NewsID == 0 {
		return fmt.Errorf("score news ID is required")
	}
	if score.ScoredAt.IsZero() {
		score.ScoredAt = time.Now().UTC()
	}

	// Dereference so the stored type matches Find results.
	if err := s.db.Store().Upsert(score.NewsID, *score); err != nil {
		return fmt.Errorf("failed to save score for news %d: %w", score.NewsID, err)
	}

	s.logger.Trace().
		Int64("news_id", int64(score.NewsID)).
		Float64("importance", score.Importance).
		Msg("BadgerDB: Score saved")
	return nil
}

func (s *ScoreStorage) GetScore(ctx context.Context, newsID uint64) (*models.NewsScore, error) {
	var score models.NewsScore
	if err := s.db.Store().Get(newsID, &score); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get score for news %d: %w", newsID, err)
	}
	return &score, nil
}

func (s *ScoreStorage) GetScores(ctx context.Context, newsIDs []uint64) (map[uint64]*models.NewsScore, error) {
	result := make(map[uint64]*models.NewsScore, len(newsIDs))
	for _, id := range newsIDs {
		var score models.NewsScore
		if err := s.db.Store().Get(id, &score); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("failed to get score for news %d: %w", id, err)
		}
		result[id] = &score
	}
	return result, nil
}

func (s *ScoreStorage) DeleteScore(ctx context.Context, newsID uint64) error {
	if err := s.db.Store().Delete(newsID, &models.NewsScore{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete score for news %d: %w", newsID, err)
	}
	return nil
}
