// -----------------------------------------------------------------------
// Enrichment Pipeline - asynchronous ML scoring, summaries and
// embeddings for newly saved articles
// -----------------------------------------------------------------------

package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/singleflight"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
	"github.com/ternarybob/nuntius/internal/services/scoring"
	"github.com/ternarybob/nuntius/internal/services/workers"
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 256
	defaultMaxAttempts = 10
	drainBatchSize     = 100
	maxSummaryRunes    = 240
)

// Service subscribes to news.saved and enriches each article: ML
// importance overwrites the rule score, a summary is attached and the
// embedding is stored for clustering. Every ML call degrades gracefully;
// embeddings that cannot be computed land in the backlog.
type Service struct {
	ml         interfaces.MLClient
	news       interfaces.NewsStorage
	scores     interfaces.ScoreStorage
	embeddings interfaces.EmbeddingStorage
	backlog    interfaces.BacklogStorage
	events     interfaces.EventService
	scorer     *scoring.Scorer
	logger     arbor.ILogger

	pool        *workers.Pool
	group       singleflight.Group
	maxAttempts int
}

// NewService creates the enrichment pipeline.
func NewService(
	ml interfaces.MLClient,
	news interfaces.NewsStorage,
	scores interfaces.ScoreStorage,
	embeddings interfaces.EmbeddingStorage,
	backlog interfaces.BacklogStorage,
	events interfaces.EventService,
	scorer *scoring.Scorer,
	workerCount, queueSize, maxAttempts int,
	logger arbor.ILogger,
) *Service {
	if workerCount <= 0 {
		workerCount = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Service{
		ml:          ml,
		news:        news,
		scores:      scores,
		embeddings:  embeddings,
		backlog:     backlog,
		events:      events,
		scorer:      scorer,
		pool:        workers.NewPoolWithQueue(workerCount, queueSize, logger),
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Start launches the worker pool and subscribes to news.saved.
func (s *Service) Start(ctx context.Context) error {
	s.pool.Start()
	return s.events.Subscribe(interfaces.EventNewsSaved, s.handleNewsSaved)
}

// Stop drains the worker pool. Events arriving afterwards spill to the
// backlog instead of being processed.
func (s *Service) Stop() error {
	s.pool.Shutdown()
	return nil
}

// EnqueueEmbedding requests enrichment for one article. When the pool
// is saturated the article lands in the backlog instead.
func (s *Service) EnqueueEmbedding(newsID uint64) {
	job := func(ctx context.Context) error {
		s.enrichOne(ctx, newsID)
		return nil
	}
	if !s.pool.TrySubmit(job) {
		s.spill(context.Background(), newsID, errors.New("enrichment pool saturated"))
	}
}

// DrainBacklog retries backlog entries while the ML circuit is closed.
// Returns how many entries were embedded.
func (s *Service) DrainBacklog(ctx context.Context) (int, error) {
	if state := s.ml.State(); state != interfaces.BreakerClosed {
		s.logger.Debug().Str("breaker_state", string(state)).Msg("Backlog drain skipped, ML circuit not closed")
		return 0, nil
	}

	entries, err := s.backlog.List(ctx, drainBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list embedding backlog: %w", err)
	}

	drained := 0
	for _, entry := range entries {
		news, err := s.news.GetNews(ctx, entry.NewsID)
		if errors.Is(err, models.ErrNotFound) {
			s.deleteBacklogEntry(ctx, entry.NewsID)
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Int64("news_id", int64(entry.NewsID)).Msg("Backlog drain: article lookup failed")
			continue
		}

		if err := s.embedOne(ctx, news); err != nil {
			s.recordBacklogFailure(ctx, entry, err)
			if errors.Is(err, models.ErrCircuitOpen) {
				break
			}
			continue
		}

		s.deleteBacklogEntry(ctx, entry.NewsID)
		drained++
	}

	if drained > 0 {
		s.logger.Info().Int("drained", drained).Msg("Embedding backlog drained")
	}
	return drained, nil
}

// BacklogSize returns the current backlog depth.
func (s *Service) BacklogSize(ctx context.Context) (int, error) {
	return s.backlog.Count(ctx)
}

func (s *Service) handleNewsSaved(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(interfaces.NewsSavedPayload)
	if !ok {
		return fmt.Errorf("unexpected news.saved payload type %T", event.Payload)
	}
	s.EnqueueEmbedding(payload.NewsID)
	return nil
}

// enrichOne runs the full pipeline for one article. Importance and
// summary failures fall back and move on; embedding failures spill to
// the backlog.
func (s *Service) enrichOne(ctx context.Context, newsID uint64) {
	news, err := s.news.GetNews(ctx, newsID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("news_id", int64(newsID)).Msg("Enrichment skipped, article not found")
		return
	}

	s.applyImportance(ctx, news)

	if err := s.embedOne(ctx, news); err != nil {
		s.spill(ctx, news.ID, err)
	}
}

// applyImportance overwrites the rule score with the ML probability and
// attaches a summary. The rule score stays authoritative when the ML
// service is unavailable.
func (s *Service) applyImportance(ctx context.Context, news *models.News) {
	score, err := s.scores.GetScore(ctx, news.ID)
	if errors.Is(err, models.ErrNotFound) {
		score = s.scorer.Score(news, models.DefaultSourceWeight, time.Now().UTC())
	} else if err != nil {
		s.logger.Warn().Err(err).Int64("news_id", int64(news.ID)).Msg("Score lookup failed, skipping ML importance")
		return
	}

	items := []interfaces.ImportanceItem{{NewsID: news.ID, Title: news.Title, Body: news.Body}}
	results, err := s.ml.ScoreImportance(ctx, items)
	if err != nil {
		s.logger.Debug().Err(err).Int64("news_id", int64(news.ID)).Msg("ML importance unavailable, keeping rule score")
	} else if len(results) > 0 {
		scoring.ApplyMLProbability(score, results[0].Probability, s.ml.ModelVersion(), time.Now().UTC())
	}

	if score.Summary == "" {
		summary, err := s.ml.Summarize(ctx, news.Title, news.Body)
		if err != nil {
			summary = FallbackSummary(news.Body)
			s.logger.Debug().Err(err).Int64("news_id", int64(news.ID)).Msg("ML summary unavailable, using leading sentences")
		}
		score.Summary = summary
	}

	if err := s.scores.SaveScore(ctx, score); err != nil {
		s.logger.Warn().Err(err).Int64("news_id", int64(news.ID)).Msg("Failed to save enriched score")
	}
}

// embedOne fetches and stores the embedding for one article. Concurrent
// requests for the same article share a single ML call.
func (s *Service) embedOne(ctx context.Context, news *models.News) error {
	key := strconv.FormatUint(news.ID, 10)
	_, err, _ := s.group.Do(key, func() (interface{}, error) {
		items := []interfaces.EmbedItem{{NewsID: news.ID, Text: embedText(news)}}
		results, err := s.ml.Embed(ctx, items)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 || len(results[0].Vector) == 0 {
			return nil, fmt.Errorf("ML service returned no vector for news %d", news.ID)
		}

		embedding := &models.NewsEmbedding{
			NewsID:       news.ID,
			Vector:       results[0].Vector,
			Norm:         models.VectorNorm(results[0].Vector),
			ModelVersion: s.ml.ModelVersion(),
			CreatedAt:    time.Now().UTC(),
		}
		return nil, s.embeddings.SaveEmbedding(ctx, embedding)
	})
	return err
}

// spill parks an article in the backlog for the drain job.
func (s *Service) spill(ctx context.Context, newsID uint64, cause error) {
	now := time.Now().UTC()
	entry := &models.EmbeddingBacklog{
		NewsID:      newsID,
		Attempts:    1,
		LastError:   cause.Error(),
		EnqueuedAt:  now,
		LastTriedAt: now,
	}
	if err := s.backlog.Enqueue(ctx, entry); err != nil {
		s.logger.Error().Err(err).Int64("news_id", int64(newsID)).Msg("Failed to enqueue embedding backlog")
		return
	}
	s.logger.Debug().Err(cause).Int64("news_id", int64(newsID)).Msg("Embedding deferred to backlog")
}

// recordBacklogFailure bumps the attempt counter and drops entries that
// exhausted their retries.
func (s *Service) recordBacklogFailure(ctx context.Context, entry *models.EmbeddingBacklog, cause error) {
	entry.Attempts++
	entry.LastError = cause.Error()
	entry.LastTriedAt = time.Now().UTC()

	if entry.Attempts >= s.maxAttempts {
		s.logger.Warn().
			Int64("news_id", int64(entry.NewsID)).
			Int("attempts", entry.Attempts).
			Msg("Embedding backlog entry dropped after max attempts")
		s.deleteBacklogEntry(ctx, entry.NewsID)
		return
	}

	if err := s.backlog.Enqueue(ctx, entry); err != nil {
		s.logger.Error().Err(err).Int64("news_id", int64(entry.NewsID)).Msg("Failed to update embedding backlog")
	}
}

func (s *Service) deleteBacklogEntry(ctx context.Context, newsID uint64) {
	if err := s.backlog.Delete(ctx, newsID); err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Warn().Err(err).Int64("news_id", int64(newsID)).Msg("Failed to delete embedding backlog entry")
	}
}

// embedText composes the text sent to the embedding endpoint.
func embedText(news *models.News) string {
	return news.Title + "\n" + news.Body
}

// FallbackSummary builds a summary from the first two sentences when
// the ML service cannot provide one. At most 240 runes.
func FallbackSummary(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	end := len(text)
	count := 0
loop:
	for i, r := range text {
		switch r {
		case '.', '!', '?', '…':
			count++
			if count == 2 {
				end = i + utf8.RuneLen(r)
				break loop
			}
		}
	}

	summary := strings.TrimSpace(text[:end])
	runes := []rune(summary)
	if len(runes) > maxSummaryRunes {
		summary = string(runes[:maxSummaryRunes-1]) + "…"
	}
	return summary
}
