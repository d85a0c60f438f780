// -----------------------------------------------------------------------
// RSS Ingestor - polls the source catalog, saves articles that clear
// the dedup index and rule-scores them in the same pass
// -----------------------------------------------------------------------

package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/metrics"
	"github.com/ternarybob/nuntius/internal/models"
	"github.com/ternarybob/nuntius/internal/services/normalizer"
	"github.com/ternarybob/nuntius/internal/services/scoring"
)

const (
	defaultSourceTimeout   = 15 * time.Second
	defaultMaxItemsPerFeed = 200
)

// Service implements IngestService. ML enrichment is not done here; each
// saved article announces itself through news.saved and the enrichment
// pipeline picks it up asynchronously.
type Service struct {
	parser     *gofeed.Parser
	sources    interfaces.SourceStorage
	news       interfaces.NewsStorage
	scores     interfaces.ScoreStorage
	normalizer *normalizer.Service
	scorer     *scoring.Scorer
	events     interfaces.EventService
	logger     arbor.ILogger

	sourceTimeout   time.Duration
	maxItemsPerFeed int

	mu         sync.RWMutex
	lastResult *models.IngestResult
}

// NewService creates the RSS ingestion service.
func NewService(
	sources interfaces.SourceStorage,
	news interfaces.NewsStorage,
	scores interfaces.ScoreStorage,
	norm *normalizer.Service,
	scorer *scoring.Scorer,
	events interfaces.EventService,
	sourceTimeout time.Duration,
	maxItemsPerFeed int,
	logger arbor.ILogger,
) *Service {
	if sourceTimeout <= 0 {
		sourceTimeout = defaultSourceTimeout
	}
	if maxItemsPerFeed <= 0 {
		maxItemsPerFeed = defaultMaxItemsPerFeed
	}

	parser := gofeed.NewParser()
	parser.UserAgent = "nuntius/1.0"

	return &Service{
		parser:          parser,
		sources:         sources,
		news:            news,
		scores:          scores,
		normalizer:      norm,
		scorer:          scorer,
		events:          events,
		sourceTimeout:   sourceTimeout,
		maxItemsPerFeed: maxItemsPerFeed,
		logger:          logger,
	}
}

// IngestAll fetches every enabled source. One source failing is recorded
// in the result and never aborts the others.
func (s *Service) IngestAll(ctx context.Context) (*models.IngestResult, error) {
	enabled, err := s.sources.ListEnabledSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled sources: %w", err)
	}

	result := s.newResult()
	s.logger.Info().Int("sources", len(enabled)).Msg("RSS ingestion started")

	for _, src := range enabled {
		if ctx.Err() != nil {
			s.logger.Warn().Err(ctx.Err()).Msg("RSS ingestion interrupted")
			break
		}
		s.ingestOne(ctx, src, result)
	}

	s.finish(ctx, result)
	return result, nil
}

// IngestSource fetches a single source by name. Disabled sources can be
// fetched this way; the admin endpoint uses it for one-off pulls.
func (s *Service) IngestSource(ctx context.Context, name string) (*models.IngestResult, error) {
	src, err := s.sources.GetSource(ctx, name)
	if err != nil {
		return nil, err
	}

	result := s.newResult()
	s.ingestOne(ctx, src, result)
	s.finish(ctx, result)
	return result, nil
}

// LastResult returns the most recent completed run, or nil.
func (s *Service) LastResult() *models.IngestResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

// ingestOne fetches a single source, records its outcome on the result
// and persists the source's fetch state.
func (s *Service) ingestOne(ctx context.Context, src *models.RssSource, result *models.IngestResult) {
	saved, err := s.fetchSource(ctx, src, result)

	now := time.Now().UTC()
	src.LastFetchedAt = &now
	if err != nil {
		src.LastError = err.Error()
		result.Errors = append(result.Errors, models.IngestError{Source: src.Name, Message: err.Error()})
		metrics.IngestSourceErrors.WithLabelValues(src.Name).Inc()
		s.logger.Warn().Err(err).Str("source", src.Name).Msg("Source ingestion failed")
	} else {
		src.LastError = ""
	}

	if saveErr := s.sources.SaveSource(ctx, src); saveErr != nil {
		s.logger.Warn().Err(saveErr).Str("source", src.Name).Msg("Failed to update source fetch state")
	}

	result.SourceCounts[src.Name] = saved
}

// fetchSource pulls one feed and saves its new items. Returns how many
// items were saved.
func (s *Service) fetchSource(ctx context.Context, src *models.RssSource, result *models.IngestResult) (int, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, src.Timeout(s.sourceTimeout))
	defer cancel()

	feed, err := s.parser.ParseURLWithContext(src.URL, fetchCtx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s: %w", src.URL, err)
	}

	items := feed.Items
	if len(items) > s.maxItemsPerFeed {
		items = items[:s.maxItemsPerFeed]
	}

	saved := 0
	for _, entry := range items {
		result.ItemsFetched++

		news, ok := s.buildNews(src, entry)
		if !ok {
			metrics.IngestArticlesSkipped.WithLabelValues(src.Name, "invalid").Inc()
			continue
		}
		result.ItemsProcessed++

		exists, err := s.news.ExistsByDedupKey(ctx, news.DedupKey)
		if err != nil {
			result.Errors = append(result.Errors, models.IngestError{Source: src.Name, Message: err.Error()})
			s.logger.Error().Err(err).Str("source", src.Name).Msg("Dedup lookup failed")
			continue
		}
		if exists {
			result.ItemsSkipped++
			metrics.IngestArticlesSkipped.WithLabelValues(src.Name, "duplicate").Inc()
			s.logger.Trace().
				Str("source", src.Name).
				Str("title", news.Title).
				Msg("Duplicate item skipped")
			continue
		}

		id, err := s.news.SaveNews(ctx, news)
		if err != nil {
			result.Errors = append(result.Errors, models.IngestError{Source: src.Name, Message: err.Error()})
			s.logger.Error().Err(err).Str("source", src.Name).Msg("Failed to save news")
			continue
		}

		score := s.scorer.Score(news, src.EffectiveWeight(), time.Now().UTC())
		if err := s.scores.SaveScore(ctx, score); err != nil {
			s.logger.Warn().Err(err).Int64("news_id", int64(id)).Msg("Failed to save rule score")
		}

		event := interfaces.Event{
			Type: interfaces.EventNewsSaved,
			Payload: interfaces.NewsSavedPayload{
				NewsID: id,
				Source: src.Name,
				Title:  news.Title,
			},
		}
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warn().Err(err).Int64("news_id", int64(id)).Msg("Failed to publish news.saved")
		}

		result.ItemsSaved++
		saved++
		metrics.IngestArticlesSaved.WithLabelValues(src.Name).Inc()
	}

	return saved, nil
}

// buildNews converts one feed entry into a News record. Entries whose
// title cleans down to nothing are dropped.
func (s *Service) buildNews(src *models.RssSource, entry *gofeed.Item) (*models.News, bool) {
	title := s.normalizer.Clean(entry.Title)
	if title == "" {
		s.logger.Debug().Str("source", src.Name).Str("url", entry.Link).Msg("Item without title skipped")
		return nil, false
	}

	published := time.Now().UTC()
	if entry.PublishedParsed != nil {
		published = entry.PublishedParsed.UTC()
	} else if entry.UpdatedParsed != nil {
		published = entry.UpdatedParsed.UTC()
	}

	body := s.normalizer.ExtractBestContent(entry.Description, entry.Content)

	return &models.News{
		Source:      src.Name,
		URL:         entry.Link,
		Title:       title,
		Body:        body,
		Lang:        s.normalizer.DetectLang(title + " " + body),
		PublishedAt: published,
		DedupKey:    s.normalizer.DedupKey(entry.Title, src.Name, published),
		CreatedAt:   time.Now().UTC(),
	}, true
}

func (s *Service) newResult() *models.IngestResult {
	return &models.IngestResult{
		StartTime:    time.Now().UTC(),
		SourceCounts: make(map[string]int),
	}
}

// finish stamps the result, stores it as the last run and announces the
// completed pass.
func (s *Service) finish(ctx context.Context, result *models.IngestResult) {
	result.EndTime = time.Now().UTC()

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()

	s.logger.Info().
		Int("fetched", result.ItemsFetched).
		Int("saved", result.ItemsSaved).
		Int("skipped", result.ItemsSkipped).
		Int("errors", len(result.Errors)).
		Str("duration", result.Duration().String()).
		Msg("RSS ingestion completed")

	event := interfaces.Event{Type: interfaces.EventIngestCompleted, Payload: result}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish ingest.completed")
	}
}
