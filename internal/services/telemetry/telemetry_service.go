// -----------------------------------------------------------------------
// Telemetry Sink - in-memory impression/click buffers flushed to
// storage in batches, plus the nightly per-experiment rollup
// -----------------------------------------------------------------------

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/metrics"
	"github.com/ternarybob/nuntius/internal/models"
)

const (
	defaultFlushInterval = time.Second
	defaultMaxBuffered   = 500

	// maxDiversitySample caps how many shown articles the rollup
	// compares pairwise per (experiment, variant) cell.
	maxDiversitySample = 100
)

// Service buffers serving telemetry and flushes it in batches so the
// request path never waits on storage.
type Service struct {
	storage    interfaces.TelemetryStorage
	embeddings interfaces.EmbeddingStorage
	logger     arbor.ILogger

	flushInterval time.Duration
	maxBuffered   int

	mu          sync.Mutex
	impressions []*models.ImpressionLog
	clicks      []*models.ClickLog

	kick chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	started bool
}

// NewService creates the telemetry sink. Buffered events are written
// only after Start launches the background flusher, or on an explicit
// Flush.
func NewService(storage interfaces.TelemetryStorage, embeddings interfaces.EmbeddingStorage, flushInterval time.Duration, maxBuffered int, logger arbor.ILogger) *Service {
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	if maxBuffered <= 0 {
		maxBuffered = defaultMaxBuffered
	}
	return &Service{
		storage:       storage,
		embeddings:    embeddings,
		logger:        logger,
		flushInterval: flushInterval,
		maxBuffered:   maxBuffered,
		kick:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
	}
}

// RecordImpressions buffers one impression per served item. Never
// blocks on storage.
func (s *Service) RecordImpressions(impressions []*models.ImpressionLog) {
	if len(impressions) == 0 {
		return
	}

	s.mu.Lock()
	s.impressions = append(s.impressions, impressions...)
	full := len(s.impressions)+len(s.clicks) >= s.maxBuffered
	s.mu.Unlock()

	if full {
		s.requestFlush()
	}
}

// RecordClick buffers one click event. Never blocks on storage.
func (s *Service) RecordClick(click *models.ClickLog) {
	if click == nil {
		return
	}

	s.mu.Lock()
	s.clicks = append(s.clicks, click)
	full := len(s.impressions)+len(s.clicks) >= s.maxBuffered
	s.mu.Unlock()

	if full {
		s.requestFlush()
	}
}

// requestFlush nudges the background flusher without blocking the
// caller. A kick already in flight covers this one too.
func (s *Service) requestFlush() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Flush drains both buffers and writes them as batch inserts. Events
// are dropped on write failure rather than requeued.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	impressions := s.impressions
	clicks := s.clicks
	s.impressions = nil
	s.clicks = nil
	s.mu.Unlock()

	if len(impressions) == 0 && len(clicks) == 0 {
		return nil
	}

	var errs []error
	if len(impressions) > 0 {
		if err := s.storage.SaveImpressions(ctx, impressions); err != nil {
			errs = append(errs, fmt.Errorf("failed to save %d impressions: %w", len(impressions), err))
		} else {
			metrics.TelemetryEventsFlushed.WithLabelValues("impression").Add(float64(len(impressions)))
		}
	}
	if len(clicks) > 0 {
		if err := s.storage.SaveClicks(ctx, clicks); err != nil {
			errs = append(errs, fmt.Errorf("failed to save %d clicks: %w", len(clicks), err))
		} else {
			metrics.TelemetryEventsFlushed.WithLabelValues("click").Add(float64(len(clicks)))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.logger.Debug().
		Int("impressions", len(impressions)).
		Int("clicks", len(clicks)).
		Msg("Telemetry batch flushed")

	return nil
}

// Start launches the background flusher. It runs until the context is
// cancelled or Stop is called, flushing whatever remains on exit.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("telemetry sink already started")
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.flushLoop(ctx)

	s.logger.Info().
		Dur("flush_interval", s.flushInterval).
		Int("max_buffered", s.maxBuffered).
		Msg("Telemetry sink started")

	return nil
}

// Stop flushes remaining events and stops the background flusher.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()

	s.logger.Info().Msg("Telemetry sink stopped")
	return nil
}

func (s *Service) flushLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flushOnce(ctx)
		case <-s.kick:
			s.flushOnce(ctx)
		case <-ctx.Done():
			s.finalFlush()
			return
		case <-s.stop:
			s.finalFlush()
			return
		}
	}
}

func (s *Service) flushOnce(ctx context.Context) {
	if err := s.Flush(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Telemetry flush failed, batch dropped")
	}
}

// finalFlush runs after the serving context is gone, so it writes with
// a fresh background context.
func (s *Service) finalFlush() {
	if err := s.Flush(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("Final telemetry flush failed")
	}
}

// groupKey identifies one rollup cell.
type groupKey struct {
	experimentKey string
	variant       string
}

// rollupCell accumulates one day of raw events for a cell.
type rollupCell struct {
	impressions int64
	clicks      int64
	dwellMs     int64
	newsIDs     map[uint64]struct{}
}

// RunDailyRollup aggregates one UTC day of impressions and clicks into
// per-(experiment, variant) metrics rows. Events logged outside any
// experiment carry no experiment key and are skipped.
func (s *Service) RunDailyRollup(ctx context.Context, datePartition string) error {
	if datePartition == "" {
		return fmt.Errorf("%w: date partition is required", models.ErrValidation)
	}

	started := time.Now()

	impressions, err := s.storage.ListImpressionsByDate(ctx, datePartition)
	if err != nil {
		return fmt.Errorf("failed to list impressions for %s: %w", datePartition, err)
	}
	clicks, err := s.storage.ListClicksByDate(ctx, datePartition)
	if err != nil {
		return fmt.Errorf("failed to list clicks for %s: %w", datePartition, err)
	}

	cells := make(map[groupKey]*rollupCell)
	cellFor := func(experimentKey, variant string) *rollupCell {
		key := groupKey{experimentKey: experimentKey, variant: variant}
		cell, ok := cells[key]
		if !ok {
			cell = &rollupCell{newsIDs: make(map[uint64]struct{})}
			cells[key] = cell
		}
		return cell
	}

	for _, impression := range impressions {
		if impression.ExperimentKey == "" {
			continue
		}
		cell := cellFor(impression.ExperimentKey, impression.Variant)
		cell.impressions++
		cell.newsIDs[impression.NewsID] = struct{}{}
	}
	for _, click := range clicks {
		if click.ExperimentKey == "" {
			continue
		}
		cell := cellFor(click.ExperimentKey, click.Variant)
		cell.clicks++
		cell.dwellMs += click.DwellTimeMs
	}

	keys := make([]groupKey, 0, len(cells))
	for key := range cells {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].experimentKey != keys[j].experimentKey {
			return keys[i].experimentKey < keys[j].experimentKey
		}
		return keys[i].variant < keys[j].variant
	})

	for _, key := range keys {
		cell := cells[key]

		row := &models.ExperimentMetricsDaily{
			Key:           models.MetricsKey(key.experimentKey, key.variant, datePartition),
			ExperimentKey: key.experimentKey,
			Variant:       key.variant,
			DatePartition: datePartition,
			Impressions:   cell.impressions,
			Clicks:        cell.clicks,
		}

		denominator := cell.impressions
		if denominator < 1 {
			denominator = 1
		}
		row.CTR = float64(cell.clicks) / float64(denominator)
		if cell.clicks > 0 {
			row.AvgDwellMs = float64(cell.dwellMs) / float64(cell.clicks)
		}
		row.DiversityScore = s.diversityScore(ctx, cell.newsIDs)

		if err := s.storage.SaveDailyMetrics(ctx, row); err != nil {
			return fmt.Errorf("failed to save metrics for %s/%s: %w", key.experimentKey, key.variant, err)
		}
	}

	s.logger.Info().
		Str("date_partition", datePartition).
		Int("impressions", len(impressions)).
		Int("clicks", len(clicks)).
		Int("cells", len(cells)).
		Dur("duration", time.Since(started)).
		Msg("Daily telemetry rollup completed")

	return nil
}

// diversityScore measures how spread out a cell's shown articles were:
// 1 minus the average pairwise cosine similarity of their embeddings.
// Fewer than two embedded articles scores 1.
func (s *Service) diversityScore(ctx context.Context, newsIDs map[uint64]struct{}) float64 {
	if len(newsIDs) < 2 {
		return 1
	}

	ids := make([]uint64, 0, len(newsIDs))
	for id := range newsIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > maxDiversitySample {
		ids = ids[:maxDiversitySample]
	}

	stored, err := s.embeddings.GetEmbeddings(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load embeddings for diversity score")
		return 1
	}

	vectors := make([]*models.NewsEmbedding, 0, len(stored))
	for _, id := range ids {
		if embedding, ok := stored[id]; ok && embedding.Norm > 0 {
			vectors = append(vectors, embedding)
		}
	}
	if len(vectors) < 2 {
		return 1
	}

	var total float64
	pairs := 0
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			sim := models.CosineSimilarity(vectors[i], vectors[j])
			if sim < 0 {
				sim = 0
			}
			total += sim
			pairs++
		}
	}

	score := 1 - total/float64(pairs)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
