// -----------------------------------------------------------------------
// News Query Facade - composes the ranked feed: candidate load, ticker
// and language filters, personalization, diversity, experiment tagging
// and impression logging
// -----------------------------------------------------------------------

package news

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
	"github.com/ternarybob/nuntius/internal/services/ranking"
)

// serveWindow bounds how old a served article may be. It matches the
// clustering lookback so topic signals cover the whole feed.
const serveWindow = 72 * time.Hour

// Service implements NewsService over the candidate loader and the
// optional re-ranking stages. Stage failures off the critical read
// path degrade to the stored rule-based rank instead of erroring.
type Service struct {
	loader      *ranking.Loader
	users       interfaces.UserStorage
	clicks      interfaces.TelemetryStorage
	sink        interfaces.TelemetryService
	experiments interfaces.ExperimentService
	logger      arbor.ILogger

	mmrLambda float64
	now       func() time.Time
}

// NewService creates the news query facade.
func NewService(
	loader *ranking.Loader,
	users interfaces.UserStorage,
	telemetry interfaces.TelemetryStorage,
	sink interfaces.TelemetryService,
	experiments interfaces.ExperimentService,
	mmrLambda float64,
	logger arbor.ILogger,
) *Service {
	if mmrLambda <= 0 || mmrLambda > 1 {
		mmrLambda = ranking.DefaultLambda
	}
	return &Service{
		loader:      loader,
		users:       users,
		clicks:      telemetry,
		sink:        sink,
		experiments: experiments,
		logger:      logger,
		mmrLambda:   mmrLambda,
		now:         time.Now,
	}
}

// TopNews runs the serving pipeline: load top candidates, filter,
// personalize and diversify on request, tag the experiment bucket,
// truncate and emit impressions.
func (s *Service) TopNews(ctx context.Context, query interfaces.TopNewsQuery) (*interfaces.TopNewsResult, error) {
	if err := validateQuery(&query); err != nil {
		return nil, err
	}

	now := s.now()
	candidates, err := s.loader.LoadTop(ctx, now.Add(-serveWindow), ranking.CandidateCap(query.N))
	if err != nil {
		return nil, fmt.Errorf("failed to load feed candidates: %w", err)
	}
	candidates = filterCandidates(candidates, query)

	degraded := false
	personalized := false
	if query.Personalized && query.AnonID != "" {
		applied, err := s.personalize(ctx, candidates, query.AnonID, now)
		if err != nil {
			degraded = true
			s.logger.Warn().Err(err).
				Str("anon_id", query.AnonID).
				Msg("Personalization failed, serving rule-based rank")
		}
		personalized = applied
	}

	diversityApplied := false
	if query.Diversity {
		candidates = ranking.ApplyMMR(candidates, query.N, s.mmrLambda)
		diversityApplied = true
	} else if len(candidates) > query.N {
		candidates = candidates[:query.N]
	}

	if query.Sort == interfaces.SortRecent {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].News.PublishedAt.After(candidates[j].News.PublishedAt)
		})
	}

	assignment := s.assignment(ctx, query.AnonID, &degraded)

	result := &interfaces.TopNewsResult{
		Items:    make([]interfaces.RankedNews, len(candidates)),
		Degraded: degraded,
	}
	if assignment.Active {
		result.Experiment = &interfaces.ExperimentTag{
			Key:     assignment.ExperimentKey,
			Variant: assignment.Variant,
		}
	}

	impressions := make([]*models.ImpressionLog, len(candidates))
	partition := models.DatePartitionOf(now)
	for i, c := range candidates {
		result.Items[i] = interfaces.RankedNews{
			News:             c.News,
			Score:            c.Score,
			Topic:            c.Topic,
			Position:         i + 1,
			Personalized:     personalized,
			DiversityApplied: diversityApplied,
			MLFallback:       mlFallback(c.Score),
		}

		impression := &models.ImpressionLog{
			AnonID:           query.AnonID,
			NewsID:           c.News.ID,
			ShownAt:          now,
			Position:         i + 1,
			RankScore:        c.RankScore,
			Personalized:     personalized,
			DiversityApplied: diversityApplied,
			Degraded:         degraded,
			DatePartition:    partition,
		}
		if c.Score != nil {
			impression.Importance = c.Score.Importance
		}
		if assignment.Active {
			impression.ExperimentKey = assignment.ExperimentKey
			impression.Variant = assignment.Variant
		}
		impressions[i] = impression
	}
	if len(impressions) > 0 {
		s.sink.RecordImpressions(impressions)
	}

	s.logger.Debug().
		Int("items", len(result.Items)).
		Bool("personalized", personalized).
		Bool("diversity", diversityApplied).
		Bool("degraded", degraded).
		Str("variant", assignment.Variant).
		Msg("Top news served")

	return result, nil
}

// GetNews returns one article joined with its score and topic.
func (s *Service) GetNews(ctx context.Context, id uint64) (*interfaces.RankedNews, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: news id is required", models.ErrValidation)
	}

	candidates, err := s.loader.LoadByIDs(ctx, []uint64{id})
	if err != nil {
		return nil, fmt.Errorf("failed to load news %d: %w", id, err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: news %d", models.ErrNotFound, id)
	}

	c := candidates[0]
	return &interfaces.RankedNews{
		News:       c.News,
		Score:      c.Score,
		Topic:      c.Topic,
		MLFallback: mlFallback(c.Score),
	}, nil
}

// RecordClick buffers a click event tagged with the user's experiment
// bucket so the rollup attributes it to the same variant as the
// impression.
func (s *Service) RecordClick(ctx context.Context, anonID string, newsID uint64, dwellTimeMs int64) error {
	if anonID == "" {
		return fmt.Errorf("%w: anon id is required", models.ErrValidation)
	}
	if newsID == 0 {
		return fmt.Errorf("%w: news id is required", models.ErrValidation)
	}
	if dwellTimeMs < 0 {
		return fmt.Errorf("%w: dwell time must not be negative", models.ErrValidation)
	}

	now := s.now()
	click := &models.ClickLog{
		AnonID:        anonID,
		NewsID:        newsID,
		ClickedAt:     now,
		DwellTimeMs:   dwellTimeMs,
		DatePartition: models.DatePartitionOf(now),
	}
	if assignment, err := s.experiments.ActiveAssignment(ctx, anonID); err != nil {
		s.logger.Warn().Err(err).Msg("Experiment assignment failed, recording untagged click")
	} else if assignment.Active {
		click.ExperimentKey = assignment.ExperimentKey
		click.Variant = assignment.Variant
	}

	s.sink.RecordClick(click)
	return nil
}

// personalize re-ranks the candidates in place against the user's
// stored preference and click history. It reports whether a preference
// actually applied; errors leave the stored rank order untouched.
func (s *Service) personalize(ctx context.Context, candidates []*ranking.Candidate, anonID string, now time.Time) (bool, error) {
	pref, err := s.users.GetPreference(ctx, anonID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return false, fmt.Errorf("failed to load preference: %w", err)
	}
	if pref == nil || pref.Empty() || !pref.PersonalizationEnabled {
		return false, nil
	}

	history, err := ranking.LoadClickProfile(ctx, s.loader, s.clicks, anonID, now)
	if err != nil {
		return false, fmt.Errorf("failed to load click history: %w", err)
	}

	ranking.Personalize(candidates, pref, history, now)
	return true, nil
}

// assignment tags the response with the user's experiment bucket.
// Assignment reads are off the critical path, so a failure serves
// untagged instead of erroring.
func (s *Service) assignment(ctx context.Context, anonID string, degraded *bool) interfaces.Assignment {
	assignment, err := s.experiments.ActiveAssignment(ctx, anonID)
	if err != nil {
		*degraded = true
		s.logger.Warn().Err(err).Msg("Experiment assignment failed, serving untagged")
		return interfaces.Assignment{}
	}
	return assignment
}

func validateQuery(query *interfaces.TopNewsQuery) error {
	if query.N < 1 || query.N > 100 {
		return fmt.Errorf("%w: n must be between 1 and 100", models.ErrValidation)
	}
	switch query.Sort {
	case "", interfaces.SortRank, interfaces.SortRecent:
	default:
		return fmt.Errorf("%w: unsupported sort %q", models.ErrValidation, query.Sort)
	}
	return nil
}

// filterCandidates applies the optional ticker and language filters.
// Ticker matching goes through the scorer's stored match list, so an
// unscored article never passes a ticker filter.
func filterCandidates(candidates []*ranking.Candidate, query interfaces.TopNewsQuery) []*ranking.Candidate {
	if len(query.Tickers) == 0 && query.Lang == "" {
		return candidates
	}

	wanted := make(map[string]struct{}, len(query.Tickers))
	for _, code := range query.Tickers {
		wanted[code] = struct{}{}
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if query.Lang != "" && c.News.Lang != query.Lang {
			continue
		}
		if len(wanted) > 0 && !matchesTicker(c, wanted) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func matchesTicker(c *ranking.Candidate, wanted map[string]struct{}) bool {
	if c.Score == nil {
		return false
	}
	for _, code := range c.Score.TickersFound() {
		if _, ok := wanted[code]; ok {
			return true
		}
	}
	return false
}

// mlFallback reports whether the article's score came from the rule
// pass alone, without a model probability.
func mlFallback(score *models.NewsScore) bool {
	return score == nil || score.ImportanceP == nil
}
