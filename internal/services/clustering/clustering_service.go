// -----------------------------------------------------------------------
// Topic Clusterer - groups recent articles into topics from their
// embeddings, locally or through the remote clustering endpoints
// -----------------------------------------------------------------------

package clustering

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/common"
	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
)

const (
	defaultSimilarityThreshold = 0.75
	defaultDuplicateThreshold  = 0.9
	defaultLookback            = 72 * time.Hour
	maxTopicKeywords           = 5
)

// Service implements ClusteringService. The local cosine single-pass is
// the default and the fallback; hdbscan and kmeans run on the remote
// ML service.
type Service struct {
	ml         interfaces.MLClient
	news       interfaces.NewsStorage
	embeddings interfaces.EmbeddingStorage
	topics     interfaces.TopicStorage
	events     interfaces.EventService
	logger     arbor.ILogger

	algorithm           string
	similarityThreshold float64
	duplicateThreshold  float64
	lookback            time.Duration

	mu         sync.RWMutex
	lastResult *models.ClusteringResult
}

// NewService creates the topic clustering service.
func NewService(
	ml interfaces.MLClient,
	news interfaces.NewsStorage,
	embeddings interfaces.EmbeddingStorage,
	topics interfaces.TopicStorage,
	events interfaces.EventService,
	algorithm string,
	similarityThreshold, duplicateThreshold float64,
	lookback time.Duration,
	logger arbor.ILogger,
) *Service {
	if algorithm == "" {
		algorithm = models.ClusteringMethodCosine
	}
	if similarityThreshold <= 0 || similarityThreshold > 1 {
		similarityThreshold = defaultSimilarityThreshold
	}
	if duplicateThreshold <= 0 || duplicateThreshold > 1 {
		duplicateThreshold = defaultDuplicateThreshold
	}
	if lookback <= 0 {
		lookback = defaultLookback
	}

	return &Service{
		ml:                  ml,
		news:                news,
		embeddings:          embeddings,
		topics:              topics,
		events:              events,
		algorithm:           algorithm,
		similarityThreshold: similarityThreshold,
		duplicateThreshold:  duplicateThreshold,
		lookback:            lookback,
		logger:              logger,
	}
}

// Run clusters with the configured algorithm.
func (s *Service) Run(ctx context.Context) (*models.ClusteringResult, error) {
	return s.RunWith(ctx, s.algorithm)
}

// RunWith clusters with an explicit algorithm, overriding configuration
// for this run.
func (s *Service) RunWith(ctx context.Context, algorithm string) (*models.ClusteringResult, error) {
	switch algorithm {
	case models.ClusteringMethodCosine, models.ClusteringMethodHDBSCAN, models.ClusteringMethodKMeans:
	default:
		return nil, fmt.Errorf("%w: unsupported clustering algorithm %q", models.ErrValidation, algorithm)
	}
	return s.run(ctx, algorithm)
}

// Optimize asks the remote service for the best k and persists the
// k-means result it returns.
func (s *Service) Optimize(ctx context.Context) (*models.ClusteringResult, error) {
	return s.run(ctx, "optimize")
}

// LastResult returns the most recent completed run, or nil.
func (s *Service) LastResult() *models.ClusteringResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

type topicGroup struct {
	id       string
	centroid []float64
	norm     float64
	members  []*models.NewsEmbedding
	sims     map[uint64]float64
}

func (s *Service) run(ctx context.Context, algorithm string) (*models.ClusteringResult, error) {
	result := &models.ClusteringResult{
		Method:    methodLabel(algorithm),
		StartTime: time.Now().UTC(),
	}

	embs, err := s.loadWindow(ctx)
	if err != nil {
		return nil, err
	}
	if len(embs) == 0 {
		s.logger.Info().Msg("Clustering skipped, no recent embeddings")
		s.finish(ctx, result)
		return result, nil
	}

	var groups []*topicGroup
	if algorithm == models.ClusteringMethodCosine {
		groups = s.cosinePass(embs)
	} else {
		groups, err = s.remotePass(ctx, algorithm, embs)
		if err != nil {
			s.logger.Warn().Err(err).Str("algorithm", algorithm).Msg("Remote clustering failed, falling back to cosine")
			result.Method = models.ClusteringMethodCosine
			groups = s.cosinePass(embs)
		}
	}

	groupIDs, duplicateGroups := s.markDuplicateGroups(groups)

	ids := make([]uint64, 0, len(embs))
	for _, g := range groups {
		for _, m := range g.members {
			ids = append(ids, m.NewsID)
		}
	}
	newsByID, err := s.news.GetNewsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load clustered articles: %w", err)
	}

	assignedAt := time.Now().UTC()
	rows := make([]*models.NewsTopic, 0, len(ids))
	for _, g := range groups {
		keywords := topicKeywords(g, newsByID)
		for _, m := range g.members {
			rows = append(rows, &models.NewsTopic{
				NewsID:           m.NewsID,
				TopicID:          g.id,
				GroupID:          groupIDs[m.NewsID],
				TopicKeywords:    keywords,
				SimilarityScore:  g.sims[m.NewsID],
				ClusteringMethod: result.Method,
				AssignedAt:       assignedAt,
			})
		}
	}

	if err := s.topics.SaveTopics(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to save topic assignments: %w", err)
	}

	result.ItemsClustered = len(rows)
	result.TopicsCreated = len(groups)
	result.DuplicateGroups = duplicateGroups
	s.finish(ctx, result)

	return result, nil
}

// loadWindow returns the lookback window's embeddings, restricted to
// the newest model version and ordered by news ID.
func (s *Service) loadWindow(ctx context.Context) ([]*models.NewsEmbedding, error) {
	since := time.Now().UTC().Add(-s.lookback)
	embs, err := s.embeddings.ListRecentEmbeddings(ctx, since, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent embeddings: %w", err)
	}
	if len(embs) == 0 {
		return nil, nil
	}

	newest := embs[0]
	for _, e := range embs {
		if e.CreatedAt.After(newest.CreatedAt) {
			newest = e
		}
	}

	window := make([]*models.NewsEmbedding, 0, len(embs))
	skipped := 0
	for _, e := range embs {
		if e.ModelVersion != newest.ModelVersion || e.Dimensions() == 0 || e.Norm == 0 {
			skipped++
			continue
		}
		window = append(window, e)
	}
	if skipped > 0 {
		s.logger.Debug().
			Int("skipped", skipped).
			Str("model_version", newest.ModelVersion).
			Msg("Embeddings from other model versions excluded")
	}

	sort.Slice(window, func(i, j int) bool { return window[i].NewsID < window[j].NewsID })
	return window, nil
}

// cosinePass runs the single-pass assignment: each article joins the
// most similar topic when the similarity clears the threshold, else it
// founds a new one. Centroids are running means.
func (s *Service) cosinePass(embs []*models.NewsEmbedding) []*topicGroup {
	groups := make([]*topicGroup, 0)

	for _, emb := range embs {
		var best *topicGroup
		bestSim := 0.0
		for _, g := range groups {
			if sim := cosineToCentroid(emb, g); sim > bestSim {
				best, bestSim = g, sim
			}
		}

		if best != nil && bestSim >= s.similarityThreshold {
			best.join(emb, bestSim)
			continue
		}

		groups = append(groups, newTopicGroup(emb))
	}

	return groups
}

// remotePass posts the window to a remote clustering endpoint and turns
// the returned labels into groups. Noise points (label -1) are left
// unassigned.
func (s *Service) remotePass(ctx context.Context, algorithm string, embs []*models.NewsEmbedding) ([]*topicGroup, error) {
	points := make([]interfaces.ClusterPoint, 0, len(embs))
	byID := make(map[uint64]*models.NewsEmbedding, len(embs))
	for _, e := range embs {
		points = append(points, interfaces.ClusterPoint{NewsID: e.NewsID, Vector: e.Vector})
		byID[e.NewsID] = e
	}

	assignments, err := s.ml.Cluster(ctx, algorithm, points)
	if err != nil {
		return nil, err
	}

	byLabel := make(map[int][]*models.NewsEmbedding)
	labels := make([]int, 0)
	for _, a := range assignments {
		if a.Label < 0 {
			continue
		}
		emb, ok := byID[a.NewsID]
		if !ok {
			continue
		}
		if _, seen := byLabel[a.Label]; !seen {
			labels = append(labels, a.Label)
		}
		byLabel[a.Label] = append(byLabel[a.Label], emb)
	}
	sort.Ints(labels)

	groups := make([]*topicGroup, 0, len(labels))
	for _, label := range labels {
		members := byLabel[label]
		g := newTopicGroup(members[0])
		for _, m := range members[1:] {
			g.join(m, 0)
		}
		// Similarity against the final centroid, since the remote
		// service assigned the labels.
		for _, m := range members {
			g.sims[m.NewsID] = cosineToCentroid(m, g)
		}
		groups = append(groups, g)
	}

	return groups, nil
}

// markDuplicateGroups assigns a shared group ID to connected components
// of near-duplicate pairs inside each topic.
func (s *Service) markDuplicateGroups(groups []*topicGroup) (map[uint64]string, int) {
	groupIDs := make(map[uint64]string)
	count := 0

	for _, g := range groups {
		n := len(g.members)
		if n < 2 {
			continue
		}

		visited := make([]bool, n)
		for i := 0; i < n; i++ {
			if visited[i] {
				continue
			}

			component := []int{i}
			visited[i] = true
			for cursor := 0; cursor < len(component); cursor++ {
				a := g.members[component[cursor]]
				for j := 0; j < n; j++ {
					if visited[j] {
						continue
					}
					if models.CosineSimilarity(a, g.members[j]) >= s.duplicateThreshold {
						visited[j] = true
						component = append(component, j)
					}
				}
			}

			if len(component) < 2 {
				continue
			}
			id := uuid.NewString()
			for _, idx := range component {
				groupIDs[g.members[idx].NewsID] = id
			}
			count++
		}
	}

	return groupIDs, count
}

func (s *Service) finish(ctx context.Context, result *models.ClusteringResult) {
	result.EndTime = time.Now().UTC()

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()

	s.logger.Info().
		Str("method", result.Method).
		Int("items", result.ItemsClustered).
		Int("topics", result.TopicsCreated).
		Int("duplicate_groups", result.DuplicateGroups).
		Str("duration", result.EndTime.Sub(result.StartTime).String()).
		Msg("Clustering pass completed")

	event := interfaces.Event{Type: interfaces.EventClusteringCompleted, Payload: result}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish clustering.completed")
	}
}

func newTopicGroup(first *models.NewsEmbedding) *topicGroup {
	centroid := make([]float64, len(first.Vector))
	for i, v := range first.Vector {
		centroid[i] = float64(v)
	}
	return &topicGroup{
		id:       uuid.NewString(),
		centroid: centroid,
		norm:     first.Norm,
		members:  []*models.NewsEmbedding{first},
		sims:     map[uint64]float64{first.NewsID: 1.0},
	}
}

// join folds a member into the running-mean centroid.
func (g *topicGroup) join(emb *models.NewsEmbedding, sim float64) {
	n := float64(len(g.members))
	var sum float64
	for i := range g.centroid {
		g.centroid[i] = (g.centroid[i]*n + float64(emb.Vector[i])) / (n + 1)
		sum += g.centroid[i] * g.centroid[i]
	}
	g.norm = math.Sqrt(sum)
	g.members = append(g.members, emb)
	g.sims[emb.NewsID] = sim
}

func cosineToCentroid(emb *models.NewsEmbedding, g *topicGroup) float64 {
	if emb.Norm == 0 || g.norm == 0 || len(emb.Vector) != len(g.centroid) {
		return 0
	}
	var dot float64
	for i, v := range emb.Vector {
		dot += float64(v) * g.centroid[i]
	}
	return dot / (emb.Norm * g.norm)
}

// topicKeywords returns the most frequent title tokens across the
// topic's members.
func topicKeywords(g *topicGroup, newsByID map[uint64]*models.News) []string {
	counts := make(map[string]int)
	for _, m := range g.members {
		news, ok := newsByID[m.NewsID]
		if !ok {
			continue
		}
		for _, token := range common.Tokenize(news.Title) {
			counts[token]++
		}
	}

	tokens := make([]string, 0, len(counts))
	for token := range counts {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})

	if len(tokens) > maxTopicKeywords {
		tokens = tokens[:maxTopicKeywords]
	}
	return tokens
}

func methodLabel(algorithm string) string {
	if algorithm == "optimize" {
		return models.ClusteringMethodKMeans
	}
	return algorithm
}
