package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/nuntius/internal/models"
)

// NewsStorage - interface for article persistence
type NewsStorage interface {
	// SaveNews assigns a sequence ID and persists the article.
	SaveNews(ctx context.Context, news *models.News) (uint64, error)
	GetNews(ctx context.Context, id uint64) (*models.News, error)
	GetNewsByIDs(ctx context.Context, ids []uint64) (map[uint64]*models.News, error)
	ExistsByDedupKey(ctx context.Context, dedupKey string) (bool, error)

	// ListRecentNews returns articles published at or after since,
	// newest first, at most limit (0 = no limit).
	ListRecentNews(ctx context.Context, since time.Time, limit int) ([]*models.News, error)
	ListNewsBySource(ctx context.Context, source string, limit int) ([]*models.News, error)
	CountNews(ctx context.Context) (int, error)
	DeleteNews(ctx context.Context, id uint64) error
}

// ScoreStorage - interface for ranking signal persistence (1:1 with News)
type ScoreStorage interface {
	SaveScore(ctx context.Context, score *models.NewsScore) error
	GetScore(ctx context.Context, newsID uint64) (*models.NewsScore, error)
	GetScores(ctx context.Context, newsIDs []uint64) (map[uint64]*models.NewsScore, error)
	DeleteScore(ctx context.Context, newsID uint64) error
}

// EmbeddingStorage - interface for vector persistence (1:1 with News)
type EmbeddingStorage interface {
	SaveEmbedding(ctx context.Context, embedding *models.NewsEmbedding) error
	GetEmbedding(ctx context.Context, newsID uint64) (*models.NewsEmbedding, error)
	GetEmbeddings(ctx context.Context, newsIDs []uint64) (map[uint64]*models.NewsEmbedding, error)
	ListRecentEmbeddings(ctx context.Context, since time.Time, limit int) ([]*models.NewsEmbedding, error)
	CountEmbeddings(ctx context.Context) (int, error)
	DeleteEmbedding(ctx context.Context, newsID uint64) error
}

// TopicStorage - interface for topic assignment persistence
type TopicStorage interface {
	SaveTopic(ctx context.Context, topic *models.NewsTopic) error
	SaveTopics(ctx context.Context, topics []*models.NewsTopic) error
	GetTopic(ctx context.Context, newsID uint64) (*models.NewsTopic, error)
	GetTopics(ctx context.Context, newsIDs []uint64) (map[uint64]*models.NewsTopic, error)
	ListByTopicID(ctx context.Context, topicID string) ([]*models.NewsTopic, error)
	DeleteTopic(ctx context.Context, newsID uint64) error
}

// UserStorage - interface for anonymous users and their preferences
type UserStorage interface {
	SaveUser(ctx context.Context, user *models.AnonymousUser) error
	GetUser(ctx context.Context, anonID string) (*models.AnonymousUser, error)
	SavePreference(ctx context.Context, pref *models.UserPreference) error
	GetPreference(ctx context.Context, userID string) (*models.UserPreference, error)
}

// TelemetryStorage - interface for impression/click logs and rollups
type TelemetryStorage interface {
	// Batch inserts used by the buffered sink flusher.
	SaveImpressions(ctx context.Context, impressions []*models.ImpressionLog) error
	SaveClicks(ctx context.Context, clicks []*models.ClickLog) error

	ListImpressionsByDate(ctx context.Context, datePartition string) ([]*models.ImpressionLog, error)
	ListClicksByDate(ctx context.Context, datePartition string) ([]*models.ClickLog, error)

	// ListClicksByUser returns a user's clicks since the given time,
	// newest first. Feeds click affinity and novelty.
	ListClicksByUser(ctx context.Context, anonID string, since time.Time) ([]*models.ClickLog, error)

	SaveDailyMetrics(ctx context.Context, metrics *models.ExperimentMetricsDaily) error
	GetDailyMetrics(ctx context.Context, experimentKey, variant, datePartition string) (*models.ExperimentMetricsDaily, error)
	ListDailyMetrics(ctx context.Context, experimentKey string, sincePartition string) ([]*models.ExperimentMetricsDaily, error)
}

// ExperimentStorage - interface for A/B experiment definitions
type ExperimentStorage interface {
	SaveExperiment(ctx context.Context, experiment *models.Experiment) error
	GetExperiment(ctx context.Context, experimentKey string) (*models.Experiment, error)
	ListActiveExperiments(ctx context.Context) ([]*models.Experiment, error)
	ListExperiments(ctx context.Context) ([]*models.Experiment, error)
}

// FlagStorage - interface for feature flags
type FlagStorage interface {
	SaveFlag(ctx context.Context, flag *models.FeatureFlag) error
	GetFlag(ctx context.Context, flagKey string) (*models.FeatureFlag, error)
	ListFlags(ctx context.Context) ([]*models.FeatureFlag, error)
}

// BanditStorage - interface for bandit experiments, arm state, decisions
// and rewards
type BanditStorage interface {
	SaveBanditExperiment(ctx context.Context, experiment *models.BanditExperiment) error
	GetBanditExperiment(ctx context.Context, experimentKey string) (*models.BanditExperiment, error)
	ListActiveBanditExperiments(ctx context.Context) ([]*models.BanditExperiment, error)

	SaveArm(ctx context.Context, arm *models.BanditArm) error
	ListArms(ctx context.Context, experimentKey string) ([]*models.BanditArm, error)

	GetState(ctx context.Context, key string) (*models.BanditState, error)
	UpsertState(ctx context.Context, state *models.BanditState) error
	ListStates(ctx context.Context, experimentKey string) ([]*models.BanditState, error)

	SaveDecision(ctx context.Context, decision *models.BanditDecision) error
	GetDecision(ctx context.Context, decisionID string) (*models.BanditDecision, error)
	CountDecisions(ctx context.Context, experimentKey string) (int, error)

	SaveReward(ctx context.Context, reward *models.BanditReward) error
	ListRewardsByDecision(ctx context.Context, decisionID string) ([]*models.BanditReward, error)
}

// BacklogStorage - interface for the embedding retry queue
type BacklogStorage interface {
	Enqueue(ctx context.Context, entry *models.EmbeddingBacklog) error
	List(ctx context.Context, limit int) ([]*models.EmbeddingBacklog, error)
	Delete(ctx context.Context, newsID uint64) error
	Count(ctx context.Context) (int, error)
}

// SourceStorage - interface for the RSS source catalog
type SourceStorage interface {
	SaveSource(ctx context.Context, source *models.RssSource) error
	GetSource(ctx context.Context, name string) (*models.RssSource, error)
	ListSources(ctx context.Context) ([]*models.RssSource, error)
	ListEnabledSources(ctx context.Context) ([]*models.RssSource, error)
	DeleteSource(ctx context.Context, name string) error
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	NewsStorage() NewsStorage
	ScoreStorage() ScoreStorage
	EmbeddingStorage() EmbeddingStorage
	TopicStorage() TopicStorage
	UserStorage() UserStorage
	TelemetryStorage() TelemetryStorage
	ExperimentStorage() ExperimentStorage
	FlagStorage() FlagStorage
	BanditStorage() BanditStorage
	BacklogStorage() BacklogStorage
	SourceStorage() SourceStorage
	DB() interface{}

	// RunGC reclaims value log space. Badger never garbage-collects on
	// its own, so this must run periodically.
	RunGC() error

	Close() error
}
