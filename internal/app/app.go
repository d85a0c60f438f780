package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nuntius/internal/common"
	"github.com/ternarybob/nuntius/internal/handlers"
	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/mlclient"
	"github.com/ternarybob/nuntius/internal/models"
	"github.com/ternarybob/nuntius/internal/services/bandit"
	"github.com/ternarybob/nuntius/internal/services/clustering"
	"github.com/ternarybob/nuntius/internal/services/enrichment"
	"github.com/ternarybob/nuntius/internal/services/events"
	"github.com/ternarybob/nuntius/internal/services/experiments"
	"github.com/ternarybob/nuntius/internal/services/ingest"
	newssvc "github.com/ternarybob/nuntius/internal/services/news"
	"github.com/ternarybob/nuntius/internal/services/normalizer"
	"github.com/ternarybob/nuntius/internal/services/ranking"
	"github.com/ternarybob/nuntius/internal/services/scheduler"
	"github.com/ternarybob/nuntius/internal/services/scoring"
	"github.com/ternarybob/nuntius/internal/services/sources"
	"github.com/ternarybob/nuntius/internal/services/telemetry"
	"github.com/ternarybob/nuntius/internal/services/tickers"
	"github.com/ternarybob/nuntius/internal/services/users"
	"github.com/ternarybob/nuntius/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// Content pipeline
	Normalizer        *normalizer.Service
	Matcher           *tickers.Matcher
	Scorer            *scoring.Scorer
	MLClient          interfaces.MLClient
	EnrichmentService interfaces.EnrichmentService
	ClusteringService interfaces.ClusteringService

	// Collection
	SourceService interfaces.SourceService
	IngestService interfaces.IngestService

	// Serving
	Loader        *ranking.Loader
	NewsService   interfaces.NewsService
	UserService   interfaces.UserService
	BanditService *bandit.Service

	// Measurement
	EventService      interfaces.EventService
	TelemetryService  interfaces.TelemetryService
	FlagService       interfaces.FlagService
	ExperimentService interfaces.ExperimentService
	SchedulerService  interfaces.SchedulerService

	// HTTP handlers
	NewsHandler    *handlers.NewsHandler
	UsersHandler   *handlers.UsersHandler
	BanditHandler  *handlers.BanditHandler
	AdminHandler   *handlers.AdminHandler
	SourcesHandler *handlers.SourcesHandler
	HealthHandler  *handlers.HealthHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Seed default catalog entries and experiments
	if err := app.seedDefaults(); err != nil {
		return nil, fmt.Errorf("failed to seed defaults: %w", err)
	}

	// Register cron jobs and start background services
	if err := app.registerJobs(); err != nil {
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	if err := app.SchedulerService.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}
	app.Logger.Debug().Msg("Scheduler started")

	if err := app.TelemetryService.Start(app.ctx); err != nil {
		return nil, fmt.Errorf("failed to start telemetry sink: %w", err)
	}
	app.Logger.Debug().Msg("Telemetry sink started")

	if err := app.EnrichmentService.Start(app.ctx); err != nil {
		return nil, fmt.Errorf("failed to start enrichment pipeline: %w", err)
	}
	app.Logger.Debug().Msg("Enrichment pipeline started")

	logger.Info().
		Bool("ingest_enabled", cfg.Ingest.Enabled).
		Bool("clustering_enabled", cfg.Clustering.Enabled).
		Str("ml_service", cfg.ML.ServiceURL).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order.
//
// PIPELINE ARCHITECTURE:
// 1. Normalizer/Matcher/Scorer - synchronous, storage-free content analysis
// 2. Ingest - pulls RSS feeds, runs 1. inline, saves articles
// 3. Enrichment - subscribes to news.saved, calls the ML service async
// 4. Clustering - scheduled batch over stored embeddings
// 5. News facade - serves the ranked feed from stored scores/topics
// 6. Bandit/Experiments/Telemetry - learn from serving outcomes
func (a *App) initServices() error {
	// Initialize event service first; ingest and enrichment talk
	// through it
	a.EventService = events.NewService(a.Logger)

	// Initialize content analysis services (no storage dependencies)
	a.Normalizer = normalizer.NewService(a.Logger)
	a.Matcher = tickers.NewMatcher()
	a.Scorer = scoring.NewScorer(a.Matcher, a.Normalizer)
	a.Logger.Debug().Msg("Content analysis services initialized")

	// Initialize ML client with retry, rate limit and circuit breaker
	retry := mlclient.NewRetryPolicy()
	if a.Config.ML.MaxRetries > 0 {
		retry.MaxAttempts = a.Config.ML.MaxRetries
	}
	retry.InitialBackoff = parseDuration(a.Config.ML.RetryBackoff, retry.InitialBackoff)

	a.MLClient = mlclient.NewClient(
		mlclient.WithBaseURL(a.Config.ML.ServiceURL),
		mlclient.WithLogger(a.Logger),
		mlclient.WithTimeout(a.Config.MLRequestTimeout()),
		mlclient.WithRetryPolicy(retry),
		mlclient.WithRateLimit(requestsPerSecond(a.Config.ML.RateLimit)),
		mlclient.WithBreakerSettings(
			a.Config.ML.BreakerWindow,
			a.Config.ML.BreakerFailureRate,
			parseDuration(a.Config.ML.BreakerOpenDuration, 30*time.Second),
			a.Config.ML.BreakerProbeCount,
		),
		mlclient.WithCacheTTLs(
			parseDuration(a.Config.ML.ImportanceCacheTTL, 5*time.Minute),
			parseDuration(a.Config.ML.SummaryCacheTTL, 24*time.Hour),
		),
	)
	a.Logger.Debug().Str("service_url", a.Config.ML.ServiceURL).Msg("ML client initialized")

	// Initialize source catalog and ingestion
	a.SourceService = sources.NewService(a.StorageManager.SourceStorage(), a.Logger)
	a.IngestService = ingest.NewService(
		a.StorageManager.SourceStorage(),
		a.StorageManager.NewsStorage(),
		a.StorageManager.ScoreStorage(),
		a.Normalizer,
		a.Scorer,
		a.EventService,
		a.Config.SourceTimeout(),
		a.Config.Ingest.MaxItemsPerFeed,
		a.Logger,
	)
	a.Logger.Debug().Msg("Ingest service initialized")

	// Initialize enrichment pipeline (subscribes to news.saved on Start)
	a.EnrichmentService = enrichment.NewService(
		a.MLClient,
		a.StorageManager.NewsStorage(),
		a.StorageManager.ScoreStorage(),
		a.StorageManager.EmbeddingStorage(),
		a.StorageManager.BacklogStorage(),
		a.EventService,
		a.Scorer,
		a.Config.Enrichment.Workers,
		a.Config.Enrichment.QueueSize,
		a.Config.Enrichment.MaxAttempts,
		a.Logger,
	)
	a.Logger.Debug().Int("workers", a.Config.Enrichment.Workers).Msg("Enrichment pipeline initialized")

	// Initialize topic clustering
	a.ClusteringService = clustering.NewService(
		a.MLClient,
		a.StorageManager.NewsStorage(),
		a.StorageManager.EmbeddingStorage(),
		a.StorageManager.TopicStorage(),
		a.EventService,
		a.Config.Clustering.Algorithm,
		a.Config.Clustering.SimilarityThreshold,
		a.Config.Clustering.DuplicateThreshold,
		a.Config.ClusteringLookback(),
		a.Logger,
	)
	a.Logger.Debug().Str("algorithm", a.Config.Clustering.Algorithm).Msg("Clustering service initialized")

	// Initialize measurement services
	a.TelemetryService = telemetry.NewService(
		a.StorageManager.TelemetryStorage(),
		a.StorageManager.EmbeddingStorage(),
		a.Config.TelemetryFlushInterval(),
		a.Config.Telemetry.FlushThreshold,
		a.Logger,
	)
	a.FlagService = experiments.NewFlagService(a.StorageManager.FlagStorage(), a.EventService, a.Logger)
	a.ExperimentService = experiments.NewService(
		a.StorageManager.ExperimentStorage(),
		a.StorageManager.TelemetryStorage(),
		a.FlagService,
		a.EventService,
		a.Logger,
	)
	a.Logger.Debug().Msg("Telemetry and experiment services initialized")

	// Initialize serving services
	a.Loader = ranking.NewLoader(
		a.StorageManager.NewsStorage(),
		a.StorageManager.ScoreStorage(),
		a.StorageManager.TopicStorage(),
		a.StorageManager.EmbeddingStorage(),
	)
	a.UserService = users.NewService(a.StorageManager.UserStorage(), a.Logger)
	a.NewsService = newssvc.NewService(
		a.Loader,
		a.StorageManager.UserStorage(),
		a.StorageManager.TelemetryStorage(),
		a.TelemetryService,
		a.ExperimentService,
		a.Config.Ranking.MMRLambda,
		a.Logger,
	)
	a.BanditService = bandit.NewService(
		a.StorageManager.BanditStorage(),
		a.Loader,
		a.StorageManager.NewsStorage(),
		a.StorageManager.UserStorage(),
		a.StorageManager.TelemetryStorage(),
		a.Logger,
	)
	a.Logger.Debug().Msg("Serving services initialized")

	// Initialize scheduler (jobs are registered after seeding)
	a.SchedulerService = scheduler.NewService(a.Logger)
	a.Logger.Debug().Msg("Scheduler service initialized")

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() error {
	a.NewsHandler = handlers.NewNewsHandler(a.NewsService, a.UserService, a.Logger)
	a.UsersHandler = handlers.NewUsersHandler(a.UserService, a.Logger)
	a.BanditHandler = handlers.NewBanditHandler(a.BanditService, a.Logger)
	a.AdminHandler = handlers.NewAdminHandler(a.IngestService, a.ClusteringService, a.Logger)
	a.SourcesHandler = handlers.NewSourcesHandler(a.SourceService, a.Logger)
	a.HealthHandler = handlers.NewHealthHandler(a.StorageManager, a.MLClient, a.SchedulerService, a.IngestService, a.Logger)
	a.Logger.Debug().Msg("HTTP handlers initialized")
	return nil
}

// seedDefaults populates the source catalog and default experiments on
// first boot. Reruns never overwrite operator changes.
func (a *App) seedDefaults() error {
	ctx := a.ctx

	if err := a.SourceService.EnsureDefaults(ctx); err != nil {
		return fmt.Errorf("failed to seed default sources: %w", err)
	}

	// Merge the sources file when one exists. Entries in the file win
	// over stored sources with the same name.
	if path := a.Config.Ingest.SourcesFile; path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := a.SourceService.LoadFile(ctx, path); err != nil {
				a.Logger.Warn().Err(err).Str("path", path).Msg("Failed to load sources file")
			} else {
				a.Logger.Debug().Str("path", path).Msg("Sources file loaded")
			}
		}
	}

	if err := a.BanditService.EnsureDefaults(ctx,
		a.Config.Bandit.Algorithm,
		a.Config.Bandit.Epsilon,
		a.Config.Bandit.Alpha,
		a.Config.Bandit.Beta,
	); err != nil {
		return fmt.Errorf("failed to seed bandit experiment: %w", err)
	}

	if err := a.ExperimentService.EnsureDefaults(ctx); err != nil {
		return fmt.Errorf("failed to seed ranking experiment: %w", err)
	}

	return nil
}

// registerJobs wires the batch pipeline onto the scheduler
func (a *App) registerJobs() error {
	if a.Config.Ingest.Enabled {
		err := a.SchedulerService.RegisterJob(
			"rss_ingest",
			"@every "+a.Config.Ingest.Interval,
			"Pulls every enabled RSS source and saves new articles",
			func() error {
				_, err := a.IngestService.IngestAll(a.ctx)
				return err
			},
		)
		if err != nil {
			return err
		}
	} else {
		a.Logger.Info().Msg("RSS collection disabled, skipping ingest job")
	}

	if a.Config.Clustering.Enabled {
		err := a.SchedulerService.RegisterJob(
			"topic_clustering",
			a.Config.Clustering.Schedule,
			"Groups recent articles into topics from their embeddings",
			func() error {
				_, err := a.ClusteringService.Run(a.ctx)
				return err
			},
		)
		if err != nil {
			return err
		}
	} else {
		a.Logger.Info().Msg("Topic clustering disabled, skipping clustering job")
	}

	err := a.SchedulerService.RegisterJob(
		"experiment_auto_stop",
		a.Config.Experiments.AutoStopSchedule,
		"Disables experiments whose treatment CTR trails control",
		func() error {
			_, err := a.ExperimentService.RunAutoStop(a.ctx)
			return err
		},
	)
	if err != nil {
		return err
	}

	err = a.SchedulerService.RegisterJob(
		"telemetry_rollup",
		a.Config.Telemetry.RollupSchedule,
		"Aggregates the previous day's telemetry into daily metrics",
		func() error {
			yesterday := models.DatePartitionOf(time.Now().UTC().AddDate(0, 0, -1))
			return a.TelemetryService.RunDailyRollup(a.ctx, yesterday)
		},
	)
	if err != nil {
		return err
	}

	err = a.SchedulerService.RegisterJob(
		"backlog_drain",
		a.Config.Enrichment.DrainSchedule,
		"Retries the embedding backlog while the ML circuit is closed",
		func() error {
			_, err := a.EnrichmentService.DrainBacklog(a.ctx)
			return err
		},
	)
	if err != nil {
		return err
	}

	// Badger only reclaims value log space when told to
	err = a.SchedulerService.RegisterJob(
		"storage_gc",
		"@every 1h",
		"Compacts the Badger value log",
		func() error {
			return a.StorageManager.RunGC()
		},
	)
	if err != nil {
		return err
	}

	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	// Stop scheduled jobs first so nothing new enters the pipeline
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	// Drain the enrichment pool
	if a.EnrichmentService != nil {
		if err := a.EnrichmentService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop enrichment pipeline")
		}
	}

	// Stop the telemetry sink; this flushes buffered events
	if a.TelemetryService != nil {
		if err := a.TelemetryService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop telemetry sink")
		}
	}

	// Close event subscriptions
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	// Cancel any remaining background work
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	// Close storage last
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}

// requestsPerSecond converts a minimum-interval string like "50ms" to
// the equivalent request rate.
func requestsPerSecond(interval string) int {
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		return mlclient.DefaultRateLimit
	}
	rps := int(time.Second / d)
	if rps < 1 {
		rps = 1
	}
	return rps
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
