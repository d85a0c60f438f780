package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nuntius/internal/common"
	"github.com/ternarybob/nuntius/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	news       interfaces.NewsStorage
	score      interfaces.ScoreStorage
	embedding  interfaces.EmbeddingStorage
	topic      interfaces.TopicStorage
	user       interfaces.UserStorage
	telemetry  interfaces.TelemetryStorage
	experiment interfaces.ExperimentStorage
	flag       interfaces.FlagStorage
	bandit     interfaces.BanditStorage
	backlog    interfaces.BacklogStorage
	source     interfaces.SourceStorage
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		news:       NewNewsStorage(db, logger),
		score:      NewScoreStorage(db, logger),
		embedding:  NewEmbeddingStorage(db, logger),
		topic:      NewTopicStorage(db, logger),
		user:       NewUserStorage(db, logger),
		telemetry:  NewTelemetryStorage(db, logger),
		experiment: NewExperimentStorage(db, logger),
		flag:       NewFlagStorage(db, logger),
		bandit:     NewBanditStorage(db, logger),
		backlog:    NewBacklogStorage(db, logger),
		source:     NewSourceStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// NewsStorage returns the News storage interface
func (m *Manager) NewsStorage() interfaces.NewsStorage {
	return m.news
}

// ScoreStorage returns the Score storage interface
func (m *Manager) ScoreStorage() interfaces.ScoreStorage {
	return m.score
}

// EmbeddingStorage returns the Embedding storage interface
func (m *Manager) EmbeddingStorage() interfaces.EmbeddingStorage {
	return m.embedding
}

// TopicStorage returns the Topic storage interface
func (m *Manager) TopicStorage() interfaces.TopicStorage {
	return m.topic
}

// UserStorage returns the User storage interface
func (m *Manager) UserStorage() interfaces.UserStorage {
	return m.user
}

// TelemetryStorage returns the Telemetry storage interface
func (m *Manager) TelemetryStorage() interfaces.TelemetryStorage {
	return m.telemetry
}

// ExperimentStorage returns the Experiment storage interface
func (m *Manager) ExperimentStorage() interfaces.ExperimentStorage {
	return m.experiment
}

// FlagStorage returns the FeatureFlag storage interface
func (m *Manager) FlagStorage() interfaces.FlagStorage {
	return m.flag
}

// BanditStorage returns the Bandit storage interface
func (m *Manager) BanditStorage() interfaces.BanditStorage {
	return m.bandit
}

// BacklogStorage returns the EmbeddingBacklog storage interface
func (m *Manager) BacklogStorage() interfaces.BacklogStorage {
	return m.backlog
}

// SourceStorage returns the RssSource storage interface
func (m *Manager) SourceStorage() interfaces.SourceStorage {
	return m.source
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// RunGC reclaims value log space on the underlying database
func (m *Manager) RunGC() error {
	if m.db != nil {
		return m.db.RunGC()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
