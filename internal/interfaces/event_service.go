package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventNewsSaved fires after each new article is persisted. The
	// enrichment pipeline subscribes to it.
	EventNewsSaved EventType = "news.saved"

	// EventIngestCompleted fires after a full ingestion pass.
	EventIngestCompleted EventType = "ingest.completed"

	// EventClusteringCompleted fires after a clustering run.
	EventClusteringCompleted EventType = "clustering.completed"

	// EventExperimentAutoStopped fires when the auto-stop monitor
	// disables a degrading experiment.
	EventExperimentAutoStopped EventType = "experiment.autostopped"

	// EventFlagChanged fires when a feature flag value changes so
	// in-process caches can refresh.
	EventFlagChanged EventType = "flag.changed"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// NewsSavedPayload accompanies EventNewsSaved.
type NewsSavedPayload struct {
	NewsID uint64
	Source string
	Title  string
}

// AutoStopPayload accompanies EventExperimentAutoStopped.
type AutoStopPayload struct {
	ExperimentKey string
	Variant       string
	DatePartition string
	CTRDelta      float64
	Threshold     float64
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
