package interfaces

import "context"

// BreakerState is the circuit breaker position of the ML client.
type BreakerState string

const (
	// BreakerClosed - calls flow normally
	BreakerClosed BreakerState = "closed"
	// BreakerOpen - calls short-circuit with ErrCircuitOpen
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen - limited probe calls test recovery
	BreakerHalfOpen BreakerState = "half_open"
)

// ImportanceItem is one article submitted for ML importance scoring.
type ImportanceItem struct {
	NewsID uint64 `json:"news_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// ImportanceResult carries the model probability for one article.
type ImportanceResult struct {
	NewsID      uint64  `json:"news_id"`
	Probability float64 `json:"probability"`
}

// EmbedItem is one text submitted for embedding.
type EmbedItem struct {
	NewsID uint64 `json:"news_id"`
	Text   string `json:"text"`
}

// EmbedResult carries the vector for one text.
type EmbedResult struct {
	NewsID uint64    `json:"news_id"`
	Vector []float32 `json:"vector"`
}

// ClusterPoint is one embedded article sent to a remote clustering
// endpoint.
type ClusterPoint struct {
	NewsID uint64    `json:"news_id"`
	Vector []float32 `json:"vector"`
}

// ClusterAssignment is a remote clustering label for one article.
// Label -1 marks noise points left unclustered.
type ClusterAssignment struct {
	NewsID uint64 `json:"news_id"`
	Label  int    `json:"label"`
}

// MLClient calls the external ML scoring service. Implementations carry
// retries, a circuit breaker and response caches; callers apply their
// own fallbacks when an error or ErrCircuitOpen comes back.
type MLClient interface {
	// ScoreImportance returns importance probabilities in [0,1].
	ScoreImportance(ctx context.Context, items []ImportanceItem) ([]ImportanceResult, error)

	// Summarize returns a summary of at most 240 characters.
	Summarize(ctx context.Context, title, body string) (string, error)

	// Embed returns dense vectors for the given texts.
	Embed(ctx context.Context, items []EmbedItem) ([]EmbedResult, error)

	// Cluster runs a remote clustering algorithm over the points.
	// Supported algorithms: hdbscan, kmeans, optimize.
	Cluster(ctx context.Context, algorithm string, points []ClusterPoint) ([]ClusterAssignment, error)

	// Health checks the ML service health endpoint.
	Health(ctx context.Context) error

	// State returns the current breaker position.
	State() BreakerState

	// ModelVersion reports the model version of the last response.
	ModelVersion() string
}
