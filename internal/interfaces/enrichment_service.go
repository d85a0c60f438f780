package interfaces

import "context"

// EnrichmentService runs the asynchronous post-save pipeline: ML
// importance scoring, summaries and embeddings for newly saved news.
type EnrichmentService interface {
	// Start launches the worker pool and subscribes to news.saved.
	Start(ctx context.Context) error

	// Stop drains workers and unsubscribes.
	Stop() error

	// EnqueueEmbedding requests an embedding for one article. When the
	// pool is saturated the article lands in the backlog instead.
	EnqueueEmbedding(newsID uint64)

	// DrainBacklog retries backlog entries while the ML circuit is
	// closed. Returns how many entries were embedded.
	DrainBacklog(ctx context.Context) (int, error)

	// BacklogSize returns the current backlog depth.
	BacklogSize(ctx context.Context) (int, error)
}
