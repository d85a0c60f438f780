package interfaces

import (
	"context"

	"github.com/ternarybob/nuntius/internal/models"
)

// ClusteringService groups recent articles into topics from their
// embeddings.
type ClusteringService interface {
	// Run clusters with the configured algorithm.
	Run(ctx context.Context) (*models.ClusteringResult, error)

	// RunWith clusters with an explicit algorithm (cosine, hdbscan,
	// kmeans), overriding configuration for this run.
	RunWith(ctx context.Context, algorithm string) (*models.ClusteringResult, error)

	// Optimize asks the remote service for the best k, then runs
	// k-means with it.
	Optimize(ctx context.Context) (*models.ClusteringResult, error)

	// LastResult returns the most recent completed run, or nil.
	LastResult() *models.ClusteringResult
}
