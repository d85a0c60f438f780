package interfaces

import (
	"context"

	"github.com/ternarybob/nuntius/internal/models"
)

// IngestService fetches configured RSS feeds and persists new articles.
type IngestService interface {
	// IngestAll fetches every enabled source. One source failing is
	// recorded in the result and never aborts the others.
	IngestAll(ctx context.Context) (*models.IngestResult, error)

	// IngestSource fetches a single source by name.
	IngestSource(ctx context.Context, name string) (*models.IngestResult, error)

	// LastResult returns the most recent completed run, or nil.
	LastResult() *models.IngestResult
}

// SourceService manages the RSS source catalog.
type SourceService interface {
	AddSource(ctx context.Context, source *models.RssSource) error
	UpdateSource(ctx context.Context, source *models.RssSource) error
	GetSource(ctx context.Context, name string) (*models.RssSource, error)
	ListSources(ctx context.Context) ([]*models.RssSource, error)
	DeleteSource(ctx context.Context, name string) error

	// EnsureDefaults seeds the catalog with the built-in Korean
	// financial feeds when it is empty.
	EnsureDefaults(ctx context.Context) error

	// LoadFile merges a sources.yaml catalog into storage. Entries in
	// the file win over stored sources with the same name.
	LoadFile(ctx context.Context, path string) error
}
