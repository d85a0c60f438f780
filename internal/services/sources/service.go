// -----------------------------------------------------------------------
// Source Catalog - CRUD over the RSS source registry plus seeding of
// the built-in Korean financial feeds
// -----------------------------------------------------------------------

package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/nuntius/internal/common"
	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
)

const defaultTimeoutSeconds = 15

// Service manages the RSS source catalog.
type Service struct {
	storage interfaces.SourceStorage
	logger  arbor.ILogger
}

// NewService creates a new source catalog service.
func NewService(storage interfaces.SourceStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
	}
}

// AddSource validates and creates a new source. Adding an existing
// name is rejected; use UpdateSource to change a stored source.
func (s *Service) AddSource(ctx context.Context, source *models.RssSource) error {
	applyDefaults(source)
	if err := source.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	_, err := s.storage.GetSource(ctx, source.Name)
	if err == nil {
		return fmt.Errorf("%w: source %s already exists", models.ErrValidation, source.Name)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check source %s: %w", source.Name, err)
	}

	now := time.Now().UTC()
	source.CreatedAt = now
	source.UpdatedAt = now

	if err := s.storage.SaveSource(ctx, source); err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}

	s.logger.Info().
		Str("name", source.Name).
		Str("url", source.URL).
		Float64("weight", source.Weight).
		Bool("enabled", source.Enabled).
		Msg("Source created")

	return nil
}

// UpdateSource validates and updates an existing source, preserving
// its creation timestamp.
func (s *Service) UpdateSource(ctx context.Context, source *models.RssSource) error {
	applyDefaults(source)
	if err := source.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	existing, err := s.storage.GetSource(ctx, source.Name)
	if err != nil {
		return fmt.Errorf("source %s: %w", source.Name, err)
	}

	source.CreatedAt = existing.CreatedAt
	source.UpdatedAt = time.Now().UTC()

	if err := s.storage.SaveSource(ctx, source); err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}

	s.logger.Info().
		Str("name", source.Name).
		Str("url", source.URL).
		Bool("enabled", source.Enabled).
		Msg("Source updated")

	return nil
}

// GetSource retrieves a source by name.
func (s *Service) GetSource(ctx context.Context, name string) (*models.RssSource, error) {
	source, err := s.storage.GetSource(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", name, err)
	}
	return source, nil
}

// ListSources retrieves all sources.
func (s *Service) ListSources(ctx context.Context) ([]*models.RssSource, error) {
	sources, err := s.storage.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// DeleteSource removes a source by name.
func (s *Service) DeleteSource(ctx context.Context, name string) error {
	if _, err := s.storage.GetSource(ctx, name); err != nil {
		return fmt.Errorf("source %s: %w", name, err)
	}

	if err := s.storage.DeleteSource(ctx, name); err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}

	s.logger.Info().Str("name", name).Msg("Source deleted")
	return nil
}

// EnsureDefaults seeds the catalog with the built-in Korean financial
// feeds when it is empty. Existing catalogs are left untouched so
// operator edits survive restarts.
func (s *Service) EnsureDefaults(ctx context.Context) error {
	existing, err := s.storage.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to read source catalog: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, def := range common.GetDefaultSources() {
		source := &models.RssSource{
			Name:           def.Name,
			URL:            def.URL,
			Weight:         def.Weight,
			TimeoutSeconds: def.TimeoutSeconds,
			Enabled:        true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.storage.SaveSource(ctx, source); err != nil {
			return fmt.Errorf("failed to seed source %s: %w", def.Name, err)
		}
	}

	s.logger.Info().
		Int("count", len(common.GetDefaultSources())).
		Msg("Seeded default source catalog")

	return nil
}

// catalogFile is the on-disk shape of sources.yaml.
type catalogFile struct {
	Sources []catalogEntry `yaml:"sources"`
}

type catalogEntry struct {
	Name           string  `yaml:"name"`
	URL            string  `yaml:"url"`
	Weight         float64 `yaml:"weight"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	Enabled        *bool   `yaml:"enabled"`
}

// LoadFile merges a sources.yaml catalog into storage. File entries
// win over stored ones by name; sources absent from the file are kept.
func (s *Service) LoadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read source catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse source catalog %s: %w", path, err)
	}
	if len(file.Sources) == 0 {
		return fmt.Errorf("%w: source catalog %s lists no sources", models.ErrValidation, path)
	}

	// Validate the whole catalog before touching storage so a bad
	// entry cannot leave a half-merged catalog behind.
	now := time.Now().UTC()
	incoming := make([]*models.RssSource, 0, len(file.Sources))
	for _, entry := range file.Sources {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}

		source := &models.RssSource{
			Name:           entry.Name,
			URL:            entry.URL,
			Weight:         entry.Weight,
			TimeoutSeconds: entry.TimeoutSeconds,
			Enabled:        enabled,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		applyDefaults(source)
		if err := source.Validate(); err != nil {
			return fmt.Errorf("%w: source catalog %s: %v", models.ErrValidation, path, err)
		}
		incoming = append(incoming, source)
	}

	for _, source := range incoming {
		// Preserve creation time and fetch bookkeeping on merge.
		if existing, err := s.storage.GetSource(ctx, source.Name); err == nil {
			source.CreatedAt = existing.CreatedAt
			source.LastFetchedAt = existing.LastFetchedAt
			source.LastError = existing.LastError
		}
		if err := s.storage.SaveSource(ctx, source); err != nil {
			return fmt.Errorf("failed to save source %s: %w", source.Name, err)
		}
	}

	s.logger.Info().
		Str("path", path).
		Int("count", len(file.Sources)).
		Msg("Source catalog loaded from file")

	return nil
}

func applyDefaults(source *models.RssSource) {
	if source.TimeoutSeconds == 0 {
		source.TimeoutSeconds = defaultTimeoutSeconds
	}
}
