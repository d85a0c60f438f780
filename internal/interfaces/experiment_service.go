package interfaces

import (
	"context"

	"github.com/ternarybob/nuntius/internal/models"
)

// Assignment is the bucketer's answer for one (user, experiment) pair.
// Inactive or disabled experiments assign the control variant with
// Active=false, and no experiment metadata is logged downstream.
type Assignment struct {
	ExperimentKey string
	Variant       string
	Active        bool
}

// ExperimentService buckets users into experiments and watches for
// degrading treatments.
type ExperimentService interface {
	// EnsureDefaults seeds the default ranking experiment when none
	// exists yet.
	EnsureDefaults(ctx context.Context) error

	// Assign deterministically buckets a user into an experiment.
	// The same anonID always lands in the same variant.
	Assign(ctx context.Context, anonID, experimentKey string) (Assignment, error)

	// ActiveAssignment assigns the user to the first active ranking
	// experiment, or a control assignment when none is running.
	ActiveAssignment(ctx context.Context, anonID string) (Assignment, error)

	SaveExperiment(ctx context.Context, experiment *models.Experiment) error
	GetExperiment(ctx context.Context, experimentKey string) (*models.Experiment, error)
	ListExperiments(ctx context.Context) ([]*models.Experiment, error)

	// RunAutoStop evaluates recent daily metrics for every active
	// auto-stop experiment and disables those whose treatment CTR
	// trails control beyond the threshold. Returns how many were
	// stopped.
	RunAutoStop(ctx context.Context) (int, error)
}

// FlagService evaluates feature flags with an in-process cache.
type FlagService interface {
	// IsEnabled returns the flag's boolean value, or fallback when
	// the flag does not exist.
	IsEnabled(ctx context.Context, flagKey string, fallback bool) bool

	// SetFlag persists a flag and publishes flag.changed.
	SetFlag(ctx context.Context, flag *models.FeatureFlag) error

	GetFlag(ctx context.Context, flagKey string) (*models.FeatureFlag, error)
	ListFlags(ctx context.Context) ([]*models.FeatureFlag, error)
}
