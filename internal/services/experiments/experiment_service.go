// -----------------------------------------------------------------------
// Experiment Service - A/B assignment and the auto-stop monitor that
// disables degrading treatments
// -----------------------------------------------------------------------

package experiments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
)

// DefaultExperimentKey names the seeded ranking experiment that splits
// traffic between the control ranker and the personalized treatment.
const DefaultExperimentKey = "personalized_ranking"

const (
	variantTreatment = "treatment"

	defaultAutoStopThreshold = 0.05
	defaultMinimumSample     = 1000

	// autoStopWindowDays is how many completed day partitions the
	// monitor evaluates.
	autoStopWindowDays = 3
)

// Service implements ExperimentService over the experiment store, the
// flag service and the telemetry rollups.
type Service struct {
	storage   interfaces.ExperimentStorage
	telemetry interfaces.TelemetryStorage
	flags     interfaces.FlagService
	events    interfaces.EventService
	logger    arbor.ILogger

	now func() time.Time
}

// NewService creates the experiment service.
func NewService(
	storage interfaces.ExperimentStorage,
	telemetry interfaces.TelemetryStorage,
	flags interfaces.FlagService,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	return &Service{
		storage:   storage,
		telemetry: telemetry,
		flags:     flags,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// EnsureDefaults seeds the default ranking experiment when none
// exists yet. The seed splits traffic evenly and leaves auto-stop on.
func (s *Service) EnsureDefaults(ctx context.Context) error {
	_, err := s.storage.GetExperiment(ctx, DefaultExperimentKey)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check experiment: %w", err)
	}

	experiment := &models.Experiment{
		ExperimentKey: DefaultExperimentKey,
		Description:   "Splits feed traffic between the control ranker and personalized ranking",
		Variants:      []string{models.VariantControl, variantTreatment},
		Allocation: map[string]int{
			models.VariantControl: 50,
			variantTreatment:      50,
		},
		IsActive:          true,
		AutoStopEnabled:   true,
		AutoStopThreshold: defaultAutoStopThreshold,
		MinimumSampleSize: defaultMinimumSample,
	}
	if err := s.SaveExperiment(ctx, experiment); err != nil {
		return err
	}

	s.logger.Info().
		Str("experiment_key", DefaultExperimentKey).
		Msg("Seeded default ranking experiment")
	return nil
}

// controlAssignment is the answer for users outside any experiment.
func controlAssignment(experimentKey string) interfaces.Assignment {
	return interfaces.Assignment{
		ExperimentKey: experimentKey,
		Variant:       models.VariantControl,
		Active:        false,
	}
}

// Assign deterministically buckets a user into an experiment. Missing
// or inactive experiments, and experiments whose gating flag is off,
// assign control with Active=false.
func (s *Service) Assign(ctx context.Context, anonID, experimentKey string) (interfaces.Assignment, error) {
	experiment, err := s.storage.GetExperiment(ctx, experimentKey)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return controlAssignment(experimentKey), nil
		}
		return controlAssignment(experimentKey), fmt.Errorf("failed to load experiment %s: %w", experimentKey, err)
	}

	if !s.isServing(ctx, experiment) {
		return controlAssignment(experimentKey), nil
	}

	bucket := bucketOf(anonID, experimentKey)
	return interfaces.Assignment{
		ExperimentKey: experimentKey,
		Variant:       variantFor(experiment, bucket),
		Active:        true,
	}, nil
}

// ActiveAssignment buckets the user into the first serving experiment,
// ordered by key for determinism, or control when none is running.
func (s *Service) ActiveAssignment(ctx context.Context, anonID string) (interfaces.Assignment, error) {
	experiments, err := s.storage.ListActiveExperiments(ctx)
	if err != nil {
		return controlAssignment(""), fmt.Errorf("failed to list experiments: %w", err)
	}

	sort.Slice(experiments, func(i, j int) bool {
		return experiments[i].ExperimentKey < experiments[j].ExperimentKey
	})

	for _, experiment := range experiments {
		if !s.isServing(ctx, experiment) {
			continue
		}
		return s.Assign(ctx, anonID, experiment.ExperimentKey)
	}
	return controlAssignment(""), nil
}

// isServing reports whether the experiment takes traffic right now:
// active in its date window and not disabled by its gating flag.
func (s *Service) isServing(ctx context.Context, experiment *models.Experiment) bool {
	if !experiment.ActiveAt(s.now().UTC()) {
		return false
	}
	return s.flags.IsEnabled(ctx, experiment.FlagKey(), true)
}

// SaveExperiment validates and persists an experiment definition.
func (s *Service) SaveExperiment(ctx context.Context, experiment *models.Experiment) error {
	if err := experiment.Validate(); err != nil {
		return fmt.Errorf("%w: %s", models.ErrValidation, err)
	}

	now := s.now().UTC()
	if experiment.CreatedAt.IsZero() {
		experiment.CreatedAt = now
	}
	experiment.UpdatedAt = now

	if err := s.storage.SaveExperiment(ctx, experiment); err != nil {
		return fmt.Errorf("failed to save experiment %s: %w", experiment.ExperimentKey, err)
	}

	s.logger.Info().
		Str("experiment_key", experiment.ExperimentKey).
		Bool("active", experiment.IsActive).
		Msg("Experiment saved")
	return nil
}

// GetExperiment returns one experiment definition.
func (s *Service) GetExperiment(ctx context.Context, experimentKey string) (*models.Experiment, error) {
	return s.storage.GetExperiment(ctx, experimentKey)
}

// ListExperiments returns every experiment definition.
func (s *Service) ListExperiments(ctx context.Context) ([]*models.Experiment, error) {
	return s.storage.ListExperiments(ctx)
}

// RunAutoStop evaluates the last completed day partitions for every
// active auto-stop experiment and disables treatments whose CTR trails
// control beyond the experiment's threshold. Returns how many
// experiments were stopped.
func (s *Service) RunAutoStop(ctx context.Context) (int, error) {
	experiments, err := s.storage.ListActiveExperiments(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list experiments: %w", err)
	}

	stopped := 0
	for _, experiment := range experiments {
		if !experiment.AutoStopEnabled || !s.isServing(ctx, experiment) {
			continue
		}
		triggered, err := s.evaluateAutoStop(ctx, experiment)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("experiment_key", experiment.ExperimentKey).
				Msg("Auto-stop evaluation failed")
			continue
		}
		if triggered {
			stopped++
		}
	}
	return stopped, nil
}

// evaluateAutoStop checks one experiment. Sample sufficiency is the
// per-variant impression total across the window; the trigger is any
// single day where control CTR leads a treatment by the threshold.
func (s *Service) evaluateAutoStop(ctx context.Context, experiment *models.Experiment) (bool, error) {
	threshold := experiment.AutoStopThreshold
	if threshold <= 0 {
		threshold = defaultAutoStopThreshold
	}
	minSample := int64(experiment.MinimumSampleSize)
	if minSample <= 0 {
		minSample = defaultMinimumSample
	}

	days := s.recentPartitions()

	controlRows, controlTotal, err := s.collectMetrics(ctx, experiment.ExperimentKey, models.VariantControl, days)
	if err != nil {
		return false, err
	}
	if controlTotal < minSample {
		return false, nil
	}

	for _, variant := range experiment.Variants {
		if variant == models.VariantControl {
			continue
		}

		rows, total, err := s.collectMetrics(ctx, experiment.ExperimentKey, variant, days)
		if err != nil {
			return false, err
		}
		if total < minSample {
			continue
		}

		for i, day := range days {
			control, treatment := controlRows[i], rows[i]
			if control == nil || treatment == nil {
				continue
			}
			delta := control.CTR - treatment.CTR
			if delta >= threshold {
				if err := s.stopExperiment(ctx, experiment, variant, day, delta, threshold); err != nil {
					return false, err
				}
				return true, nil
			}
		}
	}
	return false, nil
}

// collectMetrics loads one variant's daily rows for the window.
// Missing days stay nil.
func (s *Service) collectMetrics(ctx context.Context, experimentKey, variant string, days []string) ([]*models.ExperimentMetricsDaily, int64, error) {
	rows := make([]*models.ExperimentMetricsDaily, len(days))
	var total int64
	for i, day := range days {
		row, err := s.telemetry.GetDailyMetrics(ctx, experimentKey, variant, day)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, 0, fmt.Errorf("failed to load metrics %s/%s/%s: %w", experimentKey, variant, day, err)
		}
		rows[i] = row
		total += row.Impressions
	}
	return rows, total, nil
}

// recentPartitions returns the last completed UTC day partitions,
// newest first. Today is excluded since its rollup has not run.
func (s *Service) recentPartitions() []string {
	today := s.now().UTC()
	days := make([]string, 0, autoStopWindowDays)
	for i := 1; i <= autoStopWindowDays; i++ {
		days = append(days, models.DatePartitionOf(today.AddDate(0, 0, -i)))
	}
	return days
}

func (s *Service) stopExperiment(ctx context.Context, experiment *models.Experiment, variant, day string, delta, threshold float64) error {
	flag := &models.FeatureFlag{
		FlagKey:   experiment.FlagKey(),
		ValueType: models.FlagTypeBoolean,
		FlagValue: "false",
		IsEnabled: true,
	}
	if err := s.flags.SetFlag(ctx, flag); err != nil {
		return fmt.Errorf("failed to disable experiment %s: %w", experiment.ExperimentKey, err)
	}

	s.logger.Warn().
		Str("experiment_key", experiment.ExperimentKey).
		Str("variant", variant).
		Str("date_partition", day).
		Float64("ctr_delta", delta).
		Float64("threshold", threshold).
		Msg("Experiment auto-stopped, treatment CTR trails control")

	event := interfaces.Event{
		Type: interfaces.EventExperimentAutoStopped,
		Payload: interfaces.AutoStopPayload{
			ExperimentKey: experiment.ExperimentKey,
			Variant:       variant,
			DatePartition: day,
			CTRDelta:      delta,
			Threshold:     threshold,
		},
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).
			Str("experiment_key", experiment.ExperimentKey).
			Msg("Failed to publish experiment.autostopped")
	}
	return nil
}
