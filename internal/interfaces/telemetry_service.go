package interfaces

import (
	"context"

	"github.com/ternarybob/nuntius/internal/models"
)

// TelemetryService buffers impression and click events and flushes them
// to storage in batches. Recording never blocks the serving path.
type TelemetryService interface {
	// RecordImpressions buffers one impression per served item.
	RecordImpressions(impressions []*models.ImpressionLog)

	// RecordClick buffers one click event.
	RecordClick(click *models.ClickLog)

	// Flush writes all buffered events immediately.
	Flush(ctx context.Context) error

	// RunDailyRollup aggregates the given UTC day (YYYY-MM-DD) into
	// ExperimentMetricsDaily rows.
	RunDailyRollup(ctx context.Context, datePartition string) error

	// Start launches the background flusher.
	Start(ctx context.Context) error

	// Stop flushes remaining events and stops the flusher.
	Stop() error
}
