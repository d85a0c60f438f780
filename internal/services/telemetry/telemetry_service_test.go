package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/common"
	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
	badgerstore "github.com/ternarybob/nuntius/internal/storage/badger"
)

type telemetryEnv struct {
	service *Service
	storage interfaces.StorageManager
}

func newTelemetryEnv(t *testing.T) *telemetryEnv {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	service := NewService(manager.TelemetryStorage(), manager.EmbeddingStorage(), 0, 0, logger)
	return &telemetryEnv{service: service, storage: manager}
}

func impression(anonID string, newsID uint64, experimentKey, variant, partition string) *models.ImpressionLog {
	return &models.ImpressionLog{
		AnonID:        anonID,
		NewsID:        newsID,
		ShownAt:       time.Now().UTC(),
		Position:      1,
		RankScore:     0.5,
		ExperimentKey: experimentKey,
		Variant:       variant,
		DatePartition: partition,
	}
}

func click(anonID string, newsID uint64, dwellMs int64, experimentKey, variant, partition string) *models.ClickLog {
	return &models.ClickLog{
		AnonID:        anonID,
		NewsID:        newsID,
		ClickedAt:     time.Now().UTC(),
		DwellTimeMs:   dwellMs,
		ExperimentKey: experimentKey,
		Variant:       variant,
		DatePartition: partition,
	}
}

func (e *telemetryEnv) seedEmbedding(t *testing.T, newsID uint64, vector []float32) {
	t.Helper()
	err := e.storage.EmbeddingStorage().SaveEmbedding(context.Background(), &models.NewsEmbedding{
		NewsID:       newsID,
		Vector:       vector,
		Norm:         models.VectorNorm(vector),
		ModelVersion: "embed-v1",
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed embedding for news %d: %v", newsID, err)
	}
}

// waitFor polls until check passes or the deadline expires.
func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFlush_WritesBufferedBatches(t *testing.T) {
	env := newTelemetryEnv(t)
	ctx := context.Background()
	day := "2025-03-10"

	env.service.RecordImpressions([]*models.ImpressionLog{
		impression("anon-1", 1, "ranking_v2", "control", day),
		impression("anon-1", 2, "ranking_v2", "control", day),
		impression("anon-2", 1, "ranking_v2", "personalized", day),
	})
	env.service.RecordClick(click("anon-1", 1, 5000, "ranking_v2", "control", day))

	if err := env.service.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	impressions, err := env.storage.TelemetryStorage().ListImpressionsByDate(ctx, day)
	if err != nil {
		t.Fatalf("failed to list impressions: %v", err)
	}
	if len(impressions) != 3 {
		t.Errorf("persisted impressions = %d, want 3", len(impressions))
	}

	clicks, err := env.storage.TelemetryStorage().ListClicksByDate(ctx, day)
	if err != nil {
		t.Fatalf("failed to list clicks: %v", err)
	}
	if len(clicks) != 1 {
		t.Fatalf("persisted clicks = %d, want 1", len(clicks))
	}
	if clicks[0].DwellTimeMs != 5000 {
		t.Errorf("dwell = %d, want 5000", clicks[0].DwellTimeMs)
	}

	// Buffers are drained; a second flush writes nothing.
	if err := env.service.Flush(ctx); err != nil {
		t.Fatalf("empty flush failed: %v", err)
	}
}

func TestRecord_SizeTriggerFlushesEarly(t *testing.T) {
	env := newTelemetryEnv(t)
	ctx := context.Background()
	day := "2025-03-10"

	// Interval far beyond the test deadline, so only the size kick can
	// explain a write.
	env.service.flushInterval = time.Minute
	env.service.maxBuffered = 5

	if err := env.service.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer env.service.Stop()

	batch := make([]*models.ImpressionLog, 5)
	for i := range batch {
		batch[i] = impression("anon-1", uint64(i+1), "ranking_v2", "control", day)
	}
	env.service.RecordImpressions(batch)

	waitFor(t, 2*time.Second, func() bool {
		impressions, err := env.storage.TelemetryStorage().ListImpressionsByDate(ctx, day)
		return err == nil && len(impressions) == 5
	})
}

func TestStart_TickerFlushesPeriodically(t *testing.T) {
	env := newTelemetryEnv(t)
	ctx := context.Background()
	day := "2025-03-10"

	env.service.flushInterval = 20 * time.Millisecond

	if err := env.service.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer env.service.Stop()

	env.service.RecordClick(click("anon-1", 7, 1200, "", "", day))

	waitFor(t, 2*time.Second, func() bool {
		clicks, err := env.storage.TelemetryStorage().ListClicksByDate(ctx, day)
		return err == nil && len(clicks) == 1
	})
}

func TestStop_FlushesRemainingEvents(t *testing.T) {
	env := newTelemetryEnv(t)
	ctx := context.Background()
	day := "2025-03-10"

	env.service.flushInterval = time.Minute

	if err := env.service.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	env.service.RecordImpressions([]*models.ImpressionLog{
		impression("anon-1", 1, "ranking_v2", "control", day),
	})

	if err := env.service.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	impressions, err := env.storage.TelemetryStorage().ListImpressionsByDate(ctx, day)
	if err != nil {
		t.Fatalf("failed to list impressions: %v", err)
	}
	if len(impressions) != 1 {
		t.Errorf("persisted impressions = %d, want 1", len(impressions))
	}

	// Stop after stop is a no-op.
	if err := env.service.Stop(); err != nil {
		t.Errorf("second stop returned error: %v", err)
	}
}

func TestStart_CancelledContextFlushesRemaining(t *testing.T) {
	env := newTelemetryEnv(t)
	day := "2025-03-10"

	env.service.flushInterval = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	if err := env.service.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	env.service.RecordClick(click("anon-1", 3, 800, "ranking_v2", "control", day))
	cancel()

	waitFor(t, 2*time.Second, func() bool {
		clicks, err := env.storage.TelemetryStorage().ListClicksByDate(context.Background(), day)
		return err == nil && len(clicks) == 1
	})
}

func TestRunDailyRollup_AggregatesPerVariant(t *testing.T) {
	env := newTelemetryEnv(t)
	ctx := context.Background()
	day := "2025-03-10"
	otherDay := "2025-03-09"

	// Control showed two orthogonal articles, personalized showed the
	// same article twice.
	env.seedEmbedding(t, 1, []float32{1, 0, 0})
	env.seedEmbedding(t, 2, []float32{0, 1, 0})
	env.seedEmbedding(t, 3, []float32{1, 0, 0})
	env.seedEmbedding(t, 4, []float32{1, 0, 0})

	impressions := []*models.ImpressionLog{
		impression("anon-1", 1, "ranking_v2", "control", day),
		impression("anon-1", 2, "ranking_v2", "control", day),
		impression("anon-2", 1, "ranking_v2", "control", day),
		impression("anon-3", 2, "ranking_v2", "control", day),
		impression("anon-4", 3, "ranking_v2", "personalized", day),
		impression("anon-4", 4, "ranking_v2", "personalized", day),
		impression("anon-5", 1, "", "", day),
		impression("anon-6", 1, "ranking_v2", "control", otherDay),
	}
	if err := env.storage.TelemetryStorage().SaveImpressions(ctx, impressions); err != nil {
		t.Fatalf("failed to seed impressions: %v", err)
	}

	clicks := []*models.ClickLog{
		click("anon-1", 1, 4000, "ranking_v2", "control", day),
		click("anon-2", 1, 2000, "ranking_v2", "control", day),
		click("anon-5", 1, 9000, "", "", day),
	}
	if err := env.storage.TelemetryStorage().SaveClicks(ctx, clicks); err != nil {
		t.Fatalf("failed to seed clicks: %v", err)
	}

	if err := env.service.RunDailyRollup(ctx, day); err != nil {
		t.Fatalf("rollup failed: %v", err)
	}

	control, err := env.storage.TelemetryStorage().GetDailyMetrics(ctx, "ranking_v2", "control", day)
	if err != nil {
		t.Fatalf("failed to load control metrics: %v", err)
	}
	if control.Impressions != 4 {
		t.Errorf("control impressions = %d, want 4", control.Impressions)
	}
	if control.Clicks != 2 {
		t.Errorf("control clicks = %d, want 2", control.Clicks)
	}
	if control.CTR != 0.5 {
		t.Errorf("control ctr = %v, want 0.5", control.CTR)
	}
	if control.AvgDwellMs != 3000 {
		t.Errorf("control avg dwell = %v, want 3000", control.AvgDwellMs)
	}
	// Orthogonal vectors: pairwise similarity 0, diversity 1.
	if control.DiversityScore < 0.99 {
		t.Errorf("control diversity = %v, want ~1.0", control.DiversityScore)
	}

	personalized, err := env.storage.TelemetryStorage().GetDailyMetrics(ctx, "ranking_v2", "personalized", day)
	if err != nil {
		t.Fatalf("failed to load personalized metrics: %v", err)
	}
	if personalized.Impressions != 2 {
		t.Errorf("personalized impressions = %d, want 2", personalized.Impressions)
	}
	if personalized.Clicks != 0 {
		t.Errorf("personalized clicks = %d, want 0", personalized.Clicks)
	}
	if personalized.CTR != 0 {
		t.Errorf("personalized ctr = %v, want 0", personalized.CTR)
	}
	if personalized.AvgDwellMs != 0 {
		t.Errorf("personalized avg dwell = %v, want 0", personalized.AvgDwellMs)
	}
	// Identical vectors: pairwise similarity 1, diversity 0.
	if personalized.DiversityScore > 0.01 {
		t.Errorf("personalized diversity = %v, want ~0.0", personalized.DiversityScore)
	}

	// Events without an experiment never form a cell.
	if _, err := env.storage.TelemetryStorage().GetDailyMetrics(ctx, "", "", day); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("no-experiment cell error = %v, want ErrNotFound", err)
	}

	// The other partition is untouched by this run.
	if _, err := env.storage.TelemetryStorage().GetDailyMetrics(ctx, "ranking_v2", "control", otherDay); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("other partition error = %v, want ErrNotFound", err)
	}
}

func TestRunDailyRollup_ClicksWithoutImpressions(t *testing.T) {
	env := newTelemetryEnv(t)
	ctx := context.Background()
	day := "2025-03-10"

	err := env.storage.TelemetryStorage().SaveClicks(ctx, []*models.ClickLog{
		click("anon-1", 1, 6000, "ranking_v2", "control", day),
	})
	if err != nil {
		t.Fatalf("failed to seed click: %v", err)
	}

	if err := env.service.RunDailyRollup(ctx, day); err != nil {
		t.Fatalf("rollup failed: %v", err)
	}

	row, err := env.storage.TelemetryStorage().GetDailyMetrics(ctx, "ranking_v2", "control", day)
	if err != nil {
		t.Fatalf("failed to load metrics: %v", err)
	}
	if row.Impressions != 0 {
		t.Errorf("impressions = %d, want 0", row.Impressions)
	}
	if row.CTR != 1.0 {
		t.Errorf("ctr = %v, want 1.0 (denominator floors at 1)", row.CTR)
	}
	if row.AvgDwellMs != 6000 {
		t.Errorf("avg dwell = %v, want 6000", row.AvgDwellMs)
	}
	if row.DiversityScore != 1.0 {
		t.Errorf("diversity = %v, want 1.0 for a single-article day", row.DiversityScore)
	}
}

func TestRunDailyRollup_MissingEmbeddingsScoreNeutral(t *testing.T) {
	env := newTelemetryEnv(t)
	ctx := context.Background()
	day := "2025-03-10"

	err := env.storage.TelemetryStorage().SaveImpressions(ctx, []*models.ImpressionLog{
		impression("anon-1", 101, "ranking_v2", "control", day),
		impression("anon-1", 102, "ranking_v2", "control", day),
	})
	if err != nil {
		t.Fatalf("failed to seed impressions: %v", err)
	}

	if err := env.service.RunDailyRollup(ctx, day); err != nil {
		t.Fatalf("rollup failed: %v", err)
	}

	row, err := env.storage.TelemetryStorage().GetDailyMetrics(ctx, "ranking_v2", "control", day)
	if err != nil {
		t.Fatalf("failed to load metrics: %v", err)
	}
	if row.DiversityScore != 1.0 {
		t.Errorf("diversity = %v, want 1.0 when no embeddings exist", row.DiversityScore)
	}
}

func TestRunDailyRollup_RejectsEmptyPartition(t *testing.T) {
	env := newTelemetryEnv(t)

	err := env.service.RunDailyRollup(context.Background(), "")
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestStart_SecondStartRejected(t *testing.T) {
	env := newTelemetryEnv(t)
	ctx := context.Background()

	if err := env.service.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer env.service.Stop()

	if err := env.service.Start(ctx); err == nil {
		t.Error("second start succeeded, want error")
	}
}
