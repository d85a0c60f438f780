package experiments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/common"
	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
	"github.com/ternarybob/nuntius/internal/services/events"
	badgerstore "github.com/ternarybob/nuntius/internal/storage/badger"
)

func newFlagEnv(t *testing.T) (*FlagService, chan *models.FeatureFlag) {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	eventService := events.NewService(logger)
	t.Cleanup(func() { eventService.Close() })

	changed := make(chan *models.FeatureFlag, 4)
	eventService.Subscribe(interfaces.EventFlagChanged, func(ctx context.Context, event interfaces.Event) error {
		if flag, ok := event.Payload.(*models.FeatureFlag); ok {
			changed <- flag
		}
		return nil
	})

	return NewFlagService(manager.FlagStorage(), eventService, logger), changed
}

func TestIsEnabled_FallbackWhenMissing(t *testing.T) {
	flags, _ := newFlagEnv(t)
	ctx := context.Background()

	if !flags.IsEnabled(ctx, "missing.flag", true) {
		t.Error("missing flag should return fallback true")
	}
	if flags.IsEnabled(ctx, "missing.flag", false) {
		t.Error("missing flag should return fallback false")
	}
}

func TestSetFlag_PersistsAndAnnounces(t *testing.T) {
	flags, changed := newFlagEnv(t)
	ctx := context.Background()

	err := flags.SetFlag(ctx, &models.FeatureFlag{
		FlagKey:   "experiment.ranking_v2.enabled",
		FlagValue: "true",
		IsEnabled: true,
	})
	if err != nil {
		t.Fatalf("SetFlag failed: %v", err)
	}

	if !flags.IsEnabled(ctx, "experiment.ranking_v2.enabled", false) {
		t.Error("flag should evaluate true after SetFlag")
	}

	stored, err := flags.GetFlag(ctx, "experiment.ranking_v2.enabled")
	if err != nil {
		t.Fatalf("GetFlag failed: %v", err)
	}
	if stored.ValueType != models.FlagTypeBoolean {
		t.Errorf("value type = %q, want boolean default", stored.ValueType)
	}
	if stored.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	select {
	case flag := <-changed:
		if flag.FlagKey != "experiment.ranking_v2.enabled" {
			t.Errorf("event flag key = %q", flag.FlagKey)
		}
	case <-time.After(2 * time.Second):
		t.Error("flag.changed event not published")
	}
}

func TestSetFlag_FlipRefreshesCache(t *testing.T) {
	flags, _ := newFlagEnv(t)
	ctx := context.Background()

	seed := func(value string) {
		t.Helper()
		err := flags.SetFlag(ctx, &models.FeatureFlag{
			FlagKey:   "ingest.enabled",
			FlagValue: value,
			IsEnabled: true,
		})
		if err != nil {
			t.Fatalf("SetFlag(%s) failed: %v", value, err)
		}
	}

	seed("true")
	if !flags.IsEnabled(ctx, "ingest.enabled", false) {
		t.Fatal("expected enabled after first set")
	}

	seed("false")
	if flags.IsEnabled(ctx, "ingest.enabled", true) {
		t.Error("cache should serve the flipped value immediately")
	}
}

func TestSetFlag_RejectsEmptyKey(t *testing.T) {
	flags, _ := newFlagEnv(t)

	err := flags.SetFlag(context.Background(), &models.FeatureFlag{FlagValue: "true"})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestIsEnabled_DisabledFlagIsFalse(t *testing.T) {
	flags, _ := newFlagEnv(t)
	ctx := context.Background()

	err := flags.SetFlag(ctx, &models.FeatureFlag{
		FlagKey:   "experiment.holdout.enabled",
		FlagValue: "true",
		IsEnabled: false,
	})
	if err != nil {
		t.Fatalf("SetFlag failed: %v", err)
	}

	if flags.IsEnabled(ctx, "experiment.holdout.enabled", true) {
		t.Error("disabled flag should evaluate false regardless of value")
	}
}
