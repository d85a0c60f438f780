package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nuntius/internal/models"
)

func TestBanditStorage_StateRoundTrip(t *testing.T) {
	db := newTestDB(t)
	storage := NewBanditStorage(db, arbor.NewLogger())
	ctx := context.Background()

	key := models.StateKey("ranking_bandit", models.ArmPopular, "global=all")
	state := &models.BanditState{
		Key:           key,
		ExperimentKey: "ranking_bandit",
		Arm:           models.ArmPopular,
		ContextKey:    "global=all",
		Pulls:         3,
		TotalReward:   2.5,
		LastPullAt:    time.Now().UTC(),
	}
	require.NoError(t, storage.UpsertState(ctx, state))

	loaded, err := storage.GetState(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.Pulls)
	assert.InDelta(t, 2.5, loaded.TotalReward, 1e-9)

	// Upsert accumulated stats and re-read.
	state.Pulls = 4
	state.TotalReward = 3.5
	state.SumRewardSquared = 3.25
	require.NoError(t, storage.UpsertState(ctx, state))

	loaded, err = storage.GetState(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(4), loaded.Pulls)
	assert.InDelta(t, 3.5, loaded.TotalReward, 1e-9)
}

func TestBanditStorage_ListStatesByExperiment(t *testing.T) {
	db := newTestDB(t)
	storage := NewBanditStorage(db, arbor.NewLogger())
	ctx := context.Background()

	arms := []string{models.ArmPersonalized, models.ArmPopular, models.ArmDiverse}
	for _, arm := range arms {
		state := &models.BanditState{
			Key:           models.StateKey("ranking_bandit", arm, "global=all"),
			ExperimentKey: "ranking_bandit",
			Arm:           arm,
			ContextKey:    "global=all",
			Pulls:         1,
		}
		require.NoError(t, storage.UpsertState(ctx, state))
	}

	// A different experiment must not leak into the listing.
	other := &models.BanditState{
		Key:           models.StateKey("other_bandit", models.ArmRecent, "global=all"),
		ExperimentKey: "other_bandit",
		Arm:           models.ArmRecent,
		ContextKey:    "global=all",
	}
	require.NoError(t, storage.UpsertState(ctx, other))

	states, err := storage.ListStates(ctx, "ranking_bandit")
	require.NoError(t, err)
	assert.Len(t, states, len(arms))
}

func TestBanditStorage_DecisionAndRewards(t *testing.T) {
	db := newTestDB(t)
	storage := NewBanditStorage(db, arbor.NewLogger())
	ctx := context.Background()

	decision := &models.BanditDecision{
		ID:              "bd_test_1",
		ExperimentKey:   "ranking_bandit",
		Arm:             models.ArmDiverse,
		Context:         models.BanditContext{ContextType: "global", ContextValue: "all"},
		DecisionValue:   0.42,
		SelectionReason: models.SelectionExploitation,
		NewsIDs:         []uint64{1, 2, 3},
	}
	require.NoError(t, storage.SaveDecision(ctx, decision))

	loaded, err := storage.GetDecision(ctx, "bd_test_1")
	require.NoError(t, err)
	assert.Equal(t, models.ArmDiverse, loaded.Arm)
	assert.Equal(t, models.SelectionExploitation, loaded.SelectionReason)
	assert.Equal(t, []uint64{1, 2, 3}, loaded.NewsIDs)

	require.NoError(t, storage.SaveReward(ctx, &models.BanditReward{
		DecisionID:  "bd_test_1",
		RewardType:  models.RewardTypeClick,
		RewardValue: 1.0,
	}))
	require.NoError(t, storage.SaveReward(ctx, &models.BanditReward{
		DecisionID:  "bd_test_1",
		RewardType:  models.RewardTypeDwellTime,
		RewardValue: 0.5,
	}))

	rewards, err := storage.ListRewardsByDecision(ctx, "bd_test_1")
	require.NoError(t, err)
	assert.Len(t, rewards, 2)

	count, err := storage.CountDecisions(ctx, "ranking_bandit")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBacklogStorage_EnqueuePreservesAttempts(t *testing.T) {
	db := newTestDB(t)
	storage := NewBacklogStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.Enqueue(ctx, &models.EmbeddingBacklog{
		NewsID:   42,
		Attempts: 2,
	}))

	// Re-enqueue with a lower attempt count must keep the higher one.
	require.NoError(t, storage.Enqueue(ctx, &models.EmbeddingBacklog{
		NewsID:   42,
		Attempts: 1,
	}))

	entries, err := storage.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Attempts)

	require.NoError(t, storage.Delete(ctx, 42))
	count, err := storage.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
