package bandit

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/common"
	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
	"github.com/ternarybob/nuntius/internal/services/ranking"
	badgerstore "github.com/ternarybob/nuntius/internal/storage/badger"
)

type banditEnv struct {
	service *Service
	storage interfaces.StorageManager
	loader  *ranking.Loader

	// now is pinned so the decision context bucket stays stable; it
	// maps to 21:00 KST, the "evening" bucket.
	now time.Time
}

func newBanditEnv(t *testing.T) *banditEnv {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	loader := ranking.NewLoader(manager.NewsStorage(), manager.ScoreStorage(), manager.TopicStorage(), manager.EmbeddingStorage())
	service := NewService(manager.BanditStorage(), loader, manager.NewsStorage(), manager.UserStorage(), manager.TelemetryStorage(), logger)

	env := &banditEnv{
		service: service,
		storage: manager,
		loader:  loader,
		now:     time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	service.now = func() time.Time { return env.now }
	service.rng = rand.New(rand.NewSource(99))
	return env
}

const testExperimentKey = "strategy_test"

// contextKey is the bucket every test decision lands in while now is
// pinned to 21:00 KST.
const testContextKey = "hour_bucket=evening"

func (e *banditEnv) seedExperiment(t *testing.T, algorithm string, epsilon float64) {
	t.Helper()
	err := e.storage.BanditStorage().SaveBanditExperiment(context.Background(), &models.BanditExperiment{
		ExperimentKey: testExperimentKey,
		Algorithm:     algorithm,
		Epsilon:       epsilon,
		Alpha:         1,
		Beta:          1,
		IsActive:      true,
	})
	if err != nil {
		t.Fatalf("failed to seed experiment: %v", err)
	}
}

func (e *banditEnv) seedArms(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		err := e.storage.BanditStorage().SaveArm(context.Background(), &models.BanditArm{
			ExperimentKey: testExperimentKey,
			Name:          name,
			AlgorithmType: name,
			Enabled:       true,
		})
		if err != nil {
			t.Fatalf("failed to seed arm %s: %v", name, err)
		}
	}
}

func (e *banditEnv) seedState(t *testing.T, arm string, pulls int64, totalReward, sumSquared float64) {
	t.Helper()
	err := e.storage.BanditStorage().UpsertState(context.Background(), &models.BanditState{
		Key:              models.StateKey(testExperimentKey, arm, testContextKey),
		ExperimentKey:    testExperimentKey,
		Arm:              arm,
		ContextKey:       testContextKey,
		Pulls:            pulls,
		TotalReward:      totalReward,
		SumRewardSquared: sumSquared,
	})
	if err != nil {
		t.Fatalf("failed to seed state for %s: %v", arm, err)
	}
}

func (e *banditEnv) seedArticle(t *testing.T, title string, rankScore float64, publishedAt time.Time) uint64 {
	t.Helper()
	ctx := context.Background()

	id, err := e.storage.NewsStorage().SaveNews(ctx, &models.News{
		Source:      "yonhap-economy",
		URL:         "https://news.example.com/" + title,
		Title:       title,
		Body:        title + " 기사 본문.",
		Lang:        "ko",
		PublishedAt: publishedAt,
		DedupKey:    title,
	})
	if err != nil {
		t.Fatalf("failed to seed news %q: %v", title, err)
	}

	err = e.storage.ScoreStorage().SaveScore(ctx, &models.NewsScore{
		NewsID:     id,
		Importance: rankScore * 10,
		RankScore:  rankScore,
	})
	if err != nil {
		t.Fatalf("failed to seed score for %q: %v", title, err)
	}
	return id
}

func (e *banditEnv) armState(t *testing.T, arm string) *models.BanditState {
	t.Helper()
	state, err := e.storage.BanditStorage().GetState(context.Background(), models.StateKey(testExperimentKey, arm, testContextKey))
	if err != nil {
		t.Fatalf("failed to load state for %s: %v", arm, err)
	}
	return state
}

func TestEnsureDefaults_SeedsExperimentAndArms(t *testing.T) {
	env := newBanditEnv(t)
	ctx := context.Background()

	if err := env.service.EnsureDefaults(ctx, models.BanditAlgorithmEpsilonGreedy, 0.1, 1, 1); err != nil {
		t.Fatalf("ensure defaults failed: %v", err)
	}
	// Second call must not duplicate anything, even with other settings.
	if err := env.service.EnsureDefaults(ctx, models.BanditAlgorithmThompson, 0.5, 2, 2); err != nil {
		t.Fatalf("repeated ensure defaults failed: %v", err)
	}

	experiment, err := env.storage.BanditStorage().GetBanditExperiment(ctx, DefaultExperimentKey)
	if err != nil {
		t.Fatalf("default experiment missing: %v", err)
	}
	if experiment.Algorithm != models.BanditAlgorithmEpsilonGreedy {
		t.Errorf("algorithm = %q, want epsilon_greedy", experiment.Algorithm)
	}
	if experiment.Epsilon != 0.1 {
		t.Errorf("epsilon = %v, want 0.1", experiment.Epsilon)
	}
	if !experiment.IsActive {
		t.Error("default experiment is not active")
	}

	arms, err := env.storage.BanditStorage().ListArms(ctx, DefaultExperimentKey)
	if err != nil {
		t.Fatalf("failed to list arms: %v", err)
	}
	if len(arms) != 4 {
		t.Fatalf("arms = %d, want 4", len(arms))
	}
	names := make(map[string]bool, len(arms))
	for _, arm := range arms {
		names[arm.Name] = arm.Enabled
	}
	for _, want := range []string{models.ArmPersonalized, models.ArmPopular, models.ArmDiverse, models.ArmRecent} {
		if !names[want] {
			t.Errorf("arm %s missing or disabled", want)
		}
	}
}

func TestEnsureDefaults_FallsBackOnBadSeed(t *testing.T) {
	env := newBanditEnv(t)
	ctx := context.Background()

	if err := env.service.EnsureDefaults(ctx, "genetic", 5, -1, 0); err != nil {
		t.Fatalf("ensure defaults failed: %v", err)
	}

	experiment, err := env.storage.BanditStorage().GetBanditExperiment(ctx, DefaultExperimentKey)
	if err != nil {
		t.Fatalf("default experiment missing: %v", err)
	}
	if experiment.Algorithm != models.BanditAlgorithmEpsilonGreedy {
		t.Errorf("algorithm = %q, want epsilon_greedy fallback", experiment.Algorithm)
	}
	if experiment.Epsilon != 0.1 {
		t.Errorf("epsilon = %v, want 0.1 fallback", experiment.Epsilon)
	}
	if experiment.Alpha != 1 || experiment.Beta != 1 {
		t.Errorf("priors = %v/%v, want 1/1 fallback", experiment.Alpha, experiment.Beta)
	}
}

func TestRecommend_EpsilonZeroExploitsBestArm(t *testing.T) {
	env := newBanditEnv(t)
	ctx := context.Background()

	env.seedExperiment(t, models.BanditAlgorithmEpsilonGreedy, 0)
	env.seedArms(t, models.ArmRecent, models.ArmPopular)
	env.seedState(t, models.ArmRecent, 10, 8, 6.4)
	env.seedState(t, models.ArmPopular, 10, 2, 0.4)
	env.seedArticle(t, "삼성전자 실적 발표", 0.9, time.Now().Add(-1*time.Hour))
	env.seedArticle(t, "코스피 상승 마감", 0.7, time.Now().Add(-2*time.Hour))

	rec, err := env.service.Recommend(ctx, "anon-1", 2)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if rec.Arm != models.ArmRecent {
		t.Errorf("arm = %s, want RECENT", rec.Arm)
	}
	if rec.SelectionReason != models.SelectionExploitation {
		t.Errorf("reason = %s, want EXPLOITATION", rec.SelectionReason)
	}
	if len(rec.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(rec.Items))
	}
	for i, item := range rec.Items {
		if item.Position != i+1 {
			t.Errorf("item %d position = %d, want %d", i, item.Position, i+1)
		}
	}
	if !rec.Items[0].News.PublishedAt.After(rec.Items[1].News.PublishedAt) {
		t.Error("recent arm did not order newest first")
	}

	decision, err := env.storage.BanditStorage().GetDecision(ctx, rec.DecisionID)
	if err != nil {
		t.Fatalf("decision not persisted: %v", err)
	}
	if decision.Arm != models.ArmRecent || decision.SelectionReason != models.SelectionExploitation {
		t.Errorf("persisted decision = %s/%s, want RECENT/EXPLOITATION", decision.Arm, decision.SelectionReason)
	}
	if decision.Context.Key() != testContextKey {
		t.Errorf("context key = %q, want %q", decision.Context.Key(), testContextKey)
	}
	if math.Abs(decision.DecisionValue-0.8) > 0.0001 {
		t.Errorf("decision value = %v, want 0.8", decision.DecisionValue)
	}
	if len(decision.NewsIDs) != 2 {
		t.Errorf("decision news IDs = %d, want 2", len(decision.NewsIDs))
	}

	count, err := env.storage.BanditStorage().CountDecisions(ctx, testExperimentKey)
	if err != nil {
		t.Fatalf("failed to count decisions: %v", err)
	}
	if count != 1 {
		t.Errorf("decision count = %d, want 1", count)
	}
}

func TestRecommend_EpsilonOneAlwaysExplores(t *testing.T) {
	env := newBanditEnv(t)
	ctx := context.Background()

	env.seedExperiment(t, models.BanditAlgorithmEpsilonGreedy, 1)
	env.seedArms(t, models.ArmRecent, models.ArmPopular)
	env.seedState(t, models.ArmRecent, 10, 9, 8.1)
	env.seedArticle(t, "환율 급등", 0.5, time.Now().Add(-1*time.Hour))

	for i := 0; i < 10; i++ {
		rec, err := env.service.Recommend(ctx, "anon-1", 1)
		if err != nil {
			t.Fatalf("recommend %d failed: %v", i, err)
		}
		if rec.SelectionReason != models.SelectionExploration {
			t.Fatalf("recommend %d reason = %s, want EXPLORATION", i, rec.SelectionReason)
		}
	}
}

func TestRecommend_TiedMeansBreakRandomly(t *testing.T) {
	env := newBanditEnv(t)
	ctx := context.Background()

	env.seedExperiment(t, models.BanditAlgorithmEpsilonGreedy, 0)
	env.seedArms(t, models.ArmRecent, models.ArmPopular)
	env.seedArticle(t, "금리 동결", 0.5, time.Now().Add(-1*time.Hour))

	rec, err := env.service.Recommend(ctx, "anon-1", 1)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if rec.SelectionReason != models.SelectionRandom {
		t.Errorf("reason = %s, want RANDOM for tied unpulled arms", rec.SelectionReason)
	}
}

func TestRecommend_UCB1PrefersUnpulledArm(t *testing.T) {
	env := newBanditEnv(t)
	ctx := context.Background()

	env.seedExperiment(t, models.BanditAlgorithmUCB1, 0)
	env.seedArms(t, models.ArmRecent, models.ArmPopular)
	env.seedState(t, models.ArmRecent, 5, 4.5, 4.05)
	env.seedArticle(t, "반도체 수출 호조", 0.8, time.Now().Add(-1*time.Hour))

	rec, err := env.service.Recommend(ctx, "anon-1", 1)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if rec.Arm != models.ArmPopular {
		t.Errorf("arm = %s, want unpulled POPULAR", rec.Arm)
	}
	if rec.SelectionReason != models.SelectionExploration {
		t.Errorf("reason = %s, want EXPLORATION", rec.SelectionReason)
	}
}

func TestRecommend_UCB1PicksHighestBound(t *testing.T) {
	env := newBanditEnv(t)
	ctx := context.Background()

	env.seedExperiment(t, models.BanditAlgorithmUCB1, 0)
	env.seedArms(t, models.ArmRecent, models.ArmPopular)
	// RECENT: mean 0.5 over 100 pulls, bound ~0.804. POPULAR: mean 0.1
	// over 1 pull, bound ~3.138. The confidence term dominates.
	env.seedState(t, models.ArmRecent, 100, 50, 50)
	env.seedState(t, models.ArmPopular, 1, 0.1, 0.01)
	env.seedArticle(t, "유가 하락", 0.6, time.Now().Add(-1*time.Hour))

	rec, err := env.service.Recommend(ctx, "anon-1", 1)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if rec.Arm != models.ArmPopular {
		t.Errorf("arm = %s, want POPULAR", rec.Arm)
	}
	if rec.SelectionReason != models.SelectionExploitation {
		t.Errorf("reason = %s, want EXPLOITATION", rec.SelectionReason)
	}

	decision, err := env.storage.BanditStorage().GetDecision(ctx, rec.DecisionID)
	if err != nil {
		t.Fatalf("decision not persisted: %v", err)
	}
	wantBound := 0.1 + math.Sqrt(2*math.Log(101)/1)
	if math.Abs(decision.DecisionValue-wantBound) > 0.001 {
		t.Errorf("decision value = %v, want %v", decision.DecisionValue, wantBound)
	}
}

func TestRecommend_ThompsonFavorsStrongArm(t *testing.T) {
	env := newBanditEnv(t)
	ctx := context.Background()

	env.seedExperiment(t, models.BanditAlgorithmThompson, 0)
	env.seedArms(t, models.ArmRecent, models.ArmPopular)
	// Posteriors Beta(46,6) vs Beta(3.5,48.5): effectively disjoint.
	env.seedState(t, models.ArmRecent, 50, 45, 40.5)
	env.seedState(t, models.ArmPopular, 50, 2.5, 0.125)
	env.seedArticle(t, "코스닥 강세", 0.7, time.Now().Add(-1*time.Hour))

	rec, err := env.service.Recommend(ctx, "anon-1", 1)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if rec.Arm != models.ArmRecent {
		t.Errorf("arm = %s, want RECENT", rec.Arm)
	}
	if rec.SelectionReason != models.SelectionExploitation {
		t.Errorf("reason = %s, want EXPLOITATION", rec.SelectionReason)
	}
}

func TestRecommend_SkipsDisabledArms(t *testing.T) {
	env := newBanditEnv(t)
	ctx := context.Background()

	env.seedExperiment(t, models.BanditAlgorithmEpsilonGreedy, 1)
	env.seedArms(t, models.ArmRecent)
	err := env.storage.BanditStorage().SaveArm(ctx, &models.BanditArm{
		ExperimentKey: testExperimentKey,
		Name:          models.ArmPopular,
		AlgorithmType: models.ArmPopular,
		Enabled:       false,
	})
	if err != nil {
		t.Fatalf("failed to seed disabled arm: %v", err)
	}
	env.seedArticle(t, "증시 마감", 0.4, time.Now().Add(-1*time.Hour))

	for i := 0; i < 10; i++ {
		rec, err := env.service.Recommend(ctx, "anon-1", 1)
		if err != nil {
			t.Fatalf("recommend %d failed: %v", i, err)
		}
		if rec.Arm != models.ArmRecent {
			t.Fatalf("recommend %d picked disabled arm %s", i, rec.Arm)
		}
	}
}

func TestRecommend_ValidatesLimit(t *testing.T) {
	env := newBanditEnv(t)

	for _, limit := range []int{0, -1, 101} {
		_, err := env.service.Recommend(context.Background(), "anon-1", limit)
		if !errors.Is(err, models.ErrValidation) {
			t.Errorf("limit %d error = %v, want ErrValidation", limit, err)
		}
	}
}

func TestRecommend_NoActiveExperiment(t *testing.T) {
	env := newBanditEnv(t)

	_, err := env.service.Recommend(context.Background(), "anon-1", 5)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestReward_UpdatesArmStatistics(t *testing.T) {
	env := newBanditEnv(t)
	ctx := context.Background()

	env.seedExperiment(t, models.BanditAlgorithmEpsilonGreedy, 0)
	env.seedArms(t, models.ArmRecent)
	env.seedArticle(t, "원화 강세", 0.6, time.Now().Add(-1*time.Hour))

	rec, err := env.service.Recommend(ctx, "anon-1", 1)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}

	if err := env.service.Reward(ctx, rec.DecisionID, models.RewardTypeClick, 0); err != nil {
		t.Fatalf("click reward failed: %v", err)
	}
	state := env.armState(t, models.ArmRecent)
	if state.Pulls != 1 || state.TotalReward != 1 || state.SumRewardSquared != 1 {
		t.Errorf("after click: pulls=%d total=%v sumsq=%v, want 1/1/1",
			state.Pulls, state.TotalReward, state.SumRewardSquared)
	}

	// 30 s of dwell normalizes to 0.5.
	if err := env.service.Reward(ctx, rec.DecisionID, models.RewardTypeDwellTime, 30); err != nil {
		t.Fatalf("dwell reward failed: %v", err)
	}
	state = env.armState(t, models.ArmRecent)
	if state.Pulls != 2 {
		t.Errorf("pulls = %d, want 2", state.Pulls)
	}
	if math.Abs(state.TotalReward-1.5) > 1e-9 {
		t.Errorf("total reward = %v, want 1.5", state.TotalReward)
	}
	if math.Abs(state.SumRewardSquared-1.25) > 1e-9 {
		t.Errorf("sum squared = %v, want 1.25", state.SumRewardSquared)
	}
	if !state.LastPullAt.Equal(env.now) {
		t.Errorf("last pull at = %v, want %v", state.LastPullAt, env.now)
	}

	rewards, err := env.storage.BanditStorage().ListRewardsByDecision(ctx, rec.DecisionID)
	if err != nil {
		t.Fatalf("failed to list rewards: %v", err)
	}
	if len(rewards) != 2 {
		t.Errorf("rewards = %d, want 2", len(rewards))
	}
}

func TestReward_RejectsInvalidInput(t *testing.T) {
	env := newBanditEnv(t)
	ctx := context.Background()

	env.seedExperiment(t, models.BanditAlgorithmEpsilonGreedy, 0)
	env.seedArms(t, models.ArmRecent)
	env.seedArticle(t, "채권 금리", 0.5, time.Now().Add(-1*time.Hour))

	rec, err := env.service.Recommend(ctx, "anon-1", 1)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}

	if err := env.service.Reward(ctx, "", models.RewardTypeClick, 0); !errors.Is(err, models.ErrValidation) {
		t.Errorf("empty decision ID error = %v, want ErrValidation", err)
	}
	if err := env.service.Reward(ctx, "missing-decision", models.RewardTypeClick, 0); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown decision error = %v, want ErrNotFound", err)
	}
	if err := env.service.Reward(ctx, rec.DecisionID, models.RewardTypeEngagement, 1.2); !errors.Is(err, models.ErrValidation) {
		t.Errorf("out-of-range engagement error = %v, want ErrValidation", err)
	}
	if err := env.service.Reward(ctx, rec.DecisionID, "PURCHASE", 1); !errors.Is(err, models.ErrValidation) {
		t.Errorf("unknown reward type error = %v, want ErrValidation", err)
	}

	// None of the rejected rewards may have touched the statistics.
	_, err = env.storage.BanditStorage().GetState(ctx, models.StateKey(testExperimentKey, models.ArmRecent, testContextKey))
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("state error = %v, want ErrNotFound after rejected rewards", err)
	}
}

func TestReward_ConcurrentClicksStayLinearizable(t *testing.T) {
	env := newBanditEnv(t)
	ctx := context.Background()

	env.seedExperiment(t, models.BanditAlgorithmEpsilonGreedy, 0)
	env.seedArms(t, models.ArmRecent)
	env.seedArticle(t, "외국인 순매수", 0.5, time.Now().Add(-1*time.Hour))

	rec, err := env.service.Recommend(ctx, "anon-1", 1)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := env.service.Reward(ctx, rec.DecisionID, models.RewardTypeClick, 0); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent reward failed: %v", err)
	}

	state := env.armState(t, models.ArmRecent)
	if state.Pulls != workers {
		t.Errorf("pulls = %d, want %d", state.Pulls, workers)
	}
	if state.TotalReward != workers {
		t.Errorf("total reward = %v, want %d", state.TotalReward, workers)
	}
}

func TestPerformance_ReportsConfidenceIntervals(t *testing.T) {
	env := newBanditEnv(t)
	ctx := context.Background()

	env.seedExperiment(t, models.BanditAlgorithmEpsilonGreedy, 0.1)
	// 100 pulls, half rewarded 1 and half 0: mean 0.5, sample variance
	// 25/99, 95% half-width 1.96*sqrt(variance/100) ~ 0.0985.
	env.seedState(t, models.ArmRecent, 100, 50, 50)
	env.seedState(t, models.ArmPopular, 1, 1, 1)

	performances, err := env.service.Performance(ctx)
	if err != nil {
		t.Fatalf("performance failed: %v", err)
	}
	if len(performances) != 2 {
		t.Fatalf("rows = %d, want 2", len(performances))
	}

	// Sorted by arm name: POPULAR first.
	popular := performances[0]
	if popular.Arm != models.ArmPopular || popular.Pulls != 1 {
		t.Errorf("row 0 = %s/%d pulls, want POPULAR/1", popular.Arm, popular.Pulls)
	}
	if popular.MeanReward != 1 || popular.ConfidenceLow != 1 || popular.ConfidenceHigh != 1 {
		t.Errorf("single-pull CI = [%v,%v] mean %v, want degenerate [1,1]",
			popular.ConfidenceLow, popular.ConfidenceHigh, popular.MeanReward)
	}

	recent := performances[1]
	if recent.Arm != models.ArmRecent {
		t.Fatalf("row 1 arm = %s, want RECENT", recent.Arm)
	}
	if recent.MeanReward != 0.5 {
		t.Errorf("mean = %v, want 0.5", recent.MeanReward)
	}
	if math.Abs(recent.ConfidenceLow-0.4015) > 0.001 {
		t.Errorf("confidence low = %v, want ~0.4015", recent.ConfidenceLow)
	}
	if math.Abs(recent.ConfidenceHigh-0.5985) > 0.001 {
		t.Errorf("confidence high = %v, want ~0.5985", recent.ConfidenceHigh)
	}
}

func TestPerformance_NoActiveExperiment(t *testing.T) {
	env := newBanditEnv(t)

	_, err := env.service.Performance(context.Background())
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestEpsilonGreedy_ConvergesToBestArm simulates a feed where the
// RECENT strategy earns engagement 90% of the time and POPULAR 10%.
// After 10k decisions the exploiter should serve RECENT for at least
// 85% of the final thousand.
func TestEpsilonGreedy_ConvergesToBestArm(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping long-running test")
	}

	env := newBanditEnv(t)
	ctx := context.Background()

	env.seedExperiment(t, models.BanditAlgorithmEpsilonGreedy, 0.1)
	env.seedArms(t, models.ArmRecent, models.ArmPopular)
	env.seedArticle(t, "삼성전자 실적", 0.9, time.Now().Add(-1*time.Hour))
	env.seedArticle(t, "코스피 동향", 0.6, time.Now().Add(-2*time.Hour))
	env.seedArticle(t, "환율 마감", 0.3, time.Now().Add(-3*time.Hour))

	engagementRates := map[string]float64{
		models.ArmRecent:  0.9,
		models.ArmPopular: 0.1,
	}
	sim := rand.New(rand.NewSource(7))

	const decisions = 10000
	rewardTotals := make(map[string]float64)
	arms := make([]string, 0, decisions)
	for i := 0; i < decisions; i++ {
		rec, err := env.service.Recommend(ctx, "anon-converge", 3)
		if err != nil {
			t.Fatalf("recommend %d failed: %v", i, err)
		}
		arms = append(arms, rec.Arm)

		value := 0.0
		if sim.Float64() < engagementRates[rec.Arm] {
			value = 1.0
		}
		if err := env.service.Reward(ctx, rec.DecisionID, models.RewardTypeEngagement, value); err != nil {
			t.Fatalf("reward %d failed: %v", i, err)
		}
		rewardTotals[rec.Arm] += value
	}

	bestPicks := 0
	for _, arm := range arms[decisions-1000:] {
		if arm == models.ArmRecent {
			bestPicks++
		}
	}
	if bestPicks < 850 {
		t.Errorf("best arm served %d of last 1000, want >= 850", bestPicks)
	}

	recentState := env.armState(t, models.ArmRecent)
	popularState := env.armState(t, models.ArmPopular)
	if recentState.Pulls+popularState.Pulls != decisions {
		t.Errorf("total pulls = %d, want %d (one per rewarded decision)",
			recentState.Pulls+popularState.Pulls, decisions)
	}
	if recentState.TotalReward != rewardTotals[models.ArmRecent] {
		t.Errorf("RECENT total reward = %v, want %v", recentState.TotalReward, rewardTotals[models.ArmRecent])
	}
	if popularState.TotalReward != rewardTotals[models.ArmPopular] {
		t.Errorf("POPULAR total reward = %v, want %v", popularState.TotalReward, rewardTotals[models.ArmPopular])
	}

	count, err := env.storage.BanditStorage().CountDecisions(ctx, testExperimentKey)
	if err != nil {
		t.Fatalf("failed to count decisions: %v", err)
	}
	if count != decisions {
		t.Errorf("decision count = %d, want %d", count, decisions)
	}
}

func TestHourBucket(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{0, "night"},
		{5, "night"},
		{6, "morning"},
		{11, "morning"},
		{12, "afternoon"},
		{17, "afternoon"},
		{18, "evening"},
		{22, "evening"},
		{23, "night"},
	}
	for _, tc := range cases {
		if got := hourBucket(tc.hour); got != tc.want {
			t.Errorf("hourBucket(%d) = %q, want %q", tc.hour, got, tc.want)
		}
	}
}
