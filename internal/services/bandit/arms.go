// -----------------------------------------------------------------------
// Bandit Arms - the ranking strategies a bandit decision can route to
// -----------------------------------------------------------------------

package bandit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
	"github.com/ternarybob/nuntius/internal/services/ranking"
)

// serveLookback bounds how far back an arm reaches for candidates. It
// matches the clustering window so the diverse arm sees topic
// assignments.
const serveLookback = 72 * time.Hour

// clickWindowDays is how many day partitions the popular arm counts
// clicks over: today and yesterday.
const clickWindowDays = 2

// armStrategy ranks articles for one bandit arm.
type armStrategy interface {
	Rank(ctx context.Context, bctx models.BanditContext, limit int) ([]uint64, error)
}

// recentArm serves the newest articles regardless of score.
type recentArm struct {
	news interfaces.NewsStorage
	now  func() time.Time
}

func (a *recentArm) Rank(ctx context.Context, _ models.BanditContext, limit int) ([]uint64, error) {
	items, err := a.news.ListRecentNews(ctx, a.now().Add(-serveLookback), limit)
	if err != nil {
		return nil, fmt.Errorf("recent arm: %w", err)
	}

	ids := make([]uint64, len(items))
	for i, news := range items {
		ids[i] = news.ID
	}
	return ids, nil
}

// popularArm orders candidates by recent click volume. Unclicked
// articles keep their stored rank order behind the clicked ones.
type popularArm struct {
	loader    *ranking.Loader
	telemetry interfaces.TelemetryStorage
	now       func() time.Time
}

func (a *popularArm) Rank(ctx context.Context, _ models.BanditContext, limit int) ([]uint64, error) {
	candidates, err := a.loader.LoadTop(ctx, a.now().Add(-serveLookback), ranking.CandidateCap(limit))
	if err != nil {
		return nil, fmt.Errorf("popular arm: %w", err)
	}

	counts := make(map[uint64]int)
	today := a.now().UTC()
	for i := 0; i < clickWindowDays; i++ {
		clicks, err := a.telemetry.ListClicksByDate(ctx, models.DatePartitionOf(today.AddDate(0, 0, -i)))
		if err != nil {
			return nil, fmt.Errorf("popular arm: %w", err)
		}
		for _, click := range clicks {
			counts[click.NewsID]++
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return counts[candidates[i].News.ID] > counts[candidates[j].News.ID]
	})
	return takeIDs(candidates, limit), nil
}

// personalizedArm re-ranks candidates against the user's stored
// preferences and click history.
type personalizedArm struct {
	loader    *ranking.Loader
	users     interfaces.UserStorage
	telemetry interfaces.TelemetryStorage
	now       func() time.Time
}

func (a *personalizedArm) Rank(ctx context.Context, bctx models.BanditContext, limit int) ([]uint64, error) {
	candidates, err := a.loader.LoadTop(ctx, a.now().Add(-serveLookback), ranking.CandidateCap(limit))
	if err != nil {
		return nil, fmt.Errorf("personalized arm: %w", err)
	}

	var pref *models.UserPreference
	var history *ranking.ClickProfile
	if bctx.UserID != "" {
		pref, err = a.users.GetPreference(ctx, bctx.UserID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("personalized arm: %w", err)
		}
		if pref != nil && !pref.PersonalizationEnabled {
			pref = nil
		}
		history, err = ranking.LoadClickProfile(ctx, a.loader, a.telemetry, bctx.UserID, a.now())
		if err != nil {
			return nil, fmt.Errorf("personalized arm: %w", err)
		}
	}

	ranking.Personalize(candidates, pref, history, a.now())
	return takeIDs(candidates, limit), nil
}

// diverseArm applies the MMR filter so near-duplicate articles do not
// crowd the page.
type diverseArm struct {
	loader *ranking.Loader
	now    func() time.Time
}

func (a *diverseArm) Rank(ctx context.Context, _ models.BanditContext, limit int) ([]uint64, error) {
	candidates, err := a.loader.LoadTop(ctx, a.now().Add(-serveLookback), ranking.CandidateCap(limit))
	if err != nil {
		return nil, fmt.Errorf("diverse arm: %w", err)
	}

	selected := ranking.ApplyMMR(candidates, limit, ranking.DefaultLambda)
	return takeIDs(selected, limit), nil
}

func takeIDs(candidates []*ranking.Candidate, limit int) []uint64 {
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	ids := make([]uint64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.News.ID
	}
	return ids
}
