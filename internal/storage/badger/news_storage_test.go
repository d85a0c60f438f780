package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nuntius/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// newTestDB opens a throwaway store for one test.
func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &BadgerDB{store: store, logger: arbor.NewLogger()}
}

func testNews(source, title string, publishedAt time.Time) *models.News {
	return &models.News{
		Source:      source,
		URL:         "https://example.com/" + title,
		Title:       title,
		Body:        "본문 " + title,
		Lang:        "ko",
		PublishedAt: publishedAt,
		DedupKey:    source + "|" + title,
	}
}

func TestNewsStorage_SaveAssignsSequentialIDs(t *testing.T) {
	db := newTestDB(t)
	storage := NewNewsStorage(db, arbor.NewLogger())
	ctx := context.Background()

	now := time.Now().UTC()

	first := testNews("yonhap-economy", "삼성전자 실적 발표", now)
	id1, err := storage.SaveNews(ctx, first)
	require.NoError(t, err)

	second := testNews("yonhap-economy", "SK하이닉스 투자 확대", now)
	id2, err := storage.SaveNews(ctx, second)
	require.NoError(t, err)

	assert.NotZero(t, id1)
	assert.Greater(t, id2, id1, "IDs should increase monotonically")

	loaded, err := storage.GetNews(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, first.Title, loaded.Title)
	assert.Equal(t, first.DedupKey, loaded.DedupKey)
	assert.False(t, loaded.CreatedAt.IsZero())
}

func TestNewsStorage_ExistsByDedupKey(t *testing.T) {
	db := newTestDB(t)
	storage := NewNewsStorage(db, arbor.NewLogger())
	ctx := context.Background()

	news := testNews("mk-stock", "코스피 상승 마감", time.Now().UTC())
	_, err := storage.SaveNews(ctx, news)
	require.NoError(t, err)

	exists, err := storage.ExistsByDedupKey(ctx, news.DedupKey)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = storage.ExistsByDedupKey(ctx, "missing-key")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNewsStorage_ListRecentNews(t *testing.T) {
	db := newTestDB(t)
	storage := NewNewsStorage(db, arbor.NewLogger())
	ctx := context.Background()

	now := time.Now().UTC()

	old := testNews("edaily-stock", "지난주 기사", now.Add(-96*time.Hour))
	_, err := storage.SaveNews(ctx, old)
	require.NoError(t, err)

	recent1 := testNews("edaily-stock", "한 시간 전 기사", now.Add(-1*time.Hour))
	_, err = storage.SaveNews(ctx, recent1)
	require.NoError(t, err)

	recent2 := testNews("edaily-stock", "방금 올라온 기사", now.Add(-5*time.Minute))
	_, err = storage.SaveNews(ctx, recent2)
	require.NoError(t, err)

	items, err := storage.ListRecentNews(ctx, now.Add(-72*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, items, 2, "old article should be excluded")

	// Newest first.
	assert.Equal(t, recent2.Title, items[0].Title)
	assert.Equal(t, recent1.Title, items[1].Title)

	limited, err := storage.ListRecentNews(ctx, now.Add(-72*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, recent2.Title, limited[0].Title)
}

func TestNewsStorage_GetMissingReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	storage := NewNewsStorage(db, arbor.NewLogger())

	_, err := storage.GetNews(context.Background(), 9999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
