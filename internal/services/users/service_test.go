package users

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/common"
	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
	badgerstore "github.com/ternarybob/nuntius/internal/storage/badger"
)

type usersEnv struct {
	service *Service
	storage interfaces.StorageManager
	now     time.Time
}

func newUsersEnv(t *testing.T) *usersEnv {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	env := &usersEnv{
		service: NewService(manager.UserStorage(), logger),
		storage: manager,
		now:     time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	env.service.now = func() time.Time { return env.now }
	return env
}

func TestTouch_CreatesOnFirstSight(t *testing.T) {
	env := newUsersEnv(t)
	ctx := context.Background()

	if err := env.service.Touch(ctx, "reader-1", "Mozilla/5.0"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	user, err := env.storage.UserStorage().GetUser(ctx, "reader-1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.SessionCount != 1 {
		t.Errorf("SessionCount = %d, want 1", user.SessionCount)
	}
	if !user.FirstSeenAt.Equal(env.now) || !user.LastSeenAt.Equal(env.now) {
		t.Errorf("timestamps = first %v last %v, want both %v", user.FirstSeenAt, user.LastSeenAt, env.now)
	}
	if user.UserAgent != "Mozilla/5.0" {
		t.Errorf("UserAgent = %q", user.UserAgent)
	}
	if !user.IsActive {
		t.Error("expected user to be active")
	}
}

func TestTouch_SameSessionKeepsCount(t *testing.T) {
	env := newUsersEnv(t)
	ctx := context.Background()

	if err := env.service.Touch(ctx, "reader-1", "Mozilla/5.0"); err != nil {
		t.Fatalf("first Touch failed: %v", err)
	}
	first := env.now

	env.now = env.now.Add(5 * time.Minute)
	if err := env.service.Touch(ctx, "reader-1", ""); err != nil {
		t.Fatalf("second Touch failed: %v", err)
	}

	user, err := env.storage.UserStorage().GetUser(ctx, "reader-1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.SessionCount != 1 {
		t.Errorf("SessionCount = %d, want 1 within the same session", user.SessionCount)
	}
	if !user.FirstSeenAt.Equal(first) {
		t.Errorf("FirstSeenAt changed: %v", user.FirstSeenAt)
	}
	if !user.LastSeenAt.Equal(env.now) {
		t.Errorf("LastSeenAt = %v, want %v", user.LastSeenAt, env.now)
	}
	if user.UserAgent != "Mozilla/5.0" {
		t.Errorf("empty user agent overwrote the stored one: %q", user.UserAgent)
	}
}

func TestTouch_NewSessionAfterGap(t *testing.T) {
	env := newUsersEnv(t)
	ctx := context.Background()

	if err := env.service.Touch(ctx, "reader-1", "Mozilla/5.0"); err != nil {
		t.Fatalf("first Touch failed: %v", err)
	}

	env.now = env.now.Add(sessionGap + time.Minute)
	if err := env.service.Touch(ctx, "reader-1", "Mozilla/6.0"); err != nil {
		t.Fatalf("second Touch failed: %v", err)
	}

	user, err := env.storage.UserStorage().GetUser(ctx, "reader-1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.SessionCount != 2 {
		t.Errorf("SessionCount = %d, want 2 after the session gap", user.SessionCount)
	}
	if user.UserAgent != "Mozilla/6.0" {
		t.Errorf("UserAgent = %q, want the latest", user.UserAgent)
	}
}

func TestTouch_Validates(t *testing.T) {
	env := newUsersEnv(t)

	err := env.service.Touch(context.Background(), "  ", "Mozilla/5.0")
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("Touch error = %v, want ErrValidation", err)
	}
}

func TestGetPreference_NilWhenUnsaved(t *testing.T) {
	env := newUsersEnv(t)
	ctx := context.Background()

	pref, err := env.service.GetPreference(ctx, "reader-1")
	if err != nil {
		t.Fatalf("GetPreference failed: %v", err)
	}
	if pref != nil {
		t.Errorf("expected nil preference, got %+v", pref)
	}

	if _, err := env.service.GetPreference(ctx, ""); !errors.Is(err, models.ErrValidation) {
		t.Errorf("empty user ID error = %v, want ErrValidation", err)
	}
}

func TestPutPreference_NormalizesAndSaves(t *testing.T) {
	env := newUsersEnv(t)
	ctx := context.Background()

	err := env.service.PutPreference(ctx, &models.UserPreference{
		UserID:                 "reader-1",
		InterestTickers:        []string{" 005930 ", "005930", "000660", ""},
		InterestKeywords:       []string{"  반도체 ", "반도체", "Fed", "fed"},
		PersonalizationEnabled: true,
		DiversityWeight:        0.4,
	})
	if err != nil {
		t.Fatalf("PutPreference failed: %v", err)
	}

	pref, err := env.service.GetPreference(ctx, "reader-1")
	if err != nil {
		t.Fatalf("GetPreference failed: %v", err)
	}
	if pref == nil {
		t.Fatal("expected a stored preference")
	}

	wantTickers := []string{"005930", "000660"}
	if len(pref.InterestTickers) != len(wantTickers) {
		t.Fatalf("InterestTickers = %v, want %v", pref.InterestTickers, wantTickers)
	}
	for i, code := range wantTickers {
		if pref.InterestTickers[i] != code {
			t.Errorf("InterestTickers[%d] = %q, want %q", i, pref.InterestTickers[i], code)
		}
	}

	wantKeywords := []string{"반도체", "Fed"}
	if len(pref.InterestKeywords) != len(wantKeywords) {
		t.Fatalf("InterestKeywords = %v, want %v", pref.InterestKeywords, wantKeywords)
	}
	for i, kw := range wantKeywords {
		if pref.InterestKeywords[i] != kw {
			t.Errorf("InterestKeywords[%d] = %q, want %q", i, pref.InterestKeywords[i], kw)
		}
	}

	if !pref.IsActive {
		t.Error("expected saved preference to be active")
	}
	if !pref.PersonalizationEnabled {
		t.Error("expected personalization to stay enabled")
	}
}

func TestPutPreference_Validates(t *testing.T) {
	env := newUsersEnv(t)
	ctx := context.Background()

	manyTickers := make([]string, maxInterestTickers+1)
	for i := range manyTickers {
		manyTickers[i] = "005930"
	}

	tests := []struct {
		name string
		pref *models.UserPreference
	}{
		{name: "nil preference", pref: nil},
		{
			name: "empty user ID",
			pref: &models.UserPreference{InterestTickers: []string{"005930"}},
		},
		{
			name: "diversity weight out of range",
			pref: &models.UserPreference{UserID: "reader-1", DiversityWeight: 1.5},
		},
		{
			name: "non-numeric ticker",
			pref: &models.UserPreference{UserID: "reader-1", InterestTickers: []string{"SAMSUNG"}},
		},
		{
			name: "too many tickers",
			pref: &models.UserPreference{UserID: "reader-1", InterestTickers: manyTickers},
		},
		{
			name: "oversized keyword",
			pref: &models.UserPreference{UserID: "reader-1", InterestKeywords: []string{strings.Repeat("가", maxKeywordLength+1)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.service.PutPreference(ctx, tt.pref)
			if !errors.Is(err, models.ErrValidation) {
				t.Errorf("PutPreference error = %v, want ErrValidation", err)
			}
		})
	}

	if pref, err := env.service.GetPreference(ctx, "reader-1"); err != nil || pref != nil {
		t.Errorf("rejected preference was stored: pref=%+v err=%v", pref, err)
	}
}
