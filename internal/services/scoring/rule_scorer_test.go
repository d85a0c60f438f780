package scoring

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/models"
	"github.com/ternarybob/nuntius/internal/services/normalizer"
	"github.com/ternarybob/nuntius/internal/services/tickers"
)

// neutralBody is long enough to avoid the quality penalty and carries
// no scoring keywords and no catalog company names.
const neutralBody = "코스피 지수가 오늘 장중 내내 좁은 범위에서 등락을 거듭하다 보합권에서 거래를 마쳤다고 거래소가 밝혔다. 전문가들은 당분간 관망세가 이어질 것으로 내다봤다."

func newTestScorer() *Scorer {
	logger := arbor.NewLogger()
	return NewScorer(tickers.NewMatcher(), normalizer.NewService(logger))
}

func testNews(title, body string, publishedAt time.Time) *models.News {
	return &models.News{
		ID:          1,
		Source:      "hankyung",
		URL:         "https://example.com/a",
		Title:       title,
		Body:        body,
		Lang:        "ko",
		PublishedAt: publishedAt,
	}
}

func TestScore_SourceWeightProportional(t *testing.T) {
	scorer := newTestScorer()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	news := testNews("증시 보합 마감", neutralBody, now.Add(-1*time.Hour))

	scoreA := scorer.Score(news, 1.0, now)
	scoreB := scorer.Score(news, 0.5, now)

	if scoreA.Importance <= scoreB.Importance {
		t.Fatalf("Expected higher-weight source to outscore: %f vs %f", scoreA.Importance, scoreB.Importance)
	}

	ratio := scoreA.Importance / scoreB.Importance
	if math.Abs(ratio-2.0) > 0.01 {
		t.Errorf("Expected importance ratio ~2 between weight 1.0 and 0.5, got %f", ratio)
	}
}

func TestScore_Freshness(t *testing.T) {
	scorer := newTestScorer()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{name: "Within three hours", age: 1 * time.Hour, want: 1.0},
		{name: "Same day", age: 12 * time.Hour, want: 0.5},
		{name: "Within three days", age: 48 * time.Hour, want: 0.2},
		{name: "Stale", age: 100 * time.Hour, want: 0},
		{name: "Future-dated counts as fresh", age: -1 * time.Hour, want: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			news := testNews("증시 보합 마감", neutralBody, now.Add(-tt.age))
			score := scorer.Score(news, 1.0, now)

			got, ok := score.Reason[models.ReasonFreshness].(float64)
			if !ok {
				t.Fatalf("Reason missing freshness: %v", score.Reason)
			}
			if got != tt.want {
				t.Errorf("freshness = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestScore_Keywords(t *testing.T) {
	scorer := newTestScorer()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		title  string
		want   float64
		margin float64
	}{
		{
			name:   "No keywords",
			title:  "증시 보합 마감",
			want:   0,
			margin: 0.0001,
		},
		{
			name:   "Single high-impact keyword",
			title:  "분기 실적 발표 일정",
			want:   0.3,
			margin: 0.0001,
		},
		{
			name:   "High and medium impact stack",
			title:  "실적 개선에 배당 확대, 투자 심리 회복",
			want:   0.8,
			margin: 0.0001,
		},
		{
			name:   "All keywords capped at one",
			title:  "실적 배당 IPO 투자 수익 총정리",
			want:   1.0,
			margin: 0.0001,
		},
		{
			name:   "English IPO casing",
			title:  "대어급 ipo 흥행 조짐",
			want:   0.3,
			margin: 0.0001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			news := testNews(tt.title, neutralBody, now.Add(-1*time.Hour))
			score := scorer.Score(news, 1.0, now)

			got, ok := score.Reason[models.ReasonKeywordsHit].(float64)
			if !ok {
				t.Fatalf("Reason missing keywords_hit: %v", score.Reason)
			}
			if math.Abs(got-tt.want) > tt.margin {
				t.Errorf("keywords_hit = %f, want %f (±%f)", got, tt.want, tt.margin)
			}
		})
	}
}

func TestScore_TickersRaiseImportance(t *testing.T) {
	scorer := newTestScorer()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	plain := testNews("증시 보합 마감", neutralBody, now.Add(-1*time.Hour))
	tickered := testNews("삼성전자 신제품 공개", neutralBody+" 삼성전자는 신제품을 공개했다.", now.Add(-1*time.Hour))

	plainScore := scorer.Score(plain, 1.0, now)
	tickeredScore := scorer.Score(tickered, 1.0, now)

	if tickeredScore.Importance <= plainScore.Importance {
		t.Errorf("Expected ticker mention to raise importance: %f vs %f", tickeredScore.Importance, plainScore.Importance)
	}

	found, ok := tickeredScore.Reason[models.ReasonTickersFound].([]string)
	if !ok {
		t.Fatalf("Reason missing tickers_found: %v", tickeredScore.Reason)
	}
	if len(found) != 1 || found[0] != "005930" {
		t.Errorf("Expected tickers_found [005930], got %v", found)
	}
}

func TestScore_QualityPenalty(t *testing.T) {
	scorer := newTestScorer()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		body    string
		penalty float64
	}{
		{
			name:    "Clean body has no penalty",
			body:    neutralBody,
			penalty: 0,
		},
		{
			name:    "Short body",
			body:    "짧은 본문",
			penalty: 0.5,
		},
		{
			name:    "Short and suspicious body",
			body:    "ㅋㅋㅋㅋㅋㅋㅋ!!!",
			penalty: 1.0,
		},
		{
			name:    "Long but suspicious body",
			body:    strings.Repeat("클릭 클릭 ", 20),
			penalty: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			news := testNews("증시 보합 마감", tt.body, now.Add(-1*time.Hour))
			score := scorer.Score(news, 1.0, now)

			got, ok := score.Reason[models.ReasonQualityPenalty].(float64)
			if tt.penalty == 0 {
				if ok {
					t.Errorf("Expected no quality_penalty in reason, got %f", got)
				}
				return
			}
			if !ok {
				t.Fatalf("Reason missing quality_penalty: %v", score.Reason)
			}
			if got != tt.penalty {
				t.Errorf("quality_penalty = %f, want %f", got, tt.penalty)
			}
		})
	}
}

func TestScore_Bounds(t *testing.T) {
	scorer := newTestScorer()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	news := []*models.News{
		testNews("실적 배당 IPO 투자 수익", "삼성전자 "+neutralBody, now),
		testNews("증시 보합", "짧음", now.Add(-100*time.Hour)),
		testNews("", "", now),
	}

	for _, n := range news {
		score := scorer.Score(n, 1.0, now)
		if score.Importance < 0 || score.Importance > 10 {
			t.Errorf("Importance out of range: %f", score.Importance)
		}
		if score.RankScore < 0 || score.RankScore > 1 {
			t.Errorf("RankScore out of range: %f", score.RankScore)
		}
		if math.Abs(score.RankScore*10-score.Importance) > 0.0001 {
			t.Errorf("RankScore %f inconsistent with Importance %f", score.RankScore, score.Importance)
		}
	}
}

func TestScore_DefaultsSourceWeight(t *testing.T) {
	scorer := newTestScorer()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	news := testNews("증시 보합 마감", neutralBody, now.Add(-1*time.Hour))
	score := scorer.Score(news, 0, now)

	got, ok := score.Reason[models.ReasonSourceWeight].(float64)
	if !ok {
		t.Fatalf("Reason missing source_weight: %v", score.Reason)
	}
	if got != models.DefaultSourceWeight {
		t.Errorf("Expected default source weight %f, got %f", models.DefaultSourceWeight, got)
	}
}

func TestApplyMLProbability(t *testing.T) {
	scorer := newTestScorer()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	news := testNews("분기 실적 발표", neutralBody, now.Add(-1*time.Hour))
	score := scorer.Score(news, 1.0, now)

	ApplyMLProbability(score, 0.8, "importance-v3", now.Add(time.Minute))

	if score.ImportanceP == nil || *score.ImportanceP != 0.8 {
		t.Fatalf("Expected ImportanceP 0.8, got %v", score.ImportanceP)
	}
	if math.Abs(score.Importance-8.0) > 0.0001 {
		t.Errorf("Expected importance 8.0, got %f", score.Importance)
	}
	if math.Abs(score.RankScore-0.8) > 0.0001 {
		t.Errorf("Expected rank score 0.8, got %f", score.RankScore)
	}
	if score.ModelVersion != "importance-v3" {
		t.Errorf("Expected model version recorded, got %q", score.ModelVersion)
	}
	if !score.MLScored() {
		t.Errorf("Expected MLScored true after applying probability")
	}

	// The rule breakdown stays for explainability.
	if _, ok := score.Reason[models.ReasonSourceWeight]; !ok {
		t.Errorf("Expected rule reason to survive ML overwrite")
	}
}
