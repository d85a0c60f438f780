package mlclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/models"
)

func newTestClient(serverURL string, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithBaseURL(serverURL),
		WithLogger(arbor.NewLogger()),
		WithRateLimit(1000),
		WithRetryPolicy(&RetryPolicy{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        4 * time.Millisecond,
			BackoffMultiplier: 2.0,
		}),
	}
	return NewClient(append(base, opts...)...)
}

func TestScoreImportance_ReturnsResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/importance:score" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Unexpected Content-Type %s", ct)
		}

		var req importanceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if len(req.Items) != 2 {
			t.Errorf("Expected 2 items, got %d", len(req.Items))
		}

		json.NewEncoder(w).Encode(importanceResponse{
			ModelVersion: "importance-2026.02",
			Results: []interfaces.ImportanceResult{
				{NewsID: 1, Probability: 0.91},
				{NewsID: 2, Probability: 0.12},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	results, err := client.ScoreImportance(context.Background(), []interfaces.ImportanceItem{
		{NewsID: 1, Title: "삼성전자 실적 발표", Body: "영업이익이 시장 예상치를 상회했다"},
		{NewsID: 2, Title: "주간 날씨 전망", Body: "전국이 대체로 맑겠다"},
	})
	if err != nil {
		t.Fatalf("ScoreImportance failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Probability != 0.91 || results[1].Probability != 0.12 {
		t.Errorf("Unexpected probabilities: %+v", results)
	}
	if got := client.ModelVersion(); got != "importance-2026.02" {
		t.Errorf("Expected model version to be recorded, got %q", got)
	}
}

func TestScoreImportance_CachesByText(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(importanceResponse{
			ModelVersion: "importance-2026.02",
			Results:      []interfaces.ImportanceResult{{NewsID: 7, Probability: 0.66}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	items := []interfaces.ImportanceItem{{NewsID: 7, Title: "카카오 신사업 발표", Body: "본문"}}

	for i := 0; i < 2; i++ {
		results, err := client.ScoreImportance(context.Background(), items)
		if err != nil {
			t.Fatalf("Call %d failed: %v", i+1, err)
		}
		if len(results) != 1 || results[0].Probability != 0.66 {
			t.Fatalf("Call %d returned unexpected results: %+v", i+1, results)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 upstream call, got %d", got)
	}
}

func TestScoreImportance_RetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(importanceResponse{
			ModelVersion: "importance-2026.02",
			Results:      []interfaces.ImportanceResult{{NewsID: 1, Probability: 0.5}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	results, err := client.ScoreImportance(context.Background(), []interfaces.ImportanceItem{
		{NewsID: 1, Title: "제목", Body: "본문"},
	})
	if err != nil {
		t.Fatalf("Expected retries to recover, got %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestScoreImportance_PermanentFailureNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "items exceed model input limit", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.ScoreImportance(context.Background(), []interfaces.ImportanceItem{
		{NewsID: 1, Title: "제목", Body: "본문"},
	})
	if err == nil {
		t.Fatal("Expected an error for a 400 response")
	}
	if models.IsTransientRemote(err) {
		t.Errorf("Expected a permanent error, got transient: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected no retries on a permanent failure, got %d attempts", got)
	}
}

func TestClient_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithRetryPolicy(&RetryPolicy{
		MaxAttempts:       1,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1.0,
	}))

	items := []interfaces.ImportanceItem{{NewsID: 1, Title: "제목", Body: "본문"}}
	for i := 0; i < 20; i++ {
		_, err := client.ScoreImportance(context.Background(), items)
		if !models.IsTransientRemote(err) {
			t.Fatalf("Call %d: expected a transient error, got %v", i+1, err)
		}
	}

	if got := client.State(); got != interfaces.BreakerOpen {
		t.Fatalf("Expected the breaker to open after 20 failures, got %s", got)
	}

	_, err := client.ScoreImportance(context.Background(), items)
	if !errors.Is(err, models.ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen while open, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 20 {
		t.Errorf("Expected the open breaker to short-circuit, server saw %d calls", got)
	}
}

func TestHealth_BypassesOpenBreaker(t *testing.T) {
	var healthCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/health":
			atomic.AddInt32(&healthCalls, 1)
			json.NewEncoder(w).Encode(healthResponse{Status: "ok", ModelVersion: "importance-2026.02"})
		default:
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithRetryPolicy(&RetryPolicy{
		MaxAttempts:       1,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1.0,
	}))

	items := []interfaces.ImportanceItem{{NewsID: 1, Title: "제목", Body: "본문"}}
	for i := 0; i < 20; i++ {
		client.ScoreImportance(context.Background(), items)
	}
	if got := client.State(); got != interfaces.BreakerOpen {
		t.Fatalf("Expected an open breaker, got %s", got)
	}

	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Expected Health to bypass the breaker, got %v", err)
	}
	if got := atomic.LoadInt32(&healthCalls); got != 1 {
		t.Errorf("Expected 1 health call, got %d", got)
	}
	if got := client.ModelVersion(); got != "importance-2026.02" {
		t.Errorf("Expected Health to record the model version, got %q", got)
	}
}

func TestSummarize_TruncatesAndCaches(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/v1/summarize" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req summarizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.MaxChars != 240 {
			t.Errorf("Expected max_chars 240, got %d", req.MaxChars)
		}
		json.NewEncoder(w).Encode(summarizeResponse{
			ModelVersion: "summary-2026.02",
			Summary:      strings.Repeat("요", 300),
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	for i := 0; i < 2; i++ {
		summary, err := client.Summarize(context.Background(), "긴 기사", "본문")
		if err != nil {
			t.Fatalf("Call %d failed: %v", i+1, err)
		}
		if got := utf8.RuneCountInString(summary); got != 240 {
			t.Fatalf("Call %d: expected a 240-rune summary, got %d runes", i+1, got)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 upstream call, got %d", got)
	}
}

func TestEmbed_SendsOnlyCacheMisses(t *testing.T) {
	var mu sync.Mutex
	var requested [][]interfaces.EmbedItem
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		mu.Lock()
		requested = append(requested, req.Items)
		mu.Unlock()

		resp := embedResponse{ModelVersion: "embed-2026.02"}
		for _, item := range req.Items {
			resp.Results = append(resp.Results, interfaces.EmbedResult{
				NewsID: item.NewsID,
				Vector: []float32{float32(item.NewsID), 0.5},
			})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	first, err := client.Embed(context.Background(), []interfaces.EmbedItem{
		{NewsID: 1, Text: "삼성전자 실적"},
	})
	if err != nil {
		t.Fatalf("First Embed failed: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("Expected 1 vector, got %d", len(first))
	}

	second, err := client.Embed(context.Background(), []interfaces.EmbedItem{
		{NewsID: 1, Text: "삼성전자 실적"},
		{NewsID: 2, Text: "카카오 신사업"},
	})
	if err != nil {
		t.Fatalf("Second Embed failed: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("Expected 2 vectors, got %d", len(second))
	}
	if !reflect.DeepEqual(second[0].Vector, []float32{1, 0.5}) {
		t.Errorf("Cached vector changed: %v", second[0].Vector)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requested) != 2 {
		t.Fatalf("Expected 2 upstream calls, got %d", len(requested))
	}
	if len(requested[1]) != 1 || requested[1][0].NewsID != 2 {
		t.Errorf("Expected the second request to carry only the miss, got %+v", requested[1])
	}
}

func TestCluster_PostsToAlgorithmPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/cluster/hdbscan" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(clusterResponse{
			ModelVersion: "cluster-2026.02",
			Assignments: []interfaces.ClusterAssignment{
				{NewsID: 1, Label: 0},
				{NewsID: 2, Label: 0},
				{NewsID: 3, Label: -1},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	assignments, err := client.Cluster(context.Background(), "hdbscan", []interfaces.ClusterPoint{
		{NewsID: 1, Vector: []float32{1, 0}},
		{NewsID: 2, Vector: []float32{0.9, 0.1}},
		{NewsID: 3, Vector: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}
	if len(assignments) != 3 {
		t.Fatalf("Expected 3 assignments, got %d", len(assignments))
	}
	if assignments[2].Label != -1 {
		t.Errorf("Expected the noise label to survive, got %d", assignments[2].Label)
	}
}

func TestCluster_RejectsUnknownAlgorithm(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Cluster(context.Background(), "dbscan", []interfaces.ClusterPoint{
		{NewsID: 1, Vector: []float32{1, 0}},
	})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("Expected no upstream call, got %d", got)
	}
}

func TestClient_EmptyBatchesSkipCalls(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	if results, err := client.ScoreImportance(context.Background(), nil); err != nil || results != nil {
		t.Errorf("ScoreImportance(nil) = %v, %v", results, err)
	}
	if results, err := client.Embed(context.Background(), nil); err != nil || results != nil {
		t.Errorf("Embed(nil) = %v, %v", results, err)
	}
	if results, err := client.Cluster(context.Background(), "kmeans", nil); err != nil || results != nil {
		t.Errorf("Cluster(kmeans, nil) = %v, %v", results, err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("Expected no upstream calls, got %d", got)
	}
}
