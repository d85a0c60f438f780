// Package mlclient is the HTTP client for the external ML scoring
// service. Calls are rate-limited, retried with backoff on transient
// failures, guarded by a rolling-window circuit breaker, and cached
// in-process. Callers apply their own fallbacks when an error or
// models.ErrCircuitOpen comes back.
package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/nuntius/internal/interfaces"
	"github.com/ternarybob/nuntius/internal/metrics"
	"github.com/ternarybob/nuntius/internal/models"
)

const (
	// DefaultBaseURL is where the ML service listens in development.
	DefaultBaseURL = "http://localhost:9000"

	// DefaultTimeout bounds each HTTP attempt; retries run against the
	// caller's context on top of it.
	DefaultTimeout = 2 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 20

	// maxSummaryChars caps summaries from the service and from callers'
	// fallbacks alike.
	maxSummaryChars = 240
)

// Client is the ML service API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
	timeout    time.Duration
	clock      func() time.Time

	retry   *RetryPolicy
	breaker *Breaker

	breakerWindow      int
	breakerFailureRate float64
	breakerOpenWait    time.Duration
	breakerMaxProbes   int

	importanceCache *responseCache
	summaryCache    *responseCache
	embeddingCache  *responseCache

	importanceTTL time.Duration
	summaryTTL    time.Duration

	versionMu    sync.RWMutex
	modelVersion string
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithClock injects the time source used by the breaker and caches.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy *RetryPolicy) ClientOption {
	return func(c *Client) {
		if policy != nil {
			c.retry = policy
		}
	}
}

// WithBreakerSettings overrides the circuit breaker tuning.
func WithBreakerSettings(windowSize int, failureRate float64, openWait time.Duration, maxProbes int) ClientOption {
	return func(c *Client) {
		c.breakerWindow = windowSize
		c.breakerFailureRate = failureRate
		c.breakerOpenWait = openWait
		c.breakerMaxProbes = maxProbes
	}
}

// WithCacheTTLs overrides the importance and summary cache lifetimes.
func WithCacheTTLs(importanceTTL, summaryTTL time.Duration) ClientOption {
	return func(c *Client) {
		if importanceTTL > 0 {
			c.importanceTTL = importanceTTL
		}
		if summaryTTL > 0 {
			c.summaryTTL = summaryTTL
		}
	}
}

// NewClient creates a new ML service client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:            DefaultBaseURL,
		timeout:            DefaultTimeout,
		clock:              time.Now,
		limiter:            rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		breakerWindow:      DefaultWindowSize,
		breakerFailureRate: DefaultFailureRate,
		breakerOpenWait:    DefaultOpenWait,
		breakerMaxProbes:   DefaultMaxProbes,
		importanceTTL:      5 * time.Minute,
		summaryTTL:         24 * time.Hour,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = arbor.NewLogger()
	}
	if c.httpClient == nil {
		// No transport timeout; the per-attempt context deadline governs.
		c.httpClient = &http.Client{}
	}
	if c.retry == nil {
		c.retry = NewRetryPolicy()
	}

	c.breaker = NewBreaker(c.breakerWindow, c.breakerFailureRate, c.breakerOpenWait, c.breakerMaxProbes, c.clock, c.logger)
	c.importanceCache = newResponseCache("importance", c.importanceTTL, c.clock)
	c.summaryCache = newResponseCache("summarize", c.summaryTTL, c.clock)
	c.embeddingCache = newResponseCache("embed", 0, c.clock)

	return c
}

// ScoreImportance returns importance probabilities for the items.
// Cached items are served without a call; only misses go out.
func (c *Client) ScoreImportance(ctx context.Context, items []interfaces.ImportanceItem) ([]interfaces.ImportanceResult, error) {
	if len(items) == 0 {
		return nil, nil
	}

	version := c.ModelVersion()
	results := make([]interfaces.ImportanceResult, 0, len(items))
	misses := make([]interfaces.ImportanceItem, 0, len(items))

	for _, item := range items {
		if v, ok := c.importanceCache.get(cacheKey(version, item.Title+"\n"+item.Body)); ok {
			results = append(results, interfaces.ImportanceResult{NewsID: item.NewsID, Probability: v.(float64)})
			continue
		}
		misses = append(misses, item)
	}
	if len(misses) == 0 {
		return results, nil
	}

	var resp importanceResponse
	if err := c.call(ctx, "importance", "/v1/importance:score", importanceRequest{Items: misses}, &resp); err != nil {
		return nil, err
	}
	c.setModelVersion(resp.ModelVersion)

	byID := make(map[uint64]interfaces.ImportanceItem, len(misses))
	for _, item := range misses {
		byID[item.NewsID] = item
	}
	for _, r := range resp.Results {
		if item, ok := byID[r.NewsID]; ok {
			c.importanceCache.set(cacheKey(resp.ModelVersion, item.Title+"\n"+item.Body), r.Probability)
		}
		results = append(results, r)
	}

	return results, nil
}

// Summarize returns a summary of at most 240 characters.
func (c *Client) Summarize(ctx context.Context, title, body string) (string, error) {
	text := title + "\n" + body
	if v, ok := c.summaryCache.get(cacheKey(c.ModelVersion(), text)); ok {
		return v.(string), nil
	}

	var resp summarizeResponse
	if err := c.call(ctx, "summarize", "/v1/summarize", summarizeRequest{Title: title, Body: body, MaxChars: maxSummaryChars}, &resp); err != nil {
		return "", err
	}
	c.setModelVersion(resp.ModelVersion)

	summary := truncateRunes(resp.Summary, maxSummaryChars)
	c.summaryCache.set(cacheKey(resp.ModelVersion, text), summary)

	return summary, nil
}

// Embed returns dense vectors for the items. Embeddings cache
// permanently under (modelVersion, sha256(text)).
func (c *Client) Embed(ctx context.Context, items []interfaces.EmbedItem) ([]interfaces.EmbedResult, error) {
	if len(items) == 0 {
		return nil, nil
	}

	version := c.ModelVersion()
	results := make([]interfaces.EmbedResult, 0, len(items))
	misses := make([]interfaces.EmbedItem, 0, len(items))

	for _, item := range items {
		if v, ok := c.embeddingCache.get(cacheKey(version, item.Text)); ok {
			results = append(results, interfaces.EmbedResult{NewsID: item.NewsID, Vector: v.([]float32)})
			continue
		}
		misses = append(misses, item)
	}
	if len(misses) == 0 {
		return results, nil
	}

	var resp embedResponse
	if err := c.call(ctx, "embed", "/v1/embed", embedRequest{Items: misses}, &resp); err != nil {
		return nil, err
	}
	c.setModelVersion(resp.ModelVersion)

	byID := make(map[uint64]interfaces.EmbedItem, len(misses))
	for _, item := range misses {
		byID[item.NewsID] = item
	}
	for _, r := range resp.Results {
		if item, ok := byID[r.NewsID]; ok {
			c.embeddingCache.set(cacheKey(resp.ModelVersion, item.Text), r.Vector)
		}
		results = append(results, r)
	}

	return results, nil
}

// Cluster runs a remote clustering algorithm over the points.
func (c *Client) Cluster(ctx context.Context, algorithm string, points []interfaces.ClusterPoint) ([]interfaces.ClusterAssignment, error) {
	switch algorithm {
	case "hdbscan", "kmeans", "optimize":
	default:
		return nil, fmt.Errorf("%w: unsupported clustering algorithm %q", models.ErrValidation, algorithm)
	}
	if len(points) == 0 {
		return nil, nil
	}

	var resp clusterResponse
	if err := c.call(ctx, "cluster", "/v1/cluster/"+algorithm, clusterRequest{Points: points}, &resp); err != nil {
		return nil, err
	}
	c.setModelVersion(resp.ModelVersion)

	return resp.Assignments, nil
}

// Health checks the service health endpoint. It bypasses the breaker
// and retries so operators can see the real service state while the
// breaker is open.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp healthResponse
	if err := c.do(ctx, http.MethodGet, "/admin/health", nil, &resp); err != nil {
		return err
	}
	c.setModelVersion(resp.ModelVersion)

	return nil
}

// State returns the current breaker position.
func (c *Client) State() interfaces.BreakerState {
	return c.breaker.State()
}

// ModelVersion reports the model version of the last response.
func (c *Client) ModelVersion() string {
	c.versionMu.RLock()
	defer c.versionMu.RUnlock()
	return c.modelVersion
}

func (c *Client) setModelVersion(version string) {
	if version == "" {
		return
	}
	c.versionMu.Lock()
	if version != c.modelVersion && c.modelVersion != "" {
		c.logger.Info().
			Str("old", c.modelVersion).
			Str("new", version).
			Msg("ML model version changed")
	}
	c.modelVersion = version
	c.versionMu.Unlock()
}

// call guards one operation with the breaker and retry policy. The
// breaker records the post-retry outcome; permanent failures count as
// successes because the service answered.
func (c *Client) call(ctx context.Context, op, path string, reqBody, respBody interface{}) error {
	if err := c.breaker.Allow(); err != nil {
		metrics.MLCalls.WithLabelValues(op, "rejected").Inc()
		return err
	}

	err := c.retry.Execute(ctx, c.logger, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.do(attemptCtx, http.MethodPost, path, reqBody, respBody)
	})

	c.breaker.Record(err == nil || !models.IsTransientRemote(err))

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.MLCalls.WithLabelValues(op, outcome).Inc()

	return err
}

// do performs a single HTTP attempt.
func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Msg("ML service request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NewTransientRemoteError(path, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		cause := errors.New(msg)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
			return models.NewTransientRemoteError(path, resp.StatusCode, cause)
		}
		return models.NewPermanentRemoteError(path, resp.StatusCode, cause)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return models.NewPermanentRemoteError(path, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
		}
	}

	return nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
