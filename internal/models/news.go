package models

import (
	"fmt"
	"time"
)

// News represents a single normalized article fetched from an RSS source.
// Articles are immutable once saved; enrichment results (scores, embeddings,
// topic links) live in their own records keyed by the article ID.
type News struct {
	ID          uint64    `json:"id" badgerhold:"key"`
	Source      string    `json:"source" badgerhold:"index"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Lang        string    `json:"lang"`
	PublishedAt time.Time `json:"published_at" badgerhold:"index"`

	// DedupKey is sha256(normalized title | source | published minute).
	// Two fetches of the same story always collide here, so ingestion
	// checks this index before saving.
	DedupKey string `json:"dedup_key" badgerhold:"index"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the invariants ingestion relies on before a save.
func (n *News) Validate() error {
	if n.Title == "" {
		return fmt.Errorf("news title is required")
	}
	if n.Source == "" {
		return fmt.Errorf("news source is required")
	}
	if n.DedupKey == "" {
		return fmt.Errorf("news dedup key is required")
	}
	if n.PublishedAt.IsZero() {
		return fmt.Errorf("news published time is required")
	}
	return nil
}

// AgeHours returns the article age in hours relative to now.
func (n *News) AgeHours(now time.Time) float64 {
	return now.Sub(n.PublishedAt).Hours()
}

// IngestResult summarizes one full ingestion pass across all sources.
type IngestResult struct {
	ItemsFetched   int            `json:"items_fetched"`
	ItemsProcessed int            `json:"items_processed"`
	ItemsSaved     int            `json:"items_saved"`
	ItemsSkipped   int            `json:"items_skipped"`
	Errors         []IngestError  `json:"errors,omitempty"`
	SourceCounts   map[string]int `json:"source_counts,omitempty"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        time.Time      `json:"end_time"`
}

// IngestError records a per-source failure without aborting the run.
type IngestError struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Duration returns the wall-clock time of the ingestion pass.
func (r *IngestResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
