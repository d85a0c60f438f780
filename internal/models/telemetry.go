package models

import "time"

// ClickLog records one click on a served article. ExperimentKey and
// Variant are set only when the user was bucketed into an active
// experiment at serve time.
type ClickLog struct {
	ID            uint64    `json:"id" badgerhold:"key"`
	AnonID        string    `json:"anon_id" badgerhold:"index"`
	NewsID        uint64    `json:"news_id" badgerhold:"index"`
	ClickedAt     time.Time `json:"clicked_at"`
	DwellTimeMs   int64     `json:"dwell_time_ms,omitempty"`
	ExperimentKey string    `json:"experiment_key,omitempty" badgerhold:"index"`
	Variant       string    `json:"variant,omitempty"`

	// DatePartition is the UTC day (YYYY-MM-DD) used by the rollup job.
	DatePartition string `json:"date_partition" badgerhold:"index"`
}

// ImpressionLog records one article shown in a /news/top response,
// with the ranking state that produced it.
type ImpressionLog struct {
	ID            uint64    `json:"id" badgerhold:"key"`
	AnonID        string    `json:"anon_id" badgerhold:"index"`
	NewsID        uint64    `json:"news_id" badgerhold:"index"`
	ShownAt       time.Time `json:"shown_at"`
	Position      int       `json:"position"` // 1-based rank in the response
	Importance    float64   `json:"importance"`
	RankScore     float64   `json:"rank_score"`
	ExperimentKey string    `json:"experiment_key,omitempty" badgerhold:"index"`
	Variant       string    `json:"variant,omitempty"`

	Personalized     bool `json:"personalized"`
	DiversityApplied bool `json:"diversity_applied"`

	// Degraded marks responses served from fallbacks after a deadline
	// expiry or component failure.
	Degraded bool `json:"degraded"`

	DatePartition string `json:"date_partition" badgerhold:"index"`
}

// DatePartitionOf formats a timestamp as the UTC rollup partition key.
func DatePartitionOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
