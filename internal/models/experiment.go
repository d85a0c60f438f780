package models

import (
	"fmt"
	"time"
)

// VariantControl is the fallback variant for users outside any active
// experiment. Control assignments carry no experiment metadata in logs.
const VariantControl = "control"

// Experiment defines an A/B test over ranking behavior. Allocation maps
// variant name to its percentage of traffic; percentages must sum to 100.
type Experiment struct {
	ExperimentKey     string         `json:"experiment_key" badgerhold:"key"`
	Description       string         `json:"description,omitempty"`
	Variants          []string       `json:"variants"`
	Allocation        map[string]int `json:"allocation"`
	StartDate         time.Time      `json:"start_date"`
	EndDate           time.Time      `json:"end_date"`
	IsActive          bool           `json:"is_active" badgerhold:"index"`
	AutoStopEnabled   bool           `json:"auto_stop_enabled"`
	AutoStopThreshold float64        `json:"auto_stop_threshold"`
	MinimumSampleSize int            `json:"minimum_sample_size"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Validate checks the allocation table against the variant list.
func (e *Experiment) Validate() error {
	if e.ExperimentKey == "" {
		return fmt.Errorf("experiment key is required")
	}
	if len(e.Variants) == 0 {
		return fmt.Errorf("experiment %s has no variants", e.ExperimentKey)
	}
	total := 0
	for _, v := range e.Variants {
		pct, ok := e.Allocation[v]
		if !ok {
			return fmt.Errorf("variant %s has no allocation", v)
		}
		if pct < 0 {
			return fmt.Errorf("variant %s has negative allocation", v)
		}
		total += pct
	}
	if total != 100 {
		return fmt.Errorf("allocations sum to %d, want 100", total)
	}
	return nil
}

// ActiveAt reports whether the experiment is running at the given time.
func (e *Experiment) ActiveAt(t time.Time) bool {
	if !e.IsActive {
		return false
	}
	if !e.StartDate.IsZero() && t.Before(e.StartDate) {
		return false
	}
	if !e.EndDate.IsZero() && t.After(e.EndDate) {
		return false
	}
	return true
}

// FlagKey returns the feature flag key gating this experiment.
func (e *Experiment) FlagKey() string {
	return fmt.Sprintf("experiment.%s.enabled", e.ExperimentKey)
}

// ExperimentMetricsDaily is the nightly rollup row for one
// (experiment, variant, day) cell.
type ExperimentMetricsDaily struct {
	Key            string  `json:"key" badgerhold:"key"`
	ExperimentKey  string  `json:"experiment_key" badgerhold:"index"`
	Variant        string  `json:"variant"`
	DatePartition  string  `json:"date_partition" badgerhold:"index"`
	Impressions    int64   `json:"impressions"`
	Clicks         int64   `json:"clicks"`
	CTR            float64 `json:"ctr"`
	AvgDwellMs     float64 `json:"avg_dwell_ms"`
	DiversityScore float64 `json:"diversity_score"`
}

// MetricsKey builds the composite storage key for a daily metrics row.
func MetricsKey(experimentKey, variant, datePartition string) string {
	return experimentKey + "|" + variant + "|" + datePartition
}

// Feature flag value types.
const (
	FlagTypeBoolean = "boolean"
	FlagTypeDouble  = "double"
	FlagTypeString  = "string"
)

// FeatureFlag is a runtime switch read on the serving path. Flags are
// cached in-process and re-read on change events.
type FeatureFlag struct {
	FlagKey     string    `json:"flag_key" badgerhold:"key"`
	ValueType   string    `json:"value_type"`
	FlagValue   string    `json:"flag_value"`
	IsEnabled   bool      `json:"is_enabled"`
	Environment string    `json:"environment,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BoolValue interprets the flag as a boolean. Disabled flags are false
// regardless of stored value.
func (f *FeatureFlag) BoolValue() bool {
	if !f.IsEnabled {
		return false
	}
	return f.FlagValue == "true"
}
