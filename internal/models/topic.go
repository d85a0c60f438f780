package models

import "time"

// Clustering methods recorded on topic assignments.
const (
	ClusteringMethodCosine  = "cosine"
	ClusteringMethodHDBSCAN = "hdbscan"
	ClusteringMethodKMeans  = "kmeans"
)

// NewsTopic links an article to at most one topic cluster per run.
// GroupID marks near-duplicate groups (pairwise similarity >= 0.9);
// articles without a near duplicate leave it empty.
type NewsTopic struct {
	NewsID           uint64    `json:"news_id" badgerhold:"key"`
	TopicID          string    `json:"topic_id" badgerhold:"index"`
	GroupID          string    `json:"group_id,omitempty" badgerhold:"index"`
	TopicKeywords    []string  `json:"topic_keywords,omitempty"`
	SimilarityScore  float64   `json:"similarity_score"`
	ClusteringMethod string    `json:"clustering_method"`
	AssignedAt       time.Time `json:"assigned_at"`
}

// ClusteringResult summarizes one clustering pass for the admin API.
type ClusteringResult struct {
	Method          string    `json:"method"`
	ItemsClustered  int       `json:"items_clustered"`
	TopicsCreated   int       `json:"topics_created"`
	DuplicateGroups int       `json:"duplicate_groups"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
}
