package models

import (
	"math"
	"time"
)

// NewsEmbedding stores the dense vector for one article (1:1 with News).
// Vectors from different model versions are not comparable; the clusterer
// and similarity helpers must check ModelVersion before computing cosine.
type NewsEmbedding struct {
	NewsID       uint64    `json:"news_id" badgerhold:"key"`
	Vector       []float32 `json:"vector"`
	Norm         float64   `json:"norm"`
	ModelVersion string    `json:"model_version" badgerhold:"index"`
	CreatedAt    time.Time `json:"created_at"`
}

// Dimensions returns the vector length (384 or 768 depending on model).
func (e *NewsEmbedding) Dimensions() int {
	return len(e.Vector)
}

// VectorNorm returns the Euclidean norm of a vector. It is stored next
// to the vector so cosine similarity never recomputes it.
func VectorNorm(vector []float32) float64 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns the cosine of two embeddings using their
// stored norms. Mismatched dimensions or zero norms return 0.
func CosineSimilarity(a, b *NewsEmbedding) float64 {
	if a == nil || b == nil || a.Norm == 0 || b.Norm == 0 || len(a.Vector) != len(b.Vector) {
		return 0
	}
	var dot float64
	for i := range a.Vector {
		dot += float64(a.Vector[i]) * float64(b.Vector[i])
	}
	return dot / (a.Norm * b.Norm)
}

// EmbeddingBacklog queues articles whose embedding call failed or was
// shed under backpressure. A drain job retries entries while the ML
// circuit is closed and drops them after MaxAttempts.
type EmbeddingBacklog struct {
	NewsID      uint64    `json:"news_id" badgerhold:"key"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at" badgerhold:"index"`
	LastTriedAt time.Time `json:"last_tried_at"`
}
