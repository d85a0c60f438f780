package mlclient

import "github.com/ternarybob/nuntius/internal/interfaces"

// Request and response envelopes for the ML service API. Every
// response carries the model version that produced it.

type importanceRequest struct {
	Items []interfaces.ImportanceItem `json:"items"`
}

type importanceResponse struct {
	ModelVersion string                        `json:"model_version"`
	Results      []interfaces.ImportanceResult `json:"results"`
}

type summarizeRequest struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	MaxChars int    `json:"max_chars"`
}

type summarizeResponse struct {
	ModelVersion string `json:"model_version"`
	Summary      string `json:"summary"`
}

type embedRequest struct {
	Items []interfaces.EmbedItem `json:"items"`
}

type embedResponse struct {
	ModelVersion string                   `json:"model_version"`
	Results      []interfaces.EmbedResult `json:"results"`
}

type clusterRequest struct {
	Points []interfaces.ClusterPoint `json:"points"`
}

type clusterResponse struct {
	ModelVersion string                         `json:"model_version"`
	Assignments  []interfaces.ClusterAssignment `json:"assignments"`
}

type healthResponse struct {
	Status       string `json:"status"`
	ModelVersion string `json:"model_version"`
}
