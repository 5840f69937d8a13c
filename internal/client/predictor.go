// internal/client/predictor.go
package client

import (
	"encoding/json"
	"fmt"

	"nasenv/pkg/genotype"
)

// PredictorClient queries a surrogate accuracy service over HTTP. It
// satisfies the reward.Predictor contract, so a remote predictor can
// stand in for local fine-tuning.
type PredictorClient struct {
	api *APIClient
}

// NewPredictorClient creates a client for a predictor service
func NewPredictorClient(baseURL string) *PredictorClient {
	return &PredictorClient{api: NewAPIClient(baseURL)}
}

// EvaluateArchitecture posts the sampled dataset and the discretized
// cell to the predict endpoint and returns the predicted accuracy
func (p *PredictorClient) EvaluateArchitecture(dataset [][]float64, g *genotype.Graph) (float64, error) {
	arch, err := genotype.NASBench201String(g)
	if err != nil {
		return 0, fmt.Errorf("rendering genotype: %w", err)
	}
	matrix, err := genotype.NASBench201Matrix(g)
	if err != nil {
		return 0, fmt.Errorf("projecting operation matrix: %w", err)
	}

	req := map[string]interface{}{
		"dataset":  dataset,
		"genotype": arch,
		"matrix":   matrix,
	}

	resp, err := p.api.post("/api/v1/predict", req)
	if err != nil {
		return 0, err
	}

	var result PredictResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return 0, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return result.Accuracy, nil
}

type PredictResponse struct {
	Accuracy  float64 `json:"accuracy"`
	LatencyMs float64 `json:"latency_ms"`
}
