// internal/client/api.go
// Package client provides API client functionality for the envd host
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIClient represents a client for the envd session API
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewLocalAPIClient creates a client for an envd host on localhost
func NewLocalAPIClient(port int) *APIClient {
	return NewAPIClient(fmt.Sprintf("http://localhost:%d", port))
}

// CreateSession creates an environment session on the host
func (c *APIClient) CreateSession(req CreateSessionRequest) (*CreateSessionResponse, error) {
	resp, err := c.post("/api/v1/sessions", req)
	if err != nil {
		return nil, err
	}

	var result CreateSessionResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// ResetSession resets a session to the start of a fresh episode
func (c *APIClient) ResetSession(sessionID string) (*ResetResponse, error) {
	resp, err := c.post("/api/v1/sessions/"+sessionID+"/reset", map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	var result ResetResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// StepSession performs one environment step in a session
func (c *APIClient) StepSession(sessionID string, action int) (*StepResponse, error) {
	req := map[string]interface{}{
		"action": action,
	}

	resp, err := c.post("/api/v1/sessions/"+sessionID+"/step", req)
	if err != nil {
		return nil, err
	}

	var result StepResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// GetState fetches the current state summary of a session
func (c *APIClient) GetState(sessionID string) (*StateResponse, error) {
	resp, err := c.get("/api/v1/sessions/" + sessionID + "/state")
	if err != nil {
		return nil, err
	}

	var result StateResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// GetRender fetches the rendered text view of a session
func (c *APIClient) GetRender(sessionID string) (*RenderResponse, error) {
	resp, err := c.get("/api/v1/sessions/" + sessionID + "/render")
	if err != nil {
		return nil, err
	}

	var result RenderResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// CloseSession closes a session and releases its environment
func (c *APIClient) CloseSession(sessionID string) error {
	_, err := c.delete("/api/v1/sessions/" + sessionID)
	return err
}

// GetHealth calls the health endpoint
func (c *APIClient) GetHealth() (*HealthResponse, error) {
	resp, err := c.get("/api/v1/health")
	if err != nil {
		return nil, err
	}

	var result HealthResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// GetMetrics calls the metrics endpoint
func (c *APIClient) GetMetrics() (*MetricsResponse, error) {
	resp, err := c.get("/api/v1/metrics")
	if err != nil {
		return nil, err
	}

	var result MetricsResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// post makes a POST request to the API
func (c *APIClient) post(endpoint string, data interface{}) (*json.RawMessage, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.HTTPClient.Post(
		c.BaseURL+endpoint,
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	return c.decode(resp)
}

// get makes a GET request to the API
func (c *APIClient) get(endpoint string) (*json.RawMessage, error) {
	resp, err := c.HTTPClient.Get(c.BaseURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	return c.decode(resp)
}

// delete makes a DELETE request to the API
func (c *APIClient) delete(endpoint string) (*json.RawMessage, error) {
	req, err := http.NewRequest(http.MethodDelete, c.BaseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	return c.decode(resp)
}

// decode reads a response body and converts HTTP-level failures into
// errors carrying a payload preview
func (c *APIClient) decode(resp *http.Response) (*json.RawMessage, error) {
	// Read response body first to provide better error messages
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// Check for non-2xx status codes
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Try to extract error message from response
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && (errResp.Error != "" || errResp.Message != "") {
			errMsg := errResp.Error
			if errMsg == "" {
				errMsg = errResp.Message
			}
			return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, errMsg)
		}
		// Truncate response for error message (avoid huge HTML dumps)
		preview := string(respBody)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, preview)
	}

	// Check content type to ensure we're getting JSON
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "json") {
		preview := string(respBody)
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		return nil, fmt.Errorf("unexpected content type %q (expected JSON): %s", contentType, preview)
	}

	var result json.RawMessage
	if err := json.Unmarshal(respBody, &result); err != nil {
		// Provide helpful context for decode errors
		preview := string(respBody)
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		return nil, fmt.Errorf("failed to decode JSON response: %w (response: %s)", err, preview)
	}

	return &result, nil
}

// Request and response types
type CreateSessionRequest struct {
	Task          string  `json:"task"`
	Cell          string  `json:"cell,omitempty"`
	Nodes         int     `json:"nodes,omitempty"`
	MaxEpisodeLen int     `json:"max_episode_len,omitempty"`
	MutateAmount  float64 `json:"mutate_amount,omitempty"`
	Estimator     string  `json:"estimator,omitempty"`
	Samples       int     `json:"samples,omitempty"`
	TestMode      bool    `json:"test_mode,omitempty"`
	Seed          int64   `json:"seed,omitempty"`
}

type CreateSessionResponse struct {
	SessionID       string    `json:"session_id"`
	Task            string    `json:"task"`
	Observation     []float64 `json:"observation"`
	ObservationSize int       `json:"observation_size"`
	ActionSpaceSize int       `json:"action_space_size"`
}

type ResetResponse struct {
	Observation []float64 `json:"observation"`
}

type StepResponse struct {
	Observation []float64 `json:"observation"`
	Reward      float64   `json:"reward"`
	Done        bool      `json:"done"`
	Info        StepInfo  `json:"info"`
}

type StepInfo struct {
	StepCount   int      `json:"step_count"`
	ActionID    int      `json:"action_id"`
	Action      string   `json:"action"`
	Acc         *float64 `json:"acc"`
	RunningTime int      `json:"running_time"`
}

type StateResponse struct {
	SessionID   string  `json:"session_id"`
	Task        string  `json:"task"`
	Cell        string  `json:"cell"`
	StepCount   int     `json:"step_count"`
	Baseline    float64 `json:"baseline"`
	MaxAccuracy float64 `json:"max_accuracy"`
	Genotype    string  `json:"genotype,omitempty"`
	CreatedAt   string  `json:"created_at"`
	LastStepAt  string  `json:"last_step_at,omitempty"`
}

type RenderResponse struct {
	Render string `json:"render"`
}

type HealthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	Uptime         string `json:"uptime"`
}

type MetricsResponse struct {
	ActiveSessions  int              `json:"active_sessions"`
	SessionsCreated int64            `json:"sessions_created"`
	StepsServed     int64            `json:"steps_served"`
	UptimeSeconds   float64          `json:"uptime_seconds"`
	Sessions        []SessionSummary `json:"sessions"`
}

type SessionSummary struct {
	SessionID   string  `json:"session_id"`
	Task        string  `json:"task"`
	StepCount   int     `json:"step_count"`
	MaxAccuracy float64 `json:"max_accuracy"`
}
