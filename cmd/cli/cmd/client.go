package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldtasks/pkg/api"
)

// TaskClient handles API calls to the fieldtasks service.
type TaskClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewTaskClient creates a new client with the given base URL and token.
func NewTaskClient(baseURL, token string) *TaskClient {
	return &TaskClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *TaskClient) do(method, path string, body []byte, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.Token != "" {
		httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	}
	httpReq.Header.Add("Content-Type", "application/json")
	httpReq.Header.Add("Accept", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage extracts a readable message from an error body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		if e.Details != "" {
			return e.Error + ": " + e.Details
		}
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// SubmitTask sends PUT /<task> with the given payload.
func (c *TaskClient) SubmitTask(task string, payload []byte) (*api.SubmitTaskResponse, error) {
	var result api.SubmitTaskResponse
	if err := c.do(http.MethodPut, "/"+task, payload, http.StatusAccepted, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /jobs/{id} to retrieve a job's status.
func (c *TaskClient) GetJob(jobID string) (*api.JobStatusResponse, error) {
	var result api.JobStatusResponse
	if err := c.do(http.MethodGet, "/jobs/"+jobID, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
