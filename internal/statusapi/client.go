// Package statusapi talks to the remote job status service used by
// deployments that have no direct access to the job store.
package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Remote status values understood by the status service.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrNotFound is returned by Fetch when the service has no such job.
var ErrNotFound = errors.New("status service: job not found")

// Update is the body of POST /update.
type Update struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	Progress  *int   `json:"progress,omitempty"`
	Message   string `json:"message,omitempty"`
	OutputKey string `json:"outputKey,omitempty"`
}

// Job is the body returned by GET /status/{jobId}.
type Job struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	FileName  string `json:"fileName"`
	Format    string `json:"format,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Client calls the status service.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient builds a client with the given per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Update posts a status change.
func (c *Client) Update(ctx context.Context, u Update) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/update", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("status update failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status service returned %d: %s", resp.StatusCode, string(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Fetch returns the job metadata held by the status service.
func (c *Client) Fetch(ctx context.Context, jobID string) (*Job, error) {
	endpoint := c.baseURL + "/status/" + url.PathEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status fetch failed: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status service returned %d: %s", resp.StatusCode, string(msg))
	}
	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}
