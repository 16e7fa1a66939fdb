package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// FinalizeUploadTask is scheduled each time an object lands under uploads/.
	FinalizeUploadTask = "upload:finalized"
)

// FinalizePayload is serialized into the task payload so the worker knows
// which object to route.
type FinalizePayload struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// TaskID dedupes redelivered notifications for the same object while a task
// for it is still retained by asynq.
func (p FinalizePayload) TaskID() string {
	return p.Bucket + "/" + p.Name
}

// NewFinalizeTask builds the asynq task for payload.
func NewFinalizeTask(payload FinalizePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(FinalizeUploadTask, data), nil
}

// DecodeFinalize parses a finalize task payload.
func DecodeFinalize(task *asynq.Task) (FinalizePayload, error) {
	var payload FinalizePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if payload.Bucket == "" || payload.Name == "" {
		return payload, errors.New("decode payload: bucket and name are required")
	}
	return payload, nil
}

// EnqueueFinalize enqueues a dispatch job. A task already queued for the same
// object is not an error.
func EnqueueFinalize(ctx context.Context, client *asynq.Client, payload FinalizePayload) error {
	task, err := NewFinalizeTask(payload)
	if err != nil {
		return err
	}
	_, err = client.EnqueueContext(ctx, task, asynq.MaxRetry(5), asynq.TaskID(payload.TaskID()))
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue finalize task: %w", err)
	}
	return nil
}

// Client enqueues finalize tasks on an asynq client.
type Client struct {
	client *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(client *asynq.Client) *Client {
	return &Client{client: client}
}

// Enqueue implements the uploads API and listener enqueuer.
func (c *Client) Enqueue(ctx context.Context, payload FinalizePayload) error {
	return EnqueueFinalize(ctx, c.client, payload)
}
