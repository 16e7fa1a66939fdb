// Package events publishes job lifecycle changes to Kafka. Only status
// changes are published; progress-only writes are skipped.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dharsanguruparan/vidconvert/internal/model"
)

// JobEvent is the message value, keyed by job id so a job's events stay in
// one partition.
type JobEvent struct {
	JobID     string           `json:"jobId"`
	Status    model.Status     `json:"status"`
	Processor model.Processor  `json:"processor,omitempty"`
	Percent   int              `json:"percent"`
	OutputKey string           `json:"outputKey,omitempty"`
	Error     *model.ErrorInfo `json:"error,omitempty"`
	At        time.Time        `json:"at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements jobstore.Observer.
type Publisher struct {
	writer messageWriter

	mu   sync.Mutex
	last map[string]model.Status
}

// NewPublisher writes to topic on brokers.
func NewPublisher(brokers []string, topic string) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
}

func newPublisher(w messageWriter) *Publisher {
	return &Publisher{writer: w, last: make(map[string]model.Status)}
}

// JobChanged publishes job when its status differs from the last one seen by
// this process.
func (p *Publisher) JobChanged(ctx context.Context, job *model.ConversionJob) error {
	p.mu.Lock()
	if p.last[job.ID] == job.Status {
		p.mu.Unlock()
		return nil
	}
	p.last[job.ID] = job.Status
	if job.Status.Terminal() {
		delete(p.last, job.ID)
	}
	p.mu.Unlock()

	at := job.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	payload, err := json.Marshal(JobEvent{
		JobID:     job.ID,
		Status:    job.Status,
		Processor: job.Processor,
		Percent:   job.Progress.Percent,
		OutputKey: job.OutputFile.Path,
		Error:     job.Error,
		At:        at,
	})
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.ID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("publish job event %s: %w", job.ID, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
