// Package queue provides the durable job queue behind deployment activation
// and training ingestion.
//
// Delivery is at-least-once: a job is removed only when acked, retried
// with a delay, or moved to the dead-letter destination. Backends:
// in-process (dev, tests), Redis lists and Kafka topics.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job types.
const (
	TypeDeploymentActivate = "deployment.activate"
	TypeTrainIngest        = "train.ingest"
)

// DefaultMaxAttempts is used when a job does not set MaxAttempts.
const DefaultMaxAttempts = 5

// ErrClosed is returned by Receive after Close.
var ErrClosed = errors.New("queue: closed")

// Job is one unit of background work.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	LastError   string          `json:"lastError,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	NotBefore   time.Time       `json:"notBefore,omitempty"`

	// receipt identifies the delivery to the backend (raw list entry,
	// kafka message). Not serialized.
	receipt any
}

// NewJob builds a job with a JSON payload.
func NewJob(jobType string, payload any) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal %s payload: %w", jobType, err)
	}
	return &Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: DefaultMaxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("queue: decode %s payload: %w", j.Type, err)
	}
	return nil
}

// Queue is a job broker.
type Queue interface {
	// Enqueue publishes a job for immediate delivery.
	Enqueue(ctx context.Context, job *Job) error

	// Receive blocks until a job is available or ctx is done.
	Receive(ctx context.Context) (*Job, error)

	// Ack marks a received job as done.
	Ack(ctx context.Context, job *Job) error

	// Retry re-delivers a received job after delay.
	Retry(ctx context.Context, job *Job, delay time.Duration) error

	// DeadLetter parks a received job permanently.
	DeadLetter(ctx context.Context, job *Job, reason string) error

	Close() error
}

// DeploymentPayload is the payload of TypeDeploymentActivate.
type DeploymentPayload struct {
	DeploymentID string `json:"deploymentId"`
}
