// Package queue carries trip-completion events from the booking service to
// the referral engine over redis lists.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

const (
	// TripCompletedQueue is the list the booking service pushes completed trips onto
	TripCompletedQueue = "referral:trip_completed"

	// DefaultMaxRetries is how often a job is retried before it is dead-lettered
	DefaultMaxRetries = 5
)

// Job is a queued unit of work
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	RunAt      time.Time       `json:"run_at"`
}

// TripCompletedEvent is published when a rider finishes a trip
type TripCompletedEvent struct {
	TripID      string     `json:"trip_id"`
	RiderID     string     `json:"rider_id"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobHandler processes a job. A returned error marks the job failed; the
// retry handler decides whether it is tried again.
type JobHandler func(ctx context.Context, job Job) error

// Queue is the transport workers consume
type Queue interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...EnqueueOption) (string, error)
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error)
	Retry(ctx context.Context, job *Job, delay time.Duration) error
	Fail(ctx context.Context, job *Job, jobErr error) error
	Stats(ctx context.Context, queueName string) (*QueueStats, error)
}

// QueueStats represents statistics for a queue
type QueueStats struct {
	Queue   string `json:"queue"`
	Waiting int64  `json:"waiting"`
	Delayed int64  `json:"delayed"`
	Failed  int64  `json:"failed"`
}

// EnqueueOptions represents options for enqueueing a job
type EnqueueOptions struct {
	delay    time.Duration
	maxRetry int
	jobID    string
}

// EnqueueOption is a function that modifies EnqueueOptions
type EnqueueOption func(*EnqueueOptions)

// WithDelay adds a delay to a job
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) {
		o.delay = delay
	}
}

// WithMaxRetry sets the maximum number of retries for a job
func WithMaxRetry(maxRetry int) EnqueueOption {
	return func(o *EnqueueOptions) {
		o.maxRetry = maxRetry
	}
}

// WithJobID sets a specific job id, e.g. the trip id, so producers can
// correlate deliveries
func WithJobID(id string) EnqueueOption {
	return func(o *EnqueueOptions) {
		o.jobID = id
	}
}

func buildOptions(opts []EnqueueOption) *EnqueueOptions {
	options := &EnqueueOptions{maxRetry: DefaultMaxRetries}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
