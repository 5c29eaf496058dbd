package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue for tests and single-node runs.
// Delayed jobs become ready once their run time has passed.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   map[string][]*Job
	delayed map[string][]*Job
	failed  map[string][]*Job
	notify  chan struct{}
	now     func() time.Time
}

// NewMemoryQueue creates an empty memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		ready:   make(map[string][]*Job),
		delayed: make(map[string][]*Job),
		failed:  make(map[string][]*Job),
		notify:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Enqueue implements Queue
func (q *MemoryQueue) Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...EnqueueOption) (string, error) {
	options := buildOptions(opts)
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := q.now().UTC()
	job := &Job{
		ID:         options.jobID,
		Queue:      queueName,
		Payload:    payloadBytes,
		MaxRetries: options.maxRetry,
		CreatedAt:  now,
		RunAt:      now.Add(options.delay),
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	q.mu.Lock()
	if options.delay > 0 {
		q.delayed[queueName] = append(q.delayed[queueName], job)
	} else {
		q.ready[queueName] = append(q.ready[queueName], job)
	}
	q.mu.Unlock()
	q.signal()
	return job.ID, nil
}

// Dequeue implements Queue
func (q *MemoryQueue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if job := q.pop(queueName); job != nil {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.notify:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) pop(queueName string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	pending := q.delayed[queueName][:0]
	for _, job := range q.delayed[queueName] {
		if !job.RunAt.After(now) {
			q.ready[queueName] = append(q.ready[queueName], job)
		} else {
			pending = append(pending, job)
		}
	}
	q.delayed[queueName] = pending

	ready := q.ready[queueName]
	if len(ready) == 0 {
		return nil
	}
	job := ready[0]
	q.ready[queueName] = ready[1:]
	cp := *job
	return &cp
}

// Retry implements Queue
func (q *MemoryQueue) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	job.RetryCount++
	job.RunAt = q.now().UTC().Add(delay)
	cp := *job

	q.mu.Lock()
	q.delayed[job.Queue] = append(q.delayed[job.Queue], &cp)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Fail implements Queue
func (q *MemoryQueue) Fail(ctx context.Context, job *Job, jobErr error) error {
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}
	cp := *job

	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[job.Queue] = append(q.failed[job.Queue], &cp)
	return nil
}

// Stats implements Queue
func (q *MemoryQueue) Stats(ctx context.Context, queueName string) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return &QueueStats{
		Queue:   queueName,
		Waiting: int64(len(q.ready[queueName])),
		Delayed: int64(len(q.delayed[queueName])),
		Failed:  int64(len(q.failed[queueName])),
	}, nil
}

// Failed returns a snapshot of the dead-lettered jobs of a queue
func (q *MemoryQueue) Failed(queueName string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.failed[queueName]))
	for _, job := range q.failed[queueName] {
		out = append(out, *job)
	}
	return out
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
