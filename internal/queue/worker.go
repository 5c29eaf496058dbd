package queue

import (
	"context"
	"sync"
	"time"

	"github.com/revaspay/referrals/internal/retry"
	"go.uber.org/zap"
)

const (
	dequeueTimeout = time.Second
	errorPause     = time.Second
)

// JobBackoffPolicy is the delay schedule between redeliveries of a failed job
func JobBackoffPolicy() retry.Policy {
	return retry.Policy{
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     time.Hour,
		Multiplier:     2,
		Jitter:         0.2,
	}
}

// Worker processes jobs from a queue with a fixed pool of goroutines
type Worker struct {
	queue      Queue
	queueName  string
	handler    JobHandler
	retries    *RetryHandler
	numWorkers int
	log        *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker creates a new worker
func NewWorker(q Queue, queueName string, handler JobHandler, numWorkers int, backoff retry.Policy, log *zap.Logger) *Worker {
	if numWorkers < 1 {
		numWorkers = 1
	}
	log = log.With(zap.String("queue", queueName))
	return &Worker{
		queue:      q,
		queueName:  queueName,
		handler:    handler,
		retries:    NewRetryHandler(q, backoff, log),
		numWorkers: numWorkers,
		log:        log,
	}
}

// Start starts the worker goroutines
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.log.Info("starting workers", zap.Int("workers", w.numWorkers))

	for i := 0; i < w.numWorkers; i++ {
		w.wg.Add(1)
		go w.process(ctx, i)
	}
}

// Stop stops the workers and waits for in-flight jobs to finish
func (w *Worker) Stop() {
	w.log.Info("stopping workers")
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// process processes jobs from the queue
func (w *Worker) process(ctx context.Context, workerID int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("worker stopped", zap.Int("worker", workerID))
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, w.queueName, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("error dequeueing job", zap.Int("worker", workerID), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorPause):
			}
			continue
		}
		if job == nil {
			continue
		}

		w.handle(ctx, workerID, job)
	}
}

// handle runs one job. It is detached from worker cancellation so a job
// that started during shutdown can finish its write.
func (w *Worker) handle(ctx context.Context, workerID int, job *Job) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	w.log.Debug("processing job",
		zap.Int("worker", workerID),
		zap.String("job_id", job.ID),
		zap.Int("retry", job.RetryCount))

	if err := w.handler(jobCtx, *job); err != nil {
		w.retries.HandleFailedJob(jobCtx, job, err)
	}
}
