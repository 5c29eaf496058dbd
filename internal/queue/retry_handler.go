package queue

import (
	"context"
	"errors"

	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/retry"
	"go.uber.org/zap"
)

// RetryHandler decides what happens to a job whose handler failed: transient
// failures are retried with exponential backoff until the job's retry budget
// is spent, everything else goes straight to the dead-letter list.
type RetryHandler struct {
	queue   Queue
	backoff retry.Policy
	log     *zap.Logger
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(q Queue, backoff retry.Policy, log *zap.Logger) *RetryHandler {
	return &RetryHandler{queue: q, backoff: backoff, log: log}
}

// Retryable reports whether a handler error is worth another delivery
func Retryable(err error) bool {
	return apperrors.IsTransient(err) ||
		errors.Is(err, apperrors.ErrServiceUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// HandleFailedJob schedules a retry for the job or dead-letters it
func (h *RetryHandler) HandleFailedJob(ctx context.Context, job *Job, jobErr error) {
	if !Retryable(jobErr) {
		h.log.Error("job failed permanently",
			zap.String("job_id", job.ID),
			zap.String("queue", job.Queue),
			zap.Error(jobErr))
		h.deadLetter(ctx, job, jobErr)
		return
	}

	if job.RetryCount >= job.MaxRetries {
		h.log.Error("job exceeded maximum retry attempts",
			zap.String("job_id", job.ID),
			zap.String("queue", job.Queue),
			zap.Int("max_retries", job.MaxRetries),
			zap.Error(jobErr))
		h.deadLetter(ctx, job, jobErr)
		return
	}

	delay := h.backoff.Backoff(job.RetryCount + 1)
	h.log.Warn("scheduling job retry",
		zap.String("job_id", job.ID),
		zap.String("queue", job.Queue),
		zap.Int("retry", job.RetryCount+1),
		zap.Int("max_retries", job.MaxRetries),
		zap.Duration("delay", delay),
		zap.Error(jobErr))

	if err := h.queue.Retry(ctx, job, delay); err != nil {
		h.log.Error("failed to schedule retry", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (h *RetryHandler) deadLetter(ctx context.Context, job *Job, jobErr error) {
	if err := h.queue.Fail(ctx, job, jobErr); err != nil {
		h.log.Error("failed to dead-letter job", zap.String("job_id", job.ID), zap.Error(err))
	}
}
