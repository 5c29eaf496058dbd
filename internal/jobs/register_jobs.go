package jobs

import (
	"github.com/go-co-op/gocron"
	"github.com/revaspay/referrals/internal/config"
	"github.com/revaspay/referrals/internal/queue"
	"github.com/revaspay/referrals/internal/services/referral"
	"go.uber.org/zap"
)

// RegisterTripEventWorker builds the worker pool that consumes trip-completion events
func RegisterTripEventWorker(q queue.Queue, svc *referral.Service, workers config.WorkerConfig, log *zap.Logger) *queue.Worker {
	handler := NewTripProgressJob(svc, log.Named("trip_progress"))
	return queue.NewWorker(q, queue.TripCompletedQueue, handler.Handle,
		workers.TripEventWorkers, queue.JobBackoffPolicy(), log)
}

// ScheduleRecurringJobs schedules all recurring jobs
func ScheduleRecurringJobs(s *gocron.Scheduler, svc *referral.Service, workers config.WorkerConfig, log *zap.Logger) error {
	reconciliation := NewRewardReconciliationJob(svc, svc.Program(), log.Named("reconciliation"))
	return reconciliation.Schedule(s, workers.ReconcileEveryMinutes)
}
