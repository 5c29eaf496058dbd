package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/revaspay/referrals/internal/config"
	"github.com/revaspay/referrals/internal/models"
	"go.uber.org/zap"
)

const reconcileBatchSize = 500

// Reconciler is the part of the referral service the sweep drives
type Reconciler interface {
	MissedMilestones(ctx context.Context, limit int) ([]models.Referral, error)
	IssueReward(ctx context.Context, referralID string, t models.RewardType) (*models.Reward, error)
	ReportMissedMilestone(ctx context.Context, referral models.Referral, t models.RewardType)
}

// ReconcileSummary counts what one sweep did
type ReconcileSummary struct {
	Scanned  int
	Issued   int
	Reported int
	Failed   int
}

// RewardReconciliationJob looks for referrals whose counter passed a
// milestone without the reward being issued. In at_least mode it issues the
// reward; in exact mode the referral missed its window and is only reported.
type RewardReconciliationJob struct {
	svc     Reconciler
	program config.ProgramConfig
	log     *zap.Logger
}

// NewRewardReconciliationJob creates a new reconciliation job
func NewRewardReconciliationJob(svc Reconciler, program config.ProgramConfig, log *zap.Logger) *RewardReconciliationJob {
	return &RewardReconciliationJob{svc: svc, program: program, log: log}
}

// Run performs one sweep
func (j *RewardReconciliationJob) Run(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary

	referrals, err := j.svc.MissedMilestones(ctx, reconcileBatchSize)
	if err != nil {
		return summary, err
	}
	summary.Scanned = len(referrals)

	for _, ref := range referrals {
		for _, t := range j.missing(ref) {
			if j.program.ThresholdMode != config.ThresholdAtLeast {
				j.svc.ReportMissedMilestone(ctx, ref, t)
				summary.Reported++
				continue
			}

			reward, err := j.svc.IssueReward(ctx, ref.ID, t)
			if err != nil {
				j.log.Error("failed to issue missed reward",
					zap.String("referral_id", ref.ID),
					zap.String("type", string(t)),
					zap.Error(err))
				summary.Failed++
				continue
			}
			if reward != nil {
				summary.Issued++
			}
		}
	}

	return summary, nil
}

func (j *RewardReconciliationJob) missing(ref models.Referral) []models.RewardType {
	var out []models.RewardType
	if ref.ReferredTripsCompleted >= j.program.ReferrerTripThreshold && !ref.ReferrerRewardPaid {
		out = append(out, models.RewardTypeReferrer)
	}
	if ref.ReferredTripsCompleted >= j.program.ReferredTripThreshold && !ref.ReferredRewardPaid {
		out = append(out, models.RewardTypeReferred)
	}
	return out
}

// Schedule registers the sweep on a scheduler
func (j *RewardReconciliationJob) Schedule(s *gocron.Scheduler, everyMinutes int) error {
	if everyMinutes < 1 {
		everyMinutes = 15
	}
	_, err := s.Every(everyMinutes).Minutes().WaitForSchedule().SingletonMode().Tag("reward_reconciliation").Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		summary, err := j.Run(ctx)
		if err != nil {
			j.log.Error("reward reconciliation failed", zap.Error(err))
			return
		}
		j.log.Info("reward reconciliation finished",
			zap.Int("scanned", summary.Scanned),
			zap.Int("issued", summary.Issued),
			zap.Int("reported", summary.Reported),
			zap.Int("failed", summary.Failed))
	})
	return err
}
