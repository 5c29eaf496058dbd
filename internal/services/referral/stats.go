package referral

import (
	"context"

	"github.com/revaspay/referrals/internal/config"
	"github.com/revaspay/referrals/internal/models"
	"github.com/revaspay/referrals/internal/retry"
	"go.uber.org/zap"
)

// ReferralStats summarises a referrer's referrals and earnings
type ReferralStats struct {
	TotalReferrals     int               `json:"total_referrals"`
	PendingReferrals   int               `json:"pending_referrals"`
	ActiveReferrals    int               `json:"active_referrals"`
	CompletedReferrals int               `json:"completed_referrals"`
	RejectedReferrals  int               `json:"rejected_referrals"`
	TotalEarnings      int64             `json:"total_earnings"`
	PendingEarnings    int64             `json:"pending_earnings"`
	Currency           string            `json:"currency"`
	Referrals          []models.Referral `json:"referrals"`
}

// StatsAggregator computes referral stats on read
type StatsAggregator struct {
	registry *Registry
	rewards  RewardStore
	program  config.ProgramConfig
	log      *zap.Logger
}

// NewStatsAggregator creates a new stats aggregator
func NewStatsAggregator(registry *Registry, rewards RewardStore, program config.ProgramConfig, log *zap.Logger) *StatsAggregator {
	return &StatsAggregator{registry: registry, rewards: rewards, program: program, log: log}
}

// GetStats returns the stats for a referrer. Earnings count every reward the
// user holds: paid rewards towards the total, pending and processing ones
// towards the pending figure.
func (s *StatsAggregator) GetStats(ctx context.Context, userID string) (*ReferralStats, error) {
	referrals, err := s.registry.GetByReferrer(ctx, userID)
	if err != nil {
		return nil, err
	}

	var rewards []models.Reward
	err = retry.Do(ctx, s.program.Retry, s.log, "list_rewards_by_user", func(ctx context.Context) error {
		var listErr error
		rewards, listErr = s.rewards.ListRewardsByUser(ctx, userID)
		return listErr
	})
	if err != nil {
		return nil, err
	}

	stats := &ReferralStats{
		TotalReferrals: len(referrals),
		Currency:       s.program.Currency,
		Referrals:      referrals,
	}
	if stats.Referrals == nil {
		stats.Referrals = []models.Referral{}
	}

	for _, r := range referrals {
		switch r.Status {
		case models.ReferralStatusPending:
			stats.PendingReferrals++
		case models.ReferralStatusActive:
			stats.ActiveReferrals++
		case models.ReferralStatusCompleted:
			stats.CompletedReferrals++
		case models.ReferralStatusRejected:
			stats.RejectedReferrals++
		}
	}

	for _, reward := range rewards {
		switch reward.Status {
		case models.RewardStatusPaid:
			stats.TotalEarnings += reward.Amount
		case models.RewardStatusPending, models.RewardStatusProcessing:
			stats.PendingEarnings += reward.Amount
		}
	}

	return stats, nil
}
