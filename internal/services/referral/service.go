// Package referral implements the referral program: fraud-checked referral
// registration, trip-based progress tracking, milestone rewards and stats.
package referral

import (
	"context"
	"fmt"

	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/audit"
	"github.com/revaspay/referrals/internal/config"
	"github.com/revaspay/referrals/internal/models"
	"github.com/revaspay/referrals/internal/retry"
	"github.com/revaspay/referrals/internal/security"
	"go.uber.org/zap"
)

// Dependencies are the outbound collaborators of the referral service
type Dependencies struct {
	Referrals ReferralStore
	Rewards   RewardStore
	Users     UserDirectory
	Trips     TripStore
	Audit     audit.Sink
}

// CreateReferralInput is a referred user's signup through a referral code
type CreateReferralInput struct {
	ReferredID   string
	ReferralCode string
	DeviceID     string
	IPAddress    string
}

// ReferralValidation is the result of a dry-run fraud check
type ReferralValidation struct {
	IsValid    bool                    `json:"is_valid"`
	Reason     string                  `json:"reason,omitempty"`
	FraudScore float64                 `json:"fraud_score"`
	Checks     security.ReferralChecks `json:"checks"`
	ReferrerID string                  `json:"referrer_id"`
}

// Service is the entry point for the referral program
type Service struct {
	registry  *Registry
	validator *TripValidator
	tracker   *ProgressTracker
	issuer    *RewardIssuer
	stats     *StatsAggregator
	codes     *CodeGenerator
	users     UserDirectory
	audit     *audit.Logger
	program   config.ProgramConfig
	log       *zap.Logger
}

// NewService wires the referral components together
func NewService(deps Dependencies, program config.ProgramConfig, log *zap.Logger) (*Service, error) {
	if err := program.Validate(); err != nil {
		return nil, fmt.Errorf("invalid referral program config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("referral")

	auditLog := audit.NewLogger(deps.Audit, program.Retry, log)
	evaluator := security.NewReferralRiskEvaluator(deps.Referrals, program)
	registry := NewRegistry(deps.Referrals, deps.Users, evaluator, auditLog, program, log)
	validator := NewTripValidator(deps.Trips, program, log)
	issuer := NewRewardIssuer(deps.Referrals, deps.Rewards, auditLog, program, log)

	return &Service{
		registry:  registry,
		validator: validator,
		tracker:   NewProgressTracker(registry, validator, issuer, deps.Referrals, auditLog, program, log),
		issuer:    issuer,
		stats:     NewStatsAggregator(registry, deps.Rewards, program, log),
		codes:     NewCodeGenerator(deps.Users, program, log),
		users:     deps.Users,
		audit:     auditLog,
		program:   program,
		log:       log,
	}, nil
}

// Program returns the rule set the service runs with
func (s *Service) Program() config.ProgramConfig {
	return s.program
}

// GenerateReferralCode returns the caller's referral code
func (s *Service) GenerateReferralCode(ctx context.Context, userID string) (string, error) {
	return s.codes.Generate(ctx, userID)
}

// CreateReferral records a referral for the caller, who signed up with
// someone else's code. Fraud rejections are returned as
// *apperrors.ValidationError.
func (s *Service) CreateReferral(ctx context.Context, in CreateReferralInput) (*models.Referral, error) {
	referrer, err := s.resolveCode(ctx, in.ReferralCode)
	if err != nil {
		return nil, err
	}

	return s.registry.Create(ctx, CreateParams{
		ReferrerID:   referrer.ID,
		ReferredID:   in.ReferredID,
		ReferralCode: in.ReferralCode,
		DeviceID:     in.DeviceID,
		IPAddress:    in.IPAddress,
	})
}

// ValidateReferral runs the fraud checks for a prospective referral without
// recording it
func (s *Service) ValidateReferral(ctx context.Context, in CreateReferralInput) (*ReferralValidation, error) {
	referrer, err := s.resolveCode(ctx, in.ReferralCode)
	if err != nil {
		return nil, err
	}

	assessment, err := s.registry.Assess(ctx, CreateParams{
		ReferrerID:   referrer.ID,
		ReferredID:   in.ReferredID,
		ReferralCode: in.ReferralCode,
		DeviceID:     in.DeviceID,
		IPAddress:    in.IPAddress,
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, audit.EventReferralValidated, map[string]interface{}{
		"referrer_id": referrer.ID,
		"referred_id": in.ReferredID,
		"is_valid":    assessment.IsValid,
		"reason":      assessment.Reason,
		"fraud_score": assessment.FraudScore,
		"checks":      assessment.Checks.AsMap(),
	})

	return &ReferralValidation{
		IsValid:    assessment.IsValid,
		Reason:     assessment.Reason,
		FraudScore: assessment.FraudScore,
		Checks:     assessment.Checks,
		ReferrerID: referrer.ID,
	}, nil
}

// UpdateProgress records a completed trip of a referred user
func (s *Service) UpdateProgress(ctx context.Context, referredID, tripID string) (*ProgressResult, error) {
	return s.tracker.UpdateProgress(ctx, referredID, tripID)
}

// GetStats returns the caller's referral stats
func (s *Service) GetStats(ctx context.Context, userID string) (*ReferralStats, error) {
	return s.stats.GetStats(ctx, userID)
}

// GetReferralDetails returns a referral the caller is a party to. Referrals
// belonging to other users are reported as not found.
func (s *Service) GetReferralDetails(ctx context.Context, userID, referralID string) (*models.Referral, error) {
	referral, err := s.registry.Get(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if referral.ReferrerID != userID && referral.ReferredID != userID {
		return nil, apperrors.NotFound("referral", referralID)
	}
	return referral, nil
}

// MarkRewardStatus records a payout status reported by the payout service
func (s *Service) MarkRewardStatus(ctx context.Context, rewardID string, status models.RewardStatus) (*models.Reward, error) {
	return s.issuer.UpdateStatus(ctx, rewardID, status)
}

// IssueReward issues a reward whose milestone was reached but never paid out
func (s *Service) IssueReward(ctx context.Context, referralID string, t models.RewardType) (*models.Reward, error) {
	return s.issuer.Issue(ctx, referralID, t)
}

// ReportMissedMilestone audits a referral whose counter passed a threshold
// without the matching reward
func (s *Service) ReportMissedMilestone(ctx context.Context, referral models.Referral, t models.RewardType) {
	s.log.Warn("reward threshold missed",
		zap.String("referral_id", referral.ID),
		zap.String("type", string(t)),
		zap.Int("trips_completed", referral.ReferredTripsCompleted))
	s.audit.Log(ctx, audit.EventRewardThresholdMissed, map[string]interface{}{
		"referral_id":     referral.ID,
		"type":            string(t),
		"trips_completed": referral.ReferredTripsCompleted,
		"threshold":       s.issuer.Threshold(t),
	})
}

// MissedMilestones lists open referrals whose counter reached a threshold
// without the matching paid flag
func (s *Service) MissedMilestones(ctx context.Context, limit int) ([]models.Referral, error) {
	var referrals []models.Referral
	err := retry.Do(ctx, s.program.Retry, s.log, "list_missed_milestones", func(ctx context.Context) error {
		var listErr error
		referrals, listErr = s.registry.referrals.ListMissedMilestones(ctx,
			s.program.ReferrerTripThreshold, s.program.ReferredTripThreshold, limit)
		return listErr
	})
	return referrals, err
}

func (s *Service) resolveCode(ctx context.Context, code string) (*models.User, error) {
	if code == "" {
		return nil, apperrors.NotFound("referral code", "")
	}
	var user *models.User
	err := retry.Do(ctx, s.program.Retry, s.log, "get_user_by_referral_code", func(ctx context.Context) error {
		var getErr error
		user, getErr = s.users.GetUserByReferralCode(ctx, code)
		return getErr
	})
	return user, err
}
