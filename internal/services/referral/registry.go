package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/audit"
	"github.com/revaspay/referrals/internal/config"
	"github.com/revaspay/referrals/internal/metrics"
	"github.com/revaspay/referrals/internal/models"
	"github.com/revaspay/referrals/internal/retry"
	"github.com/revaspay/referrals/internal/security"
	"go.uber.org/zap"
)

// CreateParams describes a referral to be recorded
type CreateParams struct {
	ReferrerID   string
	ReferredID   string
	ReferralCode string
	DeviceID     string
	IPAddress    string
}

// Registry stores accepted referrals. Every candidate is scored by the fraud
// evaluator first; rejected candidates are audited and never persisted.
type Registry struct {
	referrals ReferralStore
	users     UserDirectory
	evaluator *security.ReferralRiskEvaluator
	audit     *audit.Logger
	program   config.ProgramConfig
	log       *zap.Logger
	now       func() time.Time
}

// NewRegistry creates a new referral registry
func NewRegistry(referrals ReferralStore, users UserDirectory, evaluator *security.ReferralRiskEvaluator,
	auditLog *audit.Logger, program config.ProgramConfig, log *zap.Logger) *Registry {
	return &Registry{
		referrals: referrals,
		users:     users,
		evaluator: evaluator,
		audit:     auditLog,
		program:   program,
		log:       log,
		now:       time.Now,
	}
}

// Assess runs the fraud evaluation for a prospective referral without
// writing anything
func (r *Registry) Assess(ctx context.Context, p CreateParams) (*security.ReferralRiskAssessment, error) {
	referrer, err := r.getUser(ctx, p.ReferrerID)
	if err != nil {
		return nil, err
	}

	var assessment *security.ReferralRiskAssessment
	err = retry.Do(ctx, r.program.Retry, r.log, "evaluate_referral", func(ctx context.Context) error {
		var evalErr error
		assessment, evalErr = r.evaluator.Evaluate(ctx, security.ReferralRiskInput{
			ReferrerID:        p.ReferrerID,
			ReferredID:        p.ReferredID,
			DeviceID:          p.DeviceID,
			IPAddress:         p.IPAddress,
			ReferrerCreatedAt: referrer.CreatedAt,
		})
		return evalErr
	})
	if err != nil {
		return nil, err
	}

	metrics.FraudScore.Observe(assessment.FraudScore)
	return assessment, nil
}

// Create evaluates and records a referral. A second create for a pair that
// already has a record returns that record unchanged.
func (r *Registry) Create(ctx context.Context, p CreateParams) (*models.Referral, error) {
	existing, err := r.getByPair(ctx, p.ReferrerID, p.ReferredID)
	if err == nil {
		return existing, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	assessment, err := r.Assess(ctx, p)
	if err != nil {
		return nil, err
	}

	if !assessment.IsValid {
		metrics.FraudRejections.WithLabelValues(assessment.Reason).Inc()
		r.log.Info("referral rejected",
			zap.String("referrer_id", p.ReferrerID),
			zap.String("referred_id", p.ReferredID),
			zap.String("reason", assessment.Reason),
			zap.Float64("fraud_score", assessment.FraudScore))
		r.audit.Log(ctx, audit.EventReferralRejected, map[string]interface{}{
			"referrer_id": p.ReferrerID,
			"referred_id": p.ReferredID,
			"reason":      assessment.Reason,
			"fraud_score": assessment.FraudScore,
			"checks":      assessment.Checks.AsMap(),
		})
		return nil, &apperrors.ValidationError{
			Reason:     assessment.Reason,
			FraudScore: assessment.FraudScore,
			Checks:     assessment.Checks.AsMap(),
		}
	}

	now := r.now().UTC()
	referral := &models.Referral{
		ID:           uuid.New().String(),
		ReferrerID:   p.ReferrerID,
		ReferredID:   p.ReferredID,
		ReferralCode: p.ReferralCode,
		Status:       models.ReferralStatusPending,
		Metadata: models.ReferralMetadata{
			DeviceID:   p.DeviceID,
			IPAddress:  p.IPAddress,
			SignupDate: now,
			FraudScore: assessment.FraudScore,
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = retry.Do(ctx, r.program.Retry, r.log, "create_referral", func(ctx context.Context) error {
		return r.referrals.CreateReferral(ctx, referral)
	})
	if errors.Is(err, apperrors.ErrAlreadyExists) {
		// lost a race with a concurrent create for the same pair
		return r.getByPair(ctx, p.ReferrerID, p.ReferredID)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating referral: %w", err)
	}

	metrics.ReferralsCreated.Inc()
	r.log.Info("referral created",
		zap.String("referral_id", referral.ID),
		zap.String("referrer_id", referral.ReferrerID),
		zap.String("referred_id", referral.ReferredID),
		zap.Float64("fraud_score", assessment.FraudScore))
	r.audit.Log(ctx, audit.EventReferralCreated, map[string]interface{}{
		"referral_id": referral.ID,
		"referrer_id": referral.ReferrerID,
		"referred_id": referral.ReferredID,
		"fraud_score": assessment.FraudScore,
	})

	return referral, nil
}

// Get fetches a referral by id
func (r *Registry) Get(ctx context.Context, id string) (*models.Referral, error) {
	var referral *models.Referral
	err := retry.Do(ctx, r.program.Retry, r.log, "get_referral", func(ctx context.Context) error {
		var getErr error
		referral, getErr = r.referrals.GetReferral(ctx, id)
		return getErr
	})
	return referral, err
}

// GetByReferredID returns the referral a user signed up through. When more
// than one record exists the earliest non-rejected one wins.
func (r *Registry) GetByReferredID(ctx context.Context, referredID string) (*models.Referral, error) {
	var referral *models.Referral
	err := retry.Do(ctx, r.program.Retry, r.log, "find_referral_by_referred", func(ctx context.Context) error {
		var getErr error
		referral, getErr = r.referrals.FindByReferredID(ctx, referredID)
		return getErr
	})
	return referral, err
}

// GetByReferrer lists a referrer's referrals, newest first
func (r *Registry) GetByReferrer(ctx context.Context, referrerID string) ([]models.Referral, error) {
	var referrals []models.Referral
	err := retry.Do(ctx, r.program.Retry, r.log, "list_referrals_by_referrer", func(ctx context.Context) error {
		var listErr error
		referrals, listErr = r.referrals.ListByReferrer(ctx, referrerID)
		return listErr
	})
	return referrals, err
}

func (r *Registry) getByPair(ctx context.Context, referrerID, referredID string) (*models.Referral, error) {
	var referral *models.Referral
	err := retry.Do(ctx, r.program.Retry, r.log, "get_referral_by_pair", func(ctx context.Context) error {
		var getErr error
		referral, getErr = r.referrals.GetByPair(ctx, referrerID, referredID)
		return getErr
	})
	return referral, err
}

func (r *Registry) getUser(ctx context.Context, id string) (*models.User, error) {
	var user *models.User
	err := retry.Do(ctx, r.program.Retry, r.log, "get_user", func(ctx context.Context) error {
		var getErr error
		user, getErr = r.users.GetUser(ctx, id)
		return getErr
	})
	return user, err
}
