package security

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/revaspay/referrals/internal/config"
)

const (
	// ReasonSelfReferral is returned when a user tries to use their own code
	ReasonSelfReferral = "Cannot refer yourself"
	// ReasonDeviceReuse is returned when the device already signed up through a referral
	ReasonDeviceReuse = "Device already used for a referral"
	// ReasonHighRisk is returned when the combined score crosses the reject threshold
	ReasonHighRisk = "High fraud risk detected"
)

// ReferralHistory is the read-only view of past referrals the evaluator scores against
type ReferralHistory interface {
	CountByDevice(ctx context.Context, deviceID string) (int64, error)
	CountByIPSince(ctx context.Context, ipAddress string, since time.Time) (int64, error)
	CountByReferrerSince(ctx context.Context, referrerID string, since time.Time) (int64, error)
}

// ReferralRiskInput describes a prospective referral
type ReferralRiskInput struct {
	ReferrerID        string
	ReferredID        string
	DeviceID          string
	IPAddress         string
	ReferrerCreatedAt time.Time
}

// ReferralChecks are the individual signals reported back to the caller
type ReferralChecks struct {
	UniqueDevice       bool `json:"unique_device"`
	UniqueIP           bool `json:"unique_ip"`
	ValidTrips         bool `json:"valid_trips"`
	AccountAge         bool `json:"account_age"`
	SuspiciousActivity bool `json:"suspicious_activity"`
}

// AsMap flattens the checks for audit payloads and error bodies
func (c ReferralChecks) AsMap() map[string]bool {
	return map[string]bool{
		"unique_device":       c.UniqueDevice,
		"unique_ip":           c.UniqueIP,
		"valid_trips":         c.ValidTrips,
		"account_age":         c.AccountAge,
		"suspicious_activity": c.SuspiciousActivity,
	}
}

// ReferralRiskAssessment is the evaluator's verdict
type ReferralRiskAssessment struct {
	IsValid    bool               `json:"is_valid"`
	Reason     string             `json:"reason,omitempty"`
	FraudScore float64            `json:"fraud_score"`
	Checks     ReferralChecks     `json:"checks"`
	Factors    map[string]float64 `json:"factors,omitempty"`
}

// ReferralRiskEvaluator scores a referral for abuse by summing independent
// weighted signals. It reads history on every call and keeps no state
// between calls.
type ReferralRiskEvaluator struct {
	history ReferralHistory
	program config.ProgramConfig
	now     func() time.Time
}

// NewReferralRiskEvaluator creates a new evaluator
func NewReferralRiskEvaluator(history ReferralHistory, program config.ProgramConfig) *ReferralRiskEvaluator {
	return &ReferralRiskEvaluator{
		history: history,
		program: program,
		now:     time.Now,
	}
}

// Evaluate assesses the risk of a prospective referral
func (e *ReferralRiskEvaluator) Evaluate(ctx context.Context, in ReferralRiskInput) (*ReferralRiskAssessment, error) {
	assessment := &ReferralRiskAssessment{
		IsValid: true,
		Checks: ReferralChecks{
			UniqueDevice: true,
			UniqueIP:     true,
			ValidTrips:   true,
			AccountAge:   true,
		},
		Factors: make(map[string]float64),
	}

	if in.ReferrerID == in.ReferredID {
		assessment.IsValid = false
		assessment.Reason = ReasonSelfReferral
		assessment.FraudScore = 1
		assessment.Factors["self_referral"] = 1
		return assessment, nil
	}

	now := e.now()
	score := 0.0

	if in.DeviceID != "" {
		count, err := e.history.CountByDevice(ctx, in.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("failed to check device history: %w", err)
		}
		if count > 0 {
			assessment.Checks.UniqueDevice = false
			score += e.program.DeviceReuseWeight
			assessment.Factors["device_reuse"] = e.program.DeviceReuseWeight
		}
	}

	if in.IPAddress != "" {
		count, err := e.history.CountByIPSince(ctx, in.IPAddress, now.Add(-e.program.IPVelocityWindow))
		if err != nil {
			return nil, fmt.Errorf("failed to check ip history: %w", err)
		}
		if count > int64(e.program.IPVelocityLimit) {
			assessment.Checks.UniqueIP = false
			score += e.program.IPVelocityWeight
			assessment.Factors["ip_velocity"] = e.program.IPVelocityWeight
		}
	}

	count, err := e.history.CountByReferrerSince(ctx, in.ReferrerID, now.Add(-e.program.ReferrerVelocityWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to check referrer history: %w", err)
	}
	if count > int64(e.program.ReferrerVelocityLimit) {
		assessment.Checks.SuspiciousActivity = true
		score += e.program.ReferrerVelocityWeight
		assessment.Factors["referrer_velocity"] = e.program.ReferrerVelocityWeight
	}

	// Reported only; carries no weight
	if e.program.MinReferrerAccountAge > 0 && !in.ReferrerCreatedAt.IsZero() &&
		now.Sub(in.ReferrerCreatedAt) < e.program.MinReferrerAccountAge {
		assessment.Checks.AccountAge = false
	}

	assessment.FraudScore = normalizeScore(score)

	switch {
	case assessment.FraudScore >= e.program.RejectThreshold:
		assessment.IsValid = false
		assessment.Reason = ReasonHighRisk
	case e.program.BlockOnDeviceReuse && !assessment.Checks.UniqueDevice:
		assessment.IsValid = false
		assessment.Reason = ReasonDeviceReuse
	}

	return assessment, nil
}

// normalizeScore clamps to [0,1] and rounds to two decimals so summed
// weights compare cleanly against the threshold
func normalizeScore(score float64) float64 {
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100
}
