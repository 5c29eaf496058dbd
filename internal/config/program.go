package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/revaspay/referrals/internal/retry"
)

// ThresholdMode decides how trip milestones are compared with the counter
type ThresholdMode string

const (
	// ThresholdExact issues a reward only when the counter equals the threshold
	ThresholdExact ThresholdMode = "exact"
	// ThresholdAtLeast issues a reward once the counter is at or above the threshold
	ThresholdAtLeast ThresholdMode = "at_least"
)

// ProgramConfig is the referral program's rule set. It is passed by value to
// every component so a running engine never observes a change.
type ProgramConfig struct {
	// Milestones and rewards
	ReferrerTripThreshold int
	ReferredTripThreshold int
	ReferrerRewardAmount  int64
	ReferredRewardAmount  int64
	Currency              string
	ThresholdMode         ThresholdMode

	// Referral fraud scoring
	DeviceReuseWeight      float64
	IPVelocityWeight       float64
	ReferrerVelocityWeight float64
	RejectThreshold        float64
	IPVelocityLimit        int
	IPVelocityWindow       time.Duration
	ReferrerVelocityLimit  int
	ReferrerVelocityWindow time.Duration
	BlockOnDeviceReuse     bool
	MinReferrerAccountAge  time.Duration

	// Trip heuristics
	MinTripDistanceKm      float64
	MinTripDurationSeconds int
	MinTripFare            float64

	// Store access
	Retry             retry.Policy
	MaxVersionRetries int
}

// DefaultProgramConfig returns the production rule set
func DefaultProgramConfig() ProgramConfig {
	return ProgramConfig{
		ReferrerTripThreshold: 20,
		ReferredTripThreshold: 25,
		ReferrerRewardAmount:  20000,
		ReferredRewardAmount:  10000,
		Currency:              "CRC",
		ThresholdMode:         ThresholdExact,

		DeviceReuseWeight:      0.4,
		IPVelocityWeight:       0.3,
		ReferrerVelocityWeight: 0.3,
		RejectThreshold:        0.7,
		IPVelocityLimit:        3,
		IPVelocityWindow:       7 * 24 * time.Hour,
		ReferrerVelocityLimit:  5,
		ReferrerVelocityWindow: 24 * time.Hour,
		BlockOnDeviceReuse:     true,

		MinTripDistanceKm:      0.5,
		MinTripDurationSeconds: 300,
		MinTripFare:            500,

		Retry:             retry.DefaultPolicy(),
		MaxVersionRetries: 5,
	}
}

// LoadProgramConfig applies REFERRAL_* overrides to the defaults
func LoadProgramConfig() ProgramConfig {
	p := DefaultProgramConfig()

	p.ReferrerTripThreshold = getEnvInt("REFERRAL_REFERRER_TRIP_THRESHOLD", p.ReferrerTripThreshold)
	p.ReferredTripThreshold = getEnvInt("REFERRAL_REFERRED_TRIP_THRESHOLD", p.ReferredTripThreshold)
	p.ReferrerRewardAmount = getEnvInt64("REFERRAL_REFERRER_REWARD_AMOUNT", p.ReferrerRewardAmount)
	p.ReferredRewardAmount = getEnvInt64("REFERRAL_REFERRED_REWARD_AMOUNT", p.ReferredRewardAmount)
	p.Currency = getEnv("REFERRAL_CURRENCY", p.Currency)
	p.ThresholdMode = ThresholdMode(getEnv("REFERRAL_THRESHOLD_MODE", string(p.ThresholdMode)))

	p.DeviceReuseWeight = getEnvFloat("REFERRAL_DEVICE_REUSE_WEIGHT", p.DeviceReuseWeight)
	p.IPVelocityWeight = getEnvFloat("REFERRAL_IP_VELOCITY_WEIGHT", p.IPVelocityWeight)
	p.ReferrerVelocityWeight = getEnvFloat("REFERRAL_REFERRER_VELOCITY_WEIGHT", p.ReferrerVelocityWeight)
	p.RejectThreshold = getEnvFloat("REFERRAL_REJECT_THRESHOLD", p.RejectThreshold)
	p.IPVelocityLimit = getEnvInt("REFERRAL_IP_VELOCITY_LIMIT", p.IPVelocityLimit)
	p.IPVelocityWindow = getEnvDuration("REFERRAL_IP_VELOCITY_WINDOW", p.IPVelocityWindow)
	p.ReferrerVelocityLimit = getEnvInt("REFERRAL_REFERRER_VELOCITY_LIMIT", p.ReferrerVelocityLimit)
	p.ReferrerVelocityWindow = getEnvDuration("REFERRAL_REFERRER_VELOCITY_WINDOW", p.ReferrerVelocityWindow)
	p.BlockOnDeviceReuse = getEnvBool("REFERRAL_BLOCK_ON_DEVICE_REUSE", p.BlockOnDeviceReuse)
	p.MinReferrerAccountAge = getEnvDuration("REFERRAL_MIN_REFERRER_ACCOUNT_AGE", p.MinReferrerAccountAge)

	p.MinTripDistanceKm = getEnvFloat("REFERRAL_MIN_TRIP_DISTANCE_KM", p.MinTripDistanceKm)
	p.MinTripDurationSeconds = getEnvInt("REFERRAL_MIN_TRIP_DURATION_SECONDS", p.MinTripDurationSeconds)
	p.MinTripFare = getEnvFloat("REFERRAL_MIN_TRIP_FARE", p.MinTripFare)

	p.Retry.MaxAttempts = getEnvInt("REFERRAL_STORE_MAX_ATTEMPTS", p.Retry.MaxAttempts)
	p.Retry.InitialBackoff = getEnvDuration("REFERRAL_STORE_INITIAL_BACKOFF", p.Retry.InitialBackoff)
	p.Retry.MaxBackoff = getEnvDuration("REFERRAL_STORE_MAX_BACKOFF", p.Retry.MaxBackoff)
	p.MaxVersionRetries = getEnvInt("REFERRAL_MAX_VERSION_RETRIES", p.MaxVersionRetries)

	return p
}

// Validate rejects rule sets the engine cannot honour
func (p ProgramConfig) Validate() error {
	if p.ReferrerTripThreshold <= 0 || p.ReferredTripThreshold <= 0 {
		return errors.New("trip thresholds must be positive")
	}
	if p.ReferrerTripThreshold > p.ReferredTripThreshold {
		return fmt.Errorf("referrer threshold %d exceeds referred threshold %d",
			p.ReferrerTripThreshold, p.ReferredTripThreshold)
	}
	if p.ReferrerRewardAmount <= 0 || p.ReferredRewardAmount <= 0 {
		return errors.New("reward amounts must be positive")
	}
	if p.Currency == "" {
		return errors.New("currency is required")
	}
	if p.ThresholdMode != ThresholdExact && p.ThresholdMode != ThresholdAtLeast {
		return fmt.Errorf("unknown threshold mode %q", p.ThresholdMode)
	}
	if p.RejectThreshold <= 0 || p.RejectThreshold > 1 {
		return errors.New("reject threshold must be in (0, 1]")
	}
	if p.MaxVersionRetries < 1 {
		return errors.New("max version retries must be at least 1")
	}
	return nil
}

// ThresholdReached reports whether counter satisfies a milestone under the
// configured comparison mode
func (p ProgramConfig) ThresholdReached(counter, threshold int) bool {
	if p.ThresholdMode == ThresholdAtLeast {
		return counter >= threshold
	}
	return counter == threshold
}
