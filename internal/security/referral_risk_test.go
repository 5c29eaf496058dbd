package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/revaspay/referrals/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockReferralHistory is a mock implementation of ReferralHistory
type MockReferralHistory struct {
	mock.Mock
}

func (m *MockReferralHistory) CountByDevice(ctx context.Context, deviceID string) (int64, error) {
	args := m.Called(ctx, deviceID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockReferralHistory) CountByIPSince(ctx context.Context, ipAddress string, since time.Time) (int64, error) {
	args := m.Called(ctx, ipAddress, since)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockReferralHistory) CountByReferrerSince(ctx context.Context, referrerID string, since time.Time) (int64, error) {
	args := m.Called(ctx, referrerID, since)
	return args.Get(0).(int64), args.Error(1)
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newEvaluator(history ReferralHistory, program config.ProgramConfig) *ReferralRiskEvaluator {
	e := NewReferralRiskEvaluator(history, program)
	e.now = func() time.Time { return fixedNow }
	return e
}

func cleanHistory() *MockReferralHistory {
	h := new(MockReferralHistory)
	h.On("CountByDevice", mock.Anything, mock.Anything).Return(int64(0), nil)
	h.On("CountByIPSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	h.On("CountByReferrerSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	return h
}

func TestEvaluateSelfReferral(t *testing.T) {
	h := new(MockReferralHistory)
	e := newEvaluator(h, config.DefaultProgramConfig())

	result, err := e.Evaluate(context.Background(), ReferralRiskInput{ReferrerID: "u1", ReferredID: "u1"})

	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, ReasonSelfReferral, result.Reason)
	assert.Equal(t, 1.0, result.FraudScore)
	h.AssertNotCalled(t, "CountByDevice", mock.Anything, mock.Anything)
}

func TestEvaluateCleanReferral(t *testing.T) {
	e := newEvaluator(cleanHistory(), config.DefaultProgramConfig())

	result, err := e.Evaluate(context.Background(), ReferralRiskInput{
		ReferrerID: "r1", ReferredID: "a1", DeviceID: "D1", IPAddress: "10.0.0.1",
	})

	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Reason)
	assert.Equal(t, 0.0, result.FraudScore)
	assert.Equal(t, ReferralChecks{UniqueDevice: true, UniqueIP: true, ValidTrips: true, AccountAge: true}, result.Checks)
}

func TestEvaluateDeviceReuseBlocks(t *testing.T) {
	h := new(MockReferralHistory)
	h.On("CountByDevice", mock.Anything, "D1").Return(int64(1), nil)
	h.On("CountByIPSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	h.On("CountByReferrerSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	e := newEvaluator(h, config.DefaultProgramConfig())

	result, err := e.Evaluate(context.Background(), ReferralRiskInput{ReferrerID: "r1", ReferredID: "b1", DeviceID: "D1"})

	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.False(t, result.Checks.UniqueDevice)
	assert.GreaterOrEqual(t, result.FraudScore, 0.4)
	assert.Equal(t, ReasonDeviceReuse, result.Reason)
}

func TestEvaluateDeviceReuseScoredOnlyWhenBlockingDisabled(t *testing.T) {
	h := new(MockReferralHistory)
	h.On("CountByDevice", mock.Anything, "D1").Return(int64(2), nil)
	h.On("CountByReferrerSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	program := config.DefaultProgramConfig()
	program.BlockOnDeviceReuse = false
	e := newEvaluator(h, program)

	result, err := e.Evaluate(context.Background(), ReferralRiskInput{ReferrerID: "r1", ReferredID: "b1", DeviceID: "D1"})

	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, 0.4, result.FraudScore)
}

func TestEvaluateIPVelocityWindowAndLimit(t *testing.T) {
	h := new(MockReferralHistory)
	h.On("CountByIPSince", mock.Anything, "10.0.0.9", fixedNow.Add(-7*24*time.Hour)).Return(int64(4), nil)
	h.On("CountByReferrerSince", mock.Anything, "r1", fixedNow.Add(-24*time.Hour)).Return(int64(0), nil)
	e := newEvaluator(h, config.DefaultProgramConfig())

	result, err := e.Evaluate(context.Background(), ReferralRiskInput{ReferrerID: "r1", ReferredID: "c1", IPAddress: "10.0.0.9"})

	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.False(t, result.Checks.UniqueIP)
	assert.Equal(t, 0.3, result.FraudScore)
	h.AssertExpectations(t)
}

func TestEvaluateIPAtLimitIsNotFlagged(t *testing.T) {
	h := new(MockReferralHistory)
	h.On("CountByIPSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(3), nil)
	h.On("CountByReferrerSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(5), nil)
	e := newEvaluator(h, config.DefaultProgramConfig())

	result, err := e.Evaluate(context.Background(), ReferralRiskInput{ReferrerID: "r1", ReferredID: "c1", IPAddress: "10.0.0.9"})

	require.NoError(t, err)
	assert.True(t, result.Checks.UniqueIP)
	assert.False(t, result.Checks.SuspiciousActivity)
	assert.Equal(t, 0.0, result.FraudScore)
}

func TestEvaluateCombinedSignalsReject(t *testing.T) {
	h := new(MockReferralHistory)
	h.On("CountByDevice", mock.Anything, "D9").Return(int64(1), nil)
	h.On("CountByIPSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	h.On("CountByReferrerSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(6), nil)
	program := config.DefaultProgramConfig()
	program.BlockOnDeviceReuse = false
	e := newEvaluator(h, program)

	result, err := e.Evaluate(context.Background(), ReferralRiskInput{ReferrerID: "r1", ReferredID: "d1", DeviceID: "D9", IPAddress: "1.1.1.1"})

	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, ReasonHighRisk, result.Reason)
	assert.Equal(t, 0.7, result.FraudScore)
	assert.True(t, result.Checks.SuspiciousActivity)
}

func TestEvaluateScoreIsClamped(t *testing.T) {
	h := new(MockReferralHistory)
	h.On("CountByDevice", mock.Anything, mock.Anything).Return(int64(1), nil)
	h.On("CountByIPSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(10), nil)
	h.On("CountByReferrerSince", mock.Anything, mock.Anything, mock.Anything).Return(int64(10), nil)
	program := config.DefaultProgramConfig()
	program.DeviceReuseWeight = 0.6
	e := newEvaluator(h, program)

	result, err := e.Evaluate(context.Background(), ReferralRiskInput{ReferrerID: "r1", ReferredID: "e1", DeviceID: "D", IPAddress: "1.1.1.1"})

	require.NoError(t, err)
	assert.Equal(t, 1.0, result.FraudScore)
}

func TestEvaluateAccountAgeIsReportedOnly(t *testing.T) {
	program := config.DefaultProgramConfig()
	program.MinReferrerAccountAge = 48 * time.Hour
	e := newEvaluator(cleanHistory(), program)

	result, err := e.Evaluate(context.Background(), ReferralRiskInput{
		ReferrerID: "r1", ReferredID: "f1", ReferrerCreatedAt: fixedNow.Add(-time.Hour),
	})

	require.NoError(t, err)
	assert.False(t, result.Checks.AccountAge)
	assert.True(t, result.IsValid)
	assert.Equal(t, 0.0, result.FraudScore)
}

func TestEvaluatePropagatesStoreErrors(t *testing.T) {
	h := new(MockReferralHistory)
	h.On("CountByDevice", mock.Anything, mock.Anything).Return(int64(0), errors.New("boom"))
	e := newEvaluator(h, config.DefaultProgramConfig())

	_, err := e.Evaluate(context.Background(), ReferralRiskInput{ReferrerID: "r1", ReferredID: "g1", DeviceID: "D"})

	assert.Error(t, err)
}
