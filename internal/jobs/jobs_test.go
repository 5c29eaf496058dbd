package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/config"
	"github.com/revaspay/referrals/internal/models"
	"github.com/revaspay/referrals/internal/queue"
	"github.com/revaspay/referrals/internal/services/referral"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockProgressUpdater struct {
	mock.Mock
}

func (m *MockProgressUpdater) UpdateProgress(ctx context.Context, referredID, tripID string) (*referral.ProgressResult, error) {
	args := m.Called(ctx, referredID, tripID)
	if res, ok := args.Get(0).(*referral.ProgressResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) MissedMilestones(ctx context.Context, limit int) ([]models.Referral, error) {
	args := m.Called(ctx, limit)
	refs, _ := args.Get(0).([]models.Referral)
	return refs, args.Error(1)
}

func (m *MockReconciler) IssueReward(ctx context.Context, referralID string, t models.RewardType) (*models.Reward, error) {
	args := m.Called(ctx, referralID, t)
	reward, _ := args.Get(0).(*models.Reward)
	return reward, args.Error(1)
}

func (m *MockReconciler) ReportMissedMilestone(ctx context.Context, ref models.Referral, t models.RewardType) {
	m.Called(ctx, ref, t)
}

func tripJob(t *testing.T, event queue.TripCompletedEvent) queue.Job {
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return queue.Job{ID: event.TripID, Queue: queue.TripCompletedQueue, Payload: payload}
}

func TestTripProgressJob(t *testing.T) {
	ctx := context.Background()

	t.Run("forwards the event", func(t *testing.T) {
		svc := new(MockProgressUpdater)
		svc.On("UpdateProgress", ctx, "bob", "trip-1").
			Return(&referral.ProgressResult{Success: true, Counted: true, TripsCompleted: 1}, nil)

		err := NewTripProgressJob(svc, zap.NewNop()).Handle(ctx, tripJob(t, queue.TripCompletedEvent{TripID: "trip-1", RiderID: "bob"}))
		require.NoError(t, err)
		svc.AssertExpectations(t)
	})

	t.Run("store failures are returned for redelivery", func(t *testing.T) {
		svc := new(MockProgressUpdater)
		svc.On("UpdateProgress", ctx, "bob", "trip-1").Return(nil, apperrors.ErrServiceUnavailable)

		err := NewTripProgressJob(svc, zap.NewNop()).Handle(ctx, tripJob(t, queue.TripCompletedEvent{TripID: "trip-1", RiderID: "bob"}))
		assert.True(t, queue.Retryable(err))
	})

	t.Run("not found is acknowledged", func(t *testing.T) {
		svc := new(MockProgressUpdater)
		svc.On("UpdateProgress", ctx, "bob", "trip-1").Return(nil, apperrors.NotFound("referral", "x"))

		err := NewTripProgressJob(svc, zap.NewNop()).Handle(ctx, tripJob(t, queue.TripCompletedEvent{TripID: "trip-1", RiderID: "bob"}))
		assert.NoError(t, err)
	})

	t.Run("malformed events are permanent failures", func(t *testing.T) {
		svc := new(MockProgressUpdater)
		job := NewTripProgressJob(svc, zap.NewNop())

		err := job.Handle(ctx, queue.Job{ID: "bad", Payload: json.RawMessage(`{"trip_id":`)})
		require.Error(t, err)
		assert.False(t, queue.Retryable(err))

		err = job.Handle(ctx, tripJob(t, queue.TripCompletedEvent{TripID: "trip-1"}))
		require.Error(t, err)
		assert.False(t, queue.Retryable(err))
		svc.AssertNotCalled(t, "UpdateProgress", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRewardReconciliationJob(t *testing.T) {
	ctx := context.Background()
	missed := []models.Referral{
		{ID: "ref-1", ReferredTripsCompleted: 22},
		{ID: "ref-2", ReferredTripsCompleted: 27, ReferrerRewardPaid: true},
	}

	t.Run("exact mode only reports", func(t *testing.T) {
		svc := new(MockReconciler)
		svc.On("MissedMilestones", ctx, reconcileBatchSize).Return(missed, nil)
		svc.On("ReportMissedMilestone", ctx, missed[0], models.RewardTypeReferrer).Return()
		svc.On("ReportMissedMilestone", ctx, missed[1], models.RewardTypeReferred).Return()

		summary, err := NewRewardReconciliationJob(svc, config.DefaultProgramConfig(), zap.NewNop()).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, ReconcileSummary{Scanned: 2, Reported: 2}, summary)
		svc.AssertNotCalled(t, "IssueReward", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("at least mode issues", func(t *testing.T) {
		program := config.DefaultProgramConfig()
		program.ThresholdMode = config.ThresholdAtLeast

		svc := new(MockReconciler)
		svc.On("MissedMilestones", ctx, reconcileBatchSize).Return(missed, nil)
		svc.On("IssueReward", ctx, "ref-1", models.RewardTypeReferrer).Return(&models.Reward{ID: "r1"}, nil)
		svc.On("IssueReward", ctx, "ref-2", models.RewardTypeReferred).Return(nil, errors.New("boom"))

		summary, err := NewRewardReconciliationJob(svc, program, zap.NewNop()).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, ReconcileSummary{Scanned: 2, Issued: 1, Failed: 1}, summary)
		svc.AssertExpectations(t)
	})

	t.Run("listing failure is returned", func(t *testing.T) {
		svc := new(MockReconciler)
		svc.On("MissedMilestones", ctx, reconcileBatchSize).Return(nil, apperrors.ErrServiceUnavailable)

		_, err := NewRewardReconciliationJob(svc, config.DefaultProgramConfig(), zap.NewNop()).Run(ctx)
		assert.ErrorIs(t, err, apperrors.ErrServiceUnavailable)
	})
}

func TestRewardReconciliationSchedule(t *testing.T) {
	s := gocron.NewScheduler(time.UTC)
	job := NewRewardReconciliationJob(new(MockReconciler), config.DefaultProgramConfig(), zap.NewNop())

	require.NoError(t, job.Schedule(s, 15))
	assert.Len(t, s.Jobs(), 1)
	assert.Equal(t, []string{"reward_reconciliation"}, s.Jobs()[0].Tags())
}
