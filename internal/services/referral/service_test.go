package referral

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/audit"
	"github.com/revaspay/referrals/internal/config"
	"github.com/revaspay/referrals/internal/models"
	"github.com/revaspay/referrals/internal/repository/memory"
	"github.com/revaspay/referrals/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProgram() config.ProgramConfig {
	p := config.DefaultProgramConfig()
	p.Retry.InitialBackoff = time.Millisecond
	p.Retry.MaxBackoff = 2 * time.Millisecond
	return p
}

func newTestService(t *testing.T, program config.ProgramConfig) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc, err := NewService(Dependencies{
		Referrals: store,
		Rewards:   store,
		Users:     store,
		Trips:     store,
		Audit:     store,
	}, program, nil)
	require.NoError(t, err)
	return svc, store
}

func seedUser(store *memory.Store, id, code string) {
	u := models.User{ID: id, Email: id + "@example.com", CreatedAt: time.Now().Add(-90 * 24 * time.Hour)}
	if code != "" {
		c := code
		u.ReferralCode = &c
	}
	store.PutUser(u)
}

func completedTrip(id, riderID string) models.Trip {
	done := time.Now()
	return models.Trip{
		ID:              id,
		RiderID:         riderID,
		Status:          models.TripStatusCompleted,
		CompletedAt:     &done,
		DistanceKm:      6.2,
		DurationSeconds: 1100,
		Fare:            3200,
		Currency:        "CRC",
	}
}

// completeTrips records trips numbered from..to for a referred user
func completeTrips(t *testing.T, svc *Service, store *memory.Store, referredID string, from, to int) []*ProgressResult {
	t.Helper()
	var results []*ProgressResult
	for i := from; i <= to; i++ {
		tripID := fmt.Sprintf("trip-%s-%d", referredID, i)
		store.PutTrip(completedTrip(tripID, referredID))
		res, err := svc.UpdateProgress(context.Background(), referredID, tripID)
		require.NoError(t, err)
		results = append(results, res)
	}
	return results
}

func createReferral(t *testing.T, svc *Service, referredID, code, deviceID string) *models.Referral {
	t.Helper()
	ref, err := svc.CreateReferral(context.Background(), CreateReferralInput{
		ReferredID:   referredID,
		ReferralCode: code,
		DeviceID:     deviceID,
		IPAddress:    "10.0.0." + referredID,
	})
	require.NoError(t, err)
	return ref
}

func TestCreateReferral(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a pending referral", func(t *testing.T) {
		svc, store := newTestService(t, testProgram())
		seedUser(store, "alice", "REFALICE0001")
		seedUser(store, "bob", "")

		ref := createReferral(t, svc, "bob", "REFALICE0001", "device-1")

		assert.Equal(t, "alice", ref.ReferrerID)
		assert.Equal(t, "bob", ref.ReferredID)
		assert.Equal(t, models.ReferralStatusPending, ref.Status)
		assert.Equal(t, 0, ref.ReferredTripsCompleted)
		assert.Equal(t, "device-1", ref.Metadata.DeviceID)
		assert.Equal(t, 0.0, ref.Metadata.FraudScore)
		assert.Len(t, store.EventsOfType(audit.EventReferralCreated), 1)
	})

	t.Run("self referral is rejected with score one", func(t *testing.T) {
		svc, store := newTestService(t, testProgram())
		seedUser(store, "alice", "REFALICE0001")

		_, err := svc.CreateReferral(ctx, CreateReferralInput{ReferredID: "alice", ReferralCode: "REFALICE0001"})

		var ve *apperrors.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, security.ReasonSelfReferral, ve.Reason)
		assert.Equal(t, 1.0, ve.FraudScore)

		refs, err := store.ListByReferrer(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, refs)
		assert.Len(t, store.EventsOfType(audit.EventReferralRejected), 1)
	})

	t.Run("device reuse alone rejects", func(t *testing.T) {
		svc, store := newTestService(t, testProgram())
		seedUser(store, "alice", "REFALICE0001")
		seedUser(store, "bob", "")
		seedUser(store, "carol", "")

		createReferral(t, svc, "bob", "REFALICE0001", "device-1")
		_, err := svc.CreateReferral(ctx, CreateReferralInput{
			ReferredID:   "carol",
			ReferralCode: "REFALICE0001",
			DeviceID:     "device-1",
		})

		var ve *apperrors.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, security.ReasonDeviceReuse, ve.Reason)
		assert.Equal(t, 0.4, ve.FraudScore)
		assert.False(t, ve.Checks["unique_device"])
	})

	t.Run("repeated create returns the existing referral", func(t *testing.T) {
		svc, store := newTestService(t, testProgram())
		seedUser(store, "alice", "REFALICE0001")
		seedUser(store, "bob", "")

		first := createReferral(t, svc, "bob", "REFALICE0001", "device-1")
		second := createReferral(t, svc, "bob", "REFALICE0001", "device-1")

		assert.Equal(t, first.ID, second.ID)
		refs, err := store.ListByReferrer(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, refs, 1)
	})

	t.Run("unknown code is not found", func(t *testing.T) {
		svc, store := newTestService(t, testProgram())
		seedUser(store, "bob", "")

		_, err := svc.CreateReferral(ctx, CreateReferralInput{ReferredID: "bob", ReferralCode: "REFNOPE00000"})
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("transient store failure is retried", func(t *testing.T) {
		svc, store := newTestService(t, testProgram())
		seedUser(store, "alice", "REFALICE0001")
		seedUser(store, "bob", "")
		store.FailNext("CreateReferral", apperrors.Transient("create referral", errors.New("connection reset")))

		ref := createReferral(t, svc, "bob", "REFALICE0001", "device-1")
		assert.NotEmpty(t, ref.ID)
	})

	t.Run("audit failures do not fail the operation", func(t *testing.T) {
		svc, store := newTestService(t, testProgram())
		seedUser(store, "alice", "REFALICE0001")
		seedUser(store, "bob", "")
		store.FailNext("Append", errors.New("audit table locked"))

		ref := createReferral(t, svc, "bob", "REFALICE0001", "device-1")
		assert.NotEmpty(t, ref.ID)
		assert.Empty(t, store.EventsOfType(audit.EventReferralCreated))
	})
}

func TestValidateReferral(t *testing.T) {
	svc, store := newTestService(t, testProgram())
	seedUser(store, "alice", "REFALICE0001")
	seedUser(store, "bob", "")

	res, err := svc.ValidateReferral(context.Background(), CreateReferralInput{
		ReferredID:   "bob",
		ReferralCode: "REFALICE0001",
		DeviceID:     "device-1",
	})
	require.NoError(t, err)

	assert.True(t, res.IsValid)
	assert.Equal(t, "alice", res.ReferrerID)
	assert.True(t, res.Checks.UniqueDevice)

	refs, err := store.ListByReferrer(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, refs, "validation must not persist anything")
	assert.Len(t, store.EventsOfType(audit.EventReferralValidated), 1)
}

func TestUpdateProgressMilestones(t *testing.T) {
	svc, store := newTestService(t, testProgram())
	seedUser(store, "alice", "REFALICE0001")
	seedUser(store, "bob", "")
	ref := createReferral(t, svc, "bob", "REFALICE0001", "device-1")

	results := completeTrips(t, svc, store, "bob", 1, 19)
	assert.Equal(t, 19, results[18].TripsCompleted)
	assert.Empty(t, store.Rewards())

	current, err := svc.GetReferralDetails(context.Background(), "alice", ref.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusActive, current.Status)
	assert.NotNil(t, current.Metadata.FirstTripAt)
	assert.False(t, current.ReferrerRewardPaid)

	results = completeTrips(t, svc, store, "bob", 20, 20)
	assert.Equal(t, []models.RewardType{models.RewardTypeReferrer}, results[0].RewardsIssued)

	rewards := store.Rewards()
	require.Len(t, rewards, 1)
	assert.Equal(t, models.RewardID(ref.ID, models.RewardTypeReferrer), rewards[0].ID)
	assert.Equal(t, "alice", rewards[0].UserID)
	assert.Equal(t, int64(20000), rewards[0].Amount)
	assert.Equal(t, "CRC", rewards[0].Currency)
	assert.Equal(t, models.RewardStatusPending, rewards[0].Status)

	completeTrips(t, svc, store, "bob", 21, 25)

	current, err = svc.GetReferralDetails(context.Background(), "bob", ref.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusCompleted, current.Status)
	assert.Equal(t, 25, current.ReferredTripsCompleted)
	assert.True(t, current.ReferrerRewardPaid)
	assert.True(t, current.ReferredRewardPaid)
	assert.NotNil(t, current.Metadata.ReferrerMilestoneAt)
	assert.NotNil(t, current.Metadata.ReferredMilestoneAt)

	rewards = store.Rewards()
	require.Len(t, rewards, 2)
	assert.Equal(t, models.RewardID(ref.ID, models.RewardTypeReferred), rewards[0].ID)
	assert.Equal(t, "bob", rewards[0].UserID)
	assert.Equal(t, int64(10000), rewards[0].Amount)

	// completed referrals stop counting
	results = completeTrips(t, svc, store, "bob", 26, 26)
	assert.False(t, results[0].Counted)
	assert.Equal(t, ProgressReferralCompleted, results[0].Reason)
	assert.Equal(t, 25, results[0].TripsCompleted)
	assert.Len(t, store.Rewards(), 2)
}

func TestUpdateProgressAtLeastMode(t *testing.T) {
	program := testProgram()
	program.ThresholdMode = config.ThresholdAtLeast
	svc, store := newTestService(t, program)

	// counter already past the referrer threshold without a reward
	store.PutReferral(models.Referral{
		ID:                     "ref-1",
		ReferrerID:             "alice",
		ReferredID:             "bob",
		Status:                 models.ReferralStatusActive,
		ReferredTripsCompleted: 21,
		Version:                3,
	})

	results := completeTrips(t, svc, store, "bob", 22, 22)
	assert.Equal(t, []models.RewardType{models.RewardTypeReferrer}, results[0].RewardsIssued)
	require.Len(t, store.Rewards(), 1)
}

func TestUpdateProgressInvalidTrips(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, testProgram())
	seedUser(store, "alice", "REFALICE0001")
	seedUser(store, "bob", "")
	ref := createReferral(t, svc, "bob", "REFALICE0001", "device-1")

	short := completedTrip("trip-short", "bob")
	short.DistanceKm = 0.2
	store.PutTrip(short)

	cancelled := completedTrip("trip-cancelled", "bob")
	cancelled.IsCancelled = true
	cancelled.Status = models.TripStatusCancelled
	store.PutTrip(cancelled)

	tests := []struct {
		name   string
		tripID string
		reason string
	}{
		{"short trip is fraudulent", "trip-short", InvalidTripFraudulent},
		{"cancelled trip", "trip-cancelled", InvalidTripCancelled},
		{"missing trip fails closed", "trip-missing", InvalidTripFraudulent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.UpdateProgress(ctx, "bob", tt.tripID)
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.False(t, res.Counted)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, 0, res.TripsCompleted)
		})
	}

	events := store.EventsOfType(audit.EventInvalidTripDetected)
	require.Len(t, events, 3)
	assert.Equal(t, InvalidTripFraudulent, events[0].Payload["reason"])
	assert.Equal(t, InvalidTripCancelled, events[1].Payload["reason"])

	current, err := svc.GetReferralDetails(ctx, "bob", ref.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, current.ReferredTripsCompleted)
	assert.Equal(t, models.ReferralStatusPending, current.Status)
}

func TestUpdateProgressNoReferral(t *testing.T) {
	svc, store := newTestService(t, testProgram())
	store.PutTrip(completedTrip("trip-1", "dave"))

	res, err := svc.UpdateProgress(context.Background(), "dave", "trip-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Counted)
	assert.Equal(t, ProgressNoReferral, res.Reason)
	assert.Empty(t, store.Events())
}

func TestUpdateProgressDuplicateTrip(t *testing.T) {
	svc, store := newTestService(t, testProgram())
	seedUser(store, "alice", "REFALICE0001")
	seedUser(store, "bob", "")
	createReferral(t, svc, "bob", "REFALICE0001", "device-1")
	store.PutTrip(completedTrip("trip-1", "bob"))

	first, err := svc.UpdateProgress(context.Background(), "bob", "trip-1")
	require.NoError(t, err)
	assert.True(t, first.Counted)

	second, err := svc.UpdateProgress(context.Background(), "bob", "trip-1")
	require.NoError(t, err)
	assert.False(t, second.Counted)
	assert.Equal(t, ProgressDuplicateTrip, second.Reason)
	assert.Equal(t, 1, second.TripsCompleted)
}

func TestUpdateProgressConcurrent(t *testing.T) {
	program := testProgram()
	program.MaxVersionRetries = 20
	svc, store := newTestService(t, program)

	store.PutReferral(models.Referral{
		ID:                     "ref-1",
		ReferrerID:             "alice",
		ReferredID:             "bob",
		Status:                 models.ReferralStatusActive,
		ReferredTripsCompleted: 18,
		Version:                1,
	})

	const trips = 10
	for i := 0; i < trips; i++ {
		store.PutTrip(completedTrip(fmt.Sprintf("trip-%d", i), "bob"))
	}

	var wg sync.WaitGroup
	errs := make(chan error, trips)
	for i := 0; i < trips; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.UpdateProgress(context.Background(), "bob", fmt.Sprintf("trip-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rewards := store.Rewards()
	require.Len(t, rewards, 2)
	assert.Equal(t, models.RewardTypeReferred, rewards[0].Type)
	assert.Equal(t, models.RewardTypeReferrer, rewards[1].Type)

	ref, err := store.GetReferral(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, 25, ref.ReferredTripsCompleted)
	assert.Equal(t, models.ReferralStatusCompleted, ref.Status)
	assert.Len(t, store.EventsOfType(audit.EventRewardIssued), 2)
}

func TestUpdateProgressRetriesTransientCommit(t *testing.T) {
	svc, store := newTestService(t, testProgram())
	seedUser(store, "alice", "REFALICE0001")
	seedUser(store, "bob", "")
	createReferral(t, svc, "bob", "REFALICE0001", "device-1")
	store.PutTrip(completedTrip("trip-1", "bob"))
	store.FailNext("CommitProgress", apperrors.Transient("commit progress", errors.New("i/o timeout")))
	store.FailNext("CommitProgress", apperrors.Transient("commit progress", errors.New("i/o timeout")))

	res, err := svc.UpdateProgress(context.Background(), "bob", "trip-1")
	require.NoError(t, err)
	assert.True(t, res.Counted)
	assert.Equal(t, 1, res.TripsCompleted)
}

func TestUpdateProgressServiceUnavailable(t *testing.T) {
	program := testProgram()
	svc, store := newTestService(t, program)
	for i := 0; i < program.Retry.MaxAttempts; i++ {
		store.FailNext("FindByReferredID", apperrors.Transient("find referral", errors.New("connection refused")))
	}

	_, err := svc.UpdateProgress(context.Background(), "bob", "trip-1")
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavailable)
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, testProgram())
	seedUser(store, "alice", "REFALICE0001")
	seedUser(store, "bob", "")
	seedUser(store, "carol", "")
	seedUser(store, "dan", "")

	bobRef := createReferral(t, svc, "bob", "REFALICE0001", "device-b")
	createReferral(t, svc, "carol", "REFALICE0001", "device-c")
	createReferral(t, svc, "dan", "REFALICE0001", "device-d")

	completeTrips(t, svc, store, "bob", 1, 20)
	completeTrips(t, svc, store, "carol", 1, 20)

	_, err := svc.MarkRewardStatus(ctx, models.RewardID(bobRef.ID, models.RewardTypeReferrer), models.RewardStatusPaid)
	require.NoError(t, err)

	stats, err := svc.GetStats(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalReferrals)
	assert.Equal(t, 1, stats.PendingReferrals)
	assert.Equal(t, 2, stats.ActiveReferrals)
	assert.Equal(t, 0, stats.CompletedReferrals)
	assert.Equal(t, int64(20000), stats.TotalEarnings)
	assert.Equal(t, int64(20000), stats.PendingEarnings)
	assert.Equal(t, "CRC", stats.Currency)
	assert.Len(t, stats.Referrals, 3)
}

func TestGetStatsEmpty(t *testing.T) {
	svc, _ := newTestService(t, testProgram())

	stats, err := svc.GetStats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalReferrals)
	assert.NotNil(t, stats.Referrals)
}

func TestGetReferralDetails(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, testProgram())
	seedUser(store, "alice", "REFALICE0001")
	seedUser(store, "bob", "")
	ref := createReferral(t, svc, "bob", "REFALICE0001", "device-1")

	got, err := svc.GetReferralDetails(ctx, "alice", ref.ID)
	require.NoError(t, err)
	assert.Equal(t, ref.ID, got.ID)

	_, err = svc.GetReferralDetails(ctx, "mallory", ref.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.GetReferralDetails(ctx, "alice", "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMarkRewardStatus(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, testProgram())
	store.PutReferral(models.Referral{
		ID:                     "ref-1",
		ReferrerID:             "alice",
		ReferredID:             "bob",
		Status:                 models.ReferralStatusActive,
		ReferredTripsCompleted: 19,
		Version:                1,
	})
	completeTrips(t, svc, store, "bob", 20, 20)
	rewardID := models.RewardID("ref-1", models.RewardTypeReferrer)

	reward, err := svc.MarkRewardStatus(ctx, rewardID, models.RewardStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, models.RewardStatusProcessing, reward.Status)

	reward, err = svc.MarkRewardStatus(ctx, rewardID, models.RewardStatusPaid)
	require.NoError(t, err)
	assert.NotNil(t, reward.PaidAt)

	// same status again is a no-op
	_, err = svc.MarkRewardStatus(ctx, rewardID, models.RewardStatusPaid)
	require.NoError(t, err)

	_, err = svc.MarkRewardStatus(ctx, rewardID, models.RewardStatusPending)
	assert.ErrorIs(t, err, apperrors.ErrInvalidStatusTransition)

	_, err = svc.MarkRewardStatus(ctx, "reward_missing_referrer", models.RewardStatusPaid)
	assert.True(t, apperrors.IsNotFound(err))

	assert.Len(t, store.EventsOfType(audit.EventRewardStatusChanged), 2)
}

func TestIssueReward(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, testProgram())
	store.PutReferral(models.Referral{
		ID:                     "ref-1",
		ReferrerID:             "alice",
		ReferredID:             "bob",
		Status:                 models.ReferralStatusActive,
		ReferredTripsCompleted: 22,
		Version:                1,
	})

	missed, err := svc.MissedMilestones(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missed, 1)

	reward, err := svc.IssueReward(ctx, "ref-1", models.RewardTypeReferrer)
	require.NoError(t, err)
	require.NotNil(t, reward)
	assert.Equal(t, int64(20000), reward.Amount)

	// already paid
	reward, err = svc.IssueReward(ctx, "ref-1", models.RewardTypeReferrer)
	require.NoError(t, err)
	assert.Nil(t, reward)

	// threshold not reached
	reward, err = svc.IssueReward(ctx, "ref-1", models.RewardTypeReferred)
	require.NoError(t, err)
	assert.Nil(t, reward)

	assert.Len(t, store.Rewards(), 1)
	missed, err = svc.MissedMilestones(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missed)
}

func TestNewServiceRejectsInvalidProgram(t *testing.T) {
	program := testProgram()
	program.ReferrerTripThreshold = 30

	store := memory.NewStore()
	_, err := NewService(Dependencies{Referrals: store, Rewards: store, Users: store, Trips: store, Audit: store}, program, nil)
	assert.Error(t, err)
}

func TestUpdateProgressIgnoresOtherRidersTrips(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, testProgram())
	seedUser(store, "alice", "REFALICE0001")
	seedUser(store, "bob", "")
	ref := createReferral(t, svc, "bob", "REFALICE0001", "device-1")

	for i := 1; i <= 20; i++ {
		tripID := fmt.Sprintf("trip-stranger-%d", i)
		store.PutTrip(completedTrip(tripID, "stranger"))

		res, err := svc.UpdateProgress(ctx, "bob", tripID)
		require.NoError(t, err)
		assert.False(t, res.Counted)
		assert.Equal(t, InvalidTripFraudulent, res.Reason)
	}

	assert.Empty(t, store.Rewards())
	events := store.EventsOfType(audit.EventInvalidTripDetected)
	require.Len(t, events, 20)
	assert.Equal(t, InvalidTripFraudulent, events[0].Payload["reason"])

	current, err := svc.GetReferralDetails(ctx, "bob", ref.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, current.ReferredTripsCompleted)
	assert.Equal(t, models.ReferralStatusPending, current.Status)
}

func TestReferredRewardKeepsReferralOpenUntilReferrerPaid(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, testProgram())
	store.PutReferral(models.Referral{
		ID:                     "ref-1",
		ReferrerID:             "alice",
		ReferredID:             "bob",
		Status:                 models.ReferralStatusActive,
		ReferredTripsCompleted: 24,
		Version:                1,
	})

	results := completeTrips(t, svc, store, "bob", 25, 25)
	assert.Equal(t, []models.RewardType{models.RewardTypeReferred}, results[0].RewardsIssued)

	current, err := svc.GetReferralDetails(ctx, "bob", "ref-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusActive, current.Status)
	assert.True(t, current.ReferredRewardPaid)
	assert.False(t, current.ReferrerRewardPaid)

	missed, err := svc.MissedMilestones(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, "ref-1", missed[0].ID)

	reward, err := svc.IssueReward(ctx, "ref-1", models.RewardTypeReferrer)
	require.NoError(t, err)
	require.NotNil(t, reward)

	current, err = svc.GetReferralDetails(ctx, "bob", "ref-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusCompleted, current.Status)

	missed, err = svc.MissedMilestones(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missed)
}

func TestValidateReferralFlagsReusedDevice(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, testProgram())
	seedUser(store, "alice", "REFALICE0001")
	seedUser(store, "bob", "")
	seedUser(store, "carol", "")
	createReferral(t, svc, "bob", "REFALICE0001", "device-D1")

	res, err := svc.ValidateReferral(ctx, CreateReferralInput{
		ReferredID:   "carol",
		ReferralCode: "REFALICE0001",
		DeviceID:     "device-D1",
		IPAddress:    "10.9.9.9",
	})
	require.NoError(t, err)

	assert.False(t, res.IsValid)
	assert.False(t, res.Checks.UniqueDevice)
	assert.GreaterOrEqual(t, res.FraudScore, 0.4)

	refs, err := store.ListByReferrer(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestCreatedReferralReadsBackUnchanged(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, testProgram())
	seedUser(store, "alice", "REFALICE0001")
	seedUser(store, "bob", "")

	created := createReferral(t, svc, "bob", "REFALICE0001", "device-1")
	got, err := svc.GetReferralDetails(ctx, "bob", created.ID)
	require.NoError(t, err)

	want := *created
	for _, r := range []*models.Referral{&want, got} {
		r.CreatedAt = time.Time{}
		r.UpdatedAt = time.Time{}
		r.Metadata.SignupDate = time.Time{}
	}
	assert.Equal(t, want, *got)
}

func TestGetStatsAfterReferrerPayout(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, testProgram())
	seedUser(store, "alice", "REFALICE0001")
	seedUser(store, "bob", "")
	seedUser(store, "carol", "")

	bobRef := createReferral(t, svc, "bob", "REFALICE0001", "device-b")
	createReferral(t, svc, "carol", "REFALICE0001", "device-c")

	completeTrips(t, svc, store, "bob", 1, 20)
	_, err := svc.MarkRewardStatus(ctx, models.RewardID(bobRef.ID, models.RewardTypeReferrer), models.RewardStatusPaid)
	require.NoError(t, err)
	completeTrips(t, svc, store, "carol", 1, 5)

	stats, err := svc.GetStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalReferrals)
	assert.Equal(t, int64(20000), stats.TotalEarnings)
	assert.Equal(t, int64(0), stats.PendingEarnings)
}
