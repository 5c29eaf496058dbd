package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/revaspay/referrals/internal/models"
	"github.com/revaspay/referrals/internal/queue"
	"go.uber.org/zap"
)

// RewardStatusUpdater is what the payout callback needs from the engine
type RewardStatusUpdater interface {
	MarkRewardStatus(ctx context.Context, rewardID string, status models.RewardStatus) (*models.Reward, error)
}

// InternalHandler serves callbacks from the booking and payout services
type InternalHandler struct {
	rewards RewardStatusUpdater
	queue   queue.Queue
	log     *zap.Logger
}

// NewInternalHandler creates a new internal handler
func NewInternalHandler(rewards RewardStatusUpdater, q queue.Queue, log *zap.Logger) *InternalHandler {
	return &InternalHandler{rewards: rewards, queue: q, log: log}
}

// TripCompletedRequest is pushed by the booking service when a trip ends
type TripCompletedRequest struct {
	TripID      string     `json:"tripId" binding:"required"`
	RiderID     string     `json:"riderId" binding:"required"`
	CompletedAt *time.Time `json:"completedAt"`
}

// RewardStatusRequest is pushed by the payout service
type RewardStatusRequest struct {
	Status models.RewardStatus `json:"status" binding:"required"`
}

// TripCompleted enqueues a trip-completion event for the progress worker.
// The trip id doubles as job id so redeliveries are traceable.
func (h *InternalHandler) TripCompleted(c *gin.Context) {
	var req TripCompletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := queue.TripCompletedEvent{
		TripID:      req.TripID,
		RiderID:     req.RiderID,
		CompletedAt: req.CompletedAt,
	}
	jobID, err := h.queue.Enqueue(c.Request.Context(), queue.TripCompletedQueue, event,
		queue.WithJobID(req.TripID))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// UpdateRewardStatus records a payout status change for a reward
func (h *InternalHandler) UpdateRewardStatus(c *gin.Context) {
	var req RewardStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch req.Status {
	case models.RewardStatusPending, models.RewardStatusProcessing, models.RewardStatusPaid, models.RewardStatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown reward status"})
		return
	}

	reward, err := h.rewards.MarkRewardStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, reward)
}
