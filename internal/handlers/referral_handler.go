package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/revaspay/referrals/internal/idempotency"
	"github.com/revaspay/referrals/internal/middleware"
	"github.com/revaspay/referrals/internal/models"
	"github.com/revaspay/referrals/internal/services/referral"
	"go.uber.org/zap"
)

// IdempotencyHeader lets clients retry referral creation safely
const IdempotencyHeader = "Idempotency-Key"

// ReferralService is what the rider-facing endpoints need from the engine
type ReferralService interface {
	GenerateReferralCode(ctx context.Context, userID string) (string, error)
	CreateReferral(ctx context.Context, in referral.CreateReferralInput) (*models.Referral, error)
	ValidateReferral(ctx context.Context, in referral.CreateReferralInput) (*referral.ReferralValidation, error)
	UpdateProgress(ctx context.Context, referredID, tripID string) (*referral.ProgressResult, error)
	GetStats(ctx context.Context, userID string) (*referral.ReferralStats, error)
	GetReferralDetails(ctx context.Context, userID, referralID string) (*models.Referral, error)
}

// ReferralHandler handles referral-related requests
type ReferralHandler struct {
	service     ReferralService
	idempotency idempotency.Store
	log         *zap.Logger
}

// NewReferralHandler creates a new referral handler
func NewReferralHandler(service ReferralService, keys idempotency.Store, log *zap.Logger) *ReferralHandler {
	return &ReferralHandler{service: service, idempotency: keys, log: log}
}

// CreateReferralRequest is the body of a referral signup
type CreateReferralRequest struct {
	ReferralCode string `json:"referralCode" binding:"required"`
	DeviceID     string `json:"deviceId"`
	IPAddress    string `json:"ipAddress"`
}

// TripProgressRequest reports a completed trip for the caller
type TripProgressRequest struct {
	TripID string `json:"tripId" binding:"required"`
}

// GenerateCode returns the caller's referral code, creating it on first use
func (h *ReferralHandler) GenerateCode(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	code, err := h.service.GenerateReferralCode(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": code})
}

// CreateReferral links the caller to the owner of a referral code
func (h *ReferralHandler) CreateReferral(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req CreateReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	key := c.GetHeader(IdempotencyHeader)
	if key != "" {
		key = userID + ":" + key
		referralID, found, err := h.idempotency.Lookup(ctx, key)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		if found {
			existing, err := h.service.GetReferralDetails(ctx, userID, referralID)
			if err != nil {
				respondError(c, h.log, err)
				return
			}
			c.JSON(http.StatusOK, existing)
			return
		}
	}

	created, err := h.service.CreateReferral(ctx, h.input(c, userID, req))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	if key != "" {
		if _, err := h.idempotency.Remember(ctx, key, created.ID); err != nil {
			h.log.Warn("failed to remember idempotency key",
				zap.String("referral_id", created.ID), zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, created)
}

// ValidateReferral dry-runs the fraud checks for a referral code
func (h *ReferralHandler) ValidateReferral(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req CreateReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	validation, err := h.service.ValidateReferral(c.Request.Context(), h.input(c, userID, req))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, validation)
}

// UpdateProgress counts one of the caller's completed trips
func (h *ReferralHandler) UpdateProgress(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req TripProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.UpdateProgress(c.Request.Context(), userID, req.TripID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetStats returns the caller's referral stats
func (h *ReferralHandler) GetStats(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	stats, err := h.service.GetStats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetReferral returns a referral the caller is a party to
func (h *ReferralHandler) GetReferral(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	details, err := h.service.GetReferralDetails(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, details)
}

func (h *ReferralHandler) input(c *gin.Context, userID string, req CreateReferralRequest) referral.CreateReferralInput {
	ip := req.IPAddress
	if ip == "" {
		ip = c.ClientIP()
	}
	return referral.CreateReferralInput{
		ReferredID:   userID,
		ReferralCode: req.ReferralCode,
		DeviceID:     req.DeviceID,
		IPAddress:    ip,
	}
}
