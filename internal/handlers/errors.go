package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/revaspay/referrals/internal/apperrors"
	"go.uber.org/zap"
)

// respondError maps engine errors onto HTTP responses
func respondError(c *gin.Context, log *zap.Logger, err error) {
	var validationErr *apperrors.ValidationError
	var notFound *apperrors.NotFoundError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":       "referral rejected",
			"reason":      validationErr.Reason,
			"fraud_score": validationErr.FraudScore,
			"checks":      validationErr.Checks,
		})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.Is(err, apperrors.ErrInvalidStatusTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrServiceUnavailable), apperrors.IsTransient(err):
		log.Warn("store unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	default:
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
