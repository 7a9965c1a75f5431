package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/intelliparse/internal/api/middleware"
	"github.com/timmy/intelliparse/internal/domain"
	"github.com/timmy/intelliparse/internal/repository"
)

// WatchlistHandler handles enrollment and removal of watchlist profiles.
type WatchlistHandler struct {
	store repository.WatchlistStore
}

// NewWatchlistHandler creates a new watchlist handler.
func NewWatchlistHandler(store repository.WatchlistStore) *WatchlistHandler {
	return &WatchlistHandler{store: store}
}

// EnrollRequest is the body of POST /v1/watchlist:enroll.
type EnrollRequest struct {
	Type      string    `json:"type" binding:"required"`
	ProfileID string    `json:"profile_id" binding:"required"`
	Vector    []float64 `json:"vector" binding:"required"`
}

// Enroll upserts a profile; the last enrollment of an id wins.
func (h *WatchlistHandler) Enroll(c *gin.Context) {
	var req EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	profile := domain.Profile{
		ID:     req.ProfileID,
		Type:   domain.ProfileType(req.Type),
		Vector: domain.Vector(req.Vector),
	}
	if err := h.store.Upsert(c.Request.Context(), profile); err != nil {
		if errors.Is(err, domain.ErrInvalidProfile) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		middleware.GetLogger(c).WithError(err).Error("Failed to enroll profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enroll profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile_id": profile.ID,
		"type":       profile.Type,
	})
}

// Delete removes a profile. Unknown ids succeed.
func (h *WatchlistHandler) Delete(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("profile_id")); err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to delete profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete profile"})
		return
	}
	c.Status(http.StatusNoContent)
}
