package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/swapmeet/swapmeet-backend/internal/common"
	"github.com/swapmeet/swapmeet-backend/internal/domain"
	"github.com/swapmeet/swapmeet-backend/internal/middleware"
	"github.com/swapmeet/swapmeet-backend/internal/presence"
)

// PresenceHandler serves heartbeats and online lookups
type PresenceHandler struct {
	store presence.Store
}

// NewPresenceHandler creates a new PresenceHandler
func NewPresenceHandler(store presence.Store) *PresenceHandler {
	return &PresenceHandler{store: store}
}

// Heartbeat handles POST /presence/heartbeat
// @Summary Record that the caller is online
// @Tags presence
// @Router /presence/heartbeat [post]
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "Login required", nil)
		return
	}

	if err := h.store.Heartbeat(c.Request.Context(), userID); err != nil {
		common.ErrorResponse(c, http.StatusServiceUnavailable, "Presence unavailable", err)
		return
	}

	common.Success(c, gin.H{"ok": true})
}

// Status handles GET /presence/status/:userId
// @Summary Whether a user is online
// @Tags presence
// @Param userId path string true "user ID"
// @Success 200 {object} common.APIResponse{data=domain.StatusResponse}
// @Router /presence/status/{userId} [get]
func (h *PresenceHandler) Status(c *gin.Context) {
	userID := c.Param("userId")

	online, err := h.store.IsOnline(c.Request.Context(), userID)
	if err != nil {
		// presence is advisory; report offline rather than failing the page
		online = false
	}

	common.Success(c, domain.StatusResponse{UserID: userID, Online: online})
}

// StatusBatch handles POST /presence/status/batch
// @Summary Online flags for many users at once
// @Tags presence
// @Accept json
// @Param request body domain.StatusBatchRequest true "user IDs"
// @Router /presence/status/batch [post]
func (h *PresenceHandler) StatusBatch(c *gin.Context) {
	var req domain.StatusBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.store.IsOnlineBatch(c.Request.Context(), req.UserIDs)
	if err != nil {
		result = make(map[string]bool, len(req.UserIDs))
		for _, id := range req.UserIDs {
			result[id] = false
		}
	}

	common.Success(c, result)
}
