package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/swapmeet/swapmeet-backend/internal/common"
	"github.com/swapmeet/swapmeet-backend/internal/middleware"
	"github.com/swapmeet/swapmeet-backend/internal/notify"
)

// NotificationHandler persists the "enable notifications" prompt state so a dismissed
// prompt stays dismissed across devices.
type NotificationHandler struct {
	prompts notify.PromptStore
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(prompts notify.PromptStore) *NotificationHandler {
	return &NotificationHandler{prompts: prompts}
}

// GetPrompt handles GET /notifications/prompt
func (h *NotificationHandler) GetPrompt(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "Login required", nil)
		return
	}

	dismissed, err := h.prompts.Dismissed(c.Request.Context(), userID)
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to read prompt state", err)
		return
	}

	common.Success(c, gin.H{"dismissed": dismissed})
}

// DismissPrompt handles POST /notifications/prompt/dismiss
func (h *NotificationHandler) DismissPrompt(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "Login required", nil)
		return
	}

	if err := h.prompts.Dismiss(c.Request.Context(), userID); err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to save prompt state", err)
		return
	}

	common.Success(c, gin.H{"dismissed": true})
}
