package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/swapmeet/swapmeet-backend/internal/common"
	"github.com/swapmeet/swapmeet-backend/internal/domain"
	"github.com/swapmeet/swapmeet-backend/internal/middleware"
	"github.com/swapmeet/swapmeet-backend/internal/service"
)

// MessageHandler handles listing conversation HTTP requests
type MessageHandler struct {
	service service.MessageService
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(service service.MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

// SendMessage handles POST /messages
// @Summary Send a message about a listing
// @Tags messages
// @Accept json
// @Produce json
// @Param request body domain.SendMessageRequest true "message"
// @Success 201 {object} common.APIResponse{data=domain.Message}
// @Router /messages [post]
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "Login required", nil)
		return
	}

	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sender := service.Sender{ID: userID, Name: middleware.GetNickname(c)}
	msg, err := h.service.Send(c.Request.Context(), sender, &req)
	if err != nil {
		common.Fail(c, "Failed to send message", err)
		return
	}

	common.Created(c, msg)
}

// ListMessages handles GET /messages
// @Summary Every message the caller sent or received, newest first
// @Tags messages
// @Produce json
// @Success 200 {object} common.APIResponse{data=[]domain.Message}
// @Router /messages [get]
func (h *MessageHandler) ListMessages(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "Login required", nil)
		return
	}

	messages, err := h.service.List(userID)
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to list messages", err)
		return
	}
	if messages == nil {
		messages = []*domain.Message{}
	}

	common.Success(c, messages)
}

// ListThreads handles GET /messages/threads
// @Summary Conversation threads of the caller
// @Tags messages
// @Produce json
// @Success 200 {object} common.APIResponse{data=[]domain.Thread}
// @Router /messages/threads [get]
func (h *MessageHandler) ListThreads(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "Login required", nil)
		return
	}

	threads, err := h.service.Threads(c.Request.Context(), userID)
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to load threads", err)
		return
	}
	if threads == nil {
		threads = []*domain.Thread{}
	}

	common.Success(c, threads)
}

// MarkRead handles POST /messages/:id/read
// @Summary Mark one received message read
// @Tags messages
// @Produce json
// @Param id path string true "message ID"
// @Success 200 {object} common.APIResponse{data=domain.Message}
// @Router /messages/{id}/read [post]
func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "Login required", nil)
		return
	}

	msg, err := h.service.MarkRead(userID, c.Param("id"))
	if err != nil {
		common.Fail(c, "Failed to mark message read", err)
		return
	}

	common.Success(c, msg)
}

// MarkThreadRead handles POST /messages/read
// @Summary Mark every unread message of a thread read
// @Tags messages
// @Accept json
// @Produce json
// @Param request body domain.MarkThreadReadRequest true "thread"
// @Router /messages/read [post]
func (h *MessageHandler) MarkThreadRead(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "Login required", nil)
		return
	}

	var req domain.MarkThreadReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	marked, err := h.service.MarkThreadRead(userID, &req)
	if err != nil {
		common.Fail(c, "Failed to mark thread read", err)
		return
	}

	common.Success(c, gin.H{"marked": marked})
}

// UnreadCount handles GET /messages/unread-count
// @Summary Total unread messages of the caller
// @Tags messages
// @Produce json
// @Router /messages/unread-count [get]
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "Login required", nil)
		return
	}

	count, err := h.service.UnreadCount(userID)
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to count unread messages", err)
		return
	}

	common.Success(c, gin.H{"count": count})
}
