package server

import (
	"errors"
	"net/http"
	"strconv"

	"chatrelay/internal/models"
	"chatrelay/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler exposes the REST projection over the message store used by the
// request-response collaborator layer. It is a thin mapping onto the same
// services the websocket gateway drives.
type Handler struct {
	msgs     *service.MessageService
	receipts *service.ReceiptService
	polls    *service.PollService
}

func NewHandler(msgs *service.MessageService, receipts *service.ReceiptService, polls *service.PollService) *Handler {
	return &Handler{msgs: msgs, receipts: receipts, polls: polls}
}

func respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrNotPoll),
		errors.Is(err, service.ErrBadOption):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("op", op).Msg("message store failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// CreateMessage handles POST /messages.
func (h *Handler) CreateMessage(c *gin.Context) {
	var req struct {
		AuthorID    string                    `json:"author_id"`
		Kind        string                    `json:"kind"`
		Content     string                    `json:"content"`
		Attachments []service.AttachmentInput `json:"attachments"`
		PollOptions []string                  `json:"poll_options"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.msgs.Create(req.AuthorID, models.MessageKind(req.Kind), req.Content, req.Attachments, req.PollOptions)
	if err != nil {
		respondError(c, "create message", err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ListMessages handles GET /messages with pagination and filters.
func (h *Handler) ListMessages(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	opts := service.PageOptions{
		Page:     page,
		Limit:    limit,
		AuthorID: c.Query("author_id"),
		Kind:     models.MessageKind(c.Query("kind")),
		SortAsc:  c.Query("sort") == "asc",
	}
	result, err := h.msgs.FindPaginated(opts)
	if err != nil {
		respondError(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RecentMessages handles GET /messages/recent.
func (h *Handler) RecentMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := h.msgs.FindRecent(limit)
	if err != nil {
		respondError(c, "recent messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetMessage handles GET /messages/:id.
func (h *Handler) GetMessage(c *gin.Context) {
	msg, err := h.msgs.FindByID(c.Param("id"))
	if err != nil {
		respondError(c, "get message", err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// UpdateMessage handles PUT /messages/:id, patching the content and marking
// the message edited. The content field must be present: a body without it
// is a malformed patch, not a request to blank the text.
func (h *Handler) UpdateMessage(c *gin.Context) {
	var req struct {
		Content *string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.msgs.Update(c.Param("id"), *req.Content)
	if err != nil {
		respondError(c, "update message", err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage handles DELETE /messages/:id.
func (h *Handler) DeleteMessage(c *gin.Context) {
	if err := h.msgs.Remove(c.Param("id")); err != nil {
		respondError(c, "delete message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// InitReceipts handles POST /messages/:id/receipts, replacing the receipt
// list with fresh SENT entries.
func (h *Handler) InitReceipts(c *gin.Context) {
	var req struct {
		Recipients []string `json:"recipients"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.msgs.InitReceipts(c.Param("id"), req.Recipients); err != nil {
		respondError(c, "init receipts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SetReceipt handles PUT /messages/:id/receipts/:userId.
func (h *Handler) SetReceipt(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	err := h.receipts.SetStatus(c.Param("id"), c.Param("userId"), models.ReceiptStatus(req.Status))
	if err != nil {
		respondError(c, "set receipt", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Vote handles POST /messages/:id/votes.
func (h *Handler) Vote(c *gin.Context) {
	var req struct {
		UserID      string `json:"user_id"`
		OptionIndex *int   `json:"option_index"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.OptionIndex == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	options, err := h.polls.Vote(c.Param("id"), req.UserID, *req.OptionIndex)
	if err != nil {
		respondError(c, "vote poll", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": c.Param("id"), "poll_options": options})
}
