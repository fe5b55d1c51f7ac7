package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hirelocal/hirelocal/internal/chat"
	"github.com/hirelocal/hirelocal/internal/common"
)

type ensureServiceChatReq struct {
	CategoryID uint64 `json:"category_id" binding:"required"`
}

// EnsureServiceChat opens (or returns) the caller's service chat for a
// category.
func (h *Handler) EnsureServiceChat(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req ensureServiceChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ch, err := h.ChatSvc.EnsureServiceChat(c.Request.Context(), uid, req.CategoryID)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, ch)
}

type ensureNotificationChatReq struct {
	CategoryID uint64 `json:"category_id" binding:"required"`
}

func (h *Handler) EnsureNotificationChat(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req ensureNotificationChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ch, err := h.ChatSvc.EnsureNotificationChat(c.Request.Context(), uid, req.CategoryID)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, ch)
}

type sendMessageReq struct {
	Bubble   string         `json:"bubble" binding:"required"`
	Content  string         `json:"content"`
	Metadata *chat.Metadata `json:"metadata"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chatID, err := strconv.ParseUint(c.Param("chat_id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid chat id")
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	in := chat.SendInput{
		Bubble:  chat.BubbleType(req.Bubble),
		Content: req.Content,
	}
	if req.Metadata != nil {
		in.Metadata = *req.Metadata
	}

	msg, err := h.ChatSvc.Send(c.Request.Context(), chatID, uid, in)
	if err != nil {
		failErr(c, err)
		return
	}
	if msg == nil {
		// Intercepted as a command, nothing stored.
		common.OK(c, gin.H{"handled": true})
		return
	}
	common.OK(c, msg)
}

func (h *Handler) ListMessages(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chatID, err := strconv.ParseUint(c.Param("chat_id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid chat id")
		return
	}

	ch, err := h.ChatSvc.Repo().GetChat(c.Request.Context(), chatID)
	if err != nil {
		failErr(c, err)
		return
	}
	member := (ch.CustomerID != nil && *ch.CustomerID == uid) ||
		(ch.WorkerID != nil && *ch.WorkerID == uid)
	if !member && !h.isAdmin(c, uid) {
		common.Fail(c, http.StatusForbidden, 40303, "not a member of this chat")
		return
	}

	yearMonth := c.Query("month")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	beforeID, _ := strconv.ParseUint(c.Query("before_id"), 10, 64)

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), chatID, yearMonth, limit, beforeID)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}
