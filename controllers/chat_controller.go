package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CUknot/yolo_backend/chatlog"
	"github.com/CUknot/yolo_backend/websocket"
)

// ChatView is a chat summary as seen by the caller.
type ChatView struct {
	chatlog.Summary
	Read bool `json:"read"`
}

type CreateMessageInput struct {
	Message string `json:"message" binding:"required" example:"Hello, everyone!"`
}

// GetMessages godoc
// @Summary Get the messages of an event's chat
// @Description Returns every message in the order it was sent; a missing chat is empty
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path int true "Event ID"
// @Success 200 {object} map[string]interface{} "List of messages"
// @Failure 400 {object} map[string]string "Invalid event ID"
// @Failure 500 {object} map[string]string "Corrupt chat"
// @Router /api/chats/{id}/messages [get]
func (h *Handler) GetMessages(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	entries, err := h.chats.ReadLog(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": entries})
}

// CreateMessage godoc
// @Summary Send a message
// @Description Appends a message to an event's chat and pushes it to connected members
// @Tags messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Event ID"
// @Param message body CreateMessageInput true "Message"
// @Success 201 {object} map[string]interface{} "Message sent successfully"
// @Failure 400 {object} map[string]string "Invalid input"
// @Failure 404 {object} map[string]string "Chat not found"
// @Failure 423 {object} map[string]string "Chat is locked by another write"
// @Router /api/chats/{id}/messages [post]
func (h *Handler) CreateMessage(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	var input CreateMessageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.badRequest(c, err)
		return
	}

	user, err := h.currentUser(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.chats.AppendMessage(c.Request.Context(), id, user.Username, input.Message); err != nil {
		h.respondError(c, err)
		return
	}

	payload := gin.H{"event_id": id, "sender": user.Username, "message": input.Message}
	h.hub.BroadcastToChat(id, websocket.EventMessageSent, payload)

	c.JSON(http.StatusCreated, gin.H{
		"message": "Message sent successfully",
		"entry":   payload,
	})
}

// GetChat godoc
// @Summary Get chat details
// @Description Returns the members of an event's chat and whether the caller has read its latest message
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path int true "Event ID"
// @Success 200 {object} ChatView "Chat details"
// @Failure 404 {object} map[string]string "Chat not found"
// @Router /api/chats/{id} [get]
func (h *Handler) GetChat(c *gin.Context) {
	userID := c.MustGet("userID").(uint)
	id, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	sum, err := h.chats.Chat(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ChatView{Summary: *sum, Read: sum.HasRead(userID)})
}

// MarkChatRead godoc
// @Summary Mark a chat read
// @Description Records that the caller has read the chat up to its latest message
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path int true "Event ID"
// @Success 200 {object} map[string]string "Chat marked read"
// @Failure 404 {object} map[string]string "Chat not found"
// @Failure 409 {object} map[string]string "Caller is not a member of the chat"
// @Router /api/chats/{id}/read [post]
func (h *Handler) MarkChatRead(c *gin.Context) {
	userID := c.MustGet("userID").(uint)
	id, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.chats.MarkRead(c.Request.Context(), id, userID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat marked read"})
}

// GetMyChats godoc
// @Summary List the caller's chats
// @Description Returns the chats of the events the caller has accepted, most recently active first
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Success 200 {array} ChatView "Chats"
// @Failure 404 {object} map[string]string "Unknown user"
// @Router /api/me/chats [get]
func (h *Handler) GetMyChats(c *gin.Context) {
	userID := c.MustGet("userID").(uint)

	ids, err := h.members.UserChats(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	sums, err := h.chats.Chats(c.Request.Context(), ids)
	if err != nil {
		h.respondError(c, err)
		return
	}

	views := make([]ChatView, 0, len(sums))
	for _, sum := range sums {
		views = append(views, ChatView{Summary: sum, Read: sum.HasRead(userID)})
	}
	c.JSON(http.StatusOK, views)
}
