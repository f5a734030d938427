package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type FriendRequestInput struct {
	ReceiverID   uint  `json:"receiver_id" binding:"required" example:"2"`
	WantToFriend *bool `json:"want_to_friend" binding:"required" example:"true"`
}

type RespondRequestInput struct {
	SenderID uint  `json:"sender_id" binding:"required" example:"2"`
	Accepted *bool `json:"accepted" binding:"required" example:"true"`
}

type UnfriendInput struct {
	FriendID uint `json:"friend_id" binding:"required" example:"2"`
}

type BlockInput struct {
	UserID     uint  `json:"user_id" binding:"required" example:"2"`
	IsBlocking *bool `json:"is_blocking" binding:"required" example:"true"`
}

// FriendRequest godoc
// @Summary Send or withdraw a friend request
// @Tags friends
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body FriendRequestInput true "Receiver and intent"
// @Success 200 {object} map[string]string "Request updated"
// @Failure 400 {object} map[string]string "Invalid input"
// @Failure 403 {object} map[string]string "One of the users has blocked the other"
// @Failure 404 {object} map[string]string "Unknown user or no request to withdraw"
// @Failure 423 {object} map[string]string "Receiver is locked by another write"
// @Router /api/friends/requests [post]
func (h *Handler) FriendRequest(c *gin.Context) {
	userID := c.MustGet("userID").(uint)

	var input FriendRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.badRequest(c, err)
		return
	}

	if !*input.WantToFriend {
		if err := h.members.WithdrawRequest(c.Request.Context(), input.ReceiverID, userID); err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Friend request withdrawn"})
		return
	}

	if err := h.members.AddRequest(c.Request.Context(), input.ReceiverID, userID); err != nil {
		h.respondError(c, err)
		return
	}
	h.hub.NotifyUser(input.ReceiverID, "friendRequest", gin.H{"from": userID})

	c.JSON(http.StatusOK, gin.H{"message": "Friend request sent"})
}

// RespondToRequest godoc
// @Summary Accept or decline a friend request
// @Tags friends
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param response body RespondRequestInput true "Sender and decision"
// @Success 200 {object} map[string]string "Response processed"
// @Failure 404 {object} map[string]string "Request not found"
// @Router /api/friends/respond [post]
func (h *Handler) RespondToRequest(c *gin.Context) {
	userID := c.MustGet("userID").(uint)

	var input RespondRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.badRequest(c, err)
		return
	}

	if !*input.Accepted {
		if err := h.members.WithdrawRequest(c.Request.Context(), userID, input.SenderID); err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Friend request declined"})
		return
	}

	if err := h.members.AcceptRequest(c.Request.Context(), userID, input.SenderID); err != nil {
		h.respondError(c, err)
		return
	}
	h.hub.NotifyUser(input.SenderID, "friendAccepted", gin.H{"user_id": userID})

	c.JSON(http.StatusOK, gin.H{"message": "Friend request accepted"})
}

// Unfriend godoc
// @Summary Remove a friend
// @Tags friends
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param friend body UnfriendInput true "Friend"
// @Success 200 {object} map[string]string "Friend removed"
// @Failure 404 {object} map[string]string "Unknown user"
// @Router /api/friends/unfriend [post]
func (h *Handler) Unfriend(c *gin.Context) {
	userID := c.MustGet("userID").(uint)

	var input UnfriendInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.badRequest(c, err)
		return
	}

	if err := h.members.Unfriend(c.Request.Context(), userID, input.FriendID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Friend removed"})
}

// BlockUser godoc
// @Summary Block or unblock a user
// @Description Blocking drops any friendship and pending request between the two users
// @Tags friends
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param block body BlockInput true "User and intent"
// @Success 200 {object} map[string]string "Block updated"
// @Failure 400 {object} map[string]string "Invalid input"
// @Failure 404 {object} map[string]string "Unknown user"
// @Router /api/friends/block [post]
func (h *Handler) BlockUser(c *gin.Context) {
	userID := c.MustGet("userID").(uint)

	var input BlockInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.badRequest(c, err)
		return
	}

	if !*input.IsBlocking {
		if err := h.members.UnblockUser(c.Request.Context(), userID, input.UserID); err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "User unblocked"})
		return
	}

	if err := h.members.BlockUser(c.Request.Context(), userID, input.UserID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User blocked"})
}

// FriendStatus godoc
// @Summary Relationship with another user
// @Description Reports whether the caller is a friend of the user or has a pending request to them
// @Tags friends
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 200 {object} membership.Relationship "Relationship"
// @Failure 404 {object} map[string]string "Unknown user"
// @Router /api/friends/{id}/status [get]
func (h *Handler) FriendStatus(c *gin.Context) {
	userID := c.MustGet("userID").(uint)
	id, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	rel, err := h.members.Relationship(c.Request.Context(), userID, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rel)
}
