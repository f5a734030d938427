package controllers

import (
	"github.com/gin-gonic/gin"
)

// Connect godoc
// @Summary Open the realtime connection
// @Description Upgrades to a websocket carrying chat messages and notifications. Browsers may pass the token as ?token=
// @Tags realtime
// @Security BearerAuth
// @Success 101 "Switching Protocols"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /ws [get]
func (h *Handler) Connect(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.hub.Serve(c.Writer, c.Request, user.ID, user.Username); err != nil {
		h.logger.Warn("websocket upgrade failed", "user", user.ID, "error", err)
	}
}
