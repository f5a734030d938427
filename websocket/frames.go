package websocket

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/CUknot/yolo_backend/chatlog"
	"github.com/CUknot/yolo_backend/database"
	"github.com/CUknot/yolo_backend/locker"
)

// Outgoing event names.
const (
	EventChatJoined  = "chatJoined"
	EventMessageSent = "messageSent"
	EventError       = "error"
)

type chatRef struct {
	EventID uint `json:"event_id"`
}

type chatMessage struct {
	EventID uint   `json:"event_id"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

func (h *Hub) handleFrame(ctx context.Context, c *Client, frame []byte) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.reply(EventError, errorPayload("malformed frame"))
		return
	}

	switch msg.Type {
	case "join_chat":
		var ref chatRef
		if err := json.Unmarshal(msg.Payload, &ref); err != nil || ref.EventID == 0 {
			c.reply(EventError, errorPayload("event_id is required"))
			return
		}
		c.joinChat(ref.EventID)
		c.reply(EventChatJoined, ref)
	case "leave_chat":
		var ref chatRef
		if err := json.Unmarshal(msg.Payload, &ref); err != nil {
			return
		}
		c.leaveChat(ref.EventID)
	case "message":
		var in chatMessage
		if err := json.Unmarshal(msg.Payload, &in); err != nil || in.EventID == 0 {
			c.reply(EventError, errorPayload("event_id is required"))
			return
		}
		if !c.inChat(in.EventID) {
			c.reply(EventError, errorPayload("join the chat before sending"))
			return
		}

		if err := h.chat.AppendMessage(ctx, in.EventID, c.username, in.Message); err != nil {
			h.logger.Error("append chat message", "event", in.EventID, "user", c.userID, "error", err)
			c.reply(EventError, errorPayload(describe(err)))
			return
		}
		h.BroadcastToChat(in.EventID, EventMessageSent, chatMessage{
			EventID: in.EventID,
			Sender:  c.username,
			Message: in.Message,
		})
	default:
		c.reply(EventError, errorPayload("unknown message type "+msg.Type))
	}
}

// reply queues a frame for this connection only.
func (c *Client) reply(event string, payload any) {
	msg, err := json.Marshal(outbound{Type: event, Payload: payload})
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}

// describe keeps store internals out of frames sent to clients.
func describe(err error) string {
	switch {
	case errors.Is(err, chatlog.ErrNoChat):
		return "chat not found"
	case errors.Is(err, chatlog.ErrEmptyMessage):
		return "message is empty"
	case errors.Is(err, locker.ErrLockTimeout), errors.Is(err, database.ErrVersionConflict):
		return "chat is busy, try again"
	case errors.Is(err, locker.ErrUnavailable), errors.Is(err, database.ErrStorageUnavailable):
		return "chat is unavailable, try again later"
	default:
		return "failed to send message"
	}
}
