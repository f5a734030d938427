// Package websocket pushes chat messages and notifications to connected
// users. Each connection sits in its user's room and in every chat it joined.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Appender persists a chat message before it is broadcast.
type Appender interface {
	AppendMessage(ctx context.Context, eventID uint, sender, text string) error
}

// Message is the envelope of every frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Hub maintains the set of active clients and routes messages to them.
type Hub struct {
	chat   Appender
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	users   map[uint]map[*Client]bool
	chats   map[uint]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

var ErrHubClosed = errors.New("websocket hub stopped")

func NewHub(chat Appender, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		chat:       chat,
		logger:     logger,
		clients:    make(map[*Client]bool),
		users:      make(map[uint]map[*Client]bool),
		chats:      make(map[uint]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves register and unregister requests until ctx is done, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			addTo(h.users, client.userID, client)
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.remove(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Serve upgrades the request and attaches the connection to the user's room.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID uint, username string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		userID:   userID,
		username: username,
		chats:    make(map[uint]bool),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return ErrHubClosed
	}

	go client.readPump()
	go client.writePump()
	return nil
}

// NotifyUser sends an event to every connection of userID.
func (h *Hub) NotifyUser(userID uint, event string, payload any) {
	h.deliver(h.users, userID, event, payload)
}

// BroadcastToChat sends an event to every connection that joined the chat of
// eventID.
func (h *Hub) BroadcastToChat(eventID uint, event string, payload any) {
	h.deliver(h.chats, eventID, event, payload)
}

// Online reports whether userID has at least one open connection.
func (h *Hub) Online(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

func (h *Hub) deliver(rooms map[uint]map[*Client]bool, id uint, event string, payload any) {
	msg, err := json.Marshal(outbound{Type: event, Payload: payload})
	if err != nil {
		h.logger.Error("marshal websocket message", "type", event, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range rooms[id] {
		select {
		case client.send <- msg:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		h.logger.Warn("dropping slow websocket client", "user", client.userID)
		h.remove(client)
	}
	h.mu.Unlock()
}

func (h *Hub) joinChat(client *Client, eventID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		addTo(h.chats, eventID, client)
	}
}

func (h *Hub) leaveChat(client *Client, eventID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	removeFrom(h.chats, eventID, client)
}

// remove detaches client from every room. Callers hold h.mu.
func (h *Hub) remove(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)

	removeFrom(h.users, client.userID, client)
	for eventID := range h.chats {
		removeFrom(h.chats, eventID, client)
	}
}

func addTo(rooms map[uint]map[*Client]bool, id uint, client *Client) {
	if _, ok := rooms[id]; !ok {
		rooms[id] = make(map[*Client]bool)
	}
	rooms[id][client] = true
}

func removeFrom(rooms map[uint]map[*Client]bool, id uint, client *Client) {
	if clients, ok := rooms[id]; ok {
		delete(clients, client)
		// Clean up empty rooms
		if len(clients) == 0 {
			delete(rooms, id)
		}
	}
}
