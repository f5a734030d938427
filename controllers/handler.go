package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/CUknot/yolo_backend/chatlog"
	"github.com/CUknot/yolo_backend/codec"
	"github.com/CUknot/yolo_backend/database"
	"github.com/CUknot/yolo_backend/geo"
	"github.com/CUknot/yolo_backend/locker"
	"github.com/CUknot/yolo_backend/membership"
	"github.com/CUknot/yolo_backend/middleware"
	"github.com/CUknot/yolo_backend/models"
	"github.com/CUknot/yolo_backend/photos"
	"github.com/CUknot/yolo_backend/websocket"
)

var (
	errInvalidInput  = errors.New("invalid input")
	errEventNotFound = errors.New("event not found")
)

// PhotoStore keeps uploaded images. A nil PhotoStore disables the photo
// routes.
type PhotoStore interface {
	Upload(ctx context.Context, filename, contentType string, body io.Reader) (string, error)
	SignedURL(ctx context.Context, key string) (string, error)
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	DB        *gorm.DB
	Members   *membership.Store
	Chats     *chatlog.Store
	Photos    PhotoStore
	Hub       *websocket.Hub
	JWTSecret string
	Logger    *slog.Logger
}

// Handler serves the REST API.
type Handler struct {
	db      *gorm.DB
	members *membership.Store
	chats   *chatlog.Store
	photos  PhotoStore
	hub     *websocket.Hub
	secret  string
	logger  *slog.Logger
}

func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		db:      d.DB,
		members: d.Members,
		chats:   d.Chats,
		photos:  d.Photos,
		hub:     d.Hub,
		secret:  d.JWTSecret,
		logger:  d.Logger,
	}
}

// Routes mounts every route on r.
func (h *Handler) Routes(r *gin.Engine) {
	// Authentication routes
	auth := r.Group("/api")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
	}

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.JWTAuth(h.secret))
	{
		// Event routes
		api.POST("/events", h.CreateEvent)
		api.GET("/events", h.GetEvents)
		api.GET("/events/:id", h.GetEvent)
		api.GET("/events/:id/distance", h.GetDistance)
		api.POST("/events/:id/rsvp", h.RSVP)
		api.POST("/events/:id/invite", h.InviteFriend)
		api.GET("/me/events", h.GetMyEvents)

		// Friend routes
		api.POST("/friends/requests", h.FriendRequest)
		api.POST("/friends/respond", h.RespondToRequest)
		api.POST("/friends/unfriend", h.Unfriend)
		api.POST("/friends/block", h.BlockUser)
		api.GET("/friends/:id/status", h.FriendStatus)

		// Chat routes
		api.GET("/me/chats", h.GetMyChats)
		api.GET("/chats/:id", h.GetChat)
		api.POST("/chats/:id/read", h.MarkChatRead)
		api.GET("/chats/:id/messages", h.GetMessages)
		api.POST("/chats/:id/messages", h.CreateMessage)

		// Photo routes
		api.POST("/upload", h.UploadPhoto)
		api.GET("/signed-url/*key", h.SignedURL)
	}

	// WebSocket route
	r.GET("/ws", middleware.JWTAuth(h.secret), h.Connect)
}

// errorStatus maps an error to its HTTP status and machine-readable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, membership.ErrNotAMember):
		return http.StatusConflict, "not_a_member"
	case errors.Is(err, chatlog.ErrNotMember):
		return http.StatusConflict, "not_chat_member"
	case errors.Is(err, membership.ErrBlocked):
		return http.StatusForbidden, "blocked"
	case errors.Is(err, membership.ErrNotFound):
		return http.StatusNotFound, "request_not_found"
	case errors.Is(err, membership.ErrUnknownUser):
		return http.StatusNotFound, "unknown_user"
	case errors.Is(err, chatlog.ErrNoChat):
		return http.StatusNotFound, "chat_not_found"
	case errors.Is(err, errEventNotFound):
		return http.StatusNotFound, "event_not_found"
	case errors.Is(err, errInvalidInput),
		errors.Is(err, membership.ErrInvalidCategory),
		errors.Is(err, membership.ErrSelfRequest),
		errors.Is(err, membership.ErrSelfBlock),
		errors.Is(err, chatlog.ErrEmptyMessage),
		errors.Is(err, geo.ErrInvalidPoint):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, locker.ErrLockTimeout):
		return http.StatusLocked, "lock_timeout"
	case errors.Is(err, database.ErrVersionConflict):
		// contention like a lock timeout, the write can be retried
		return http.StatusLocked, "write_conflict"
	case errors.Is(err, locker.ErrUnavailable):
		return http.StatusServiceUnavailable, "lock_unavailable"
	case errors.Is(err, database.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, photos.ErrNotConfigured):
		return http.StatusServiceUnavailable, "photos_unavailable"
	case errors.Is(err, codec.ErrCorruptEncoding):
		return http.StatusInternalServerError, "corrupt_encoding"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", c.Request.Method, "path", c.FullPath(), "code", code, "error", err)
		switch code {
		case "corrupt_encoding":
			message = "Stored data is corrupt"
		case "internal":
			message = "Internal server error"
		}
	}
	c.JSON(status, gin.H{"error": message, "code": code})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	h.respondError(c, fmt.Errorf("%w: %v", errInvalidInput, err))
}

func parseID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", errInvalidInput, name)
	}
	return uint(id), nil
}

func (h *Handler) findEvent(ctx context.Context, id uint) (*models.Event, error) {
	var event models.Event
	err := h.db.WithContext(ctx).First(&event, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", errEventNotFound, id)
	}
	if err != nil {
		return nil, database.Classify(err)
	}
	return &event, nil
}

func (h *Handler) currentUser(c *gin.Context) (*models.User, error) {
	userID := c.MustGet("userID").(uint)

	var user models.User
	err := h.db.WithContext(c.Request.Context()).
		Select("id", "username", "email", "profile_pic").
		First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", membership.ErrUnknownUser, userID)
	}
	if err != nil {
		return nil, database.Classify(err)
	}
	return &user, nil
}
