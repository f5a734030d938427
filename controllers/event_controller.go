package controllers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/CUknot/yolo_backend/codec"
	"github.com/CUknot/yolo_backend/database"
	"github.com/CUknot/yolo_backend/geo"
	"github.com/CUknot/yolo_backend/membership"
	"github.com/CUknot/yolo_backend/models"
)

const maxListedEvents = 100

type CreateEventInput struct {
	Title       string    `json:"title" binding:"required" example:"Slope Day"`
	Description string    `json:"description" example:"Bring sunscreen"`
	Location    string    `json:"location" example:"Libe Slope"`
	Latitude    *float64  `json:"latitude" binding:"required" example:"42.4475"`
	Longitude   *float64  `json:"longitude" binding:"required" example:"-76.4851"`
	StartDate   time.Time `json:"start_date" binding:"required"`
	EndDate     time.Time `json:"end_date" binding:"required"`
	Tags        []string  `json:"tags" example:"music,outdoors"`
	Image       string    `json:"image" example:"0b6f3c1e.png"`
	Public      *bool     `json:"public" example:"true"`
}

type RSVPInput struct {
	From string `json:"from" binding:"required" example:"pending"`
	To   string `json:"to" binding:"required" example:"accepted"`
}

type InviteInput struct {
	FriendID uint `json:"friend_id" binding:"required" example:"2"`
}

// EventView is an event with its tags decoded.
type EventView struct {
	models.Event
	Tags []string `json:"tags"`
}

func toView(e models.Event) (EventView, error) {
	tags, err := codec.Decode(e.Tags)
	if err != nil {
		return EventView{}, fmt.Errorf("tags of event %d: %w", e.ID, err)
	}
	return EventView{Event: e, Tags: tags}, nil
}

// CreateEvent godoc
// @Summary Create an event
// @Description Creates an event together with its empty chat
// @Tags events
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param event body CreateEventInput true "Event Creation"
// @Success 201 {object} EventView "Created event"
// @Failure 400 {object} map[string]string "Invalid input"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 503 {object} map[string]string "Storage unavailable"
// @Router /api/events [post]
func (h *Handler) CreateEvent(c *gin.Context) {
	userID := c.MustGet("userID").(uint)

	var input CreateEventInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.badRequest(c, err)
		return
	}

	point := geo.Point{Lat: *input.Latitude, Lon: *input.Longitude}
	if err := point.Validate(); err != nil {
		h.respondError(c, err)
		return
	}
	if input.EndDate.Before(input.StartDate) {
		h.badRequest(c, fmt.Errorf("end_date is before start_date"))
		return
	}

	event := models.Event{
		CreatorID:   userID,
		Title:       input.Title,
		Description: input.Description,
		Location:    input.Location,
		Latitude:    point.Lat,
		Longitude:   point.Lon,
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
		Tags:        codec.Encode(input.Tags),
		Image:       input.Image,
		Public:      input.Public == nil || *input.Public,
	}

	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&event).Error; err != nil {
			return err
		}
		_, err := h.chats.Init(tx, event.ID, userID)
		return err
	})
	if err != nil {
		h.respondError(c, database.Classify(err))
		return
	}

	h.hub.NotifyUser(userID, "userCreatedEvent", gin.H{"event_id": event.ID})

	view, err := toView(event)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// GetEvents godoc
// @Summary List events
// @Description Returns public events ordered by start date, optionally filtered by creator
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param creator query int false "Creator ID"
// @Success 200 {object} map[string]interface{} "List of events"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /api/events [get]
func (h *Handler) GetEvents(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).
		Order("start_date ASC").
		Limit(maxListedEvents)

	if creator := c.Query("creator"); creator != "" {
		id, err := strconv.ParseUint(creator, 10, 32)
		if err != nil {
			h.badRequest(c, fmt.Errorf("creator must be an integer"))
			return
		}
		query = query.Where("creator_id = ?", id)
	} else {
		query = query.Where("public = ?", true)
	}

	var events []models.Event
	if err := query.Find(&events).Error; err != nil {
		h.respondError(c, database.Classify(err))
		return
	}

	views := make([]EventView, 0, len(events))
	for _, e := range events {
		view, err := toView(e)
		if err != nil {
			h.respondError(c, err)
			return
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"events": views})
}

// GetEvent godoc
// @Summary Get an event
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param id path int true "Event ID"
// @Success 200 {object} EventView "Event"
// @Failure 404 {object} map[string]string "Event not found"
// @Router /api/events/{id} [get]
func (h *Handler) GetEvent(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	event, err := h.findEvent(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	view, err := toView(*event)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetDistance godoc
// @Summary Distance to an event
// @Description Great-circle distance in miles from the given point to the event
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param id path int true "Event ID"
// @Param lat query number true "Latitude"
// @Param lon query number true "Longitude"
// @Success 200 {object} map[string]interface{} "Distance in miles"
// @Failure 400 {object} map[string]string "Invalid coordinates"
// @Failure 404 {object} map[string]string "Event not found"
// @Router /api/events/{id}/distance [get]
func (h *Handler) GetDistance(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lon, lonErr := strconv.ParseFloat(c.Query("lon"), 64)
	if latErr != nil || lonErr != nil {
		h.badRequest(c, fmt.Errorf("lat and lon are required numbers"))
		return
	}
	from := geo.Point{Lat: lat, Lon: lon}
	if err := from.Validate(); err != nil {
		h.respondError(c, err)
		return
	}

	event, err := h.findEvent(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	miles := geo.Distance(from, geo.Point{Lat: event.Latitude, Lon: event.Longitude})
	c.JSON(http.StatusOK, gin.H{"event_id": event.ID, "miles": miles})
}

// RSVP godoc
// @Summary Respond to an event
// @Description Moves the event between the caller's pending, accepted and rejected sets
// @Tags events
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Event ID"
// @Param rsvp body RSVPInput true "Source and target category"
// @Success 200 {object} map[string]string "RSVP recorded"
// @Failure 400 {object} map[string]string "Invalid category"
// @Failure 404 {object} map[string]string "Event not found"
// @Failure 409 {object} map[string]string "Event not in source category"
// @Failure 423 {object} map[string]string "User is locked by another write"
// @Router /api/events/{id}/rsvp [post]
func (h *Handler) RSVP(c *gin.Context) {
	userID := c.MustGet("userID").(uint)
	id, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	var input RSVPInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.badRequest(c, err)
		return
	}
	from, err := membership.ParseCategory(input.From)
	if err != nil {
		h.respondError(c, err)
		return
	}
	to, err := membership.ParseCategory(input.To)
	if err != nil {
		h.respondError(c, err)
		return
	}

	event, err := h.findEvent(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.members.MoveEvent(c.Request.Context(), userID, from, to, event.ID); err != nil {
		h.respondError(c, err)
		return
	}

	h.hub.NotifyUser(event.CreatorID, "RSVPOccurred", gin.H{"event_id": event.ID, "user_id": userID, "category": to})
	h.hub.NotifyUser(userID, "eventsUpdated", gin.H{"event_id": event.ID})

	c.JSON(http.StatusOK, gin.H{"message": "RSVP recorded", "category": to})
}

// InviteFriend godoc
// @Summary Invite a user to an event
// @Description Adds the event to the invitee's pending set unless they already classified it
// @Tags events
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Event ID"
// @Param invite body InviteInput true "Invitee"
// @Success 200 {object} map[string]interface{} "Invite processed"
// @Failure 404 {object} map[string]string "Event or user not found"
// @Router /api/events/{id}/invite [post]
func (h *Handler) InviteFriend(c *gin.Context) {
	userID := c.MustGet("userID").(uint)
	id, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	var input InviteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.badRequest(c, err)
		return
	}

	event, err := h.findEvent(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	added, err := h.members.InviteToEvent(c.Request.Context(), input.FriendID, event.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if added {
		h.hub.NotifyUser(input.FriendID, "eventInvite", gin.H{"event_id": event.ID, "from": userID})
	}

	c.JSON(http.StatusOK, gin.H{"invited": added})
}

// GetMyEvents godoc
// @Summary The caller's event and friend collections
// @Tags events
// @Produce json
// @Security BearerAuth
// @Success 200 {object} membership.Snapshot "Collections"
// @Failure 500 {object} map[string]string "Corrupt stored data"
// @Router /api/me/events [get]
func (h *Handler) GetMyEvents(c *gin.Context) {
	userID := c.MustGet("userID").(uint)

	snap, err := h.members.Snapshot(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
