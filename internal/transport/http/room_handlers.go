package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/pulsechat/internal/store"
)

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	UserID    string   `json:"userId" binding:"required"`
	Title     string   `json:"title" binding:"required,max=100"`
	Tags      []string `json:"tags" binding:"max=10,dive,max=20"`
	Latitude  *float64 `json:"latitude" binding:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" binding:"required,min=-180,max=180"`
}

// JoinRoomRequest records persistent membership.
type JoinRoomRequest struct {
	UserID string `json:"userId" binding:"required"`
	RoomID string `json:"roomId" binding:"required"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	RoomID      string           `json:"roomId"`
	Title       string           `json:"title"`
	Tags        []string         `json:"tags"`
	Creator     SenderResponse   `json:"creator"`
	Members     []SenderResponse `json:"members,omitempty"`
	MemberCount int              `json:"memberCount"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// RoomsResponse wraps a room listing.
type RoomsResponse struct {
	Rooms []RoomResponse `json:"rooms"`
}

// JoinRoomResponse acknowledges a membership change.
type JoinRoomResponse struct {
	Success bool   `json:"success"`
	RoomID  string `json:"roomId"`
}

func roomResponse(room *store.Room, creator SenderResponse, memberCount int) RoomResponse {
	tags := room.Tags
	if tags == nil {
		tags = []string{}
	}
	return RoomResponse{
		RoomID:      room.ID,
		Title:       room.Title,
		Tags:        tags,
		Creator:     creator,
		MemberCount: memberCount,
		ExpiresAt:   room.ExpiresAt,
		CreatedAt:   room.CreatedAt,
	}
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *APIHandlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing required fields"})
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing required fields"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "User not found"})
			return
		}
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create room"})
		return
	}

	tags := make([]string, 0, len(req.Tags))
	for _, tag := range req.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	now := h.now()
	room := &store.Room{
		Title:     title,
		Tags:      tags,
		CreatorID: user.ID,
		Location:  store.Location{Latitude: *req.Latitude, Longitude: *req.Longitude},
		ExpiresAt: now.Add(h.roomLifetime),
		CreatedAt: now,
	}
	if err := h.store.CreateRoom(ctx, room); err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create room"})
		return
	}

	h.log.Info().Str("room_id", room.ID).Str("user_id", user.ID).Time("expires_at", room.ExpiresAt).Msg("room created")
	c.JSON(http.StatusCreated, roomResponse(room, SenderResponse{ID: user.ID, Username: user.Username}, 1))
}

// ListRooms lists rooms that have not expired, newest first.
// GET /api/rooms
func (h *APIHandlers) ListRooms(c *gin.Context) {
	ctx := c.Request.Context()
	rooms, err := h.store.ListActiveRooms(ctx, h.now())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch rooms"})
		return
	}

	response := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		count, err := h.store.CountMembers(ctx, room.ID)
		if err != nil {
			h.log.Error().Err(err).Str("room_id", room.ID).Msg("failed to count members")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch rooms"})
			return
		}
		response = append(response, roomResponse(room, h.sender(ctx, room.CreatorID), count))
	}

	c.JSON(http.StatusOK, RoomsResponse{Rooms: response})
}

// JoinRoom records that a user is a member of a room.
// POST /api/rooms/join
func (h *APIHandlers) JoinRoom(c *gin.Context) {
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing required fields"})
		return
	}

	room, ok := h.activeRoom(c, req.RoomID)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetUserByID(ctx, req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "User not found"})
			return
		}
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to join room"})
		return
	}

	if err := h.store.AddMember(ctx, room.ID, req.UserID); err != nil {
		h.log.Error().Err(err).Str("room_id", room.ID).Str("user_id", req.UserID).Msg("failed to add member")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to join room"})
		return
	}

	c.JSON(http.StatusOK, JoinRoomResponse{Success: true, RoomID: room.ID})
}

// GetRoom returns room details with its member list.
// GET /api/rooms/:roomId
func (h *APIHandlers) GetRoom(c *gin.Context) {
	room, ok := h.activeRoom(c, c.Param("roomId"))
	if !ok {
		return
	}

	ctx := c.Request.Context()
	members, err := h.store.ListMembers(ctx, room.ID)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", room.ID).Msg("failed to list members")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch room details"})
		return
	}

	resp := roomResponse(room, h.sender(ctx, room.CreatorID), len(members))
	resp.Members = make([]SenderResponse, 0, len(members))
	for _, m := range members {
		resp.Members = append(resp.Members, SenderResponse{ID: m.ID, Username: m.Username})
	}
	c.JSON(http.StatusOK, resp)
}
