package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsechat/internal/store"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SenderResponse is the public projection of a user embedded in other resources.
type SenderResponse struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

// APIHandlers holds dependencies shared by the REST handlers.
type APIHandlers struct {
	store        store.Store
	log          *zerolog.Logger
	roomLifetime time.Duration
	now          func() time.Time
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(st store.Store, roomLifetime time.Duration, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		store:        st,
		log:          logger,
		roomLifetime: roomLifetime,
		now:          time.Now,
	}
}

// activeRoom loads a room and writes 404 or 410 when it is missing or expired.
func (h *APIHandlers) activeRoom(c *gin.Context, roomID string) (*store.Room, bool) {
	room, err := h.store.GetRoomByID(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Room not found"})
			return nil, false
		}
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to load room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return nil, false
	}
	if room.Expired(h.now()) {
		c.JSON(http.StatusGone, ErrorResponse{Error: "Room has expired"})
		return nil, false
	}
	return room, true
}

// sender resolves a user id into its public projection. Unknown users keep their id
// with an empty name.
func (h *APIHandlers) sender(ctx context.Context, userID string) SenderResponse {
	out := SenderResponse{ID: userID}
	user, err := h.store.GetUserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Warn().Err(err).Str("user_id", userID).Msg("failed to resolve user")
		}
		return out
	}
	out.Username = user.Username
	return out
}
