package http

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/pulsechat/internal/store"
)

var (
	nicknameAdjectives = []string{"Cool", "Swift", "Brave", "Quiet", "Bright", "Bold", "Calm", "Wise", "Kind", "Noble"}
	nicknameAnimals    = []string{"Tiger", "Eagle", "Wolf", "Fox", "Bear", "Hawk", "Lion", "Panda", "Owl", "Deer"}
)

const (
	minUsernameLen = 3
	maxUsernameLen = 20
)

// generateUsername builds a nickname like "SwiftOwl42".
func generateUsername() string {
	return fmt.Sprintf("%s%s%d",
		nicknameAdjectives[rand.Intn(len(nicknameAdjectives))],
		nicknameAnimals[rand.Intn(len(nicknameAnimals))],
		rand.Intn(100),
	)
}

// AnonymousUserRequest carries the location the user is chatting from.
type AnonymousUserRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" binding:"required,min=-180,max=180"`
}

// UpdateUsernameRequest renames a user.
type UpdateUsernameRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Username string `json:"username" binding:"required"`
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// CreateAnonymousUser creates a user with a generated nickname.
// POST /api/users/anonymous
func (h *APIHandlers) CreateAnonymousUser(c *gin.Context) {
	var req AnonymousUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid anonymous user request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Location is required"})
		return
	}

	user := &store.User{
		Username:  generateUsername(),
		Location:  store.Location{Latitude: *req.Latitude, Longitude: *req.Longitude},
		CreatedAt: h.now(),
	}
	if err := h.store.CreateUser(c.Request.Context(), user); err != nil {
		h.log.Error().Err(err).Msg("failed to create user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create user"})
		return
	}

	h.log.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("anonymous user created")
	c.JSON(http.StatusCreated, UserResponse{UserID: user.ID, Username: user.Username})
}

// UpdateUsername changes a user's nickname.
// PUT /api/users/username
func (h *APIHandlers) UpdateUsername(c *gin.Context) {
	var req UpdateUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "User ID and username are required"})
		return
	}

	name := strings.TrimSpace(req.Username)
	if n := utf8.RuneCountInString(name); n < minUsernameLen || n > maxUsernameLen {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("Username must be between %d and %d characters", minUsernameLen, maxUsernameLen),
		})
		return
	}

	user, err := h.store.UpdateUsername(c.Request.Context(), req.UserID, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "User not found"})
			return
		}
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to update username")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to update username"})
		return
	}

	c.JSON(http.StatusOK, UserResponse{UserID: user.ID, Username: user.Username})
}
