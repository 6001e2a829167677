package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/pulsechat/internal/proto"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// MessagesResponse wraps a room's message history.
type MessagesResponse struct {
	Messages []proto.NewMessage `json:"messages"`
}

// ListMessages returns a room's history in chronological order.
// GET /api/messages/:roomId?limit=50
func (h *APIHandlers) ListMessages(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	room, ok := h.activeRoom(c, c.Param("roomId"))
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(c.Request.Context(), room.ID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", room.ID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch messages"})
		return
	}

	out := make([]proto.NewMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, proto.NewMessage{
			MessageID: m.ID,
			Sender:    proto.Sender{ID: m.SenderID, Username: m.Sender},
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, MessagesResponse{Messages: out})
}
