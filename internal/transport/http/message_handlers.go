package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agora-server/internal/core"
	"github.com/vovakirdan/agora-server/internal/proto"
	"github.com/vovakirdan/agora-server/internal/store"
)

// MessageHandlers serves the read side of channel history.
type MessageHandlers struct {
	coordinator *core.Coordinator
	log         *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(coordinator *core.Coordinator, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		coordinator: coordinator,
		log:         logger,
	}
}

// HistoryResponse is one page of channel history.
type HistoryResponse struct {
	ChannelID int64           `json:"channel_id"`
	Page      int             `json:"page"`
	Messages  []proto.Message `json:"messages"`
}

// UnreadResponse reports the unread count of a channel.
type UnreadResponse struct {
	ChannelID int64 `json:"channel_id"`
	Unread    int   `json:"unread"`
}

func intQuery(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + key, Code: core.ErrCodeBadRequest})
		return 0, false
	}
	return n, true
}

// History handles paged channel history. Page 1 is the newest page.
// GET /api/channels/:id/messages?page=&size=
func (h *MessageHandlers) History(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: core.ErrCodeUnauthorized})
		return
	}
	channelID, ok := channelParam(c)
	if !ok {
		return
	}
	page, ok := intQuery(c, "page")
	if !ok {
		return
	}
	size, ok := intQuery(c, "size")
	if !ok {
		return
	}
	if page == 0 {
		page = 1
	}

	msgs, err := h.coordinator.History(c.Request.Context(), uid, channelID, size, page)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{
		ChannelID: int64(channelID),
		Page:      page,
		Messages:  messagesToProto(msgs),
	})
}

// Search handles substring search within a channel.
// GET /api/channels/:id/search?q=
func (h *MessageHandlers) Search(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: core.ErrCodeUnauthorized})
		return
	}
	channelID, ok := channelParam(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	msgs, err := h.coordinator.Search(c.Request.Context(), uid, channelID, c.Query("q"), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, messagesToProto(msgs))
}

// Unread handles the unread count of a channel.
// GET /api/channels/:id/unread
func (h *MessageHandlers) Unread(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: core.ErrCodeUnauthorized})
		return
	}
	channelID, ok := channelParam(c)
	if !ok {
		return
	}

	n, err := h.coordinator.UnreadCount(c.Request.Context(), uid, channelID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, UnreadResponse{ChannelID: int64(channelID), Unread: n})
}

// Reactions handles the aggregated reactions of one message.
// GET /api/messages/:id/reactions
func (h *MessageHandlers) Reactions(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: core.ErrCodeUnauthorized})
		return
	}

	messageID := store.MessageID(c.Param("id"))
	summary, err := h.coordinator.Reactions(c.Request.Context(), uid, messageID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, proto.AckReactions{
		MessageID: string(messageID),
		Reactions: reactionsToProto(summary),
	})
}
