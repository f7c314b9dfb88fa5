package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agora-server/internal/core"
	"github.com/vovakirdan/agora-server/internal/proto"
	"github.com/vovakirdan/agora-server/internal/service/channels"
	"github.com/vovakirdan/agora-server/internal/store"
)

// ChannelHandlers provides HTTP handlers for the channel directory.
type ChannelHandlers struct {
	hub      *core.Hub
	channels *channels.Service
	log      *zerolog.Logger
}

// NewChannelHandlers creates a new channel handlers instance.
func NewChannelHandlers(hub *core.Hub, svc *channels.Service, logger *zerolog.Logger) *ChannelHandlers {
	return &ChannelHandlers{
		hub:      hub,
		channels: svc,
		log:      logger,
	}
}

// ListChannels handles listing accessible channels with unread counts.
// GET /api/channels
func (h *ChannelHandlers) ListChannels(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: core.ErrCodeUnauthorized})
		return
	}

	summaries, err := h.channels.ListChannels(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response := make([]proto.Channel, 0, len(summaries))
	for _, s := range summaries {
		ch := channelToProto(s.Channel)
		unread := s.Unread
		ch.Unread = &unread
		response = append(response, ch)
	}

	h.log.Debug().Int64("user_id", int64(uid)).Int("channel_count", len(response)).Msg("channels listed")
	c.JSON(http.StatusOK, response)
}

// OpenDirect returns the direct channel with another user, creating it on first use.
// POST /api/direct/:user_id
func (h *ChannelHandlers) OpenDirect(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: core.ErrCodeUnauthorized})
		return
	}

	peer, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || peer <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id", Code: core.ErrCodeBadRequest})
		return
	}

	ch, err := h.hub.OpenDirect(c.Request.Context(), uid, store.UserID(peer))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, channelToProto(ch))
}

func channelParam(c *gin.Context) (store.ChannelID, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid channel id", Code: core.ErrCodeBadRequest})
		return 0, false
	}
	return store.ChannelID(id), true
}
