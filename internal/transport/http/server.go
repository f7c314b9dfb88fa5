package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agora-server/internal/config"
	"github.com/vovakirdan/agora-server/internal/core"
	"github.com/vovakirdan/agora-server/internal/service/channels"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Hub      *core.Hub
	Channels *channels.Service
	Identity core.IdentityResolver
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the gin engine with websocket, REST and operational routes.
func NewRouter(deps Deps, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(deps.Hub, cfg, logger)))
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	channelHandlers := NewChannelHandlers(deps.Hub, deps.Channels, logger)
	messageHandlers := NewMessageHandlers(deps.Hub.Coordinator(), logger)

	api := router.Group("/api", AuthMiddleware(deps.Identity, logger))
	api.GET("/channels", channelHandlers.ListChannels)
	api.GET("/channels/:id/messages", messageHandlers.History)
	api.GET("/channels/:id/search", messageHandlers.Search)
	api.GET("/channels/:id/unread", messageHandlers.Unread)
	api.GET("/messages/:id/reactions", messageHandlers.Reactions)
	api.POST("/direct/:user_id", channelHandlers.OpenDirect)

	return router
}

// NewServer builds an HTTP server around NewRouter.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
