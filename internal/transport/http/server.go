package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsechat/internal/config"
	"github.com/vovakirdan/pulsechat/internal/core"
	"github.com/vovakirdan/pulsechat/internal/store"
)

// NewServer builds the HTTP server: websocket endpoint, REST API and health check.
func NewServer(hub *core.Hub, st store.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(hub, st, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler mounts the websocket endpoint next to the gin router. The websocket
// upgrade hijacks the connection, so it must not pass through gin's response writer.
func NewHandler(hub *core.Hub, st store.Store, cfg config.Config, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, cfg.MaxMessageBytes, logger))
	mux.Handle("/", NewRouter(st, cfg, logger))
	return mux
}

// NewRouter wires the health check and REST routes onto a gin engine.
func NewRouter(st store.Store, cfg config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), CORSMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{"status": "ok"})
	})

	api := NewAPIHandlers(st, cfg.RoomLifetime, logger)
	group := router.Group("/api", LoggerMiddleware(logger))
	{
		group.POST("/users/anonymous", api.CreateAnonymousUser)
		group.PUT("/users/username", api.UpdateUsername)

		group.POST("/rooms", api.CreateRoom)
		group.GET("/rooms", api.ListRooms)
		group.POST("/rooms/join", api.JoinRoom)
		group.GET("/rooms/:roomId", api.GetRoom)

		group.GET("/messages/:roomId", api.ListMessages)
	}

	return router
}
