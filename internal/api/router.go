package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	iauth "github.com/inkwell-hq/inkwell/internal/auth"
	"github.com/inkwell-hq/inkwell/internal/handlers"
	"github.com/inkwell-hq/inkwell/internal/middleware"
)

// Handlers carries every HTTP-facing component the router mounts.
type Handlers struct {
	Health    *handlers.HealthHandler
	Sessions  *handlers.SessionHandler
	Edits     *handlers.EditHandler
	Comments  *handlers.CommentHandler
	Snapshots *handlers.SnapshotHandler
	Socket    *handlers.CollabSocketHandler
}

// NewRouter assembles the gin engine: liveness and metrics stay open, the
// websocket authenticates its own upgrades, and everything under /api/v1
// requires a valid access token.
func NewRouter(jwt *iauth.JWTService, h Handlers) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.Recovery(), middleware.Logger(), middleware.Metrics())
	engine.NoRoute(middleware.NotFoundHandler)

	engine.GET("/health", h.Health.Check)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws/collab", h.Socket.Serve)

	v1 := engine.Group("/api/v1")
	v1.Use(middleware.Auth(jwt))
	{
		sessions := v1.Group("/sessions")
		sessions.POST("", h.Sessions.Create)
		sessions.GET("", h.Sessions.List)
		sessions.GET("/:id", h.Sessions.Get)
		sessions.POST("/:id/join", h.Sessions.Join)
		sessions.POST("/:id/end", h.Sessions.End)

		sessions.GET("/:id/edits", h.Edits.List)
		sessions.POST("/:id/edits/:editId/revert", h.Edits.Revert)

		sessions.GET("/:id/comments", h.Comments.List)
		sessions.POST("/:id/comments", h.Comments.Create)
		sessions.POST("/:id/comments/:commentId/replies", h.Comments.Reply)
		sessions.POST("/:id/comments/:commentId/resolve", h.Comments.Resolve)

		sessions.GET("/:id/versions", h.Snapshots.History)
		sessions.POST("/:id/versions", h.Snapshots.Create)
		sessions.GET("/:id/versions/:version", h.Snapshots.Get)
	}

	return engine
}
