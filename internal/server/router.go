// Package server assembles the gin engine and the HTTP listener.
package server

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/Wei-Shaw/notifyhub/internal/config"
	"github.com/Wei-Shaw/notifyhub/internal/handler"
	"github.com/Wei-Shaw/notifyhub/internal/server/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Notification *handler.NotificationHandler
	Health       *handler.HealthHandler
}

// SetupRouter configures middleware and routes on a fresh engine.
func SetupRouter(cfg *config.Config, h *Handlers) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		slog.Warn("trusted_proxies_invalid", "error", err)
	}

	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLogger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.CORS))

	registerRoutes(r, h)
	return r
}

func registerRoutes(r *gin.Engine, h *Handlers) {
	r.GET("/health", h.Health.Health)
	r.GET("/ready", h.Health.Ready)

	api := r.Group("/api")
	api.POST("/notifications/:channel", h.Notification.Send)
}
