package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Wei-Shaw/notifyhub/internal/pkg/response"
	"github.com/Wei-Shaw/notifyhub/internal/service"
)

// HealthHandler serves liveness and readiness probes. Liveness always
// answers; readiness tracks broker connectivity so load balancers stop
// routing while the publisher cannot accept work.
type HealthHandler struct {
	publisher service.Publisher
}

func NewHealthHandler(publisher service.Publisher) *HealthHandler {
	return &HealthHandler{publisher: publisher}
}

func (h *HealthHandler) Health(c *gin.Context) {
	broker := "disconnected"
	if h.publisher.IsConnected() {
		broker = "connected"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  gin.H{"broker": broker},
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.publisher.IsConnected() {
		response.ServiceUnavailable(c, gin.H{"ready": false, "reason": "broker disconnected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
