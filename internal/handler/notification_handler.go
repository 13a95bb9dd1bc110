// Package handler contains the gin HTTP handlers for the ingress API.
package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Wei-Shaw/notifyhub/internal/notification"
	infraerrors "github.com/Wei-Shaw/notifyhub/internal/pkg/errors"
	"github.com/Wei-Shaw/notifyhub/internal/pkg/response"
	"github.com/Wei-Shaw/notifyhub/internal/server/middleware"
	"github.com/Wei-Shaw/notifyhub/internal/service"
)

// NotificationHandler is the ingress pipeline head: bind, validate, admit,
// enqueue.
type NotificationHandler struct {
	rateLimit *service.RateLimitService
	enqueue   *service.EnqueueService
}

func NewNotificationHandler(rateLimit *service.RateLimitService, enqueue *service.EnqueueService) *NotificationHandler {
	return &NotificationHandler{rateLimit: rateLimit, enqueue: enqueue}
}

// Send handles POST /api/notifications/:channel. The channel comes from the
// route parameter; unknown channels never reach here because routes are
// registered per channel.
func (h *NotificationHandler) Send(c *gin.Context) {
	channel, err := notification.ParseChannel(c.Param("channel"))
	if err != nil {
		response.Error(c, infraerrors.BadRequest("UNKNOWN_CHANNEL", err.Error()))
		return
	}

	var req notification.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "INVALID_BODY", "request body must be valid JSON", nil)
		return
	}
	if req.UserID == "" {
		response.BadRequest(c, "MISSING_USER_ID", "userId required for rate limiting", nil)
		return
	}
	if req.IdempotencyKey == "" {
		response.BadRequest(c, "MISSING_IDEMPOTENCY_KEY", "idempotencyKey is required", nil)
		return
	}
	if err := notification.ValidatePayload(channel, req.Payload); err != nil {
		var verr *notification.ValidationError
		if errors.As(err, &verr) {
			response.BadRequest(c, "VALIDATION_FAILED", "payload validation failed", verr.Fields)
			return
		}
		response.BadRequest(c, "VALIDATION_FAILED", err.Error(), nil)
		return
	}

	ctx := c.Request.Context()
	decision := h.rateLimit.Admit(ctx, req.UserID, channel.String(), middleware.RequestIDFrom(ctx))
	setRateLimitHeaders(c, decision)
	if !decision.Allowed {
		response.TooManyRequests(c, "rate limit exceeded", decision.RetryAfterSeconds)
		return
	}

	result, err := h.enqueue.Enqueue(ctx, channel, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Duplicate {
		response.Success(c, result.Response)
		return
	}
	response.Accepted(c, result.Response)
}

// setRateLimitHeaders emits the limiter headers on admitted and rejected
// responses alike.
func setRateLimitHeaders(c *gin.Context, d *service.RateLimitDecision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetUnixSeconds, 10))
}
