// Package api exposes the push stream, chat stream and message endpoints
// over gin.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fundwatch/internal/auth"
	apperrors "fundwatch/internal/errors"
	"fundwatch/internal/models"
	"fundwatch/internal/notify"
	"fundwatch/internal/resilience"
	"fundwatch/internal/security"
	"fundwatch/internal/store"
	"fundwatch/internal/stream"
)

const (
	messagesBasePath = "/api/messages"
	alertsBasePath   = "/api/alerts"
	chatBasePath     = "/api/chat"
	adminBasePath    = "/api/admin"

	claimsKey = "claims"
)

var (
	errMissingToken = errors.New("missing token")
	errBadAdminKey  = errors.New("invalid admin key")
)

// MessageEmitter creates and delivers notifications.
type MessageEmitter interface {
	Emit(ctx context.Context, msg notify.Message) (*models.Notification, error)
}

// Deps are the collaborators a Handler serves. Chat, Health and Audit may
// be nil.
type Deps struct {
	Rules         store.RuleStore
	Notifications store.NotificationStore
	Emitter       MessageEmitter
	Registry      *stream.Registry
	Verifier      *auth.Verifier
	AdminKey      string
	Chat          ChatFunc
	Health        *resilience.HealthMonitor
	Audit         *security.AuditLogger
}

// Handler routes HTTP requests.
type Handler struct {
	router *gin.Engine
	deps   Deps
	logger zerolog.Logger
}

// NewHandler builds the router over deps.
func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{
		router: router,
		deps:   deps,
		logger: logger.With().Str("component", "api").Logger(),
	}
	router.Use(h.requestLogger())
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/api/health", h.health)

	messages := h.router.Group(messagesBasePath)
	{
		// EventSource cannot send headers, so the stream takes its token
		// from the query string.
		messages.GET("/stream", h.pushStream)

		authed := messages.Group("", h.requireUser())
		authed.GET("", h.listMessages)
		authed.GET("/unread-count", h.unreadCount)
		authed.POST("/read-all", h.markAllRead)
		authed.POST("/:id/read", h.markRead)
		authed.DELETE("/:id", h.deleteMessage)
	}

	alerts := h.router.Group(alertsBasePath, h.requireUser())
	{
		alerts.GET("", h.listAlerts)
		alerts.GET("/:fundCode", h.getAlert)
		alerts.POST("", h.upsertAlert)
		alerts.PATCH("/:id/toggle", h.toggleAlert)
	}

	h.router.POST(chatBasePath+"/stream", h.requireUser(), h.chatStream)

	admin := h.router.Group(adminBasePath, h.requireAdmin())
	{
		admin.POST("/send-message", h.sendMessage)
	}
}

// requireUser verifies the bearer token and stores its claims.
func (h *Handler) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			writeError(c, http.StatusUnauthorized, errMissingToken)
			c.Abort()
			return
		}
		claims, err := h.deps.Verifier.Verify(token)
		if err != nil {
			h.auditAuthFailed(c, err)
			writeError(c, http.StatusUnauthorized, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.AdminKeyMatches(h.deps.AdminKey, c.GetHeader("X-Admin-Key")) {
			h.audit(h.deps.Audit.LogAdminRejected(c.Request.Context(), c.FullPath(), c.ClientIP()))
			writeError(c, http.StatusUnauthorized, errBadAdminKey)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := h.logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = h.logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

func (h *Handler) auditAuthFailed(c *gin.Context, reason error) {
	h.audit(h.deps.Audit.LogAuthFailed(c.Request.Context(), c.FullPath(), c.ClientIP(), reason.Error()))
}

// audit reports a failed audit write without failing the request.
func (h *Handler) audit(err error) {
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to write audit event")
	}
}

func userID(c *gin.Context) string {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims.UserID
		}
	}
	return ""
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var verr *apperrors.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, apperrors.ErrRuleInvalid):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrChatDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, err error) {
	if err == nil {
		status = http.StatusInternalServerError
		err = errors.New("unknown error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
