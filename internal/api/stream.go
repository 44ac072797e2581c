package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"fundwatch/internal/chat"
	apperrors "fundwatch/internal/errors"
	"fundwatch/internal/logging"
	"fundwatch/internal/models"
	"fundwatch/internal/security"
	"fundwatch/internal/stream"
)

// doneSentinel terminates a chat stream.
const doneSentinel = "[DONE]"

// TokenSource is a finite sequence of generated text.
type TokenSource interface {
	Next() (string, error)
	Close() error
}

// ChatFunc starts a generation. Cancelling ctx must stop it.
type ChatFunc func(ctx context.Context, messages []chat.Message) (TokenSource, error)

// ChatFromStreamer adapts a chat.Streamer.
func ChatFromStreamer(s *chat.Streamer) ChatFunc {
	return func(ctx context.Context, messages []chat.Message) (TokenSource, error) {
		tokens, err := s.Stream(ctx, messages)
		if err != nil {
			return nil, err
		}
		return tokens, nil
	}
}

type chatRequest struct {
	Messages []chat.Message `json:"messages"`
}

func startEventStream(c *gin.Context) {
	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

func writeFrame(w gin.ResponseWriter, frame []byte) bool {
	if _, err := w.Write(frame); err != nil {
		return false
	}
	w.Flush()
	return true
}

// pushStream holds a user's connection open and relays registry frames to
// it until the client leaves or the registry drops the connection.
func (h *Handler) pushStream(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		writeError(c, http.StatusUnauthorized, errMissingToken)
		return
	}
	claims, err := h.deps.Verifier.Verify(token)
	if err != nil {
		h.auditAuthFailed(c, err)
		writeError(c, http.StatusUnauthorized, apperrors.ErrUnauthorized)
		return
	}

	logger := logging.WithUser(h.logger, claims.UserID)
	conn := h.deps.Registry.Register(claims.UserID)
	defer h.deps.Registry.Unregister(conn)

	startEventStream(c)
	first, err := stream.EncodeEvent(models.ConnectedEvent{Type: models.EventConnected, UserID: claims.UserID})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode connected event")
		return
	}
	if !writeFrame(c.Writer, first) {
		return
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			logger.Debug().Str("connection", conn.ID).Msg("Connection dropped by registry")
			return
		case frame := <-conn.Frames():
			if !writeFrame(c.Writer, frame) {
				return
			}
		}
	}
}

// chatStream relays generated tokens as {content} frames followed by [DONE],
// or a single {error} frame when generation fails.
func (h *Handler) chatStream(c *gin.Context) {
	if h.deps.Chat == nil {
		writeError(c, http.StatusServiceUnavailable, apperrors.ErrChatDisabled)
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	tokens, err := h.deps.Chat(ctx, req.Messages)
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	defer tokens.Close()

	logger := logging.WithUser(h.logger, userID(c))
	startEventStream(c)
	for {
		tok, err := tokens.Next()
		if errors.Is(err, io.EOF) {
			frame, _ := stream.EncodeEvent(doneSentinel)
			writeFrame(c.Writer, frame)
			return
		}
		if err != nil {
			reason := security.MaskSensitive(err.Error())
			logger.Warn().Str("error", reason).Msg("Chat generation failed")
			frame, _ := stream.EncodeEvent(gin.H{"error": reason})
			writeFrame(c.Writer, frame)
			return
		}

		frame, err := stream.EncodeEvent(gin.H{"content": tok})
		if err != nil {
			return
		}
		if !writeFrame(c.Writer, frame) || ctx.Err() != nil {
			return
		}
	}
}
