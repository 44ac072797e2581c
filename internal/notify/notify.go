// Package notify persists notifications and hands them to live push delivery.
package notify

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	apperrors "fundwatch/internal/errors"
	"fundwatch/internal/logging"
	"fundwatch/internal/models"
	"fundwatch/internal/store"
)

// Pusher delivers an event to live connections and reports how many
// deliveries were made.
type Pusher interface {
	SendToUser(userID string, event any) int
	Broadcast(event any) int
}

// Message is a notification to be created. An empty RecipientID broadcasts.
type Message struct {
	RecipientID string
	Title       string
	Body        string
	Kind        models.NotificationKind
}

// Emitter persists messages and pushes them as new_message events.
type Emitter struct {
	store  store.NotificationStore
	pusher Pusher
	logger zerolog.Logger
}

// NewEmitter creates an Emitter. A nil pusher persists without delivering.
func NewEmitter(notifications store.NotificationStore, pusher Pusher, logger zerolog.Logger) *Emitter {
	return &Emitter{
		store:  notifications,
		pusher: pusher,
		logger: logging.WithComponent(logger, "emitter"),
	}
}

// Emit stores msg and delivers it. Only the store write can fail the call;
// delivery is best effort and a recipient with no open connection simply
// finds the message in their list later.
func (e *Emitter) Emit(ctx context.Context, msg Message) (*models.Notification, error) {
	if strings.TrimSpace(msg.Title) == "" {
		return nil, apperrors.NewValidationError("title", msg.Title, "required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return nil, apperrors.NewValidationError("content", msg.Body, "required")
	}

	n := &models.Notification{
		Kind:  msg.Kind,
		Title: msg.Title,
		Body:  msg.Body,
	}
	if msg.RecipientID != "" {
		recipient := msg.RecipientID
		n.RecipientID = &recipient
	}

	if err := e.store.CreateNotification(ctx, n); err != nil {
		return nil, err
	}

	if e.pusher == nil {
		return n, nil
	}

	event := models.NewMessageEvent(n)
	var delivered int
	if n.IsBroadcast() {
		delivered = e.pusher.Broadcast(event)
	} else {
		delivered = e.pusher.SendToUser(*n.RecipientID, event)
	}

	e.logger.Debug().
		Str("message_id", n.ID).
		Str("recipient", msg.RecipientID).
		Int("delivered", delivered).
		Msg("Notification emitted")

	return n, nil
}

// MultiPusher delivers to several pushers and sums their counts.
type MultiPusher []Pusher

// SendToUser implements Pusher.
func (m MultiPusher) SendToUser(userID string, event any) int {
	total := 0
	for _, p := range m {
		if p != nil {
			total += p.SendToUser(userID, event)
		}
	}
	return total
}

// Broadcast implements Pusher.
func (m MultiPusher) Broadcast(event any) int {
	total := 0
	for _, p := range m {
		if p != nil {
			total += p.Broadcast(event)
		}
	}
	return total
}
