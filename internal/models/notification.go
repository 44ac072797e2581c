package models

import "time"

// NotificationKind classifies a message.
type NotificationKind string

const (
	KindRise   NotificationKind = "rise"
	KindFall   NotificationKind = "fall"
	KindSystem NotificationKind = "system"
)

// Notification is a persisted message. A nil RecipientID marks a broadcast.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID *string          `json:"userId"`
	Kind        NotificationKind `json:"type"`
	Title       string           `json:"title"`
	Body        string           `json:"content"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// IsBroadcast reports whether the notification targets every user.
func (n *Notification) IsBroadcast() bool {
	return n.RecipientID == nil || *n.RecipientID == ""
}

// Push event types sent over the stream.
const (
	EventConnected  = "connected"
	EventNewMessage = "new_message"
)

// ConnectedEvent is the first frame written on a push stream.
type ConnectedEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// MessageEvent carries a freshly created notification.
type MessageEvent struct {
	Type    string        `json:"type"`
	Message *Notification `json:"message"`
}

// NewMessageEvent wraps n in a new_message envelope.
func NewMessageEvent(n *Notification) MessageEvent {
	return MessageEvent{Type: EventNewMessage, Message: n}
}
