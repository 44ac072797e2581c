// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"fundwatch/internal/models"
)

// RuleStore persists alert rules.
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]models.AlertRule, error)
	ListRules(ctx context.Context, ownerID string) ([]models.AlertRule, error)
	GetRule(ctx context.Context, ownerID, code string) (*models.AlertRule, error)
	UpsertRule(ctx context.Context, rule *models.AlertRule) error
	ToggleRule(ctx context.Context, id, ownerID string) (*models.AlertRule, error)
	MarkRuleTriggered(ctx context.Context, id string, at time.Time) error
}

// NotificationStore persists messages.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]models.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkNotificationRead(ctx context.Context, id, recipientID string) error
	MarkAllRead(ctx context.Context, recipientID string) (int, error)
	DeleteNotification(ctx context.Context, id, recipientID string) error
}

// DataStore defines the interface for data persistence.
type DataStore interface {
	RuleStore
	NotificationStore

	// Lifecycle
	Close() error
}

// NotificationFilter represents filters for listing messages. Broadcast
// messages are always included alongside the recipient's own.
type NotificationFilter struct {
	RecipientID string
	UnreadOnly  bool
	Limit       int
}
