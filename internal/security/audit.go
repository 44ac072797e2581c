// Package security provides the audit trail and credential masking.
package security

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"fundwatch/internal/config"
	"fundwatch/internal/models"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	// Access events
	AuditAuthFailed    AuditEventType = "AUTH_FAILED"
	AuditAdminRejected AuditEventType = "ADMIN_REJECTED"

	// Message events
	AuditMessageSent AuditEventType = "MESSAGE_SENT"

	// Rule events
	AuditRuleSaved   AuditEventType = "RULE_SAVED"
	AuditRuleToggled AuditEventType = "RULE_TOGGLED"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType AuditEventType         `json:"event_type"`
	UserID    string                 `json:"user_id,omitempty"`
	FundCode  string                 `json:"fund_code,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
}

// AuditLogger appends JSON lines to a rotating audit file. A nil
// *AuditLogger discards every event.
type AuditLogger struct {
	writer io.WriteCloser
	mu     sync.Mutex
	now    func() time.Time
}

// NewAuditLogger creates an audit logger, or returns nil when auditing is
// disabled.
func NewAuditLogger(cfg config.AuditConfig) (*AuditLogger, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	// Audit files are readable by the owner only.
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	return NewAuditLoggerWithWriter(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}), nil
}

// NewAuditLoggerWithWriter creates an audit logger over w.
func NewAuditLoggerWithWriter(w io.WriteCloser) *AuditLogger {
	return &AuditLogger{writer: w, now: time.Now}
}

// Log logs an audit event.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	event.Timestamp = al.now().UTC()
	event.ErrorMsg = MaskSensitive(event.ErrorMsg)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}
	if _, err := al.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// LogAuthFailed records a rejected user token.
func (al *AuditLogger) LogAuthFailed(ctx context.Context, path, ip, reason string) error {
	return al.Log(ctx, AuditEvent{
		EventType: AuditAuthFailed,
		Action:    path,
		IPAddress: ip,
		ErrorMsg:  reason,
	})
}

// LogAdminRejected records a request with a wrong admin key.
func (al *AuditLogger) LogAdminRejected(ctx context.Context, path, ip string) error {
	return al.Log(ctx, AuditEvent{
		EventType: AuditAdminRejected,
		Action:    path,
		IPAddress: ip,
	})
}

// LogMessageSent records an operator message. An empty recipient is a
// broadcast.
func (al *AuditLogger) LogMessageSent(ctx context.Context, n *models.Notification, ip string) error {
	event := AuditEvent{
		EventType: AuditMessageSent,
		Action:    string(n.Kind),
		IPAddress: ip,
		Success:   true,
		Details: map[string]interface{}{
			"message_id": n.ID,
			"title":      n.Title,
			"broadcast":  n.IsBroadcast(),
		},
	}
	if !n.IsBroadcast() {
		event.UserID = *n.RecipientID
	}
	return al.Log(ctx, event)
}

// LogRuleSaved records a rule upsert.
func (al *AuditLogger) LogRuleSaved(ctx context.Context, rule *models.AlertRule) error {
	return al.Log(ctx, AuditEvent{
		EventType: AuditRuleSaved,
		UserID:    rule.OwnerID,
		FundCode:  rule.InstrumentCode,
		Success:   true,
		Details: map[string]interface{}{
			"rule_id": rule.ID,
			"enabled": rule.Enabled,
		},
	})
}

// LogRuleToggled records a rule being switched on or off.
func (al *AuditLogger) LogRuleToggled(ctx context.Context, rule *models.AlertRule) error {
	action := "disable"
	if rule.Enabled {
		action = "enable"
	}
	return al.Log(ctx, AuditEvent{
		EventType: AuditRuleToggled,
		UserID:    rule.OwnerID,
		FundCode:  rule.InstrumentCode,
		Action:    action,
		Success:   true,
		Details:   map[string]interface{}{"rule_id": rule.ID},
	})
}

// Close closes the audit logger.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	return al.writer.Close()
}
