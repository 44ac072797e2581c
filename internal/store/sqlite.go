// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	apperrors "fundwatch/internal/errors"
	"fundwatch/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:  db,
		now: time.Now,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One alert rule per user and fund
	CREATE TABLE IF NOT EXISTS alert_rules (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		fund_code TEXT NOT NULL,
		fund_name TEXT NOT NULL DEFAULT '',
		rise_threshold REAL,
		fall_threshold REAL,
		target_nav_high REAL,
		target_nav_low REAL,
		enabled INTEGER NOT NULL DEFAULT 1,
		last_triggered DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(user_id, fund_code)
	);

	-- Messages; a NULL user_id is a broadcast
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		read INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alert_rules_enabled ON alert_rules(enabled);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ============================================================================
// Alert Rule Methods
// ============================================================================

const ruleColumns = `id, user_id, fund_code, fund_name, rise_threshold, fall_threshold,
	target_nav_high, target_nav_low, enabled, last_triggered, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (models.AlertRule, error) {
	var (
		r                     models.AlertRule
		rise, fall, high, low sql.NullFloat64
		enabled               int
		lastTriggered         sql.NullTime
	)
	err := row.Scan(&r.ID, &r.OwnerID, &r.InstrumentCode, &r.InstrumentName,
		&rise, &fall, &high, &low, &enabled, &lastTriggered, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	r.RiseThreshold = nullFloat(rise)
	r.FallThreshold = nullFloat(fall)
	r.TargetHigh = nullFloat(high)
	r.TargetLow = nullFloat(low)
	r.Enabled = enabled == 1
	if lastTriggered.Valid {
		t := lastTriggered.Time
		r.LastTriggered = &t
	}
	return r, nil
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// thresholdArg stores unset and zero thresholds as NULL.
func thresholdArg(p *float64) interface{} {
	if v, ok := models.Threshold(p); ok {
		return v
	}
	return nil
}

func (s *SQLiteStore) queryRules(ctx context.Context, op, query string, args ...interface{}) ([]models.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStoreError(op, err)
	}
	defer rows.Close()

	var rules []models.AlertRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, apperrors.NewStoreError(op, fmt.Errorf("failed to scan rule: %w", err))
		}
		rules = append(rules, r)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError(op, err)
	}
	return rules, nil
}

// ListEnabledRules returns every enabled rule.
func (s *SQLiteStore) ListEnabledRules(ctx context.Context) ([]models.AlertRule, error) {
	return s.queryRules(ctx, "list enabled rules",
		`SELECT `+ruleColumns+` FROM alert_rules WHERE enabled = 1 ORDER BY created_at ASC`)
}

// ListRules returns a user's rules, newest first.
func (s *SQLiteStore) ListRules(ctx context.Context, ownerID string) ([]models.AlertRule, error) {
	return s.queryRules(ctx, "list rules",
		`SELECT `+ruleColumns+` FROM alert_rules WHERE user_id = ? ORDER BY created_at DESC`, ownerID)
}

// GetRule returns the rule for (ownerID, code).
func (s *SQLiteStore) GetRule(ctx context.Context, ownerID, code string) (*models.AlertRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE user_id = ? AND fund_code = ?`, ownerID, code)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewStoreError("get rule", err)
	}
	return &r, nil
}

// UpsertRule creates or replaces the rule keyed by (OwnerID, InstrumentCode).
// Updating a rule clears its last trigger time. On success rule is refreshed
// from the stored row.
func (s *SQLiteStore) UpsertRule(ctx context.Context, rule *models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	now := s.now().UTC()
	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (id, user_id, fund_code, fund_name, rise_threshold, fall_threshold,
			target_nav_high, target_nav_low, enabled, last_triggered, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(user_id, fund_code) DO UPDATE SET
			fund_name = excluded.fund_name,
			rise_threshold = excluded.rise_threshold,
			fall_threshold = excluded.fall_threshold,
			target_nav_high = excluded.target_nav_high,
			target_nav_low = excluded.target_nav_low,
			enabled = excluded.enabled,
			last_triggered = NULL,
			updated_at = excluded.updated_at
	`, uuid.NewString(), rule.OwnerID, rule.InstrumentCode, rule.InstrumentName,
		thresholdArg(rule.RiseThreshold), thresholdArg(rule.FallThreshold),
		thresholdArg(rule.TargetHigh), thresholdArg(rule.TargetLow),
		enabled, now, now)
	if err != nil {
		return apperrors.NewStoreError("upsert rule", err)
	}

	stored, err := s.GetRule(ctx, rule.OwnerID, rule.InstrumentCode)
	if err != nil {
		return err
	}
	*rule = *stored
	return nil
}

// ToggleRule flips the enabled flag of a rule owned by ownerID.
func (s *SQLiteStore) ToggleRule(ctx context.Context, id, ownerID string) (*models.AlertRule, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alert_rules SET enabled = 1 - enabled, updated_at = ? WHERE id = ? AND user_id = ?
	`, s.now().UTC(), id, ownerID)
	if err != nil {
		return nil, apperrors.NewStoreError("toggle rule", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, apperrors.ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err != nil {
		return nil, apperrors.NewStoreError("toggle rule", err)
	}
	return &r, nil
}

// MarkRuleTriggered records the time a rule last fired.
func (s *SQLiteStore) MarkRuleTriggered(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alert_rules SET last_triggered = ? WHERE id = ?
	`, at.UTC(), id)
	if err != nil {
		return apperrors.NewStoreError("mark rule triggered", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.Wrapf(apperrors.ErrNotFound, "rule %s", id)
	}
	return nil
}

// ============================================================================
// Notification Methods
// ============================================================================

// CreateNotification stores n, assigning an ID and creation time when unset.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if n.Kind == "" {
		n.Kind = models.KindSystem
	}

	var recipient interface{}
	if !n.IsBroadcast() {
		recipient = *n.RecipientID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, user_id, type, title, content, read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, n.ID, recipient, string(n.Kind), n.Title, n.Body, n.CreatedAt)
	if err != nil {
		return apperrors.NewStoreError("create notification", err)
	}
	n.Read = false
	return nil
}

// ListNotifications returns a recipient's messages plus broadcasts, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, filter NotificationFilter) ([]models.Notification, error) {
	query := "SELECT id, user_id, type, title, content, read, created_at FROM messages WHERE (user_id = ? OR user_id IS NULL)"
	args := []interface{}{filter.RecipientID}

	if filter.UnreadOnly {
		query += " AND read = 0"
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStoreError("list notifications", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var (
			n         models.Notification
			recipient sql.NullString
			kind      string
			read      int
		)
		if err := rows.Scan(&n.ID, &recipient, &kind, &n.Title, &n.Body, &read, &n.CreatedAt); err != nil {
			return nil, apperrors.NewStoreError("list notifications", fmt.Errorf("failed to scan message: %w", err))
		}
		if recipient.Valid {
			id := recipient.String
			n.RecipientID = &id
		}
		n.Kind = models.NotificationKind(kind)
		n.Read = read == 1
		out = append(out, n)
	}

	return out, rows.Err()
}

// CountUnread counts unread messages visible to recipientID.
func (s *SQLiteStore) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE (user_id = ? OR user_id IS NULL) AND read = 0
	`, recipientID).Scan(&count)
	if err != nil {
		return 0, apperrors.NewStoreError("count unread", err)
	}
	return count, nil
}

// MarkNotificationRead sets the read flag on a message visible to
// recipientID. A broadcast has one flag shared by every user.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id, recipientID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read = 1 WHERE id = ? AND (user_id = ? OR user_id IS NULL)
	`, id, recipientID)
	if err != nil {
		return apperrors.NewStoreError("mark notification read", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// MarkAllRead marks every unread message visible to recipientID, broadcasts
// included, and returns how many changed.
func (s *SQLiteStore) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read = 1 WHERE (user_id = ? OR user_id IS NULL) AND read = 0
	`, recipientID)
	if err != nil {
		return 0, apperrors.NewStoreError("mark all read", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// DeleteNotification removes a message addressed to recipientID.
// Broadcasts are shared and cannot be deleted by a recipient.
func (s *SQLiteStore) DeleteNotification(ctx context.Context, id, recipientID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ? AND user_id = ?`, id, recipientID)
	if err != nil {
		return apperrors.NewStoreError("delete notification", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
