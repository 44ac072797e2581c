package security

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundwatch/internal/config"
	"fundwatch/internal/models"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func decodeEvents(t *testing.T, raw string) []AuditEvent {
	t.Helper()
	var events []AuditEvent
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		var e AuditEvent
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		events = append(events, e)
	}
	return events
}

func TestAuditLoggerWritesJSONLines(t *testing.T) {
	buf := &bufferCloser{}
	al := NewAuditLoggerWithWriter(buf)
	fixed := time.Date(2024, 1, 9, 2, 0, 0, 0, time.UTC)
	al.now = func() time.Time { return fixed }
	ctx := context.Background()

	recipient := "u1"
	require.NoError(t, al.LogMessageSent(ctx, &models.Notification{
		ID: "m1", RecipientID: &recipient, Kind: models.KindSystem, Title: "Hi",
	}, "10.0.0.1"))
	require.NoError(t, al.LogRuleToggled(ctx, &models.AlertRule{ID: "r1", OwnerID: "u1", InstrumentCode: "000001"}))
	require.NoError(t, al.LogAuthFailed(ctx, "/api/messages", "10.0.0.2", "token signed with secret=hunter2hunter2"))

	events := decodeEvents(t, buf.String())
	require.Len(t, events, 3)

	assert.Equal(t, AuditMessageSent, events[0].EventType)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, false, events[0].Details["broadcast"])
	assert.True(t, events[0].Timestamp.Equal(fixed))

	assert.Equal(t, AuditRuleToggled, events[1].EventType)
	assert.Equal(t, "disable", events[1].Action)

	assert.Equal(t, AuditAuthFailed, events[2].EventType)
	assert.False(t, events[2].Success)
	assert.NotContains(t, events[2].ErrorMsg, "hunter2hunter2")

	require.NoError(t, al.Close())
	assert.True(t, buf.closed)
}

func TestNilAuditLoggerDiscards(t *testing.T) {
	al, err := NewAuditLogger(config.AuditConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, al)
	assert.NoError(t, al.LogAdminRejected(context.Background(), "/api/admin/send-message", "::1"))
	assert.NoError(t, al.Close())
}

func TestMaskCredential(t *testing.T) {
	assert.Equal(t, "", MaskCredential(""))
	assert.Equal(t, "***", MaskCredential("abc"))
	assert.Equal(t, "ab****", MaskCredential("abcdef"))
	assert.Equal(t, "sk-a****wxyz", MaskCredential("sk-abcdewxyz"))
}

func TestMaskSensitive(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		secret string
	}{
		{"api key pair", "request failed: api_key=abcdef1234567890", "abcdef1234567890"},
		{"bearer header", "upstream said Bearer abcdefghijkl rejected", "abcdefghijkl"},
		{"openai key", "invalid key sk-ABCDEFGHIJKLMNOPQRSTUVWX", "sk-ABCDEFGHIJKLMNOPQRSTUVWX"},
		{"jwt", "bad token eyJhbGciOi.eyJ1c2VySWQi.c2lnbmF0dXJl", "eyJhbGciOi.eyJ1c2VySWQi.c2lnbmF0dXJl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaskSensitive(tt.input)
			assert.NotContains(t, got, tt.secret)
			assert.Contains(t, got, "*")
		})
	}

	assert.Equal(t, "nothing to hide", MaskSensitive("nothing to hide"))
}
