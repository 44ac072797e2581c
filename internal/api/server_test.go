package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundwatch/internal/auth"
	"fundwatch/internal/chat"
	"fundwatch/internal/models"
	"fundwatch/internal/notify"
	"fundwatch/internal/resilience"
	"fundwatch/internal/security"
	"fundwatch/internal/store"
	"fundwatch/internal/stream"
)

const (
	testSecret   = "test-secret"
	testAdminKey = "admin-key"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	handler  *Handler
	store    *store.SQLiteStore
	registry *stream.Registry
	emitter  *notify.Emitter
	verifier *auth.Verifier
	audit    *auditBuffer
}

type auditBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *auditBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *auditBuffer) Close() error { return nil }

func (b *auditBuffer) events(t *testing.T) []security.AuditEvent {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var events []security.AuditEvent
	dec := json.NewDecoder(bytes.NewReader(b.buf.Bytes()))
	for dec.More() {
		var e security.AuditEvent
		require.NoError(t, dec.Decode(&e))
		events = append(events, e)
	}
	return events
}

func newFixture(t *testing.T, chatFn ChatFunc) *fixture {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zerolog.Nop()
	registry := stream.NewRegistry(stream.DefaultRegistryConfig(), logger)
	t.Cleanup(registry.Close)
	emitter := notify.NewEmitter(db, registry, logger)
	verifier := auth.NewVerifier(testSecret)

	health := resilience.NewHealthMonitor(time.Second)
	health.RegisterComponent("database", resilience.DatabaseHealthCheck(db.Ping))
	audit := &auditBuffer{}

	h := NewHandler(Deps{
		Rules:         db,
		Notifications: db,
		Emitter:       emitter,
		Registry:      registry,
		Verifier:      verifier,
		AdminKey:      testAdminKey,
		Chat:          chatFn,
		Health:        health,
		Audit:         security.NewAuditLoggerWithWriter(audit),
	}, logger)

	return &fixture{handler: h, store: db, registry: registry, emitter: emitter, verifier: verifier, audit: audit}
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.verifier.Issue(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var frame strings.Builder
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" {
			return frame.String()
		}
		frame.WriteString(line)
	}
}

func TestPushStreamRejectsMissingOrBadToken(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/messages/stream", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)

	rec = f.do(t, http.MethodGet, "/api/messages/stream?token=garbage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, f.registry.ConnectionCount())
}

func TestPushStreamDeliversAdminMessage(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/messages/stream?token="+f.token(t, "u1"), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, "data:{\"type\":\"connected\",\"userId\":\"u1\"}\n", readFrame(t, reader))
	assert.Equal(t, 1, f.registry.UserConnectionCount("u1"))

	send := f.do(t, http.MethodPost, "/api/admin/send-message", "", nil)
	assert.Equal(t, http.StatusUnauthorized, send.Code)

	body, _ := json.Marshal(sendMessagePayload{Title: "Hi", Content: "hello", UserID: "u1"})
	adminReq := httptest.NewRequest(http.MethodPost, "/api/admin/send-message", bytes.NewReader(body))
	adminReq.Header.Set("X-Admin-Key", testAdminKey)
	adminReq.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, adminReq)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	frame := readFrame(t, reader)
	require.True(t, strings.HasPrefix(frame, "data:"), frame)
	var event models.MessageEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data:")), &event))
	assert.Equal(t, models.EventNewMessage, event.Type)
	assert.Equal(t, "Hi", event.Message.Title)
	assert.Equal(t, models.KindSystem, event.Message.Kind)

	cancel()
	assert.Eventually(t, func() bool { return f.registry.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSendMessageValidates(t *testing.T) {
	f := newFixture(t, nil)

	body, _ := json.Marshal(sendMessagePayload{Content: "no title"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/send-message", bytes.NewReader(body))
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/messages", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/send-message", strings.NewReader(`{}`))
	req.Header.Set("X-Admin-Key", "wrong")
	f.handler.ServeHTTP(httptest.NewRecorder(), req)

	enabled := true
	rec = f.do(t, http.MethodPost, "/api/alerts", f.token(t, "u1"), alertPayload{FundCode: "000001", RiseThreshold: models.Float(5), Enabled: &enabled})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body, _ := json.Marshal(sendMessagePayload{Title: "Maintenance", Content: "tonight"})
	req = httptest.NewRequest(http.MethodPost, "/api/admin/send-message", bytes.NewReader(body))
	req.Header.Set("X-Admin-Key", testAdminKey)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	events := f.audit.events(t)
	require.Len(t, events, 4)
	assert.Equal(t, security.AuditAuthFailed, events[0].EventType)
	assert.Equal(t, "/api/messages", events[0].Action)
	assert.Equal(t, security.AuditAdminRejected, events[1].EventType)
	assert.Equal(t, security.AuditRuleSaved, events[2].EventType)
	assert.Equal(t, "000001", events[2].FundCode)
	assert.Equal(t, security.AuditMessageSent, events[3].EventType)
	assert.Equal(t, true, events[3].Details["broadcast"])
}

func TestMessagesListCountAndRead(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	token := f.token(t, "u1")

	own, err := f.emitter.Emit(ctx, notify.Message{RecipientID: "u1", Title: "own", Body: "b", Kind: models.KindRise})
	require.NoError(t, err)
	_, err = f.emitter.Emit(ctx, notify.Message{Title: "all", Body: "b"})
	require.NoError(t, err)
	_, err = f.emitter.Emit(ctx, notify.Message{RecipientID: "u2", Title: "other", Body: "b"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = f.do(t, http.MethodGet, "/api/messages/unread-count", token, nil)
	assert.JSONEq(t, `{"count":2}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/messages/"+own.ID+"/read", token, nil)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/messages?unreadOnly=true&limit=10", token, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "all", list[0].Title)

	rec = f.do(t, http.MethodPost, "/api/messages/missing/read", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/messages/read-all", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true,"count":1}`, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/api/messages/"+own.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/messages", token, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "all", list[0].Title)
}

func TestMessagesCannotTouchAnotherUsersMessage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := f.token(t, "u1")
	other := f.token(t, "u2")

	msg, err := f.emitter.Emit(ctx, notify.Message{RecipientID: "u1", Title: "own", Body: "b", Kind: models.KindRise})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/messages/"+msg.ID+"/read", other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/messages/"+msg.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/messages/read-all", other, nil)
	assert.JSONEq(t, `{"success":true,"count":0}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/messages/unread-count", owner, nil)
	assert.JSONEq(t, `{"count":1}`, rec.Body.String())
}

func TestAlertsUpsertListToggle(t *testing.T) {
	f := newFixture(t, nil)
	token := f.token(t, "u1")

	rec := f.do(t, http.MethodPost, "/api/alerts", token, alertPayload{FundCode: "000001", FundName: "Growth"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a rule needs a threshold")

	rec = f.do(t, http.MethodPost, "/api/alerts", token, alertPayload{
		FundCode: "000001", FundName: "Growth", RiseThreshold: models.Float(5),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rule models.AlertRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rule))
	assert.True(t, rule.Enabled)
	assert.Equal(t, "u1", rule.OwnerID)

	rec = f.do(t, http.MethodGet, "/api/alerts/000001", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched models.AlertRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, rule.ID, fetched.ID)
	rec = f.do(t, http.MethodGet, "/api/alerts/000001", f.token(t, "u2"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/alerts", token, nil)
	var rules []models.AlertRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	assert.Len(t, rules, 1)

	rec = f.do(t, http.MethodPatch, "/api/alerts/"+rule.ID+"/toggle", f.token(t, "u2"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/alerts/"+rule.ID+"/toggle", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rule))
	assert.False(t, rule.Enabled)
}

type fakeTokens struct {
	tokens []string
	err    error
	closed bool
}

func (f *fakeTokens) Next() (string, error) {
	if len(f.tokens) == 0 {
		if f.err != nil {
			return "", f.err
		}
		return "", io.EOF
	}
	tok := f.tokens[0]
	f.tokens = f.tokens[1:]
	return tok, nil
}

func (f *fakeTokens) Close() error {
	f.closed = true
	return nil
}

func TestChatStreamFrames(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"Hel", "lo"}}
	f := newFixture(t, func(ctx context.Context, messages []chat.Message) (TokenSource, error) {
		return tokens, nil
	})

	rec := f.do(t, http.MethodPost, "/api/chat/stream", f.token(t, "u1"), chatRequest{
		Messages: []chat.Message{{Role: "user", Content: "hi"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data:{\"content\":\"Hel\"}\n\ndata:{\"content\":\"lo\"}\n\ndata:[DONE]\n\n", rec.Body.String())
	assert.True(t, tokens.closed)
}

func TestChatStreamUpstreamFailure(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, messages []chat.Message) (TokenSource, error) {
		return &fakeTokens{tokens: []string{"par"}, err: errors.New("upstream reset")}, nil
	})

	rec := f.do(t, http.MethodPost, "/api/chat/stream", f.token(t, "u1"), chatRequest{})
	assert.Equal(t, "data:{\"content\":\"par\"}\n\ndata:{\"error\":\"upstream reset\"}\n\n", rec.Body.String())
}

func TestChatStreamDisabled(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/chat/stream", f.token(t, "u1"), chatRequest{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chat/stream", "", chatRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report resilience.SystemHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.NotEqual(t, resilience.HealthStatusUnhealthy, report.Status)
	require.Len(t, report.Components, 1)
	assert.Equal(t, "database", report.Components[0].Name)
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, defaultMessageLimit, parseLimit(""))
	assert.Equal(t, defaultMessageLimit, parseLimit("-3"))
	assert.Equal(t, 10, parseLimit("10"))
	assert.Equal(t, maxMessageLimit, parseLimit("100000"))
}
