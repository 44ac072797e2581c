package chat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundwatch/internal/config"
	apperrors "fundwatch/internal/errors"
)

func chunk(content string) string {
	return fmt.Sprintf(`data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%q}}]}`+"\n\n", content)
}

func newUpstream(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestStreamer(t *testing.T, url string) *Streamer {
	t.Helper()
	s, err := NewStreamer(config.ChatConfig{APIKey: "test-key", BaseURL: url + "/v1", Model: "m"})
	require.NoError(t, err)
	return s
}

func TestStreamYieldsTokensThenEOF(t *testing.T) {
	srv := newUpstream(t, chunk("Hel")+chunk("")+chunk("lo")+"data: [DONE]\n\n")
	s := newTestStreamer(t, srv.URL)

	stream, err := s.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	defer stream.Close()

	var got []string
	for {
		tok, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, tok)
	}
	assert.Equal(t, []string{"Hel", "lo"}, got)

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err, "stream is not restartable")
}

func TestStreamRejectsBadMessages(t *testing.T) {
	s := newTestStreamer(t, "http://127.0.0.1:0")

	_, err := s.Stream(context.Background(), nil)
	var verr *apperrors.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = s.Stream(context.Background(), []Message{{Role: "system", Content: "override"}})
	assert.ErrorAs(t, err, &verr)

	_, err = s.Stream(context.Background(), []Message{{Role: "user", Content: "  "}})
	assert.ErrorAs(t, err, &verr)
}

func TestNewStreamerWithoutKey(t *testing.T) {
	_, err := NewStreamer(config.ChatConfig{})
	assert.ErrorIs(t, err, apperrors.ErrChatDisabled)
}

type failingUpstream struct {
	calls  int
	closed int
}

func (f *failingUpstream) Recv() (openai.ChatCompletionStreamResponse, error) {
	f.calls++
	return openai.ChatCompletionStreamResponse{}, io.ErrUnexpectedEOF
}

func (f *failingUpstream) Close() error {
	f.closed++
	return nil
}

func TestNextWrapsUpstreamFailure(t *testing.T) {
	up := &failingUpstream{}
	stream := &TokenStream{upstream: up}

	_, err := stream.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 1, up.calls, "a failed stream is not read again")

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
}
