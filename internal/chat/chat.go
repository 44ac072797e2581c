// Package chat streams chat completions from an OpenAI-compatible upstream.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"fundwatch/internal/config"
	apperrors "fundwatch/internal/errors"
)

const systemPrompt = "You are a helpful assistant for retail fund investors. " +
	"Answer concisely and do not give personalised investment advice."

// maxMessages bounds how much history a client may send.
const maxMessages = 50

// Message is one turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Streamer opens streaming completions.
type Streamer struct {
	client *openai.Client
	model  string
}

// NewStreamer creates a Streamer. It returns ErrChatDisabled when no API key
// is configured.
func NewStreamer(cfg config.ChatConfig) (*Streamer, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.ErrChatDisabled
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Streamer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Stream starts a completion for messages. The returned stream must be
// closed; cancelling ctx also stops it.
func (s *Streamer) Stream(ctx context.Context, messages []Message) (*TokenStream, error) {
	req, err := s.request(messages)
	if err != nil {
		return nil, err
	}

	upstream, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai stream failed: %w", err)
	}
	return &TokenStream{upstream: upstream}, nil
}

func (s *Streamer) request(messages []Message) (openai.ChatCompletionRequest, error) {
	if len(messages) == 0 {
		return openai.ChatCompletionRequest{}, apperrors.NewValidationError("messages", 0, "at least one message is required")
	}
	if len(messages) > maxMessages {
		messages = messages[len(messages)-maxMessages:]
	}

	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for i, m := range messages {
		switch m.Role {
		case openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant:
		default:
			return openai.ChatCompletionRequest{}, apperrors.NewValidationError(fmt.Sprintf("messages[%d].role", i), m.Role, "must be user or assistant")
		}
		if strings.TrimSpace(m.Content) == "" {
			return openai.ChatCompletionRequest{}, apperrors.NewValidationError(fmt.Sprintf("messages[%d].content", i), m.Content, "required")
		}
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	return openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: out,
		Stream:   true,
	}, nil
}

// upstream is the part of *openai.ChatCompletionStream a TokenStream reads.
type upstream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// TokenStream yields the generated text piece by piece. It is finite and
// cannot be restarted.
type TokenStream struct {
	upstream upstream
	done     bool
}

// Next returns the next non-empty chunk, or io.EOF once generation ends.
func (t *TokenStream) Next() (string, error) {
	if t.done {
		return "", io.EOF
	}
	for {
		resp, err := t.upstream.Recv()
		if errors.Is(err, io.EOF) {
			t.done = true
			return "", io.EOF
		}
		if err != nil {
			t.done = true
			return "", fmt.Errorf("openai stream failed: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

// Close releases the upstream call. It is safe to call more than once.
func (t *TokenStream) Close() error {
	t.done = true
	return t.upstream.Close()
}
