package tutor

import (
	"context"
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrNotConfigured     = errors.New("tutor brain not configured: no API key")
	ErrDuplicateMessage  = errors.New("duplicate student message")
	ErrEmptyReply        = errors.New("tutor brain returned an empty reply")
	ErrConversationReset = errors.New("conversation was reset")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one chat completion call.
type Request struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Messages    []Message
}

// Brain produces the tutor's next reply for a conversation.
type Brain interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// StatusError is a non-2xx answer from the chat API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat api status %d: %s", e.StatusCode, e.Body)
}

// AutoBrain uses the chat API when a key is available and the mock otherwise.
type AutoBrain struct {
	api  Brain
	mock Brain
}

func NewAutoBrain(api Brain) *AutoBrain {
	return &AutoBrain{api: api, mock: NewMockBrain()}
}

func (b *AutoBrain) Complete(ctx context.Context, req Request) (string, error) {
	if req.APIKey == "" {
		return b.mock.Complete(ctx, req)
	}
	return b.api.Complete(ctx, req)
}

// NewBrain builds the brain for mode: openai, mock or auto.
func NewBrain(mode, baseURL string) (Brain, error) {
	switch mode {
	case "", "auto":
		return NewAutoBrain(NewOpenAIClient(baseURL)), nil
	case "openai":
		return NewOpenAIClient(baseURL), nil
	case "mock":
		return NewMockBrain(), nil
	default:
		return nil, fmt.Errorf("unsupported tutor brain %q", mode)
	}
}

// errorCode labels an error for metrics and client error events.
func errorCode(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &se):
		return fmt.Sprintf("status_%d", se.StatusCode)
	case errors.Is(err, ErrEmptyReply):
		return "empty_reply"
	default:
		return "transport"
	}
}
