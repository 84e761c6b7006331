package tutor

import (
	"context"
	"strings"
)

// MockBrain answers without a language model. It greets, then echoes the
// student's last message back with a follow-up question.
type MockBrain struct{}

func NewMockBrain() *MockBrain { return &MockBrain{} }

func (MockBrain) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return FallbackGreeting, nil
	}
	return "Très bien ! Vous avez dit : « " + last + " ». Pouvez-vous m'en dire un peu plus ?", nil
}
