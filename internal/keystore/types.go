package keystore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("api key not found")
	ErrInvalidKey = errors.New("api key is empty")
)

// Record is the chat API key a user entered.
type Record struct {
	UserID    string    `json:"user_id"`
	Key       string    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists one API key per user.
type Store interface {
	Put(ctx context.Context, userID, key string) error
	Get(ctx context.Context, userID string) (Record, error)
	Delete(ctx context.Context, userID string) error
	Close() error
}

// Mask hides all but the last four characters of key.
func Mask(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	runes := []rune(key)
	if len(runes) <= 8 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:3]) + "..." + string(runes[len(runes)-4:])
}

func normalize(userID, key string) (string, string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", ErrInvalidKey
	}
	return strings.TrimSpace(userID), key, nil
}
