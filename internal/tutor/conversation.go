package tutor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/frenchtutor/internal/logging"
	"github.com/ent0n29/frenchtutor/internal/observability"
)

// KeyFunc returns the API key to use for the next brain call.
type KeyFunc func(ctx context.Context) (string, error)

type ConversationConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Key         KeyFunc
	Logger      zerolog.Logger
	Metrics     *observability.Metrics
}

// Conversation is the chat history of one tutoring session. It is never
// persisted; Reset or the end of the session discards it.
type Conversation struct {
	brain   Brain
	model   string
	temp    float64
	tokens  int
	key     KeyFunc
	log     zerolog.Logger
	metrics *observability.Metrics

	// turn serializes brain calls; mu guards history and epoch.
	turn    sync.Mutex
	mu      sync.Mutex
	history []Message
	epoch   uint64
}

func NewConversation(brain Brain, cfg ConversationConfig) *Conversation {
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}
	return &Conversation{
		brain:   brain,
		model:   cfg.Model,
		temp:    cfg.Temperature,
		tokens:  cfg.MaxTokens,
		key:     cfg.Key,
		log:     logging.WithComponent(cfg.Logger, "conversation"),
		metrics: cfg.Metrics,
	}
}

// Start resets the history to the tutor prompt and asks for the opening greeting.
func (c *Conversation) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	c.epoch++
	c.history = []Message{{Role: RoleSystem, Content: SystemPrompt}}
	c.mu.Unlock()
	return c.Reply(ctx)
}

// Add appends a student message. The same text again before the tutor has
// answered is rejected with ErrDuplicateMessage.
func (c *Conversation) Add(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrDuplicateMessage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		c.history = []Message{{Role: RoleSystem, Content: SystemPrompt}}
	}
	if last := c.history[len(c.history)-1]; last.Role == RoleUser && last.Content == text {
		c.log.Debug().Msg("duplicate message detected, not sending")
		return ErrDuplicateMessage
	}
	c.history = append(c.history, Message{Role: RoleUser, Content: text})
	return nil
}

// Send is Add followed by Reply.
func (c *Conversation) Send(ctx context.Context, text string) (string, error) {
	if err := c.Add(text); err != nil {
		return "", err
	}
	return c.Reply(ctx)
}

// Reply asks the brain for the tutor's answer to the history so far and
// records it. A Reset during the call discards the answer with ErrConversationReset.
func (c *Conversation) Reply(ctx context.Context) (string, error) {
	c.turn.Lock()
	defer c.turn.Unlock()

	c.mu.Lock()
	epoch := c.epoch
	if len(c.history) == 0 {
		c.history = []Message{{Role: RoleSystem, Content: SystemPrompt}}
	}
	messages := append([]Message(nil), c.history...)
	c.mu.Unlock()

	key := ""
	if c.key != nil {
		k, err := c.key(ctx)
		if err != nil {
			return "", err
		}
		key = k
	}

	started := time.Now()
	reply, err := c.brain.Complete(ctx, Request{
		APIKey:      key,
		Model:       c.model,
		Temperature: c.temp,
		MaxTokens:   c.tokens,
		Messages:    messages,
	})
	if err != nil {
		c.metrics.ObserveBrain(time.Since(started), errorCode(err))
		c.log.Error().Err(err).Msg("error getting tutor reply")
		return "", err
	}
	c.metrics.ObserveBrain(time.Since(started), "")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return "", ErrConversationReset
	}
	c.history = append(c.history, Message{Role: RoleAssistant, Content: reply})
	return reply, nil
}

// Reset discards the history.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.history = nil
}

// History returns a copy of the messages exchanged so far.
func (c *Conversation) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history...)
}
