package speech

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// MockSynthesizer writes utterance text to an io.Writer instead of playing it.
// Each utterance "plays" for PerWord per word, then ends.
type MockSynthesizer struct {
	mu      sync.Mutex
	out     io.Writer
	perWord time.Duration
	voices  []Voice
	gen     uint64
	paused  bool
	playing bool
	changed func()
}

func NewMockSynthesizer(out io.Writer, perWord time.Duration) *MockSynthesizer {
	if out == nil {
		out = io.Discard
	}
	return &MockSynthesizer{
		out:     out,
		perWord: perWord,
		voices: []Voice{
			{Name: "Mock Amélie", Lang: "fr-FR", URI: "mock:amelie", Default: true},
			{Name: "Mock Daniel", Lang: "en-GB", URI: "mock:daniel"},
		},
	}
}

func (m *MockSynthesizer) Speak(u Utterance, events UtteranceEvents) error {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.playing = strings.TrimSpace(u.Text) != ""
	m.paused = false
	m.mu.Unlock()

	if strings.TrimSpace(u.Text) == "" {
		return nil
	}
	if events.OnStart != nil {
		events.OnStart()
	}
	if _, err := fmt.Fprintln(m.out, u.Text); err != nil {
		return &EngineError{Code: CodeSynthesisFailed}
	}
	d := time.Duration(len(strings.Fields(u.Text))) * m.perWord
	time.AfterFunc(d, func() {
		m.mu.Lock()
		current := m.gen == gen
		if current {
			m.playing = false
		}
		m.mu.Unlock()
		if current && events.OnEnd != nil {
			events.OnEnd()
		}
	})
	return nil
}

func (m *MockSynthesizer) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.playing = false
	m.paused = false
	return nil
}

func (m *MockSynthesizer) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	return nil
}

func (m *MockSynthesizer) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	return nil
}

func (m *MockSynthesizer) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *MockSynthesizer) Speaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

func (m *MockSynthesizer) Voices() []Voice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Voice(nil), m.voices...)
}

func (m *MockSynthesizer) OnVoicesChanged(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changed = fn
}

var errRecognizerRunning = errors.New("recognition already started")

// MockRecognizer turns text passed to Say into final results.
type MockRecognizer struct {
	mu      sync.Mutex
	running bool
	results []Result
	events  RecognitionEvents
}

func NewMockRecognizer() *MockRecognizer { return &MockRecognizer{} }

func (m *MockRecognizer) SetEvents(events RecognitionEvents) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = events
}

func (m *MockRecognizer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errRecognizerRunning
	}
	m.running = true
	m.results = nil
	return nil
}

func (m *MockRecognizer) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	events := m.events
	m.mu.Unlock()
	if events.OnEnd != nil {
		events.OnEnd()
	}
	return nil
}

func (m *MockRecognizer) Abort() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.results = nil
	return nil
}

// Running reports whether Start has been called without a matching Stop or Abort.
func (m *MockRecognizer) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Say reports text as the next final segment. It is ignored while stopped.
func (m *MockRecognizer) Say(text string) {
	text = strings.TrimSpace(text)
	m.mu.Lock()
	if !m.running || text == "" {
		m.mu.Unlock()
		return
	}
	m.results = append(m.results, Result{Transcript: text, IsFinal: true, Confidence: 1})
	results := append([]Result(nil), m.results...)
	events := m.events
	m.mu.Unlock()
	if events.OnResult != nil {
		events.OnResult(results)
	}
}
