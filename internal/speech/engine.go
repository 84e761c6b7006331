package speech

import (
	"errors"
	"time"
)

// Engine error codes shared by the controllers and the engine implementations.
// Codes reported by a client engine are passed through unchanged.
const (
	CodeNoSpeech        = "no-speech"
	CodeNotSupported    = "not-supported"
	CodeStartFailed     = "start-failed"
	CodeRestartFailed   = "restart-failed"
	CodeInterrupted     = "interrupted"
	CodeSynthesisFailed = "synthesis-failed"
)

var (
	ErrUnsupported = errors.New("speech engine not supported")
	ErrInterrupted = errors.New("utterance interrupted")
	ErrEmptyText   = errors.New("nothing to speak")
)

// EngineError carries the code reported by the underlying engine.
type EngineError struct {
	Code string
}

func (e *EngineError) Error() string {
	return "speech engine error: " + e.Code
}

func engineCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) && ee.Code != "" {
		return ee.Code
	}
	return CodeSynthesisFailed
}

type Voice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	URI     string `json:"uri"`
	Default bool   `json:"default,omitempty"`
}

// Utterance is one unit of engine playback (a single chunk).
type Utterance struct {
	ID    string
	Text  string
	Voice *Voice
	Lang  string
	Rate  float64
	Pitch float64
}

type UtteranceEvents struct {
	OnStart func()
	OnEnd   func()
	OnError func(code string)
}

// Synthesizer is a text-to-speech engine. Event callbacks may fire on any goroutine.
type Synthesizer interface {
	Speak(u Utterance, events UtteranceEvents) error
	Cancel() error
	Pause() error
	Resume() error
	Paused() bool
	Speaking() bool
	Voices() []Voice
	OnVoicesChanged(fn func())
}

// Result is one entry of a recognition result list, in engine order.
type Result struct {
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence,omitempty"`
}

type RecognitionEvents struct {
	OnResult func(results []Result)
	OnError  func(code string)
	OnEnd    func()
}

// Recognizer is a continuous speech-to-text engine. Event callbacks may fire on any goroutine.
type Recognizer interface {
	Start() error
	Stop() error
	Abort() error
	SetEvents(events RecognitionEvents)
}

// Tone describes the near-silent burst used to open the audio output path.
type Tone struct {
	Frequency float64
	Gain      float64
	Duration  time.Duration
}

// Unlocker plays a tone immediately on the client audio output.
type Unlocker interface {
	Unlock(t Tone) error
}
