// Package bridge exposes the speech engines of a remote client page as
// speech.Synthesizer, speech.Recognizer and speech.Unlocker. Commands go out
// through a send function; engine events come back through Dispatch.
package bridge

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ent0n29/frenchtutor/internal/audio"
	"github.com/ent0n29/frenchtutor/internal/logging"
	"github.com/ent0n29/frenchtutor/internal/protocol"
	"github.com/ent0n29/frenchtutor/internal/speech"
)

var ErrClosed = errors.New("engine bridge closed")

// SendFunc delivers one outbound protocol message to the client.
type SendFunc func(msg any) error

type Engine struct {
	sessionID string
	lang      string
	send      SendFunc
	log       zerolog.Logger

	mu            sync.Mutex
	hello         bool
	ttsSupported  bool
	sttSupported  bool
	userAgent     string
	voices        []speech.Voice
	paused        bool
	speaking      bool
	pending       map[string]speech.UtteranceEvents
	voicesChanged func()
	recEvents     speech.RecognitionEvents
	closed        bool
}

func New(sessionID, lang string, send SendFunc, log zerolog.Logger) *Engine {
	return &Engine{
		sessionID: sessionID,
		lang:      lang,
		send:      send,
		log:       logging.WithComponent(log, "bridge"),
		pending:   make(map[string]speech.UtteranceEvents),
	}
}

// Hello records what the client reported about its engines.
func (e *Engine) Hello(m protocol.EngineHello) {
	e.mu.Lock()
	e.hello = true
	e.ttsSupported = m.TTSSupported
	e.sttSupported = m.STTSupported
	e.userAgent = m.UserAgent
	e.voices = toVoices(m.Voices)
	e.mu.Unlock()
	e.log.Info().
		Bool("tts", m.TTSSupported).
		Bool("stt", m.STTSupported).
		Int("voices", len(m.Voices)).
		Msg("client engines announced")
}

func (e *Engine) UserAgent() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userAgent
}

// Synthesizer returns nil when the client has no synthesis engine.
func (e *Engine) Synthesizer() speech.Synthesizer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ttsSupported {
		return nil
	}
	return &synthesizer{e: e}
}

// Recognizer returns nil when the client has no recognition engine.
func (e *Engine) Recognizer() speech.Recognizer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sttSupported {
		return nil
	}
	return &recognizer{e: e}
}

func (e *Engine) Unlocker() speech.Unlocker {
	return unlocker{e: e}
}

// Close drops pending callbacks and refuses further commands.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.pending = make(map[string]speech.UtteranceEvents)
}

// Dispatch routes an engine event to the registered callbacks. It reports
// whether msg was an engine event.
func (e *Engine) Dispatch(msg any) bool {
	switch m := msg.(type) {
	case protocol.TTSEvent:
		e.dispatchUtterance(m)
	case protocol.TTSState:
		e.mu.Lock()
		e.paused = m.Paused
		e.speaking = m.Speaking
		e.mu.Unlock()
	case protocol.VoicesChanged:
		e.mu.Lock()
		e.voices = toVoices(m.Voices)
		fn := e.voicesChanged
		e.mu.Unlock()
		if fn != nil {
			fn()
		}
	case protocol.STTResult:
		results := make([]speech.Result, 0, len(m.Results))
		for _, r := range m.Results {
			results = append(results, speech.Result{Transcript: r.Transcript, IsFinal: r.IsFinal, Confidence: r.Confidence})
		}
		if fn := e.recognitionEvents().OnResult; fn != nil {
			fn(results)
		}
	case protocol.STTError:
		if fn := e.recognitionEvents().OnError; fn != nil {
			fn(m.Code)
		}
	case protocol.STTEnd:
		if fn := e.recognitionEvents().OnEnd; fn != nil {
			fn()
		}
	default:
		return false
	}
	return true
}

func (e *Engine) dispatchUtterance(m protocol.TTSEvent) {
	e.mu.Lock()
	events, ok := e.pending[m.UtteranceID]
	if ok && m.Event != protocol.UtteranceStart {
		delete(e.pending, m.UtteranceID)
	}
	switch m.Event {
	case protocol.UtteranceStart:
		e.speaking = true
	case protocol.UtteranceEnd, protocol.UtteranceError:
		if len(e.pending) == 0 {
			e.speaking = false
		}
	}
	e.mu.Unlock()

	if !ok {
		e.log.Debug().Str("utterance_id", m.UtteranceID).Str("event", m.Event).Msg("event for unknown utterance")
		return
	}
	switch m.Event {
	case protocol.UtteranceStart:
		if events.OnStart != nil {
			events.OnStart()
		}
	case protocol.UtteranceEnd:
		if events.OnEnd != nil {
			events.OnEnd()
		}
	case protocol.UtteranceError:
		code := m.Code
		if code == "" {
			code = speech.CodeSynthesisFailed
		}
		if events.OnError != nil {
			events.OnError(code)
		}
	}
}

func (e *Engine) recognitionEvents() speech.RecognitionEvents {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recEvents
}

func (e *Engine) deliver(msg any) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := e.send(msg); err != nil {
		msgType, _ := protocol.MessageMeta(msg)
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

type synthesizer struct{ e *Engine }

func (s *synthesizer) Speak(u speech.Utterance, events speech.UtteranceEvents) error {
	msg := protocol.TTSSpeak{
		Type:        protocol.TypeTTSSpeak,
		SessionID:   s.e.sessionID,
		UtteranceID: u.ID,
		Text:        u.Text,
		Lang:        u.Lang,
		Rate:        u.Rate,
		Pitch:       u.Pitch,
	}
	if u.Voice != nil {
		msg.VoiceURI = u.Voice.URI
		msg.VoiceName = u.Voice.Name
	}

	s.e.mu.Lock()
	if strings.TrimSpace(u.Text) != "" {
		s.e.pending[u.ID] = events
	}
	s.e.mu.Unlock()

	if err := s.e.deliver(msg); err != nil {
		s.e.mu.Lock()
		delete(s.e.pending, u.ID)
		s.e.mu.Unlock()
		return err
	}
	return nil
}

func (s *synthesizer) Cancel() error {
	s.e.mu.Lock()
	s.e.pending = make(map[string]speech.UtteranceEvents)
	s.e.speaking = false
	s.e.paused = false
	s.e.mu.Unlock()
	return s.control("cancel")
}

func (s *synthesizer) Pause() error {
	s.e.mu.Lock()
	s.e.paused = true
	s.e.mu.Unlock()
	return s.control("pause")
}

func (s *synthesizer) Resume() error {
	s.e.mu.Lock()
	s.e.paused = false
	s.e.mu.Unlock()
	return s.control("resume")
}

func (s *synthesizer) control(action string) error {
	return s.e.deliver(protocol.TTSControl{Type: protocol.TypeTTSControl, SessionID: s.e.sessionID, Action: action})
}

func (s *synthesizer) Paused() bool {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return s.e.paused
}

func (s *synthesizer) Speaking() bool {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return s.e.speaking
}

func (s *synthesizer) Voices() []speech.Voice {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return append([]speech.Voice(nil), s.e.voices...)
}

func (s *synthesizer) OnVoicesChanged(fn func()) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	s.e.voicesChanged = fn
}

type recognizer struct{ e *Engine }

func (r *recognizer) Start() error { return r.control("start") }
func (r *recognizer) Stop() error  { return r.control("stop") }
func (r *recognizer) Abort() error { return r.control("abort") }

func (r *recognizer) SetEvents(events speech.RecognitionEvents) {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	r.e.recEvents = events
}

func (r *recognizer) control(action string) error {
	return r.e.deliver(protocol.STTControl{
		Type:      protocol.TypeSTTControl,
		SessionID: r.e.sessionID,
		Action:    action,
		Lang:      r.e.lang,
	})
}

type unlocker struct{ e *Engine }

func (u unlocker) Unlock(t speech.Tone) error {
	wav, err := audio.ToneWAV(t.Frequency, t.Gain, t.Duration)
	if err != nil {
		return fmt.Errorf("render unlock tone: %w", err)
	}
	return u.e.deliver(protocol.AudioUnlock{
		Type:      protocol.TypeAudioUnlock,
		SessionID: u.e.sessionID,
		WAVBase64: base64.StdEncoding.EncodeToString(wav),
		Gain:      t.Gain,
	})
}

func toVoices(in []protocol.Voice) []speech.Voice {
	out := make([]speech.Voice, 0, len(in))
	for _, v := range in {
		out = append(out, speech.Voice{Name: v.Name, Lang: v.Lang, URI: v.URI, Default: v.Default})
	}
	return out
}
