package tutor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/frenchtutor/internal/bridge"
	"github.com/ent0n29/frenchtutor/internal/keystore"
	"github.com/ent0n29/frenchtutor/internal/logging"
	"github.com/ent0n29/frenchtutor/internal/observability"
	"github.com/ent0n29/frenchtutor/internal/protocol"
	"github.com/ent0n29/frenchtutor/internal/reliability"
	"github.com/ent0n29/frenchtutor/internal/session"
	"github.com/ent0n29/frenchtutor/internal/speech"
)

// Tutor states reported to the client.
const (
	StateIdle      = "idle"
	StateListening = "listening"
	StateThinking  = "thinking"
	StateSpeaking  = "speaking"
)

const (
	criticalSendTimeout = 600 * time.Millisecond
	bulkSendTimeout     = 120 * time.Millisecond
	turnTimeout         = 45 * time.Second
)

var errOutboundTimeout = errors.New("outbound queue full")

type OrchestratorConfig struct {
	Language      string
	ChunkLimit    int
	NoSpeechGrace time.Duration
	StartDelay    time.Duration
	Model         string
	Temperature   float64
	MaxTokens     int
}

// Orchestrator runs tutoring conversations over client connections.
type Orchestrator struct {
	sessions *session.Manager
	brain    Brain
	keys     *keystore.Resolver
	metrics  *observability.Metrics
	cfg      OrchestratorConfig
	log      zerolog.Logger
}

func NewOrchestrator(
	sessions *session.Manager,
	brain Brain,
	keys *keystore.Resolver,
	metrics *observability.Metrics,
	cfg OrchestratorConfig,
	log zerolog.Logger,
) *Orchestrator {
	if cfg.Language == "" {
		cfg.Language = "fr-FR"
	}
	return &Orchestrator{
		sessions: sessions,
		brain:    brain,
		keys:     keys,
		metrics:  metrics,
		cfg:      cfg,
		log:      logging.WithComponent(log, "orchestrator"),
	}
}

// connection is the state of one client connection. Fields set in attach are
// only touched from the RunConnection goroutine; speech callbacks reach the
// conversation and the outbound queue, both of which are safe for concurrent use.
type connection struct {
	o        *Orchestrator
	s        *session.Session
	ctx      context.Context
	outbound chan<- any
	log      zerolog.Logger

	conv   *Conversation
	engine *bridge.Engine
	loop   *speech.Loop
	synth  *speech.Synthesis
	rec    *speech.Recognition

	// gen invalidates replies that were in flight when the conversation was reset.
	gen atomic.Uint64
}

// RunConnection serves one client until inbound closes or ctx is done. The
// first message from the client must be engine_hello.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &connection{
		o:        o,
		s:        s,
		ctx:      ctx,
		outbound: outbound,
		log:      logging.WithSession(o.log, s.ID),
	}
	c.conv = NewConversation(o.brain, ConversationConfig{
		Model:       o.cfg.Model,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		Key:         c.apiKey,
		Logger:      c.log,
		Metrics:     o.metrics,
	})
	defer c.close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			c.handle(msg)
		}
	}
}

func (c *connection) apiKey(ctx context.Context) (string, error) {
	if c.o.keys == nil {
		return "", nil
	}
	key, _, err := c.o.keys.Resolve(ctx, c.s.UserID)
	return key, err
}

func (c *connection) handle(msg any) {
	if err := c.o.sessions.Touch(c.s.ID); err != nil {
		c.log.Debug().Err(err).Msg("touch session")
	}
	if hello, ok := msg.(protocol.EngineHello); ok {
		if c.engine != nil {
			c.log.Warn().Msg("duplicate engine_hello ignored")
			return
		}
		c.attach(hello)
		return
	}
	if c.engine == nil {
		c.sendError("client", "engine_not_ready", false, "engine_hello must be sent first")
		return
	}
	if c.engine.Dispatch(msg) {
		return
	}

	switch m := msg.(type) {
	case protocol.ClientControl:
		c.control(m)
	case protocol.ClientText:
		c.studentSaid(m.Text)
	default:
		c.log.Debug().Msgf("ignoring inbound %T", msg)
	}
}

func (c *connection) attach(hello protocol.EngineHello) {
	o := c.o
	caps := speech.Detect(hello.UserAgent)
	if err := o.sessions.SetCapabilities(c.s.ID, caps.String()); err != nil {
		c.log.Warn().Err(err).Msg("record capabilities")
	}

	c.engine = bridge.New(c.s.ID, o.cfg.Language, c.send, c.log)
	c.engine.Hello(hello)

	c.loop = speech.NewLoop(c.log)
	go c.loop.Run(c.ctx)

	c.synth = speech.NewSynthesis(c.loop, c.engine.Synthesizer(), speech.SynthesisConfig{
		Capabilities: caps,
		ChunkLimit:   o.cfg.ChunkLimit,
		Language:     o.cfg.Language,
		Unlocker:     c.engine.Unlocker(),
		Logger:       c.log,
		Metrics:      o.metrics,
	})
	c.rec = speech.NewRecognition(c.loop, c.engine.Recognizer(), speech.RecognitionConfig{
		StartDelay:    o.cfg.StartDelay,
		NoSpeechGrace: o.cfg.NoSpeechGrace,
		OnInterim: func(text string) {
			_ = c.send(protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: c.s.ID,
				Code:      "interim_transcript",
				Detail:    text,
			})
		},
		Logger:  c.log,
		Metrics: o.metrics,
	})
	c.synth.Initialize()

	c.log.Info().Str("capabilities", caps.String()).Msg("speech engines attached")
	_ = c.send(protocol.TutorState{
		Type:         protocol.TypeTutorState,
		SessionID:    c.s.ID,
		State:        StateIdle,
		Capabilities: caps.String(),
	})
	c.greet()
}

func (c *connection) control(m protocol.ClientControl) {
	switch m.Action {
	case protocol.ActionRecordStart:
		if c.synth.Speaking() {
			if err := c.o.sessions.Interrupt(c.s.ID); err != nil {
				c.log.Debug().Err(err).Msg("record interruption")
			}
		}
		c.synth.Cancel()
		c.rec.Start(c.onTranscript, c.onRecognitionError)
		c.setState(StateListening)
	case protocol.ActionRecordStop:
		c.rec.Stop()
	case protocol.ActionCancelSpeech:
		c.synth.Cancel()
		c.setState(StateIdle)
	case protocol.ActionReset:
		c.gen.Add(1)
		c.synth.Cancel()
		c.rec.Close()
		c.conv.Reset()
		c.greet()
	case protocol.ActionSelectVoice:
		c.selectVoice(m.VoiceURI, m.VoiceName)
	default:
		c.sendError("client", "unknown_action", false, m.Action)
	}
}

// selectVoice pins one of the client's voices for everything spoken afterwards.
func (c *connection) selectVoice(uri, name string) {
	engine := c.engine.Synthesizer()
	if engine == nil {
		c.sendError("tts", speech.CodeNotSupported, false, "speech synthesis not supported")
		return
	}
	for _, v := range engine.Voices() {
		if (uri != "" && v.URI == uri) || (uri == "" && v.Name == name) {
			c.synth.SelectVoice(v)
			c.log.Info().Str("voice", v.Name).Str("lang", v.Lang).Msg("voice selected")
			_ = c.send(protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: c.s.ID,
				Code:      "voice_selected",
				Detail:    v.Name,
			})
			return
		}
	}
	c.sendError("client", "unknown_voice", false, strings.TrimSpace(uri+" "+name))
}

// onTranscript runs on the speech loop once per capture.
func (c *connection) onTranscript(text string, confidence float64) {
	c.log.Debug().Float64("confidence", confidence).Int("chars", len(text)).Msg("capture finished")
	if strings.TrimSpace(text) == "" {
		c.setState(StateIdle)
		return
	}
	c.studentSaid(text)
}

func (c *connection) onRecognitionError(code string) {
	c.setState(StateIdle)
	if reliability.IsUserFacingRecognitionError(code) {
		c.sendError("stt", code, reliability.IsRetryableRecognitionError(code), "speech recognition failed")
	}
}

func (c *connection) greet() {
	gen := c.gen.Load()
	c.setState(StateThinking)
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, turnTimeout)
		defer cancel()
		reply, err := c.conv.Start(ctx)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, ErrConversationReset) {
				return
			}
			c.brainFailed(err)
			reply = FallbackGreeting
		}
		if c.gen.Load() != gen {
			return
		}
		c.speakReply(reply)
	}()
}

// studentSaid adds the student's words to the conversation and answers them.
func (c *connection) studentSaid(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if err := c.conv.Add(text); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			c.setState(StateIdle)
			return
		}
		c.log.Warn().Err(err).Msg("add student message")
		return
	}
	gen := c.gen.Load()
	_ = c.send(protocol.TutorMessage{
		Type:      protocol.TypeTutorMessage,
		SessionID: c.s.ID,
		Role:      RoleUser,
		Text:      text,
	})
	if err := c.o.sessions.RecordStudentTurn(c.s.ID); err != nil {
		c.log.Debug().Err(err).Msg("record student turn")
	}
	c.setState(StateThinking)

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, turnTimeout)
		defer cancel()
		reply, err := c.conv.Reply(ctx)
		if c.gen.Load() != gen || errors.Is(err, ErrConversationReset) {
			return
		}
		if err != nil {
			if c.ctx.Err() == nil {
				c.brainFailed(err)
				c.setState(StateIdle)
			}
			return
		}
		c.speakReply(reply)
	}()
}

func (c *connection) brainFailed(err error) {
	code := errorCode(err)
	c.sendError("brain", code, isRetryable(err), err.Error())
}

func (c *connection) speakReply(reply string) {
	_ = c.send(protocol.TutorMessage{
		Type:      protocol.TypeTutorMessage,
		SessionID: c.s.ID,
		Role:      RoleAssistant,
		Text:      reply,
	})
	if err := c.o.sessions.RecordTutorTurn(c.s.ID); err != nil {
		c.log.Debug().Err(err).Msg("record tutor turn")
	}

	spoken := speech.SanitizeForSpeech(reply)
	if spoken == "" {
		c.setState(StateIdle)
		return
	}
	c.setState(StateSpeaking)
	p := c.synth.Speak(spoken, speech.SpeakOptions{})
	go func() {
		err := p.Wait(c.ctx)
		switch {
		case err == nil:
			c.setState(StateIdle)
		case errors.Is(err, speech.ErrInterrupted), c.ctx.Err() != nil:
		case errors.Is(err, speech.ErrUnsupported):
			// text-only client; the message is already on screen
			c.setState(StateIdle)
		default:
			c.log.Warn().Err(err).Str("playback_id", p.ID).Msg("speech playback failed")
			c.sendError("tts", speech.CodeSynthesisFailed, true, err.Error())
			c.setState(StateIdle)
		}
	}()
}

func (c *connection) setState(state string) {
	_ = c.send(protocol.TutorState{
		Type:      protocol.TypeTutorState,
		SessionID: c.s.ID,
		State:     state,
	})
}

func (c *connection) sendError(source, code string, retryable bool, detail string) {
	_ = c.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: c.s.ID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	})
}

// send queues msg for the client. Critical messages wait longer for room in
// the queue; everything else is dropped quickly under backpressure.
func (c *connection) send(msg any) error {
	msgType, critical := protocol.MessageMeta(msg)
	timeout := bulkSendTimeout
	if critical {
		timeout = criticalSendTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.outbound <- msg:
		c.o.metrics.ObserveMessage("out", msgType)
		return nil
	case <-c.ctx.Done():
		return bridge.ErrClosed
	case <-timer.C:
		c.o.metrics.ObserveMessage("out_dropped", msgType)
		c.log.Warn().Str("type", msgType).Bool("critical", critical).Msg("outbound message dropped")
		return errOutboundTimeout
	}
}

func (c *connection) close() {
	if c.engine == nil {
		return
	}
	c.rec.Close()
	c.synth.Close()
	c.engine.Close()
}
