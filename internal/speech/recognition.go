package speech

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/frenchtutor/internal/logging"
	"github.com/ent0n29/frenchtutor/internal/observability"
)

const (
	DefaultStartDelay    = 100 * time.Millisecond
	DefaultNoSpeechGrace = time.Second
	DefaultRestartDelay  = 100 * time.Millisecond
)

type (
	ResultFunc  func(text string, confidence float64)
	ErrorFunc   func(code string)
	InterimFunc func(text string)
)

type RecognitionConfig struct {
	StartDelay    time.Duration
	NoSpeechGrace time.Duration
	RestartDelay  time.Duration
	// OnInterim, when set, receives the non-final text of every result event.
	OnInterim InterimFunc
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
}

// captureSession is the state of one Start..Stop bracket. It survives engine
// restarts and is replaced by the next Start.
type captureSession struct {
	listening  bool
	manualStop bool
	transcript strings.Builder
	processed  map[string]struct{}

	startedAt     time.Time
	engineRunning bool
	closed        bool

	// restarting is set from a spontaneous end until the engine proves it is
	// running again; restartRetried once the delayed retry has been used.
	restarting     bool
	restartRetried bool

	onResult     ResultFunc
	onError      ErrorFunc
	startTimer   Timer
	restartTimer Timer
}

func (c *captureSession) stopTimers() {
	if c.startTimer != nil {
		c.startTimer.Stop()
		c.startTimer = nil
	}
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
}

// Recognition presents one logical capture over an engine that ends and
// restarts on its own, repeats final segments and mixes interim results in.
type Recognition struct {
	loop          Scheduler
	engine        Recognizer
	startDelay    time.Duration
	noSpeechGrace time.Duration
	restartDelay  time.Duration
	onInterim     InterimFunc
	log           zerolog.Logger
	metrics       *observability.Metrics

	session   *captureSession
	listening atomic.Bool
}

func NewRecognition(loop Scheduler, engine Recognizer, cfg RecognitionConfig) *Recognition {
	r := &Recognition{
		loop:          loop,
		engine:        engine,
		startDelay:    cfg.StartDelay,
		noSpeechGrace: cfg.NoSpeechGrace,
		restartDelay:  cfg.RestartDelay,
		onInterim:     cfg.OnInterim,
		log:           logging.WithComponent(cfg.Logger, "recognition"),
		metrics:       cfg.Metrics,
	}
	if r.startDelay <= 0 {
		r.startDelay = DefaultStartDelay
	}
	if r.noSpeechGrace <= 0 {
		r.noSpeechGrace = DefaultNoSpeechGrace
	}
	if r.restartDelay <= 0 {
		r.restartDelay = DefaultRestartDelay
	}
	if engine != nil {
		engine.SetEvents(RecognitionEvents{
			OnResult: func(results []Result) { loop.Post(func() { r.handleResult(results) }) },
			OnError:  func(code string) { loop.Post(func() { r.handleError(code) }) },
			OnEnd:    func() { loop.Post(r.handleEnd) },
		})
	}
	return r
}

// Start begins a new capture. The cleaned transcript is delivered to onResult
// once after Stop; engine failures are delivered to onError.
func (r *Recognition) Start(onResult ResultFunc, onError ErrorFunc) {
	r.loop.Post(func() { r.start(onResult, onError) })
}

// Stop ends the capture. Delivery happens later, from the engine's next result
// or end event. Calling Stop when not listening does nothing.
func (r *Recognition) Stop() {
	r.loop.Post(r.stop)
}

// Listening reports whether a capture is in progress.
func (r *Recognition) Listening() bool { return r.listening.Load() }

// Close abandons the current capture without delivering anything.
func (r *Recognition) Close() {
	r.loop.Post(func() {
		sess := r.session
		if sess == nil || sess.closed {
			return
		}
		sess.closed = true
		sess.listening = false
		sess.stopTimers()
		r.listening.Store(false)
		if sess.engineRunning {
			if err := r.engine.Abort(); err != nil {
				r.log.Debug().Err(err).Msg("abort on close failed")
			}
		}
	})
}

func (r *Recognition) start(onResult ResultFunc, onError ErrorFunc) {
	if r.engine == nil {
		r.log.Error().Msg("speech recognition not supported")
		if onError != nil {
			onError(CodeNotSupported)
		}
		return
	}

	if prev := r.session; prev != nil {
		prev.closed = true
		prev.listening = false
		prev.stopTimers()
	}
	// Errors from aborting an engine that never started are expected.
	if err := r.engine.Abort(); err != nil {
		r.log.Debug().Err(err).Msg("abort before start failed")
	}

	sess := &captureSession{
		listening: true,
		processed: make(map[string]struct{}),
		onResult:  onResult,
		onError:   onError,
	}
	r.session = sess
	r.listening.Store(true)
	sess.startTimer = r.loop.AfterFunc(r.startDelay, func() { r.begin(sess) })
}

func (r *Recognition) begin(sess *captureSession) {
	sess.startTimer = nil
	if r.session != sess || sess.closed || !sess.listening {
		return
	}
	sess.startedAt = r.loop.Now()
	if err := r.engine.Start(); err != nil {
		r.log.Error().Err(err).Msg("failed to start speech recognition")
		r.fail(sess, CodeStartFailed)
		return
	}
	sess.engineRunning = true
	r.metrics.ObserveRecognition("started")
	r.log.Debug().Msg("speech recognition started")
}

func (r *Recognition) stop() {
	sess := r.session
	if sess == nil || sess.closed || !sess.listening {
		return
	}
	sess.manualStop = true
	sess.listening = false
	r.listening.Store(false)
	sess.stopTimers()
	r.log.Debug().Str("transcript", sess.transcript.String()).Msg("manual stop requested")

	if !sess.engineRunning {
		r.finalize(sess)
		return
	}
	if err := r.engine.Stop(); err != nil {
		r.log.Warn().Err(err).Msg("error stopping speech recognition")
		r.finalize(sess)
	}
}

func (r *Recognition) handleResult(results []Result) {
	sess := r.session
	if sess == nil || sess.closed || sess.startedAt.IsZero() {
		return
	}
	sess.restarting = false

	var interim strings.Builder
	for i, res := range results {
		if !res.IsFinal {
			interim.WriteString(res.Transcript)
			continue
		}
		key := segmentKey(i, res.Transcript)
		if _, seen := sess.processed[key]; seen {
			continue
		}
		sess.processed[key] = struct{}{}
		sess.transcript.WriteString(res.Transcript)
		sess.transcript.WriteByte(' ')
		r.log.Debug().Int("index", i).Str("segment", res.Transcript).Msg("final transcript segment")
	}

	if sess.manualStop {
		r.finalize(sess)
		return
	}
	if interim.Len() > 0 && r.onInterim != nil {
		r.onInterim(interim.String())
	}
}

func (r *Recognition) handleError(code string) {
	sess := r.session
	// Events before this session's engine start belong to the aborted one.
	if sess == nil || sess.closed || sess.startedAt.IsZero() {
		return
	}
	if code == CodeNoSpeech && r.loop.Now().Sub(sess.startedAt) > r.noSpeechGrace {
		r.metrics.ObserveRecognition("no_speech_suppressed")
		r.log.Debug().Msg("no speech detected, continuing recording")
		return
	}
	if sess.manualStop {
		r.log.Warn().Str("code", code).Msg("speech recognition error while finalizing")
		r.finalize(sess)
		return
	}
	// Engines that start asynchronously report a failed restart as an event.
	if sess.restarting && code == CodeStartFailed {
		r.log.Warn().Msg("engine failed to restart")
		r.retryRestart(sess)
		return
	}
	r.log.Warn().Str("code", code).Msg("speech recognition error")
	r.fail(sess, code)
}

func (r *Recognition) handleEnd() {
	sess := r.session
	if sess == nil {
		return
	}
	wasRunning := sess.engineRunning
	sess.engineRunning = false
	if sess.closed || !wasRunning {
		return
	}
	if sess.manualStop {
		r.finalize(sess)
		return
	}
	if sess.listening {
		r.restart(sess)
	}
}

func (r *Recognition) restart(sess *captureSession) {
	r.metrics.ObserveRecognition("restart")
	r.log.Debug().Msg("restarting speech recognition")
	sess.restarting = true
	sess.restartRetried = false
	if err := r.engine.Start(); err != nil {
		r.log.Warn().Err(err).Msg("error restarting recognition")
		r.retryRestart(sess)
		return
	}
	sess.engineRunning = true
}

// retryRestart gives a failed restart one more attempt after restartDelay.
func (r *Recognition) retryRestart(sess *captureSession) {
	sess.engineRunning = false
	if sess.restartRetried {
		r.log.Error().Msg("failed to restart recognition after delay")
		r.fail(sess, CodeRestartFailed)
		return
	}
	sess.restartRetried = true
	sess.restartTimer = r.loop.AfterFunc(r.restartDelay, func() {
		sess.restartTimer = nil
		if r.session != sess || sess.closed || !sess.listening {
			return
		}
		if err := r.engine.Start(); err != nil {
			r.log.Error().Err(err).Msg("failed to restart recognition after delay")
			r.fail(sess, CodeRestartFailed)
			return
		}
		sess.engineRunning = true
	})
}

func (r *Recognition) finalize(sess *captureSession) {
	if sess.closed {
		return
	}
	sess.closed = true
	sess.stopTimers()
	text := SimplifyRepeatedText(strings.TrimSpace(sess.transcript.String()))
	r.metrics.ObserveRecognition("delivered")
	if sess.onResult != nil {
		sess.onResult(text, 1.0)
	}
}

func (r *Recognition) fail(sess *captureSession, code string) {
	if sess.closed {
		return
	}
	sess.closed = true
	sess.listening = false
	sess.stopTimers()
	if r.session == sess {
		r.listening.Store(false)
	}
	r.metrics.ObserveRecognition("error")
	if sess.onError != nil {
		sess.onError(code)
	}
}

func segmentKey(index int, transcript string) string {
	return strconv.Itoa(index) + "-" + transcript
}
