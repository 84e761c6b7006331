package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/frenchtutor/internal/logging"
	"github.com/ent0n29/frenchtutor/internal/observability"
)

const (
	maxPrimeAttempts = 3
	primeRetryDelay  = 250 * time.Millisecond
	unlockSpeakDelay = 100 * time.Millisecond
	noUnlockDelay    = 10 * time.Millisecond
)

var unlockTone = Tone{Frequency: 440, Gain: 0.01, Duration: 10 * time.Millisecond}

type SynthesisConfig struct {
	Capabilities Capabilities
	ChunkLimit   int
	Language     string
	Unlocker     Unlocker
	Logger       zerolog.Logger
	Metrics      *observability.Metrics
}

type SpeakOptions struct {
	Rate  float64
	Pitch float64
	Voice *Voice
}

// Playback is the pending result of one Speak call.
type Playback struct {
	ID   string
	done chan struct{}
	once sync.Once
	err  error
}

func newPlayback() *Playback {
	return &Playback{ID: uuid.NewString(), done: make(chan struct{})}
}

func (p *Playback) settle(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *Playback) Done() <-chan struct{} { return p.done }

// Err returns the outcome once Done is closed.
func (p *Playback) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *Playback) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return p.err
	}
}

// utterance is the state of one Speak call.
type utterance struct {
	id       string
	chunks   []string
	next     int
	active   bool
	closed   bool
	watchdog Timer
	voice    *Voice
	opts     SpeakOptions
	playback *Playback
}

// Synthesis plays text through a Synthesizer, working around engines that
// truncate long text, pause on their own or stay muted until a sound is played.
// A new Speak preempts the previous one.
type Synthesis struct {
	loop       Scheduler
	engine     Synthesizer
	unlocker   Unlocker
	caps       Capabilities
	chunkLimit int
	lang       string
	log        zerolog.Logger
	metrics    *observability.Metrics

	current     *utterance
	voice       *Voice
	pinned      bool
	probe       Timer
	initialized bool
	waiters     []chan []Voice
	speaking    atomic.Bool
}

func NewSynthesis(loop Scheduler, engine Synthesizer, cfg SynthesisConfig) *Synthesis {
	limit := cfg.ChunkLimit
	if limit <= 0 {
		limit = DefaultChunkLimit
	}
	lang := strings.TrimSpace(cfg.Language)
	if lang == "" {
		lang = "fr-FR"
	}
	s := &Synthesis{
		loop:       loop,
		engine:     engine,
		unlocker:   cfg.Unlocker,
		caps:       cfg.Capabilities,
		chunkLimit: limit,
		lang:       lang,
		log:        logging.WithComponent(cfg.Logger, "synthesis"),
		metrics:    cfg.Metrics,
	}
	if engine != nil {
		engine.OnVoicesChanged(func() { loop.Post(s.voicesChanged) })
	}
	return s
}

// Initialize primes the engine and starts the pause probe where needed.
// Call it as early as possible. It never fails.
func (s *Synthesis) Initialize() {
	s.loop.Post(func() {
		if s.engine == nil {
			s.log.Warn().Msg("speech synthesis not supported")
			return
		}
		if s.initialized {
			return
		}
		s.initialized = true
		if s.caps.Has(NeedsWatchdog) {
			s.probe = s.loop.Every(probeInterval, s.resumeIfPaused)
		}
		s.prime(1)
	})
}

func (s *Synthesis) prime(attempt int) {
	if err := s.engine.Speak(Utterance{ID: "prime", Lang: s.lang}, UtteranceEvents{}); err != nil {
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("failed to prime speech synthesis")
		if attempt < maxPrimeAttempts {
			s.loop.AfterFunc(primeRetryDelay, func() { s.prime(attempt + 1) })
		}
		return
	}
	cancel := func() {
		if s.current != nil {
			return
		}
		if err := s.engine.Cancel(); err != nil {
			s.log.Warn().Err(err).Msg("error canceling priming utterance")
		}
	}
	if s.caps.Has(SlowTransitions) {
		s.loop.AfterFunc(primeCancelDelaySlow, cancel)
		return
	}
	cancel()
}

func (s *Synthesis) resumeIfPaused() {
	if !s.engine.Paused() {
		return
	}
	if err := s.engine.Resume(); err != nil {
		s.log.Warn().Err(err).Msg("error resuming speech synthesis")
	}
}

// Speak plays text and returns its pending result. The result fails with
// ErrInterrupted when a later Speak preempts it.
func (s *Synthesis) Speak(text string, opts SpeakOptions) *Playback {
	p := newPlayback()
	s.loop.Post(func() { s.begin(p, text, opts) })
	return p
}

// Speaking reports whether an utterance is in progress.
func (s *Synthesis) Speaking() bool { return s.speaking.Load() }

// Plan returns the chunks Speak would play for text.
func (s *Synthesis) Plan(text string) []string {
	return PlanChunks(text, s.caps, s.chunkLimit)
}

// Voices waits until the engine reports a non-empty voice list.
func (s *Synthesis) Voices(ctx context.Context) ([]Voice, error) {
	ch := make(chan []Voice, 1)
	unsupported := make(chan struct{})
	s.loop.Post(func() {
		if s.engine == nil {
			close(unsupported)
			return
		}
		if voices := s.engine.Voices(); len(voices) > 0 {
			ch <- voices
			return
		}
		s.waiters = append(s.waiters, ch)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-unsupported:
		return nil, ErrUnsupported
	case voices := <-ch:
		return voices, nil
	}
}

// SelectVoice pins the voice used when Speak gets none. A pinned voice
// survives voice list changes.
func (s *Synthesis) SelectVoice(v Voice) {
	s.loop.Post(func() {
		s.voice = &v
		s.pinned = true
	})
}

// Cancel stops the utterance in progress; its result fails with ErrInterrupted.
func (s *Synthesis) Cancel() {
	s.loop.Post(func() {
		u := s.current
		if u == nil {
			return
		}
		if err := s.engine.Cancel(); err != nil {
			s.log.Warn().Err(err).Msg("error canceling speech synthesis")
		}
		s.finish(u, ErrInterrupted)
	})
}

// Close cancels any utterance in progress and stops background timers.
func (s *Synthesis) Close() {
	s.loop.Post(func() {
		if s.probe != nil {
			s.probe.Stop()
			s.probe = nil
		}
		if u := s.current; u != nil {
			if err := s.engine.Cancel(); err != nil {
				s.log.Warn().Err(err).Msg("error canceling speech synthesis")
			}
			s.finish(u, ErrInterrupted)
		}
	})
}

func (s *Synthesis) begin(p *Playback, text string, opts SpeakOptions) {
	if s.engine == nil {
		s.log.Error().Msg("speech synthesis not supported")
		p.settle(ErrUnsupported)
		return
	}
	if strings.TrimSpace(text) == "" {
		p.settle(ErrEmptyText)
		return
	}
	if opts.Rate <= 0 {
		opts.Rate = 1
	}
	if opts.Pitch <= 0 {
		opts.Pitch = 1
	}

	if err := s.engine.Cancel(); err != nil {
		s.log.Warn().Err(err).Msg("error canceling speech synthesis")
	}
	if prev := s.current; prev != nil {
		s.finish(prev, ErrInterrupted)
	}

	u := &utterance{
		id:       p.ID,
		chunks:   s.Plan(text),
		voice:    s.resolveVoice(opts.Voice),
		opts:     opts,
		playback: p,
	}
	s.current = u
	s.speaking.Store(true)
	s.log.Debug().Str("utterance_id", u.id).Int("chunks", len(u.chunks)).Msg("speaking")
	s.speakNext(u)
}

func (s *Synthesis) speakNext(u *utterance) {
	if s.current != u || u.closed {
		return
	}
	if u.next >= len(u.chunks) {
		s.finish(u, nil)
		return
	}

	idx := u.next
	utt := Utterance{
		ID:    fmt.Sprintf("%s-%d", u.id, idx),
		Text:  u.chunks[idx],
		Voice: u.voice,
		Lang:  s.lang,
		Rate:  u.opts.Rate,
		Pitch: u.opts.Pitch,
	}
	events := UtteranceEvents{
		OnStart: func() { s.loop.Post(func() { s.chunkStarted(u, idx) }) },
		OnEnd:   func() { s.loop.Post(func() { s.chunkEnded(u, idx) }) },
		OnError: func(code string) { s.loop.Post(func() { s.chunkFailed(u, idx, code) }) },
	}

	if idx == 0 && s.caps.Has(NeedsAudioUnlock) {
		s.unlockThenIssue(u, idx, utt, events)
		return
	}
	s.issue(u, idx, utt, events)
}

func (s *Synthesis) unlockThenIssue(u *utterance, idx int, utt Utterance, events UtteranceEvents) {
	later := func() {
		if s.current == u && !u.closed {
			s.issue(u, idx, utt, events)
		}
	}
	if s.unlocker == nil {
		s.loop.AfterFunc(noUnlockDelay, later)
		return
	}
	if err := s.unlocker.Unlock(unlockTone); err != nil {
		s.log.Warn().Err(err).Msg("audio unlock failed, speaking directly")
		s.issue(u, idx, utt, events)
		return
	}
	s.loop.AfterFunc(unlockSpeakDelay, later)
}

func (s *Synthesis) issue(u *utterance, idx int, utt Utterance, events UtteranceEvents) {
	if err := s.engine.Speak(utt, events); err != nil {
		s.log.Error().Err(err).Str("utterance_id", utt.ID).Msg("error speaking chunk")
		s.chunkFailed(u, idx, engineCode(err))
	}
}

func (s *Synthesis) chunkStarted(u *utterance, idx int) {
	if !s.live(u, idx) {
		return
	}
	u.active = true
	s.armWatchdog(u)
}

func (s *Synthesis) chunkEnded(u *utterance, idx int) {
	if !s.live(u, idx) {
		return
	}
	s.metrics.ObserveChunk("played")
	u.next++
	s.after(s.caps.chunkGap(), func() { s.speakNext(u) })
}

func (s *Synthesis) chunkFailed(u *utterance, idx int, code string) {
	if !s.live(u, idx) {
		return
	}
	s.log.Warn().Str("utterance_id", u.id).Int("chunk", idx).Str("code", code).Msg("speech synthesis error")
	if idx < len(u.chunks)-1 {
		s.metrics.ObserveChunk("skipped")
		u.next++
		s.after(s.caps.errorGap(), func() { s.speakNext(u) })
		return
	}
	s.metrics.ObserveChunk("failed")
	s.finish(u, &EngineError{Code: code})
}

// live reports whether an event for chunk idx still belongs to the current utterance.
func (s *Synthesis) live(u *utterance, idx int) bool {
	return s.current == u && !u.closed && u.next == idx
}

func (s *Synthesis) armWatchdog(u *utterance) {
	if !s.caps.Has(NeedsWatchdog) || !u.active {
		return
	}
	if u.watchdog != nil {
		u.watchdog.Stop()
	}
	u.watchdog = s.loop.Every(s.caps.watchdogInterval(), func() {
		if !u.active || u.closed {
			return
		}
		s.resumeIfPaused()
	})
}

func (s *Synthesis) finish(u *utterance, err error) {
	if u.closed {
		return
	}
	u.closed = true
	u.active = false
	if u.watchdog != nil {
		u.watchdog.Stop()
		u.watchdog = nil
	}
	if s.current == u {
		s.current = nil
		s.speaking.Store(false)
	}
	switch {
	case err == nil:
		s.metrics.ObserveUtterance("completed")
	case errors.Is(err, ErrInterrupted):
		s.metrics.ObserveUtterance("interrupted")
	default:
		s.metrics.ObserveUtterance("failed")
	}
	u.playback.settle(err)
}

func (s *Synthesis) resolveVoice(explicit *Voice) *Voice {
	if explicit != nil {
		return explicit
	}
	if s.voice != nil {
		return s.voice
	}
	if v, ok := SelectVoice(s.engine.Voices(), s.lang); ok {
		s.voice = &v
		return s.voice
	}
	return nil
}

func (s *Synthesis) voicesChanged() {
	voices := s.engine.Voices()
	if len(voices) == 0 {
		return
	}
	if !s.pinned {
		if v, ok := SelectVoice(voices, s.lang); ok {
			s.voice = &v
		}
	}
	for _, ch := range s.waiters {
		ch <- voices
	}
	s.waiters = nil
}

func (s *Synthesis) after(d time.Duration, fn func()) {
	if d <= 0 {
		s.loop.Post(fn)
		return
	}
	s.loop.AfterFunc(d, fn)
}

// SelectVoice picks the first voice whose language matches the primary subtag
// of lang, falling back to the first voice.
func SelectVoice(voices []Voice, lang string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	prefix := strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(prefix, "-_"); i >= 0 {
		prefix = prefix[:i]
	}
	if prefix != "" {
		for _, v := range voices {
			if strings.Contains(strings.ToLower(v.Lang), prefix) {
				return v, true
			}
		}
	}
	return voices[0], true
}
