package speech

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type captured struct {
	results []string
	errors  []string
}

func (c *captured) onResult(text string, _ float64) { c.results = append(c.results, text) }
func (c *captured) onError(code string)             { c.errors = append(c.errors, code) }

func newTestRecognition() (*Recognition, *fakeRecognizer, *ManualLoop, *captured) {
	loop := NewManualLoop()
	engine := &fakeRecognizer{}
	r := NewRecognition(loop, engine, RecognitionConfig{Logger: zerolog.Nop()})
	return r, engine, loop, &captured{}
}

func startListening(t *testing.T, r *Recognition, engine *fakeRecognizer, loop *ManualLoop, c *captured) {
	t.Helper()
	r.Start(c.onResult, c.onError)
	loop.RunPending()
	if engine.starts != 0 {
		t.Fatalf("engine started before start delay")
	}
	loop.Advance(100 * time.Millisecond)
	if engine.starts != 1 {
		t.Fatalf("engine starts = %d, want 1 after start delay", engine.starts)
	}
	if !r.Listening() {
		t.Fatalf("Listening() = false after start")
	}
}

func TestRecognitionDeduplicatesRepeatedSegments(t *testing.T) {
	r, engine, loop, c := newTestRecognition()
	startListening(t, r, engine, loop, c)

	engine.final("bonjour")
	engine.final("bonjour")
	loop.RunPending()

	r.Stop()
	loop.RunPending()
	if engine.stops != 1 {
		t.Fatalf("engine stops = %d, want 1", engine.stops)
	}
	if len(c.results) != 0 {
		t.Fatalf("delivered before engine end: %v", c.results)
	}

	engine.events.OnEnd()
	loop.RunPending()
	if len(c.results) != 1 || c.results[0] != "bonjour" {
		t.Fatalf("results = %#v, want [bonjour]", c.results)
	}
	if r.Listening() {
		t.Fatalf("Listening() = true after stop")
	}
}

func TestRecognitionAccumulatesAcrossResultIndexes(t *testing.T) {
	r, engine, loop, c := newTestRecognition()
	startListening(t, r, engine, loop, c)

	engine.final("je voudrais")
	engine.final("je voudrais", "un croissant")
	engine.events.OnResult([]Result{
		{Transcript: "je voudrais", IsFinal: true},
		{Transcript: "un croissant", IsFinal: true},
		{Transcript: "s'il", IsFinal: false},
	})
	loop.RunPending()

	r.Stop()
	loop.RunPending()
	engine.final("je voudrais", "un croissant")
	engine.events.OnEnd()
	loop.RunPending()

	if len(c.results) != 1 || c.results[0] != "je voudrais un croissant" {
		t.Fatalf("results = %#v, want exactly one joined transcript", c.results)
	}
}

func TestRecognitionRestartKeepsTranscript(t *testing.T) {
	r, engine, loop, c := newTestRecognition()
	startListening(t, r, engine, loop, c)

	engine.final("bonjour")
	engine.events.OnEnd()
	loop.RunPending()
	if engine.starts != 2 {
		t.Fatalf("engine starts = %d, want restart after silent end", engine.starts)
	}
	if !r.Listening() {
		t.Fatalf("Listening() = false after restart")
	}

	engine.final("comment ça va")
	loop.RunPending()
	r.Stop()
	loop.RunPending()
	engine.events.OnEnd()
	loop.RunPending()

	if len(c.results) != 1 || c.results[0] != "bonjour comment ça va" {
		t.Fatalf("results = %#v, want transcript spanning restart", c.results)
	}
}

func TestRecognitionRestartRetriesOnce(t *testing.T) {
	r, engine, loop, c := newTestRecognition()
	startListening(t, r, engine, loop, c)

	engine.startErrs = []error{errEngineBusy, nil}
	engine.events.OnEnd()
	loop.RunPending()
	if engine.starts != 2 {
		t.Fatalf("starts = %d, want immediate restart attempt", engine.starts)
	}
	loop.Advance(100 * time.Millisecond)
	if engine.starts != 3 {
		t.Fatalf("starts = %d, want delayed retry", engine.starts)
	}
	if len(c.errors) != 0 {
		t.Fatalf("errors = %v after successful retry", c.errors)
	}
}

func TestRecognitionRestartFailureReportsError(t *testing.T) {
	r, engine, loop, c := newTestRecognition()
	startListening(t, r, engine, loop, c)

	engine.startErrs = []error{errEngineBusy, errEngineBusy}
	engine.events.OnEnd()
	loop.Advance(100 * time.Millisecond)
	if len(c.errors) != 1 || c.errors[0] != CodeRestartFailed {
		t.Fatalf("errors = %v, want [%s]", c.errors, CodeRestartFailed)
	}
	if r.Listening() {
		t.Fatalf("Listening() = true after restart failure")
	}
}

func TestRecognitionRestartFailureEventIsRetried(t *testing.T) {
	r, engine, loop, c := newTestRecognition()
	startListening(t, r, engine, loop, c)

	engine.final("bonjour")
	engine.events.OnEnd()
	loop.RunPending()
	if engine.starts != 2 {
		t.Fatalf("starts = %d, want restart after silent end", engine.starts)
	}

	engine.events.OnError(CodeStartFailed)
	loop.RunPending()
	if len(c.errors) != 0 {
		t.Fatalf("errors = %v, want the failed restart retried", c.errors)
	}
	loop.Advance(100 * time.Millisecond)
	if engine.starts != 3 {
		t.Fatalf("starts = %d, want delayed retry", engine.starts)
	}
	if !r.Listening() {
		t.Fatalf("Listening() = false while retrying")
	}

	engine.final("bonjour", "ça va")
	loop.RunPending()
	r.Stop()
	loop.RunPending()
	engine.events.OnEnd()
	loop.RunPending()
	if len(c.results) != 1 || c.results[0] != "bonjour ça va" {
		t.Fatalf("results = %#v, want transcript kept across the failed restart", c.results)
	}
}

func TestRecognitionRestartFailureEventAfterRetry(t *testing.T) {
	r, engine, loop, c := newTestRecognition()
	startListening(t, r, engine, loop, c)

	engine.events.OnEnd()
	loop.RunPending()
	engine.events.OnError(CodeStartFailed)
	loop.Advance(100 * time.Millisecond)
	engine.events.OnError(CodeStartFailed)
	loop.RunPending()

	if len(c.errors) != 1 || c.errors[0] != CodeRestartFailed {
		t.Fatalf("errors = %v, want [%s]", c.errors, CodeRestartFailed)
	}
	if r.Listening() {
		t.Fatalf("Listening() = true after restart failure")
	}
}

func TestRecognitionStartFailedOutsideRestartFails(t *testing.T) {
	r, engine, loop, c := newTestRecognition()
	startListening(t, r, engine, loop, c)

	engine.events.OnError(CodeStartFailed)
	loop.Advance(time.Second)
	if engine.starts != 1 {
		t.Fatalf("starts = %d, want no retry for the first start", engine.starts)
	}
	if len(c.errors) != 1 || c.errors[0] != CodeStartFailed {
		t.Fatalf("errors = %v, want [%s]", c.errors, CodeStartFailed)
	}
}

func TestRecognitionNoSpeechGrace(t *testing.T) {
	t.Run("early no-speech is an error", func(t *testing.T) {
		r, engine, loop, c := newTestRecognition()
		startListening(t, r, engine, loop, c)
		loop.Advance(200 * time.Millisecond)
		engine.events.OnError(CodeNoSpeech)
		loop.RunPending()
		if len(c.errors) != 1 || c.errors[0] != CodeNoSpeech {
			t.Fatalf("errors = %v, want [no-speech]", c.errors)
		}
	})

	t.Run("late no-speech is suppressed", func(t *testing.T) {
		r, engine, loop, c := newTestRecognition()
		startListening(t, r, engine, loop, c)
		loop.Advance(1500 * time.Millisecond)
		engine.events.OnError(CodeNoSpeech)
		loop.RunPending()
		if len(c.errors) != 0 {
			t.Fatalf("errors = %v, want none", c.errors)
		}
		if !r.Listening() {
			t.Fatalf("Listening() = false after suppressed no-speech")
		}
	})
}

func TestRecognitionErrorWhileFinalizingDeliversTranscript(t *testing.T) {
	r, engine, loop, c := newTestRecognition()
	startListening(t, r, engine, loop, c)

	engine.final("merci")
	r.Stop()
	loop.RunPending()
	engine.events.OnError("network")
	loop.RunPending()

	if len(c.errors) != 0 || len(c.results) != 1 || c.results[0] != "merci" {
		t.Fatalf("results = %v errors = %v, want transcript only", c.results, c.errors)
	}
}

func TestRecognitionStopWhenIdleIsNoop(t *testing.T) {
	r, engine, loop, c := newTestRecognition()
	r.Stop()
	loop.RunPending()
	if engine.stops != 0 || len(c.results) != 0 || len(c.errors) != 0 {
		t.Fatalf("stop while idle had effects: stops=%d results=%v errors=%v", engine.stops, c.results, c.errors)
	}
}

func TestRecognitionStopBeforeEngineStart(t *testing.T) {
	r, engine, loop, c := newTestRecognition()
	r.Start(c.onResult, c.onError)
	loop.RunPending()
	r.Stop()
	loop.Advance(time.Second)
	if engine.starts != 0 {
		t.Fatalf("engine started after early stop")
	}
	if len(c.results) != 1 || c.results[0] != "" {
		t.Fatalf("results = %#v, want one empty transcript", c.results)
	}
}

func TestRecognitionStartFailure(t *testing.T) {
	r, engine, loop, c := newTestRecognition()
	engine.startErrs = []error{errEngineBusy}
	r.Start(c.onResult, c.onError)
	loop.Advance(100 * time.Millisecond)
	if len(c.errors) != 1 || c.errors[0] != CodeStartFailed {
		t.Fatalf("errors = %v, want [%s]", c.errors, CodeStartFailed)
	}
}

func TestRecognitionWithoutEngine(t *testing.T) {
	loop := NewManualLoop()
	r := NewRecognition(loop, nil, RecognitionConfig{Logger: zerolog.Nop()})
	c := &captured{}
	r.Start(c.onResult, c.onError)
	loop.RunPending()
	if len(c.errors) != 1 || c.errors[0] != CodeNotSupported {
		t.Fatalf("errors = %v, want [%s]", c.errors, CodeNotSupported)
	}
}

func TestRecognitionNewStartReplacesCapture(t *testing.T) {
	r, engine, loop, first := newTestRecognition()
	startListening(t, r, engine, loop, first)
	engine.final("ancien")
	loop.RunPending()

	second := &captured{}
	r.Start(second.onResult, second.onError)
	loop.RunPending()
	if engine.aborts < 2 {
		t.Fatalf("aborts = %d, want abort before each start", engine.aborts)
	}
	// The aborted engine reports its own error before the new one starts.
	engine.events.OnError("aborted")
	loop.Advance(100 * time.Millisecond)
	engine.final("nouveau")
	r.Stop()
	loop.RunPending()
	engine.events.OnEnd()
	loop.RunPending()

	if len(first.results) != 0 || len(first.errors) != 0 {
		t.Fatalf("replaced capture got callbacks: %v %v", first.results, first.errors)
	}
	if len(second.results) != 1 || second.results[0] != "nouveau" || len(second.errors) != 0 {
		t.Fatalf("second = %v %v, want [nouveau]", second.results, second.errors)
	}
}

func TestRecognitionSimplifiesRepeatedPhrases(t *testing.T) {
	r, engine, loop, c := newTestRecognition()
	startListening(t, r, engine, loop, c)

	engine.final("je suis", "je suis", "content")
	loop.RunPending()
	r.Stop()
	loop.RunPending()
	engine.events.OnEnd()
	loop.RunPending()

	if len(c.results) != 1 || c.results[0] != "je suis content" {
		t.Fatalf("results = %#v, want [je suis content]", c.results)
	}
}
