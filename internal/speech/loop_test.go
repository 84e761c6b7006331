package speech

import (
	"bytes"
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoopRunsPostedCallbacksInOrder(t *testing.T) {
	loop := NewLoop(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	var (
		mu  sync.Mutex
		got []int
	)
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		loop.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 4 {
				close(done)
			}
		})
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("posted callbacks did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(got, []int{0, 1, 2, 3, 4}) {
		t.Fatalf("order = %v", got)
	}
}

func TestLoopSurvivesPanickingCallback(t *testing.T) {
	loop := NewLoop(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	done := make(chan struct{})
	loop.Post(func() { panic("boom") })
	loop.Post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop stopped after panic")
	}
}

func TestLoopStoppedTimerDoesNotFire(t *testing.T) {
	loop := NewLoop(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	fired := make(chan struct{}, 1)
	timer := loop.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	timer.Stop()
	select {
	case <-fired:
		t.Fatalf("stopped timer fired")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestManualLoopEvery(t *testing.T) {
	loop := NewManualLoop()
	count := 0
	timer := loop.Every(time.Second, func() { count++ })
	loop.Advance(3500 * time.Millisecond)
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	timer.Stop()
	loop.Advance(5 * time.Second)
	if count != 3 {
		t.Fatalf("count = %d after stop, want 3", count)
	}
	if n := loop.PendingTimers(); n != 0 {
		t.Fatalf("PendingTimers() = %d, want 0", n)
	}
}

func TestManualLoopFiresTimersInDueOrder(t *testing.T) {
	loop := NewManualLoop()
	var got []string
	loop.AfterFunc(200*time.Millisecond, func() { got = append(got, "b") })
	loop.AfterFunc(100*time.Millisecond, func() { got = append(got, "a") })
	loop.AfterFunc(200*time.Millisecond, func() { got = append(got, "c") })
	start := loop.Now()
	loop.Advance(time.Second)
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("order = %v", got)
	}
	if d := loop.Now().Sub(start); d != time.Second {
		t.Fatalf("clock advanced %v, want 1s", d)
	}
}

func TestMockEnginesDriveControllers(t *testing.T) {
	var out bytes.Buffer
	synth := NewMockSynthesizer(&out, 0)
	loop := NewLoop(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	s := NewSynthesis(loop, synth, SynthesisConfig{Logger: zerolog.Nop()})
	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := s.Speak("Bonjour, je suis ton tuteur.", SpeakOptions{}).Wait(waitCtx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if got := out.String(); got != "Bonjour, je suis ton tuteur.\n" {
		t.Fatalf("output = %q", got)
	}

	recognizer := NewMockRecognizer()
	r := NewRecognition(loop, recognizer, RecognitionConfig{StartDelay: time.Millisecond, Logger: zerolog.Nop()})
	result := make(chan string, 1)
	r.Start(func(text string, _ float64) { result <- text }, func(code string) { t.Errorf("onError(%q)", code) })
	deadline := time.Now().Add(2 * time.Second)
	for !recognizerRunning(recognizer) {
		if time.Now().After(deadline) {
			t.Fatalf("mock recognizer never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	recognizer.Say("Je m'appelle Marie")
	r.Stop()
	select {
	case got := <-result:
		if got != "Je m'appelle Marie" {
			t.Fatalf("transcript = %q", got)
		}
	case <-waitCtx.Done():
		t.Fatalf("no transcript delivered")
	}
}

func recognizerRunning(m *MockRecognizer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
