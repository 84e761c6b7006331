package speech

import "errors"

type fakeSynth struct {
	spoken   []Utterance
	events   []UtteranceEvents
	cancels  int
	resumes  int
	paused   bool
	voices   []Voice
	speakErr error
	changed  func()
}

func (f *fakeSynth) Speak(u Utterance, events UtteranceEvents) error {
	if f.speakErr != nil {
		return f.speakErr
	}
	f.spoken = append(f.spoken, u)
	f.events = append(f.events, events)
	return nil
}

func (f *fakeSynth) Cancel() error { f.cancels++; return nil }
func (f *fakeSynth) Pause() error  { f.paused = true; return nil }
func (f *fakeSynth) Resume() error {
	f.resumes++
	f.paused = false
	return nil
}
func (f *fakeSynth) Paused() bool              { return f.paused }
func (f *fakeSynth) Speaking() bool            { return len(f.spoken) > 0 }
func (f *fakeSynth) Voices() []Voice           { return f.voices }
func (f *fakeSynth) OnVoicesChanged(fn func()) { f.changed = fn }

// texts returns the text of every non-priming utterance, in order.
func (f *fakeSynth) texts() []string {
	var out []string
	for _, u := range f.spoken {
		if u.ID == "prime" {
			continue
		}
		out = append(out, u.Text)
	}
	return out
}

func (f *fakeSynth) last() UtteranceEvents {
	return f.events[len(f.events)-1]
}

type fakeUnlocker struct {
	tones []Tone
	err   error
}

func (f *fakeUnlocker) Unlock(t Tone) error {
	f.tones = append(f.tones, t)
	return f.err
}

type fakeRecognizer struct {
	starts    int
	stops     int
	aborts    int
	startErrs []error
	events    RecognitionEvents
}

func (f *fakeRecognizer) Start() error {
	f.starts++
	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		return err
	}
	return nil
}

func (f *fakeRecognizer) Stop() error  { f.stops++; return nil }
func (f *fakeRecognizer) Abort() error { f.aborts++; return nil }

func (f *fakeRecognizer) SetEvents(events RecognitionEvents) { f.events = events }

func (f *fakeRecognizer) final(texts ...string) {
	results := make([]Result, 0, len(texts))
	for _, t := range texts {
		results = append(results, Result{Transcript: t, IsFinal: true})
	}
	f.events.OnResult(results)
}

var errEngineBusy = errors.New("engine busy")
