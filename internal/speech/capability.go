package speech

import (
	"strings"
	"time"
)

// Capabilities is the set of platform workarounds a client engine needs.
type Capabilities uint8

const (
	// NeedsChunking: long utterances get truncated, play them in sentence chunks.
	NeedsChunking Capabilities = 1 << iota
	// NeedsAudioUnlock: audio output stays muted until a sound is played.
	NeedsAudioUnlock
	// NeedsWatchdog: synthesis pauses itself and has to be resumed.
	NeedsWatchdog
	// SlowTransitions: rapid engine state changes crash the engine.
	SlowTransitions
)

const (
	watchdogInterval     = 5 * time.Second
	watchdogIntervalSlow = 10 * time.Second
	probeInterval        = 10 * time.Second
	chunkGapSlow         = 100 * time.Millisecond
	errorGapSlow         = 300 * time.Millisecond
	primeCancelDelaySlow = 500 * time.Millisecond
)

func (c Capabilities) Has(flag Capabilities) bool {
	return c&flag == flag
}

func (c Capabilities) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		flag Capabilities
		name string
	}{
		{NeedsChunking, "chunking"},
		{NeedsAudioUnlock, "audio_unlock"},
		{NeedsWatchdog, "watchdog"},
		{SlowTransitions, "slow_transitions"},
	} {
		if c.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

func (c Capabilities) watchdogInterval() time.Duration {
	if c.Has(SlowTransitions) {
		return watchdogIntervalSlow
	}
	return watchdogInterval
}

func (c Capabilities) chunkGap() time.Duration {
	if c.Has(SlowTransitions) {
		return chunkGapSlow
	}
	return 0
}

func (c Capabilities) errorGap() time.Duration {
	if c.Has(SlowTransitions) {
		return errorGapSlow
	}
	return 0
}

// Detect derives the workaround set from a client user agent.
// iOS and Safari need every workaround; Safari additionally needs slow transitions.
func Detect(userAgent string) Capabilities {
	var c Capabilities
	ios := IsIOS(userAgent)
	safari := IsSafari(userAgent)
	if ios || safari {
		c |= NeedsChunking | NeedsAudioUnlock | NeedsWatchdog
	}
	if safari {
		c |= SlowTransitions
	}
	return c
}

func IsIOS(userAgent string) bool {
	for _, device := range []string{"iPad", "iPhone", "iPod"} {
		if strings.Contains(userAgent, device) {
			return true
		}
	}
	return false
}

// IsSafari reports a Safari token not preceded by a Chrome or Android token.
func IsSafari(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	idx := strings.Index(ua, "safari")
	if idx < 0 {
		return false
	}
	prefix := ua[:idx]
	return !strings.Contains(prefix, "chrome") && !strings.Contains(prefix, "android")
}
