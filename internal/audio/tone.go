package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// ToneSampleRate is the rate used for generated tones.
const ToneSampleRate = 16000

// TonePCM16 renders a mono sine burst as PCM16LE. gain is clamped to [0, 1].
// The last 2ms fade out so the burst does not click.
func TonePCM16(frequency, gain float64, duration time.Duration, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = ToneSampleRate
	}
	gain = math.Max(0, math.Min(1, gain))
	n := int(duration.Seconds() * float64(sampleRate))
	if n <= 0 {
		return nil
	}
	fade := sampleRate / 500
	if fade > n {
		fade = n
	}

	pcm := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		amp := gain
		if remaining := n - i; remaining <= fade {
			amp *= float64(remaining) / float64(fade)
		}
		v := amp * math.Sin(2*math.Pi*frequency*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(v*math.MaxInt16)))
	}
	return pcm
}

// ToneWAV is TonePCM16 wrapped in a WAV container at ToneSampleRate.
func ToneWAV(frequency, gain float64, duration time.Duration) ([]byte, error) {
	return EncodeWAVPCM16LE(TonePCM16(frequency, gain, duration, ToneSampleRate), ToneSampleRate)
}
