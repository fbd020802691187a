// Package audio provides the immutable audio format description shared by a
// streaming session and PCM16 little-endian conversion helpers used to adapt
// engine output to that format.
package audio

import (
	"fmt"
	"time"
)

// Spec describes the audio format of a session. It is attached to the session
// at creation and shared by every chunk the session emits.
type Spec struct {
	// Format is the wire name of the encoding (e.g. "pcm16").
	Format string

	// SampleRate in Hz (e.g. 16000, 24000, 48000).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int
}

// DefaultSpec is used for sessions created by text ingress before any start
// message declared a format.
var DefaultSpec = Spec{Format: "pcm16", SampleRate: 16000, Channels: 1}

// Valid reports whether the spec describes a usable PCM16 format.
func (s Spec) Valid() bool {
	return s.Format != "" && s.SampleRate > 0 && (s.Channels == 1 || s.Channels == 2)
}

// BytesPerSecond returns the PCM16 byte rate for the spec.
func (s Spec) BytesPerSecond() int {
	return s.SampleRate * s.Channels * 2
}

// Duration returns the play time of n PCM16 bytes in this format.
func (s Spec) Duration(n int) time.Duration {
	bps := s.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bps) * float64(time.Second))
}

// String returns a human-readable description, e.g. "pcm16 16000Hz mono".
func (s Spec) String() string {
	ch := "mono"
	switch {
	case s.Channels == 2:
		ch = "stereo"
	case s.Channels > 2:
		ch = fmt.Sprintf("%dch", s.Channels)
	}
	return fmt.Sprintf("%s %dHz %s", s.Format, s.SampleRate, ch)
}
