// Package sine provides a deterministic, dependency-free synthesis engine
// that renders each text segment as a sine tone. It exists for tests, local
// development, and load generation — the output is valid PCM16 in the
// requested format without contacting any vendor API.
package sine

import (
	"context"
	"math"
	"time"

	"github.com/voxgate/voxgate/pkg/audio"
	"github.com/voxgate/voxgate/pkg/engine"
)

const (
	defaultFrequency   = 440.0
	defaultPerRune     = 60 * time.Millisecond
	defaultAmplitude   = 0.3
	maxSegmentDuration = 10 * time.Second
)

// Option is a functional option for configuring the sine Engine.
type Option func(*Engine)

// WithFrequency sets the tone frequency in Hz.
func WithFrequency(hz float64) Option {
	return func(e *Engine) {
		e.frequency = hz
	}
}

// WithPerRuneDuration sets how much audio is produced per rune of input.
func WithPerRuneDuration(d time.Duration) Option {
	return func(e *Engine) {
		e.perRune = d
	}
}

// Ensure Engine implements the engine.Engine interface.
var _ engine.Engine = (*Engine)(nil)

// Engine synthesizes every segment as a fixed-frequency sine tone whose
// duration is proportional to the segment's rune count. Output is fully
// deterministic for a given (text, spec) pair.
type Engine struct {
	frequency float64
	perRune   time.Duration
	amplitude float64
}

// New creates a sine Engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		frequency: defaultFrequency,
		perRune:   defaultPerRune,
		amplitude: defaultAmplitude,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SynthesizePCM16 implements engine.Engine.
func (e *Engine) SynthesizePCM16(ctx context.Context, text string, spec audio.Spec) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dur := time.Duration(len([]rune(text))) * e.perRune
	if dur > maxSegmentDuration {
		dur = maxSegmentDuration
	}
	samples := int(float64(spec.SampleRate) * dur.Seconds())

	out := make([]byte, 0, samples*spec.Channels*2)
	step := 2 * math.Pi * e.frequency / float64(spec.SampleRate)
	for i := range samples {
		v := int16(e.amplitude * math.Sin(step*float64(i)) * math.MaxInt16)
		for range spec.Channels {
			out = append(out, byte(v), byte(v>>8))
		}
	}
	return out, nil
}
