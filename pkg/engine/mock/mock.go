// Package mock provides a test double for the engine.Engine interface.
//
// Use Engine to feed controlled PCM bytes to the gateway and to verify which
// text segments were synthesized, in which order, and against which spec.
//
// Example:
//
//	e := &mock.Engine{Result: []byte{1, 2, 3, 4}}
//	pcm, _ := e.SynthesizePCM16(ctx, "hello", spec)
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/pkg/audio"
	"github.com/voxgate/voxgate/pkg/engine"
)

// Call records a single invocation of SynthesizePCM16.
type Call struct {
	// Text is the segment text passed to SynthesizePCM16.
	Text string
	// Spec is the audio spec passed to SynthesizePCM16.
	Spec audio.Spec
}

// Ensure Engine implements the engine.Engine interface.
var _ engine.Engine = (*Engine)(nil)

// Engine is a mock implementation of engine.Engine.
// The zero value synthesizes two bytes of PCM per input rune.
type Engine struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Result, if non-nil, is returned from every SynthesizePCM16 call.
	// When nil, the engine returns two zero bytes per rune of input, which
	// keeps chunk audio length proportional to segment length.
	Result []byte

	// Err, if non-nil, is returned from SynthesizePCM16 instead of audio.
	Err error

	// Synthesize, if non-nil, overrides the canned behaviour entirely.
	Synthesize func(ctx context.Context, text string, spec audio.Spec) ([]byte, error)

	// Delay, if set, is called before returning; use it to hold synthesis
	// open until released (e.g. to test cancellation mid-call).
	Delay func(ctx context.Context) error

	// --- Recorded calls ---

	calls []Call
}

// SynthesizePCM16 implements engine.Engine.
func (e *Engine) SynthesizePCM16(ctx context.Context, text string, spec audio.Spec) ([]byte, error) {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Text: text, Spec: spec})
	result := e.Result
	err := e.Err
	custom := e.Synthesize
	delay := e.Delay
	e.mu.Unlock()

	if custom != nil {
		return custom(ctx, text, spec)
	}
	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return nil, derr
		}
	}
	if err != nil {
		return nil, err
	}
	if result != nil {
		out := make([]byte, len(result))
		copy(out, result)
		return out, nil
	}
	return make([]byte, 2*len([]rune(text))), nil
}

// Calls returns a copy of all recorded calls.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}
