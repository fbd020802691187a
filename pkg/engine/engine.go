// Package engine defines the speech synthesis capability the gateway depends
// on.
//
// An Engine turns one bounded text segment into PCM16 audio. The gateway
// treats it as a stateless collaborator: segment text is re-presented in full
// on every call and nothing is attributed to engine memory between calls.
// Implementations are provided by subpackages (a deterministic sine generator
// for tests and local development, vendor-backed clients for production) and
// are selected at construction time.
//
// Implementations must be safe for concurrent use; the gateway runs one
// synthesis loop per session and sessions synthesize in parallel.
package engine

import (
	"context"

	"github.com/voxgate/voxgate/pkg/audio"
)

// Engine is the abstraction over any speech synthesis backend.
type Engine interface {
	// SynthesizePCM16 synthesizes text into raw PCM16 little-endian signed
	// bytes matching spec (stereo interleaved when spec.Channels is 2). It
	// blocks until synthesis completes or ctx is cancelled.
	//
	// A non-nil error is terminal for the calling session; the gateway does
	// not retry.
	SynthesizePCM16(ctx context.Context, text string, spec audio.Spec) ([]byte, error)
}
