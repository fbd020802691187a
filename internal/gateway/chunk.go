package gateway

import (
	"encoding/base64"
	"time"

	"github.com/voxgate/voxgate/pkg/audio"
)

// CachedChunk is the unit of output: the synthesized audio for one contiguous
// range of ingressed characters. Chunks are held in the session cache for the
// TTL window so a reconnecting client can replay them.
type CachedChunk struct {
	// CreatedAt is the monotonic creation time used for TTL trimming.
	CreatedAt time.Time

	// ChunkSeq is the per-session chunk sequence, starting at 1.
	ChunkSeq int

	// UnitIndexStart and UnitIndexEnd bound the chunk's character range,
	// both inclusive.
	UnitIndexStart int
	UnitIndexEnd   int

	// UnitsText holds exactly UnitIndexEnd−UnitIndexStart+1 characters in
	// original ingress order.
	UnitsText string

	// Spec is the session's audio spec.
	Spec audio.Spec

	// AudioBytes is raw PCM16 little-endian signed audio, stereo interleaved
	// when Spec.Channels is 2.
	AudioBytes []byte
}

// Message builds the wire representation of the chunk for the given session
// and outgoing sequence number.
func (c *CachedChunk) Message(sessionID string, seq int64) AudioChunkMessage {
	return AudioChunkMessage{
		Type:           TypeAudioChunk,
		SessionID:      sessionID,
		Seq:            seq,
		ChunkSeq:       c.ChunkSeq,
		UnitIndexStart: c.UnitIndexStart,
		UnitIndexEnd:   c.UnitIndexEnd,
		UnitsText:      c.UnitsText,
		AudioFormat:    c.Spec.Format,
		SampleRate:     c.Spec.SampleRate,
		Channels:       c.Spec.Channels,
		AudioBase64:    base64.StdEncoding.EncodeToString(c.AudioBytes),
	}
}
