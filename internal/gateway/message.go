// Package gateway implements the per-session streaming state machine of the
// text-to-speech gateway: character ingress and segmentation, the synthesis
// loop, the bounded send queue with backpressure, the chunk cache that backs
// resume, and the session registry with TTL eviction.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client → gateway message types.
const (
	TypeStart     = "start"
	TypeTextDelta = "text_delta"
	TypeTextEnd   = "text_end"
	TypeCancel    = "cancel"
	TypeResume    = "resume"
)

// Gateway → client message types.
const (
	TypeAudioChunk = "audio_chunk"
	TypeTTSEnd     = "tts_end"
	TypeError      = "error"
)

// Error codes carried on error messages. These are stable wire values.
const (
	CodeBadRequest     = "bad_request"
	CodeUnknownSession = "unknown_session"
	CodeBackpressure   = "backpressure"
	CodeEngineFailure  = "engine_failure"
	CodeInternal       = "internal"
)

// ErrBadRequest marks a malformed or incomplete client message. Handlers map
// it to an error message with code "bad_request" and terminate the session.
var ErrBadRequest = errors.New("bad request")

// ErrUnknownSession is returned when a resume targets a session that does not
// exist or has been evicted.
var ErrUnknownSession = errors.New("unknown session")

// ClientMessage is the decoded form of any client → gateway message. Optional
// fields are pointers so that a missing field can be told apart from a zero
// value during validation. Unknown JSON fields are ignored.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`

	// Seq is the client's message sequence. Validated as an integer when
	// present but not otherwise enforced.
	Seq *int64 `json:"seq,omitempty"`

	// Text carries the characters of a text_delta.
	Text *string `json:"text,omitempty"`

	// AudioFormat, SampleRate, and Channels declare the audio spec on start.
	AudioFormat string `json:"audio_format,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Channels    int    `json:"channels,omitempty"`

	// LastUnitIndexReceived is the resume cursor: the highest unit index the
	// client has fully received, or -1 if it received nothing.
	LastUnitIndexReceived *int `json:"last_unit_index_received,omitempty"`
}

// ParseClientMessage decodes and validates a single client message.
// Validation failures wrap [ErrBadRequest]; the partially decoded message is
// returned alongside the error so callers can still name the session.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: invalid JSON: %v", ErrBadRequest, err)
	}
	return msg, msg.Validate()
}

// Validate checks that the required fields for the message's type are
// present. Returns an error wrapping [ErrBadRequest] on the first violation.
func (m ClientMessage) Validate() error {
	if m.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrBadRequest)
	}
	switch m.Type {
	case TypeStart:
		if m.AudioFormat == "" {
			return fmt.Errorf("%w: start requires audio_format", ErrBadRequest)
		}
		if m.SampleRate <= 0 {
			return fmt.Errorf("%w: start requires a positive sample_rate", ErrBadRequest)
		}
		if m.Channels != 1 && m.Channels != 2 {
			return fmt.Errorf("%w: start requires channels of 1 or 2", ErrBadRequest)
		}
	case TypeTextDelta:
		if m.Seq == nil {
			return fmt.Errorf("%w: text_delta requires seq", ErrBadRequest)
		}
		if m.Text == nil {
			return fmt.Errorf("%w: text_delta requires text", ErrBadRequest)
		}
	case TypeTextEnd, TypeCancel:
		if m.Seq == nil {
			return fmt.Errorf("%w: %s requires seq", ErrBadRequest, m.Type)
		}
	case TypeResume:
		if m.LastUnitIndexReceived == nil {
			return fmt.Errorf("%w: resume requires last_unit_index_received", ErrBadRequest)
		}
		if *m.LastUnitIndexReceived < -1 {
			return fmt.Errorf("%w: last_unit_index_received must be >= -1", ErrBadRequest)
		}
	case "":
		return fmt.Errorf("%w: type is required", ErrBadRequest)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadRequest, m.Type)
	}
	return nil
}

// Outbound is any gateway → client message placed on a session's send queue.
type Outbound interface {
	// Terminal reports whether this message ends the session's output
	// stream. After a terminal message no further messages follow.
	Terminal() bool
}

// AudioChunkMessage carries one synthesized segment. AudioBase64 is the
// base64 encoding of the chunk's PCM16LE bytes.
type AudioChunkMessage struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id"`
	Seq            int64  `json:"seq"`
	ChunkSeq       int    `json:"chunk_seq"`
	UnitIndexStart int    `json:"unit_index_start"`
	UnitIndexEnd   int    `json:"unit_index_end"`
	UnitsText      string `json:"units_text"`
	AudioFormat    string `json:"audio_format"`
	SampleRate     int    `json:"sample_rate"`
	Channels       int    `json:"channels"`
	AudioBase64    string `json:"audio_base64"`
}

// Terminal implements Outbound.
func (AudioChunkMessage) Terminal() bool { return false }

// EndMessage signals the natural end of synthesis for a session.
type EndMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
	Cancelled bool   `json:"cancelled"`
}

// Terminal implements Outbound.
func (EndMessage) Terminal() bool { return true }

// ErrorMessage reports a terminal failure for a session or connection.
type ErrorMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Terminal implements Outbound.
func (ErrorMessage) Terminal() bool { return true }
