// Package elevenlabs provides an ElevenLabs-backed synthesis engine using the
// ElevenLabs streaming WebSocket API. It implements the engine.Engine
// interface by opening one stream-input connection per segment, draining the
// audio it produces, and adapting it to the session's audio spec.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/pkg/audio"
	"github.com/voxgate/voxgate/pkg/engine"
)

const (
	wsEndpointFmt = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultModel  = "eleven_flash_v2_5"
)

// Option is a functional option for configuring the ElevenLabs Engine.
type Option func(*Engine)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithEndpoint overrides the WebSocket endpoint format string. Used by tests
// to point the engine at a local server; the format string must accept voice
// ID, model ID, and output format in that order.
func WithEndpoint(format string) Option {
	return func(e *Engine) {
		e.endpointFmt = format
	}
}

// Ensure Engine implements the engine.Engine interface.
var _ engine.Engine = (*Engine)(nil)

// Engine implements engine.Engine backed by the ElevenLabs streaming API.
//
// ElevenLabs offers PCM output at a fixed set of sample rates; when the
// session spec asks for a rate or channel count the API does not produce
// directly, the engine synthesizes at the nearest supported rate and converts.
type Engine struct {
	apiKey      string
	voiceID     string
	model       string
	endpointFmt string
}

// New creates a new ElevenLabs Engine. apiKey and voiceID must be non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	e := &Engine{
		apiKey:      apiKey,
		voiceID:     voiceID,
		model:       defaultModel,
		endpointFmt: wsEndpointFmt,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for a text fragment.
// An empty Text flushes and closes the stream.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// pcmRates are the PCM output sample rates ElevenLabs supports.
var pcmRates = []int{16000, 22050, 24000, 44100}

// outputFormatFor picks the closest supported PCM output format for rate and
// returns the format name with the rate it carries.
func outputFormatFor(rate int) (string, int) {
	best := pcmRates[0]
	for _, r := range pcmRates[1:] {
		if abs(r-rate) < abs(best-rate) {
			best = r
		}
	}
	return fmt.Sprintf("pcm_%d", best), best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// SynthesizePCM16 implements engine.Engine. It opens a stream-input
// WebSocket, sends the segment followed by a flush, and collects audio until
// the final frame or stream close.
func (e *Engine) SynthesizePCM16(ctx context.Context, text string, spec audio.Spec) ([]byte, error) {
	outputFormat, producedRate := outputFormatFor(spec.SampleRate)

	wsURL := fmt.Sprintf(e.endpointFmt, e.voiceID, e.model, outputFormat)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// BOI handshake: ElevenLabs requires a non-empty first text value.
	boi := textMessage{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		XiAPIKey:      e.apiKey,
	}
	if err := writeJSON(ctx, conn, boi); err != nil {
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	if err := writeJSON(ctx, conn, textMessage{Text: text}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	// Empty text flushes the stream and asks for the final frame.
	if err := writeJSON(ctx, conn, textMessage{Text: ""}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			// Normal closure after the final frame is how some model
			// versions end the stream.
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(pcm) > 0 {
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}

	produced := audio.Spec{Format: spec.Format, SampleRate: producedRate, Channels: 1}
	return audio.ConvertPCM16(pcm, produced, spec), nil
}

// writeJSON marshals v and writes it as a text frame.
func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
