// Package openaitts provides a synthesis engine backed by the OpenAI speech
// endpoint. It implements the engine.Engine interface: one API call per
// segment, with the fixed-format PCM response adapted to the session's spec.
package openaitts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxgate/voxgate/pkg/audio"
	"github.com/voxgate/voxgate/pkg/engine"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = oai.SpeechModelGPT4oMiniTTS

// DefaultVoice is the voice used when none is configured.
const DefaultVoice = "alloy"

// pcmSampleRate is the fixed sample rate of the OpenAI PCM response format
// (24 kHz, 16-bit little-endian, mono).
const pcmSampleRate = 24000

// config holds optional configuration for the engine.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Ensure Engine implements the engine.Engine interface.
var _ engine.Engine = (*Engine)(nil)

// Engine implements engine.Engine using the OpenAI speech API.
type Engine struct {
	client oai.Client
	model  oai.SpeechModel
	voice  string
}

// New constructs a new OpenAI speech Engine. If model or voice are empty,
// DefaultModel and DefaultVoice are used.
func New(apiKey, model, voice string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openaitts: apiKey must not be empty")
	}
	if model == "" {
		model = string(DefaultModel)
	}
	if voice == "" {
		voice = DefaultVoice
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Engine{
		client: oai.NewClient(reqOpts...),
		model:  oai.SpeechModel(model),
		voice:  voice,
	}, nil
}

// SynthesizePCM16 implements engine.Engine. The OpenAI PCM response format is
// always 24 kHz mono; the result is resampled and channel-converted to spec.
func (e *Engine) SynthesizePCM16(ctx context.Context, text string, spec audio.Spec) ([]byte, error) {
	res, err := e.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          e.model,
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(e.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openaitts: speech request: %w", err)
	}
	defer res.Body.Close()

	pcm, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("openaitts: read response: %w", err)
	}

	produced := audio.Spec{Format: spec.Format, SampleRate: pcmSampleRate, Channels: 1}
	return audio.ConvertPCM16(pcm, produced, spec), nil
}
