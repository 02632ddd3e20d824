// Package openai provides a tts.Synthesizer backed by the OpenAI speech API.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/surajgopal85/talktor/pkg/provider/tts"
)

const (
	// DefaultModel is the default OpenAI speech model.
	DefaultModel = string(oai.SpeechModelTTS1)

	// DefaultVoice is used when no voice is configured.
	DefaultVoice = string(oai.AudioSpeechNewParamsVoiceAlloy)

	// pcmSampleRate is the sample rate of OpenAI's raw PCM response format.
	pcmSampleRate = 24000

	// chunkBytes is the size of chunks emitted on the audio channel: 100 ms of
	// 16-bit mono at 24 kHz. Small enough to keep playback latency low, large
	// enough to avoid channel churn.
	chunkBytes = pcmSampleRate / 10 * 2
)

// Ensure Provider implements the tts.Synthesizer interface.
var _ tts.Synthesizer = (*Provider)(nil)

// Provider implements tts.Synthesizer using the OpenAI speech API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	voice   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithVoice selects the voice used for synthesis (e.g. "alloy", "nova").
func WithVoice(voice string) Option {
	return func(c *config) {
		c.voice = voice
	}
}

// WithTimeout sets a per-request HTTP timeout. The timeout covers the whole
// response stream, so it should comfortably exceed the longest utterance.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI speech Provider.
// If model is empty, DefaultModel (tts-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{voice: DefaultVoice}
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

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, voice: cfg.voice}, nil
}

// SynthesizeStream implements tts.Synthesizer. The response body is raw
// 24 kHz 16-bit mono PCM, re-chunked onto the channel in 100 ms pieces.
//
// The OpenAI voices are multilingual, so the language parameter does not
// select a different voice; it is accepted for interface compatibility.
func (p *Provider) SynthesizeStream(ctx context.Context, text, language string) (<-chan []byte, error) {
	if text == "" {
		return nil, fmt.Errorf("openai tts: text must not be empty")
	}
	_ = language

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: synthesize: %w", err)
	}

	ch := make(chan []byte, 8)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		buf := make([]byte, 0, chunkBytes)
		read := make([]byte, chunkBytes)
		for {
			n, err := resp.Body.Read(read)
			if n > 0 {
				buf = append(buf, read[:n]...)
				// Emit only whole samples; a trailing odd byte is carried
				// into the next read.
				for len(buf) >= chunkBytes {
					chunk := make([]byte, chunkBytes)
					copy(chunk, buf[:chunkBytes])
					buf = buf[chunkBytes:]
					select {
					case ch <- chunk:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				if err == io.EOF && len(buf) >= 2 {
					tail := buf[:len(buf)&^1]
					select {
					case ch <- tail:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()
	return ch, nil
}

// SampleRate implements tts.Synthesizer.
func (p *Provider) SampleRate() int {
	return pcmSampleRate
}
