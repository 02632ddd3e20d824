// Package whisper provides a local stt.Transcriber backed by the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded once at startup and shared across all calls; each call
// runs inference on its own whisper context, so concurrent transcription is
// safe.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/surajgopal85/talktor/pkg/audio"
	"github.com/surajgopal85/talktor/pkg/provider/stt"
	"github.com/surajgopal85/talktor/pkg/types"
)

// Compile-time assertion that Provider satisfies stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

const defaultLanguage = "auto"

// Provider implements stt.Transcriber using the whisper.cpp Go bindings.
type Provider struct {
	model    whisperlib.Model
	language string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default language applied when a call passes no hint.
// Defaults to "auto" (per-utterance detection on multilingual models).
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New creates a Provider that loads the whisper.cpp model from the given file
// path (e.g. "models/ggml-base.bin"). The caller must call Close when the
// provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Transcriber. Input is resampled to 16 kHz before
// inference. Each call creates a fresh whisper context; contexts are not
// thread-safe but the shared model is.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int, hintLanguage string) (types.Transcription, error) {
	if err := ctx.Err(); err != nil {
		return types.Transcription{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := hintLanguage
	if lang == "" {
		lang = p.language
	}

	mono := audio.ToSTTFormat(pcm, sampleRate, 1)
	samples := audio.BytesToFloat32(mono)

	wctx, err := p.model.NewContext()
	if err != nil {
		return types.Transcription{}, fmt.Errorf("whisper: create context: %w", err)
	}

	// English-only models reject "auto"; inference still runs with the
	// model's built-in language.
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using model default",
			"language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return types.Transcription{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Transcription{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	detected := lang
	if lang == "auto" {
		detected = wctx.DetectedLanguage()
	}

	return types.Transcription{
		Text:     strings.Join(parts, " "),
		Language: detected,
		Duration: audio.Duration(mono, audio.STTSampleRate, 1),
	}, nil
}
