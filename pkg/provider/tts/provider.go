// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// Synthesis happens once per translated utterance: the input text is complete
// when the call is made, but output audio is streamed as it is generated so
// the first chunk reaches the listener before the full utterance has been
// rendered.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Synthesizer converts translated text into speech audio.
type Synthesizer interface {
	// SynthesizeStream synthesises text spoken in the given BCP-47 language
	// and returns a channel emitting raw 16-bit signed little-endian mono PCM
	// chunks at SampleRate.
	//
	// The returned channel is closed by the implementation when synthesis
	// finishes or ctx is cancelled. Callers must drain it to avoid goroutine
	// leaks. Errors after the stream has started are signalled by closing the
	// channel early; callers check ctx.Err() to distinguish cancellation.
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text, language string) (<-chan []byte, error)

	// SampleRate reports the PCM sample rate of emitted chunks in Hz.
	SampleRate() int
}
