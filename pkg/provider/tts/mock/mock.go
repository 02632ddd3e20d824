// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to feed controlled audio chunks to consumers and to verify
// the text and language passed to the TTS backend.
//
// Example:
//
//	s := &mock.Synthesizer{
//	    Chunks: [][]byte{{0x01, 0x00}, {0x02, 0x00}},
//	    Rate:   16000,
//	}
//	ch, _ := s.SynthesizeStream(ctx, "hola", "es")
package mock

import (
	"context"
	"sync"

	"github.com/surajgopal85/talktor/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of SynthesizeStream.
type SynthesizeCall struct {
	// Text is the text passed to SynthesizeStream.
	Text string
	// Language is the language passed to SynthesizeStream.
	Language string
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Chunks is the sequence of audio byte slices emitted on the channel
	// returned by SynthesizeStream.
	Chunks [][]byte

	// Err, if non-nil, is returned from SynthesizeStream instead of a channel.
	Err error

	// Rate is reported by SampleRate. Defaults to 24000 when zero.
	Rate int

	// --- Call records ---

	// Calls records every call to SynthesizeStream in order.
	Calls []SynthesizeCall
}

// SynthesizeStream records the call and, if Err is nil, returns a channel
// that emits Chunks then closes.
func (s *Synthesizer) SynthesizeStream(ctx context.Context, text, language string) (<-chan []byte, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, SynthesizeCall{Text: text, Language: language})
	if s.Err != nil {
		err := s.Err
		s.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(s.Chunks))
	copy(chunks, s.Chunks)
	s.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, audio := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- audio:
			}
		}
	}()
	return ch, nil
}

// SampleRate reports Rate, or 24000 when unset.
func (s *Synthesizer) SampleRate() int {
	if s.Rate == 0 {
		return 24000
	}
	return s.Rate
}

// Reset clears all recorded calls. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
