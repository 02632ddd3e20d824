package resilience

import (
	"context"

	"github.com/surajgopal85/talktor/pkg/provider/tts"
)

// SynthesizerFallback implements [tts.Synthesizer] with automatic failover
// across multiple speech backends. Each backend has its own circuit breaker.
type SynthesizerFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*SynthesizerFallback)(nil)

// NewSynthesizerFallback creates a [SynthesizerFallback] with primary as the
// preferred backend.
func NewSynthesizerFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *SynthesizerFallback {
	return &SynthesizerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional speech backend as a fallback.
func (f *SynthesizerFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// SynthesizeStream starts synthesis against the first healthy backend. Only
// the initial stream setup is covered by failover; mid-stream errors are the
// caller's responsibility.
func (f *SynthesizerFallback) SynthesizeStream(ctx context.Context, text, language string) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) (<-chan []byte, error) {
		return s.SynthesizeStream(ctx, text, language)
	})
}

// SampleRate reports the primary backend's sample rate. Backends in one group
// must agree on the rate; the pipeline stamps it on every audio chunk.
func (f *SynthesizerFallback) SampleRate() int {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.SampleRate()
	}
	return 0
}
