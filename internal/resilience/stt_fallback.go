package resilience

import (
	"context"

	"github.com/surajgopal85/talktor/pkg/provider/stt"
	"github.com/surajgopal85/talktor/pkg/types"
)

// TranscriberFallback implements [stt.Transcriber] with automatic failover
// across multiple transcription backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcription backend as a fallback.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe runs the utterance against the first healthy backend.
func (f *TranscriberFallback) Transcribe(ctx context.Context, pcm []byte, sampleRate int, hintLanguage string) (types.Transcription, error) {
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (types.Transcription, error) {
		return t.Transcribe(ctx, pcm, sampleRate, hintLanguage)
	})
}
