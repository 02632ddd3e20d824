// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Provider in unit tests to feed controlled transcriptions without a live
// speech backend and to inspect the audio the pipeline submits.
package mock

import (
	"context"
	"sync"

	"github.com/surajgopal85/talktor/pkg/provider/stt"
	"github.com/surajgopal85/talktor/pkg/types"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// PCM is the audio passed to Transcribe.
	PCM []byte
	// SampleRate is the sample rate passed to Transcribe.
	SampleRate int
	// HintLanguage is the language hint passed to Transcribe.
	HintLanguage string
}

// Provider is a mock implementation of stt.Transcriber.
// Zero values for response fields cause Transcribe to return an empty
// transcription and nil error. Set Err to inject errors.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Results is exhausted.
	Result types.Transcription

	// Results, when non-empty, is consumed one element per call before
	// falling back to Result.
	Results []types.Transcription

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the configured transcription.
func (p *Provider) Transcribe(_ context.Context, pcm []byte, sampleRate int, hintLanguage string) (types.Transcription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	p.Calls = append(p.Calls, TranscribeCall{PCM: buf, SampleRate: sampleRate, HintLanguage: hintLanguage})

	if p.Err != nil {
		return types.Transcription{}, p.Err
	}
	if len(p.Results) > 0 {
		r := p.Results[0]
		p.Results = p.Results[1:]
		return r, nil
	}
	return p.Result, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Provider)(nil)
