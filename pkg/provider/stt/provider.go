// Package stt defines the Transcriber interface for speech-to-text backends.
//
// The audio segmenter hands each finalized utterance to a Transcriber as a
// single batch; there is no streaming contract. Providers that only accept
// 16 kHz input are expected to resample internally.
package stt

import (
	"context"

	"github.com/surajgopal85/talktor/pkg/types"
)

// Transcriber converts one finalized utterance of 16-bit signed little-endian
// mono PCM into text.
//
// Implementations must be safe for concurrent use; the orchestrator calls
// Transcribe from one goroutine per connected participant. An empty
// Transcription.Text with a nil error is a valid outcome (silence,
// unintelligible audio).
//
// hintLanguage is a BCP-47 code, or "auto"/"" to request detection. Providers
// without language detection echo the hint back in Transcription.Language.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, hintLanguage string) (types.Transcription, error)
}
