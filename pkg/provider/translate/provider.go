// Package translate defines the Translator interface for text translation
// backends.
//
// Translation requests carry the medication terms already extracted from the
// utterance so context-aware backends can keep clinical vocabulary intact;
// backends without that capability simply ignore the field.
package translate

import "context"

// Request is a single translation job.
type Request struct {
	// Text is the source text.
	Text string

	// SourceLang is the BCP-47 source language, or "auto"/"" for detection.
	SourceLang string

	// TargetLang is the BCP-47 target language. Required.
	TargetLang string

	// Medications lists medication names mentioned in Text, in canonical
	// form when known. Context-aware backends must preserve these terms.
	Medications []string
}

// Result is a completed translation.
type Result struct {
	// Text is the translated text.
	Text string

	// DetectedSource is the source language the backend detected, when the
	// request asked for detection and the backend reports it.
	DetectedSource string

	// Provider names the backend that produced the result, for logging and
	// message metadata.
	Provider string
}

// Translator converts text between languages.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
type Translator interface {
	// Name identifies the backend (e.g. "google", "llm"). Stable across calls.
	Name() string

	// Translate performs one translation.
	Translate(ctx context.Context, req Request) (Result, error)
}
