// Package types defines the shared types used across all talktor packages.
//
// These types form the lingua franca between the audio segmenter, the speech
// providers, the conversation orchestrator, and the storage layers. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// SpeakerRole identifies a conversation participant.
type SpeakerRole string

const (
	RoleDoctor  SpeakerRole = "doctor"
	RolePatient SpeakerRole = "patient"
	RoleSystem  SpeakerRole = "system"
)

// IsValid reports whether the role is one a client may connect as. The system
// role is reserved for server-generated messages.
func (r SpeakerRole) IsValid() bool {
	return r == RoleDoctor || r == RolePatient
}

// Other returns the opposite participant role. The system role maps to itself.
func (r SpeakerRole) Other() SpeakerRole {
	switch r {
	case RoleDoctor:
		return RolePatient
	case RolePatient:
		return RoleDoctor
	default:
		return r
	}
}

// MessageType enumerates the kinds of messages delivered over a session
// channel.
type MessageType string

const (
	MessageTranscription MessageType = "transcription"
	MessageTranslation   MessageType = "translation"
	MessageMedicalAlert  MessageType = "medical_alert"
	MessageSummary       MessageType = "conversation_summary"
	MessageTTSAudioChunk MessageType = "tts_audio_chunk"
	MessageSystemStatus  MessageType = "system_status"
	MessageError         MessageType = "error"
)

// Message is the wire unit delivered to connected participants. All fields
// serialise to the snake_case JSON shape clients consume.
type Message struct {
	// ID uniquely identifies the message.
	ID string `json:"id"`

	// SessionID is the conversation session this message belongs to.
	SessionID string `json:"session_id"`

	// Speaker is the role that produced the content (system for
	// server-generated messages such as alerts and summaries).
	Speaker SpeakerRole `json:"speaker"`

	// Type classifies the payload.
	Type MessageType `json:"message_type"`

	// Content is the primary human-readable payload.
	Content string `json:"content"`

	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`

	// Language is the BCP-47 language of Content, when it has one.
	Language string `json:"language,omitempty"`

	// Metadata carries type-specific structured detail (confidence scores,
	// medication lists, fallback markers, audio sequence numbers, ...).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Utterance is a finalized span of speech produced by the audio segmenter,
// ready for transcription.
type Utterance struct {
	// PCM is 16-bit signed little-endian mono audio.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Duration is the playback length of PCM.
	Duration time.Duration
}

// Transcription is a speech-to-text result. Empty Text is a valid outcome
// (silence, unintelligible audio).
type Transcription struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the detected or hinted language of Text.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Duration is the length of the source audio.
	Duration time.Duration
}
