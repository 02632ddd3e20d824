// Package conversation orchestrates live bilingual doctor–patient sessions.
//
// A session pairs one doctor and one patient, each speaking their own
// language over their own WebSocket connection. Every finalized utterance
// becomes a turn that runs through a fixed pipeline:
//
//  1. Transcribe the audio (skipped for client-supplied transcriptions).
//  2. Broadcast the transcription to both participants immediately.
//  3. Route the text to a medical specialty and extract medications.
//  4. Broadcast urgent safety alerts, always ahead of the translation.
//  5. Translate toward the other participant's language, with the extracted
//     medications as context. Translation never drops a turn: when every
//     backend fails the source text is echoed and tagged as a fallback.
//  6. Broadcast the translation.
//  7. Stream synthesized speech to the listening side when the translated
//     text differs from the source.
//  8. Recompute and broadcast the rolling conversation summary.
//
// Turns are processed strictly in order per participant, while the two
// participants' turns interleave freely. Ingestion never blocks on a slow
// turn; work queues behind the participant's in-flight turn instead.
package conversation

import (
	"errors"
	"time"

	"github.com/surajgopal85/talktor/internal/specialty"
	"github.com/surajgopal85/talktor/pkg/types"
)

// ErrSessionNotFound is returned for operations on unknown or ended sessions.
var ErrSessionNotFound = errors.New("conversation: session not found")

// ErrNotConnected is returned by [Registry.Send] when the role has no
// registered channel in the session.
var ErrNotConnected = errors.New("conversation: no channel for role")

// DefaultIdleTimeout is how long a session may stay inactive before the
// reaper ends it.
const DefaultIdleTimeout = time.Hour

// summaryWindow is how many recent transcriptions the rolling conversation
// summary carries.
const summaryWindow = 10

// capabilities is announced to every newly connected participant.
var capabilities = []string{"audio_streaming", "real_time_translation", "medical_intelligence"}

// Channel delivers messages to one connected participant. The WebSocket
// layer adapts its connections to this interface; tests substitute fakes.
//
// Send is called concurrently from broadcast and turn goroutines, so
// implementations must be safe for concurrent use. A returned error marks
// the channel dead: the registry prunes it and stops delivering.
type Channel interface {
	Send(msg types.Message) error
}

// SessionConfig carries the parameters of a new conversation session. Zero
// values fall back to the defaults: an English-speaking doctor, a
// Spanish-speaking patient, and general specialty routing.
type SessionConfig struct {
	DoctorLanguage  string            `json:"doctor_language"`
	PatientLanguage string            `json:"patient_language"`
	Specialty       string            `json:"specialty"`
	Profile         specialty.Profile `json:"patient_profile"`
}

// SessionInfo is a point-in-time snapshot of a live session, as exposed on
// the active-sessions listing.
type SessionInfo struct {
	ID              string          `json:"session_id"`
	DoctorLanguage  string          `json:"doctor_language"`
	PatientLanguage string          `json:"patient_language"`
	Specialty       string          `json:"specialty"`
	CreatedAt       time.Time       `json:"created_at"`
	LastActivity    time.Time       `json:"last_activity"`
	MessageCount    int             `json:"message_count"`
	AlertCount      int             `json:"alert_count"`
	Medications     []string        `json:"medications_discussed,omitempty"`
	Latency         LatencySnapshot `json:"latency"`
}

// Summary is the final report returned when a session ends.
type Summary struct {
	SessionID       string        `json:"session_id"`
	DurationMinutes float64       `json:"duration_minutes"`
	MessageCounts   MessageCounts `json:"message_count"`
	Medications     []string      `json:"medications_discussed"`
	AlertCount      int           `json:"alert_count"`
	Languages       Languages     `json:"languages"`
	CompletedAt     time.Time     `json:"completed_at"`
}

// MessageCounts breaks the session message log down by speaker. Total also
// counts system messages (alerts), so it can exceed doctor plus patient.
type MessageCounts struct {
	Doctor  int `json:"doctor"`
	Patient int `json:"patient"`
	Total   int `json:"total"`
}

// Languages is the session's configured language pair.
type Languages struct {
	Doctor  string `json:"doctor"`
	Patient string `json:"patient"`
}

// LatencySnapshot reports the session's per-stage latency averages in
// milliseconds. Stages the session has not exercised yet read zero.
type LatencySnapshot struct {
	TranscribeMS float64 `json:"transcribe_ms,omitempty"`
	ExtractMS    float64 `json:"extract_ms,omitempty"`
	TranslateMS  float64 `json:"translate_ms,omitempty"`
	SynthesizeMS float64 `json:"synthesize_ms,omitempty"`
}
