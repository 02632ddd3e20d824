package conversation

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/surajgopal85/talktor/internal/specialty"
	"github.com/surajgopal85/talktor/pkg/types"
)

// Stage names used in latency tracking and log fields.
const (
	stageTranscribe = "transcribe"
	stageExtract    = "extract"
	stageTranslate  = "translate"
	stageSynthesize = "synthesize"
)

// emaAlpha is the weight of the newest sample in the per-stage latency
// averages. The first sample seeds the average directly.
const emaAlpha = 0.2

// stageEMA holds exponentially weighted moving averages of stage latencies
// in milliseconds. Guarded by the owning session's mutex.
type stageEMA struct {
	transcribeMS float64
	extractMS    float64
	translateMS  float64
	synthesizeMS float64
}

func (e *stageEMA) observe(stage string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	switch stage {
	case stageTranscribe:
		e.transcribeMS = ema(e.transcribeMS, ms)
	case stageExtract:
		e.extractMS = ema(e.extractMS, ms)
	case stageTranslate:
		e.translateMS = ema(e.translateMS, ms)
	case stageSynthesize:
		e.synthesizeMS = ema(e.synthesizeMS, ms)
	}
}

func (e stageEMA) snapshot() LatencySnapshot {
	return LatencySnapshot{
		TranscribeMS: e.transcribeMS,
		ExtractMS:    e.extractMS,
		TranslateMS:  e.translateMS,
		SynthesizeMS: e.synthesizeMS,
	}
}

// ema folds one sample into the running average.
func ema(prev, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return emaAlpha*sample + (1-emaAlpha)*prev
}

// session is the live state of one conversation. The immutable identity
// fields are set at creation; everything below mu changes as turns run.
type session struct {
	id              string
	doctorLanguage  string
	patientLanguage string
	specialty       string
	profile         specialty.Profile
	createdAt       time.Time

	// ctx governs the session's turn pipeline. It derives from Background
	// rather than the creating request: the session outlives that request
	// and is cancelled by EndSession or the idle reaper.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	lastActivity time.Time
	messages     []types.Message
	alerts       []specialty.SafetyFlag
	medications  []string
	medSeen      map[string]struct{}
	counts       map[types.SpeakerRole]int
	latency      stageEMA
	workers      map[types.SpeakerRole]*turnWorker
}

// languageFor returns the configured language of a participant. System
// messages use English.
func (s *session) languageFor(role types.SpeakerRole) string {
	switch role {
	case types.RoleDoctor:
		return s.doctorLanguage
	case types.RolePatient:
		return s.patientLanguage
	default:
		return "en"
	}
}

// touch marks ingestion activity so a session with queued work is never
// reaped mid-turn.
func (s *session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

// idleBefore reports whether the session saw no activity since cutoff.
func (s *session) idleBefore(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity.Before(cutoff)
}

// logMessage appends msg to the session's ordered message log.
func (s *session) logMessage(msg types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.counts[msg.Speaker]++
	if msg.Timestamp.After(s.lastActivity) {
		s.lastActivity = msg.Timestamp
	}
}

// addMedications records newly discussed medications, deduplicated
// case-insensitively, keeping first-mention order.
func (s *session) addMedications(terms []string) {
	if len(terms) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range terms {
		key := strings.ToLower(t)
		if _, ok := s.medSeen[key]; ok {
			continue
		}
		s.medSeen[key] = struct{}{}
		s.medications = append(s.medications, t)
	}
}

// addAlerts records every safety flag raised against the session, urgent or
// not. Only urgent ones are broadcast; all of them count toward the summary.
func (s *session) addAlerts(flags []specialty.SafetyFlag) {
	if len(flags) == 0 {
		return
	}
	s.mu.Lock()
	s.alerts = append(s.alerts, flags...)
	s.mu.Unlock()
}

// observeStage folds one stage latency sample into the session averages.
func (s *session) observeStage(stage string, d time.Duration) {
	s.mu.Lock()
	s.latency.observe(stage, d)
	s.mu.Unlock()
}

// summarySnapshot returns the most recent n transcription texts in spoken
// order, the medications discussed so far, and the alert count.
func (s *session) summarySnapshot(n int) (recent, medications []string, alerts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0 && len(recent) < n; i-- {
		if s.messages[i].Type == types.MessageTranscription {
			recent = append(recent, s.messages[i].Content)
		}
	}
	slices.Reverse(recent)
	medications = append([]string(nil), s.medications...)
	return recent, medications, len(s.alerts)
}

// info snapshots the session for the active-sessions listing.
func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:              s.id,
		DoctorLanguage:  s.doctorLanguage,
		PatientLanguage: s.patientLanguage,
		Specialty:       s.specialty,
		CreatedAt:       s.createdAt,
		LastActivity:    s.lastActivity,
		MessageCount:    len(s.messages),
		AlertCount:      len(s.alerts),
		Medications:     append([]string(nil), s.medications...),
		Latency:         s.latency.snapshot(),
	}
}

// summary builds the final session report.
func (s *session) summary(now time.Time) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	meds := make([]string, len(s.medications))
	copy(meds, s.medications)
	return Summary{
		SessionID:       s.id,
		DurationMinutes: now.Sub(s.createdAt).Minutes(),
		MessageCounts: MessageCounts{
			Doctor:  s.counts[types.RoleDoctor],
			Patient: s.counts[types.RolePatient],
			Total:   len(s.messages),
		},
		Medications: meds,
		AlertCount:  len(s.alerts),
		Languages:   Languages{Doctor: s.doctorLanguage, Patient: s.patientLanguage},
		CompletedAt: now,
	}
}
