package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/surajgopal85/talktor/internal/conversation"
	"github.com/surajgopal85/talktor/internal/learning"
	"github.com/surajgopal85/talktor/internal/specialty"
	"github.com/surajgopal85/talktor/internal/store"
	"github.com/surajgopal85/talktor/pkg/audio"
	"github.com/surajgopal85/talktor/pkg/provider/translate"
	"github.com/surajgopal85/talktor/pkg/types"
)

// maxUploadBytes bounds one speech-to-text upload.
const maxUploadBytes = 10 << 20

// maxJSONBytes bounds one JSON request body.
const maxJSONBytes = 1 << 20

// ─── Conversation lifecycle ─────────────────────────────────────────────────

// websocketURLs tells each participant where to connect.
type websocketURLs struct {
	Doctor  string `json:"doctor"`
	Patient string `json:"patient"`
}

// createConversationResponse is returned by POST /conversation/create.
type createConversationResponse struct {
	SessionID       string        `json:"session_id"`
	DoctorLanguage  string        `json:"doctor_language"`
	PatientLanguage string        `json:"patient_language"`
	Specialty       string        `json:"specialty"`
	WebsocketURLs   websocketURLs `json:"websocket_urls"`
	Status          string        `json:"status"`
}

// handleCreateConversation handles POST /conversation/create.
func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var cfg conversation.SessionConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	info, err := s.orchestrator.CreateSession(r.Context(), cfg)
	if err != nil {
		http.Error(w, "session not created", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusCreated, createConversationResponse{
		SessionID:       info.ID,
		DoctorLanguage:  info.DoctorLanguage,
		PatientLanguage: info.PatientLanguage,
		Specialty:       info.Specialty,
		WebsocketURLs: websocketURLs{
			Doctor:  fmt.Sprintf("/conversation/ws/%s/doctor", info.ID),
			Patient: fmt.Sprintf("/conversation/ws/%s/patient", info.ID),
		},
		Status: "ready",
	})
}

// handleEndConversation handles POST /conversation/end. The response is the
// session's final summary.
func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	sum, err := s.orchestrator.EndSession(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, conversation.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "session not ended", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleActiveConversations handles GET /conversation/active.
func (s *Server) handleActiveConversations(w http.ResponseWriter, r *http.Request) {
	sessions := s.orchestrator.ActiveSessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": sessions,
		"count":           len(sessions),
	})
}

// ─── One-shot speech-to-text ────────────────────────────────────────────────

// speechToTextResponse is returned by POST /speech-to-text.
type speechToTextResponse struct {
	Text            string  `json:"text"`
	Language        string  `json:"language"`
	Confidence      float64 `json:"confidence"`
	DurationSeconds float64 `json:"duration_seconds"`
	SessionID       string  `json:"session_id,omitempty"`
}

// handleSpeechToText handles POST /speech-to-text: a multipart upload with a
// WAV file under "audio", an optional "language" hint, and an optional
// "session_id" to append the transcription to a session ledger.
func (s *Server) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "body must be multipart form data up to 10 MB", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, `an "audio" file is required`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "audio upload not readable", http.StatusBadRequest)
		return
	}
	pcm, sampleRate, channels, err := audio.DecodeWAV(data)
	if err != nil {
		http.Error(w, "audio must be 16-bit PCM WAV", http.StatusBadRequest)
		return
	}
	pcm = audio.ToSTTFormat(pcm, sampleRate, channels)

	hint := r.FormValue("language")
	began := time.Now()
	tr, err := s.transcriber.Transcribe(r.Context(), pcm, audio.STTSampleRate, hint)
	if err != nil {
		s.metrics.RecordProviderError(r.Context(), "stt", "transcribe")
		s.log.Error("one-shot transcription failed", "error", err)
		http.Error(w, "transcription unavailable", http.StatusBadGateway)
		return
	}
	s.metrics.TranscribeDuration.Record(r.Context(), time.Since(began).Seconds())

	sessionID := r.FormValue("session_id")
	if sessionID != "" && strings.TrimSpace(tr.Text) != "" {
		if err := s.ledger.StoreUtterance(r.Context(), sessionID, store.Utterance{
			Speaker:    types.RoleSystem,
			Text:       tr.Text,
			Language:   tr.Language,
			Confidence: tr.Confidence,
		}); err != nil {
			s.log.Warn("transcription not persisted", "session_id", sessionID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, speechToTextResponse{
		Text:            tr.Text,
		Language:        tr.Language,
		Confidence:      tr.Confidence,
		DurationSeconds: audio.Duration(pcm, audio.STTSampleRate, 1).Seconds(),
		SessionID:       sessionID,
	})
}

// ─── One-shot medical translation ───────────────────────────────────────────

// medicalTranslateRequest is the body of POST /translate/medical.
type medicalTranslateRequest struct {
	Text           string            `json:"text"`
	SourceLanguage string            `json:"source_language,omitempty"`
	TargetLanguage string            `json:"target_language,omitempty"`
	Specialty      string            `json:"specialty,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	Profile        specialty.Profile `json:"patient_profile,omitempty"`
}

// medicationView is the per-medication slice of a medical translation
// response. Safety and Category are present only on specialty-routed
// requests.
type medicationView struct {
	Term              string                `json:"term"`
	CanonicalName     string                `json:"canonical_name,omitempty"`
	Confidence        float64               `json:"confidence"`
	Strategy          string                `json:"strategy"`
	RxCUI             string                `json:"rxcui,omitempty"`
	PregnancyCategory string                `json:"pregnancy_category,omitempty"`
	BrandNames        []string              `json:"brand_names,omitempty"`
	Category          string                `json:"category,omitempty"`
	RiskFlagged       bool                  `json:"risk_flagged,omitempty"`
	Safety            *specialty.SafetyInfo `json:"safety,omitempty"`
}

// medicalTranslateResponse is returned by POST /translate/medical.
type medicalTranslateResponse struct {
	OriginalText   string                 `json:"original_text"`
	TranslatedText string                 `json:"translated_text"`
	SourceLanguage string                 `json:"source_language"`
	TargetLanguage string                 `json:"target_language"`
	Specialty      string                 `json:"specialty"`
	Fallback       bool                   `json:"fallback,omitempty"`
	Provider       string                 `json:"provider,omitempty"`
	Medications    []medicationView       `json:"medical_terms"`
	SafetyFlags    []specialty.SafetyFlag `json:"safety_flags,omitempty"`
	FollowUps      []string               `json:"follow_up_questions,omitempty"`
	ExtractionID   string                 `json:"extraction_id,omitempty"`
	ReviewNeeded   bool                   `json:"review_needed,omitempty"`
}

// handleMedicalTranslate handles POST /translate/medical: specialty routing,
// medication extraction, and a medication-aware translation in one shot,
// without a live session. Provider failures degrade the same way a
// conversation turn does: extraction failures yield zero medications and a
// failed translation echoes the source text tagged as a fallback.
func (s *Server) handleMedicalTranslate(w http.ResponseWriter, r *http.Request) {
	var req medicalTranslateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if req.SourceLanguage == "" {
		req.SourceLanguage = "auto"
	}
	if req.TargetLanguage == "" {
		req.TargetLanguage = "en"
	}

	resp := medicalTranslateResponse{
		OriginalText:   req.Text,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Medications:    []medicationView{},
	}

	// Medical analysis mirrors the conversation pipeline: specialty first,
	// plain extraction otherwise, and failures degrade to zero medications.
	var medications []string
	name := s.specialties.Detect(req.Specialty, req.Text, req.Profile)
	resp.Specialty = name
	if sp, ok := s.specialties.Resolve(name); ok {
		assessment, err := sp.Process(r.Context(), req.Text, req.SessionID, req.Profile)
		if err != nil {
			s.log.Warn("specialty analysis failed", "specialty", name, "error", err)
		} else {
			resp.ExtractionID = assessment.ExtractionID
			resp.SafetyFlags = assessment.Flags
			resp.FollowUps = assessment.Suggestions
			resp.ReviewNeeded = assessment.ReviewNeeded
			for _, m := range assessment.Medications {
				medications = append(medications, m.Record.DisplayName())
				safety := m.Safety
				resp.Medications = append(resp.Medications, medicationView{
					Term:              m.Term,
					CanonicalName:     m.Record.CanonicalName,
					Confidence:        m.Confidence,
					Strategy:          string(m.Strategy),
					RxCUI:             m.Record.RxCUI,
					PregnancyCategory: m.Record.PregnancyCategory,
					BrandNames:        m.Record.BrandNames,
					Category:          m.Category,
					RiskFlagged:       m.RiskFlagged,
					Safety:            &safety,
				})
			}
		}
	} else {
		result, err := s.extractor.Extract(r.Context(), req.Text, req.SessionID, specialty.General)
		if err != nil {
			s.log.Warn("medication extraction failed", "error", err)
		} else {
			resp.ExtractionID = result.ExtractionID
			for _, m := range result.Medications {
				medications = append(medications, m.Record.DisplayName())
				resp.Medications = append(resp.Medications, medicationView{
					Term:              m.Term,
					CanonicalName:     m.Record.CanonicalName,
					Confidence:        m.Confidence,
					Strategy:          string(m.Strategy),
					RxCUI:             m.Record.RxCUI,
					PregnancyCategory: m.Record.PregnancyCategory,
					BrandNames:        m.Record.BrandNames,
				})
			}
		}
	}

	res, err := s.translator.Translate(r.Context(), translate.Request{
		Text:        req.Text,
		SourceLang:  req.SourceLanguage,
		TargetLang:  req.TargetLanguage,
		Medications: medications,
	})
	if err != nil || res.Text == "" {
		if err != nil {
			s.metrics.RecordProviderError(r.Context(), "translate", "translate")
			s.log.Warn("translation failed, echoing source text", "error", err)
		}
		res = translate.Result{Text: req.Text, DetectedSource: req.SourceLanguage, Provider: translate.ProviderEcho}
	}
	resp.TranslatedText = res.Text
	resp.Provider = res.Provider
	resp.Fallback = res.Provider == translate.ProviderEcho
	if resp.Fallback {
		s.metrics.TranslationFallbacks.Add(r.Context(), 1)
	}
	if res.DetectedSource != "" {
		resp.SourceLanguage = res.DetectedSource
	}

	if req.SessionID != "" {
		if err := s.ledger.StoreTranslation(r.Context(), req.SessionID, store.Translation{
			Speaker:        types.RoleSystem,
			Original:       req.Text,
			Translated:     resp.TranslatedText,
			SourceLanguage: resp.SourceLanguage,
			TargetLanguage: resp.TargetLanguage,
			Specialty:      resp.Specialty,
			Medications:    medications,
			FollowUps:      resp.FollowUps,
			Fallback:       resp.Fallback,
		}); err != nil {
			s.log.Warn("translation not persisted", "session_id", req.SessionID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ─── Session ledger ─────────────────────────────────────────────────────────

// handleGetSession handles GET /session/{sessionID}: the stored interaction
// ledger, oldest first.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ledger.GetSession(r.Context(), r.PathValue("sessionID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "session not readable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleDeleteSession handles DELETE /session/{sessionID}, the privacy
// deletion path. The stored ledger is removed; a live session keeps running
// until it is ended or reaped.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if err := s.ledger.DeleteSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "session not deleted", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"status":     "deleted",
	})
}

// ─── Extraction feedback and analytics ──────────────────────────────────────

// handleExtractionFeedback handles POST /feedback/extraction/{extractionID}.
func (s *Server) handleExtractionFeedback(w http.ResponseWriter, r *http.Request) {
	extractionID := r.PathValue("extractionID")

	var fb learning.Feedback
	if err := decodeJSON(w, r, &fb); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(fb.Terms) == 0 {
		http.Error(w, "feedback must judge at least one term", http.StatusBadRequest)
		return
	}

	if err := s.learning.RecordFeedback(r.Context(), extractionID, fb); err != nil {
		if errors.Is(err, learning.ErrNotFound) {
			http.Error(w, "extraction attempt not found", http.StatusNotFound)
			return
		}
		s.log.Error("feedback not recorded", "extraction_id", extractionID, "error", err)
		http.Error(w, "feedback not recorded", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"extraction_id": extractionID,
		"status":        "recorded",
		"terms_judged":  len(fb.Terms),
	})
}

// handleLearningAnalytics handles GET /learning/analytics. An optional
// "days" query parameter selects the trailing window.
func (s *Server) handleLearningAnalytics(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "days must be a non-negative integer", http.StatusBadRequest)
			return
		}
		days = n
	}

	analytics, err := s.learning.Analytics(r.Context(), days)
	if err != nil {
		s.log.Error("analytics query failed", "error", err)
		http.Error(w, "analytics unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

// ─── JSON helpers ───────────────────────────────────────────────────────────

// decodeJSON reads one bounded JSON body into v. The returned error message
// is safe to send to the client.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("body is not valid JSON")
	}
	return nil
}

// writeJSON serialises v with the given status. Encoding failures are only
// logged by net/http; the status has already been committed.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
