package conversation

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/surajgopal85/talktor/internal/extraction"
	"github.com/surajgopal85/talktor/internal/specialty"
	"github.com/surajgopal85/talktor/internal/store"
	"github.com/surajgopal85/talktor/pkg/provider/translate"
	"github.com/surajgopal85/talktor/pkg/types"
)

// turnInput is one queued turn. Exactly one of utterance or transcription is
// set: audio turns carry the utterance and get transcribed, text turns carry
// the transcription as-is.
type turnInput struct {
	utterance     *types.Utterance
	transcription types.Transcription
}

// turnWorker serialises the turns of one participant. Enqueue never blocks;
// turns run in FIFO order on the worker goroutine so a speaker's
// translations arrive in speaking order even while the other participant's
// worker makes progress in parallel.
type turnWorker struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func newTurnWorker() *turnWorker {
	return &turnWorker{wake: make(chan struct{}, 1)}
}

// enqueue appends a turn and nudges the worker.
func (w *turnWorker) enqueue(turn func()) {
	w.mu.Lock()
	w.queue = append(w.queue, turn)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest queued turn, or nil when the queue is empty.
func (w *turnWorker) next() func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	turn := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return turn
}

// run executes queued turns until ctx is cancelled. Turns still queued at
// cancellation are dropped.
func (w *turnWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			for {
				turn := w.next()
				if turn == nil {
					break
				}
				if ctx.Err() != nil {
					return
				}
				turn()
			}
		}
	}
}

// turnAnalysis is the medical read on one turn's transcription.
type turnAnalysis struct {
	specialty   string
	medications []string
	flags       []specialty.SafetyFlag
	suggestions []string
}

// runTurn drives one utterance through the full pipeline. Every stage
// degrades rather than aborts where it can: a failed translation echoes the
// source text, failed persistence only logs, and speech synthesis is skipped
// when no listener is connected.
func (o *Orchestrator) runTurn(ctx context.Context, sess *session, role types.SpeakerRole, in turnInput) {
	start := o.now()
	log := o.log.With("session_id", sess.id, "speaker", role)

	// ─── Stage 1: transcribe ────────────────────────────────────────────
	tr := in.transcription
	if in.utterance != nil {
		began := time.Now()
		var err error
		tr, err = o.transcriber.Transcribe(ctx, in.utterance.PCM, in.utterance.SampleRate, sess.languageFor(role))
		if err != nil {
			log.Error("transcription failed", "error", err)
			o.metrics.RecordProviderError(ctx, "stt", "transcribe")
			return
		}
		elapsed := time.Since(began)
		sess.observeStage(stageTranscribe, elapsed)
		o.metrics.TranscribeDuration.Record(ctx, elapsed.Seconds())
	}
	tr.Text = strings.TrimSpace(tr.Text)
	if tr.Text == "" {
		log.Debug("empty transcription, skipping turn")
		return
	}
	if tr.Language == "" || tr.Language == "auto" {
		tr.Language = sess.languageFor(role)
	}

	// ─── Stage 2: broadcast the transcription ───────────────────────────
	o.deliver(sess, o.newMessage(sess.id, role, types.MessageTranscription, tr.Text, tr.Language, map[string]any{
		"confidence": tr.Confidence,
	}))
	if err := o.ledger.StoreUtterance(ctx, sess.id, store.Utterance{
		Speaker:    role,
		Text:       tr.Text,
		Language:   tr.Language,
		Confidence: tr.Confidence,
	}); err != nil {
		log.Warn("utterance not persisted", "error", err)
	}

	// ─── Stage 3: medical analysis ──────────────────────────────────────
	began := time.Now()
	analysis := o.analyze(ctx, log, sess, tr.Text)
	elapsed := time.Since(began)
	sess.observeStage(stageExtract, elapsed)
	o.metrics.ExtractDuration.Record(ctx, elapsed.Seconds())

	sess.addMedications(analysis.medications)
	sess.addAlerts(analysis.flags)

	// ─── Stage 4: urgent safety alerts ──────────────────────────────────
	// Urgent flags go out before the translation so the doctor sees the
	// warning ahead of the translated line it concerns.
	for _, f := range analysis.flags {
		if !f.Urgent() {
			continue
		}
		o.deliver(sess, o.newMessage(sess.id, types.RoleSystem, types.MessageMedicalAlert, f.Message, "en", map[string]any{
			"alert_type":      f.Type,
			"severity":        f.Severity,
			"term":            f.Term,
			"specialty":       analysis.specialty,
			"action_required": true,
		}))
		o.metrics.RecordSafetyAlert(ctx, analysis.specialty, f.Severity)
		log.Warn("safety alert raised",
			"alert_type", f.Type,
			"severity", f.Severity,
			"term", f.Term,
		)
	}

	// ─── Stage 5: translate ─────────────────────────────────────────────
	target := sess.languageFor(role.Other())
	res, fellBack := o.translateTurn(ctx, log, sess, tr, target, analysis.medications)

	// ─── Stage 6: broadcast and persist the translation ─────────────────
	meta := map[string]any{
		"original_text":   tr.Text,
		"source_language": tr.Language,
		"target_language": target,
		"specialty":       analysis.specialty,
	}
	if len(analysis.medications) > 0 {
		meta["medications"] = analysis.medications
	}
	if len(analysis.suggestions) > 0 {
		meta["suggestions"] = analysis.suggestions
	}
	if len(analysis.flags) > 0 {
		meta["safety_flags"] = analysis.flags
	}
	if fellBack {
		meta["fallback"] = true
	}
	if res.Provider != "" {
		meta["provider"] = res.Provider
	}
	o.deliver(sess, o.newMessage(sess.id, role, types.MessageTranslation, res.Text, target, meta))

	if err := o.ledger.StoreTranslation(ctx, sess.id, store.Translation{
		Speaker:        role,
		Original:       tr.Text,
		Translated:     res.Text,
		SourceLanguage: tr.Language,
		TargetLanguage: target,
		Specialty:      analysis.specialty,
		Medications:    analysis.medications,
		FollowUps:      analysis.suggestions,
		Fallback:       fellBack,
	}); err != nil {
		log.Warn("translation not persisted", "error", err)
	}
	o.metrics.TurnDuration.Record(ctx, o.now().Sub(start).Seconds())

	// ─── Stage 7: speech synthesis ──────────────────────────────────────
	if o.synthesizer != nil && res.Text != tr.Text {
		o.streamSpeech(ctx, log, sess, role, res.Text, target)
	}

	// ─── Stage 8: rolling summary ───────────────────────────────────────
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.broadcastSummary(sess)
	}()
}

// analyze routes the transcription to the session's specialty when one
// matches, falling back to plain medication extraction. Analysis failures
// degrade to an empty result so the turn still translates.
func (o *Orchestrator) analyze(ctx context.Context, log *slog.Logger, sess *session, text string) turnAnalysis {
	name := o.specialties.Detect(sess.specialty, text, sess.profile)
	if sp, ok := o.specialties.Resolve(name); ok {
		assessment, err := sp.Process(ctx, text, sess.id, sess.profile)
		if err != nil {
			log.Warn("specialty analysis failed", "specialty", name, "error", err)
			return turnAnalysis{specialty: name}
		}
		meds := make([]string, 0, len(assessment.Medications))
		validated := make(map[extraction.Strategy]int64)
		for _, m := range assessment.Medications {
			meds = append(meds, displayTerm(m.Medication))
			validated[m.Strategy]++
		}
		for s, n := range validated {
			o.metrics.RecordExtraction(ctx, string(s), n, n)
		}
		return turnAnalysis{
			specialty:   assessment.Specialty,
			medications: dedupeTerms(meds),
			flags:       assessment.Flags,
			suggestions: assessment.Suggestions,
		}
	}

	result, err := o.extractor.Extract(ctx, text, sess.id, specialty.General)
	if err != nil {
		log.Warn("medication extraction failed", "error", err)
		return turnAnalysis{specialty: specialty.General}
	}
	meds := make([]string, 0, len(result.Medications))
	candidates := make(map[extraction.Strategy]int64)
	validated := make(map[extraction.Strategy]int64)
	for _, c := range result.Candidates {
		candidates[c.Strategy]++
	}
	for _, m := range result.Medications {
		meds = append(meds, displayTerm(m))
		validated[m.Strategy]++
	}
	for s, n := range candidates {
		o.metrics.RecordExtraction(ctx, string(s), n, validated[s])
	}
	return turnAnalysis{specialty: specialty.General, medications: dedupeTerms(meds)}
}

// translateTurn translates the transcription into the target language. Same
// language turns and provider failures both resolve to an echo of the source
// text; the bool reports whether the echo was a fallback rather than a
// same-language identity.
func (o *Orchestrator) translateTurn(ctx context.Context, log *slog.Logger, sess *session, tr types.Transcription, target string, medications []string) (translate.Result, bool) {
	if tr.Language == target {
		return translate.Result{Text: tr.Text, DetectedSource: tr.Language}, false
	}

	began := time.Now()
	res, err := o.translator.Translate(ctx, translate.Request{
		Text:        tr.Text,
		SourceLang:  tr.Language,
		TargetLang:  target,
		Medications: medications,
	})
	elapsed := time.Since(began)
	sess.observeStage(stageTranslate, elapsed)
	o.metrics.TranslateDuration.Record(ctx, elapsed.Seconds())

	if err != nil {
		log.Warn("translation failed, echoing source text", "target_language", target, "error", err)
		o.metrics.RecordProviderError(ctx, "translate", "translate")
		res = translate.Result{Text: tr.Text, DetectedSource: tr.Language, Provider: translate.ProviderEcho}
	} else if res.Text == "" {
		res = translate.Result{Text: tr.Text, DetectedSource: tr.Language, Provider: translate.ProviderEcho}
	}

	fellBack := res.Provider == translate.ProviderEcho
	if fellBack {
		o.metrics.TranslationFallbacks.Add(ctx, 1)
	}
	return res, fellBack
}

// streamSpeech synthesizes the translated text and streams the audio to the
// listening participant as base64 PCM chunks, ending with a final marker.
// Nothing is streamed when the listener is not connected.
func (o *Orchestrator) streamSpeech(ctx context.Context, log *slog.Logger, sess *session, speaker types.SpeakerRole, text, language string) {
	listener := speaker.Other()
	if !o.registry.Connected(sess.id, listener) {
		log.Debug("listener not connected, skipping speech synthesis")
		return
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	began := time.Now()
	chunks, err := o.synthesizer.SynthesizeStream(sctx, text, language)
	if err != nil {
		log.Warn("speech synthesis failed", "language", language, "error", err)
		o.metrics.RecordProviderError(ctx, "tts", "synthesize")
		return
	}

	seq := 0
	for chunk := range chunks {
		msg := o.newMessage(sess.id, speaker, types.MessageTTSAudioChunk, base64.StdEncoding.EncodeToString(chunk), language, map[string]any{
			"seq":         seq,
			"final":       false,
			"sample_rate": o.synthesizer.SampleRate(),
			"encoding":    "pcm_s16le",
		})
		if err := o.registry.Send(sess.id, listener, msg); err != nil {
			log.Debug("listener gone mid-stream, stopping synthesis", "error", err)
			cancel()
			drainChunks(chunks)
			return
		}
		seq++
	}

	final := o.newMessage(sess.id, speaker, types.MessageTTSAudioChunk, "", language, map[string]any{
		"seq":         seq,
		"final":       true,
		"sample_rate": o.synthesizer.SampleRate(),
		"encoding":    "pcm_s16le",
	})
	if err := o.registry.Send(sess.id, listener, final); err != nil {
		log.Debug("final audio marker not delivered", "error", err)
	}

	elapsed := time.Since(began)
	sess.observeStage(stageSynthesize, elapsed)
	o.metrics.SynthesizeDuration.Record(ctx, elapsed.Seconds())
}

// broadcastSummary sends the rolling conversation summary to both
// participants. Summaries are transient: they are broadcast but never added
// to the session transcript.
func (o *Orchestrator) broadcastSummary(sess *session) {
	recent, medications, alerts := sess.summarySnapshot(summaryWindow)
	if len(recent) == 0 {
		return
	}
	o.registry.Broadcast(sess.id, o.newMessage(sess.id, types.RoleSystem, types.MessageSummary, "", "en", map[string]any{
		"recent_transcriptions": recent,
		"medications_discussed": medications,
		"alert_count":           alerts,
	}))
}

// deliver logs a message to the session transcript and broadcasts it to
// every connected participant.
func (o *Orchestrator) deliver(sess *session, msg types.Message) {
	sess.logMessage(msg)
	o.registry.Broadcast(sess.id, msg)
}

// displayTerm prefers the catalog's canonical name over the raw matched term.
func displayTerm(m extraction.Medication) string {
	if m.Record.CanonicalName != "" {
		return m.Record.CanonicalName
	}
	return m.Term
}

// dedupeTerms collapses case-insensitive duplicates, keeping first-mention
// order. The same drug can validate under several extraction strategies.
func dedupeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, term := range terms {
		key := strings.ToLower(term)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, term)
	}
	return out
}

// drainChunks discards the remainder of an audio stream so the synthesizer's
// sender goroutine can exit after cancellation.
func drainChunks(ch <-chan []byte) {
	for range ch {
	}
}
